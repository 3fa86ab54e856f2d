// Package parser extracts top-level declaration outlines from Go source files.
//
// The loader attaches the declarations overlapping each Go chunk to the chunk's
// "symbols" metadata, so hits can be shown with the functions and types they
// belong to:
//
//	p := parser.New()
//	decls, err := p.ParseSource("server.go", src)
//	if err != nil {
//	    // syntax errors are non-fatal, decls holds what was recovered
//	}
//	for _, d := range parser.Covering(decls, 10, 40) {
//	    fmt.Println(d.Kind, d.QualifiedName(), d.Signature)
//	}
//
// Declarations include functions, methods (with receiver type), structs,
// interfaces, other named types, constants and variables. Line spans are
// 1-based and inclusive; a function's span starts at its doc comment.
package parser
