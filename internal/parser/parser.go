package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strings"
)

// Kind is the kind of a top-level Go declaration
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindStruct    Kind = "struct"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindConst     Kind = "const"
	KindVar       Kind = "var"
)

// Declaration is a top-level declaration with the lines it spans (1-based, inclusive)
type Declaration struct {
	Name      string
	Kind      Kind
	Receiver  string // For methods: receiver type name
	Signature string
	Exported  bool
	StartLine int
	EndLine   int
}

// QualifiedName returns Receiver.Name for methods and Name otherwise
func (d Declaration) QualifiedName() string {
	if d.Receiver != "" {
		return d.Receiver + "." + d.Name
	}
	return d.Name
}

// Parser extracts declaration outlines from Go source.
// It is safe for concurrent use; every call gets its own FileSet.
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// ParseSource parses Go source and returns its top-level declarations ordered by position.
// Syntax errors are non-fatal: whatever the parser recovered is returned alongside the error.
func (p *Parser) ParseSource(filename string, src []byte) ([]Declaration, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if file == nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	e := &outliner{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}

	sort.SliceStable(e.decls, func(i, j int) bool {
		return e.decls[i].StartLine < e.decls[j].StartLine
	})

	if err != nil {
		return e.decls, fmt.Errorf("syntax error in %s: %w", filename, err)
	}
	return e.decls, nil
}

// Covering returns the declarations whose span overlaps [startLine, endLine]
func Covering(decls []Declaration, startLine, endLine int) []Declaration {
	var out []Declaration
	for _, d := range decls {
		if d.StartLine <= endLine && d.EndLine >= startLine {
			out = append(out, d)
		}
	}
	return out
}

// outliner walks the top-level declarations of one file
type outliner struct {
	fset  *token.FileSet
	decls []Declaration
}

// extractFunction extracts function and method declarations
func (e *outliner) extractFunction(funcDecl *ast.FuncDecl) {
	d := Declaration{
		Name:      funcDecl.Name.Name,
		Kind:      KindFunction,
		Exported:  token.IsExported(funcDecl.Name.Name),
		StartLine: e.line(funcDecl.Pos()),
		EndLine:   e.line(funcDecl.End()),
		Signature: e.functionSignature(funcDecl),
	}
	if funcDecl.Doc != nil {
		d.StartLine = e.line(funcDecl.Doc.Pos())
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		d.Kind = KindMethod
		d.Receiver = receiverType(funcDecl.Recv.List[0].Type)
	}

	e.decls = append(e.decls, d)
}

// extractGenDecl extracts type, const, and var declarations
func (e *outliner) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(s)
		case *ast.ValueSpec:
			e.extractValueSpec(s, genDecl.Tok)
		}
	}
}

func (e *outliner) extractTypeSpec(typeSpec *ast.TypeSpec) {
	d := Declaration{
		Name:      typeSpec.Name.Name,
		Exported:  token.IsExported(typeSpec.Name.Name),
		StartLine: e.line(typeSpec.Pos()),
		EndLine:   e.line(typeSpec.End()),
	}

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		d.Kind = KindStruct
		d.Signature = fmt.Sprintf("type %s struct { ... } // %d fields", d.Name, t.Fields.NumFields())
	case *ast.InterfaceType:
		d.Kind = KindInterface
		d.Signature = fmt.Sprintf("type %s interface { ... } // %d methods", d.Name, t.Methods.NumFields())
	default:
		d.Kind = KindType
		d.Signature = fmt.Sprintf("type %s %s", d.Name, exprToString(typeSpec.Type))
	}

	e.decls = append(e.decls, d)
}

func (e *outliner) extractValueSpec(valueSpec *ast.ValueSpec, tok token.Token) {
	kind := KindVar
	if tok == token.CONST {
		kind = KindConst
	}

	for _, name := range valueSpec.Names {
		if name.Name == "_" {
			continue
		}
		d := Declaration{
			Name:      name.Name,
			Kind:      kind,
			Exported:  token.IsExported(name.Name),
			StartLine: e.line(valueSpec.Pos()),
			EndLine:   e.line(valueSpec.End()),
			Signature: name.Name,
		}
		if valueSpec.Type != nil {
			d.Signature = fmt.Sprintf("%s %s", name.Name, exprToString(valueSpec.Type))
		} else if len(valueSpec.Values) > 0 {
			d.Signature = fmt.Sprintf("%s = ...", name.Name)
		}
		e.decls = append(e.decls, d)
	}
}

// functionSignature builds a function signature string
func (e *outliner) functionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(exprToString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}
	sig.WriteString(funcDecl.Name.Name)

	sig.WriteString("(")
	sig.WriteString(fieldListToString(funcDecl.Type.Params))
	sig.WriteString(")")

	if results := funcDecl.Type.Results; results != nil {
		if s := fieldListToString(results); s != "" {
			if results.NumFields() > 1 || len(results.List[0].Names) > 0 {
				sig.WriteString(" (" + s + ")")
			} else {
				sig.WriteString(" " + s)
			}
		}
	}

	return sig.String()
}

func (e *outliner) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}

// receiverType extracts the receiver type name from a method, dropping pointers and type parameters
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// fieldListToString converts a field list to a string representation
func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) == 0 {
			parts = append(parts, typeStr)
			continue
		}
		for _, name := range field.Names {
			parts = append(parts, name.Name+" "+typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts a type expression to a compact string representation
func exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.ArrayType:
		return "[]" + exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprToString(t.Key), exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{...}"
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	case *ast.IndexExpr:
		return exprToString(t.X) + "[" + exprToString(t.Index) + "]"
	default:
		return "..."
	}
}
