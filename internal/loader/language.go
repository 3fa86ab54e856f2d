package loader

import (
	"path"
	"strings"
)

// Language names. Only languages with an entry in separatorTable get a
// structure-aware splitter; the rest fall back to paragraph/line/word splitting.
const (
	LangGo         = "go"
	LangPython     = "python"
	LangJS         = "js"
	LangTS         = "ts"
	LangJava       = "java"
	LangKotlin     = "kotlin"
	LangRust       = "rust"
	LangRuby       = "ruby"
	LangPHP        = "php"
	LangC          = "c"
	LangCPP        = "cpp"
	LangCSharp     = "csharp"
	LangScala      = "scala"
	LangSwift      = "swift"
	LangMarkdown   = "markdown"
	LangHTML       = "html"
	LangProto      = "proto"
	LangSolidity   = "sol"
	LangLua        = "lua"
	LangHaskell    = "haskell"
	LangElixir     = "elixir"
	LangPerl       = "perl"
	LangLatex      = "latex"
	LangRST        = "rst"
	LangPowerShell = "powershell"
	LangCobol      = "cobol"
)

var extensionLanguages = map[string]string{
	".go":    LangGo,
	".py":    LangPython,
	".pyi":   LangPython,
	".js":    LangJS,
	".mjs":   LangJS,
	".cjs":   LangJS,
	".jsx":   LangJS,
	".ts":    LangTS,
	".mts":   LangTS,
	".cts":   LangTS,
	".tsx":   LangTS,
	".java":  LangJava,
	".kt":    LangKotlin,
	".kts":   LangKotlin,
	".rs":    LangRust,
	".rb":    LangRuby,
	".php":   LangPHP,
	".c":     LangC,
	".h":     LangC,
	".cc":    LangCPP,
	".cpp":   LangCPP,
	".cxx":   LangCPP,
	".hpp":   LangCPP,
	".hh":    LangCPP,
	".cs":    LangCSharp,
	".scala": LangScala,
	".sc":    LangScala,
	".swift": LangSwift,
	".md":    LangMarkdown,
	".mdx":   LangMarkdown,
	".html":  LangHTML,
	".htm":   LangHTML,
	".proto": LangProto,
	".sol":   LangSolidity,
	".lua":   LangLua,
	".hs":    LangHaskell,
	".ex":    LangElixir,
	".exs":   LangElixir,
	".pl":    LangPerl,
	".pm":    LangPerl,
	".tex":   LangLatex,
	".rst":   LangRST,
	".ps1":   LangPowerShell,
	".psm1":  LangPowerShell,
	".cob":   LangCobol,
	".cbl":   LangCobol,
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".css":   "css",
	".xml":   "xml",
}

// filenameLanguages covers files identified by their full name rather than extension
var filenameLanguages = map[string]string{
	"makefile":       "makefile",
	"gnumakefile":    "makefile",
	"dockerfile":     "dockerfile",
	"jenkinsfile":    "groovy",
	"go.mod":         "gomod",
	"go.sum":         "gosum",
	"go.work":        "gomod",
	"cargo.toml":     "toml",
	"gemfile":        LangRuby,
	"rakefile":       LangRuby,
	"build":          "starlark",
	"build.bazel":    "starlark",
	"workspace":      "starlark",
	"cmakelists.txt": "cmake",
	"pom.xml":        "xml",
	"build.gradle":   "groovy",
	"package.json":   "json",
	"tsconfig.json":  "json",
}

// DetectLanguage returns the language of a POSIX path, or "" when unknown
func DetectLanguage(p string) string {
	base := strings.ToLower(path.Base(p))
	if lang, ok := filenameLanguages[base]; ok {
		return lang
	}
	return extensionLanguages[path.Ext(base)]
}
