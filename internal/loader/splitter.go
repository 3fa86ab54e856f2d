package loader

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the default number of characters per chunk
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the default number of overlapping characters
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// separatorTable lists, per language, the boundaries tried in order: the
// earliest separator present in a text is used, and oversized pieces are
// split again with the remaining ones.
var separatorTable = map[string][]string{
	LangGo: {"\nfunc ", "\nvar ", "\nconst ", "\ntype ", "\nif ", "\nfor ", "\nswitch ", "\ncase ", "\n\n", "\n", " ", ""},
	LangPython: {"\nclass ", "\ndef ", "\n\tdef ", "\n\n", "\n", " ", ""},
	LangJS: {"\nfunction ", "\nconst ", "\nlet ", "\nvar ", "\nclass ", "\nif ", "\nfor ", "\nwhile ", "\nswitch ",
		"\ncase ", "\ndefault ", "\n\n", "\n", " ", ""},
	LangTS: {"\nenum ", "\ninterface ", "\nnamespace ", "\ntype ", "\nclass ", "\nfunction ", "\nconst ", "\nlet ",
		"\nvar ", "\nif ", "\nfor ", "\nwhile ", "\nswitch ", "\ncase ", "\ndefault ", "\n\n", "\n", " ", ""},
	LangJava: {"\nclass ", "\npublic ", "\nprotected ", "\nprivate ", "\nstatic ", "\nif ", "\nfor ", "\nwhile ",
		"\nswitch ", "\ncase ", "\n\n", "\n", " ", ""},
	LangKotlin: {"\nclass ", "\npublic ", "\nprotected ", "\nprivate ", "\ninternal ", "\ncompanion ", "\nfun ",
		"\nval ", "\nvar ", "\nif ", "\nfor ", "\nwhile ", "\nwhen ", "\ncase ", "\nelse ", "\n\n", "\n", " ", ""},
	LangRust: {"\nfn ", "\nconst ", "\nlet ", "\nif ", "\nwhile ", "\nfor ", "\nloop ", "\nmatch ", "\n\n", "\n", " ", ""},
	LangRuby: {"\ndef ", "\nclass ", "\nif ", "\nunless ", "\nwhile ", "\nfor ", "\ndo ", "\nbegin ", "\nrescue ",
		"\n\n", "\n", " ", ""},
	LangPHP: {"\nfunction ", "\nclass ", "\nif ", "\nforeach ", "\nwhile ", "\ndo ", "\nswitch ", "\ncase ",
		"\n\n", "\n", " ", ""},
	LangC: {"\nclass ", "\nvoid ", "\nint ", "\nfloat ", "\ndouble ", "\nif ", "\nfor ", "\nwhile ", "\nswitch ",
		"\ncase ", "\n\n", "\n", " ", ""},
	LangCPP: {"\nclass ", "\nvoid ", "\nint ", "\nfloat ", "\ndouble ", "\nif ", "\nfor ", "\nwhile ", "\nswitch ",
		"\ncase ", "\n\n", "\n", " ", ""},
	LangCSharp: {"\ninterface ", "\nenum ", "\nimplements ", "\ndelegate ", "\nevent ", "\nclass ", "\nabstract ",
		"\npublic ", "\nprotected ", "\nprivate ", "\nstatic ", "\nreturn ", "\nif ", "\ncontinue ", "\nfor ",
		"\nforeach ", "\nwhile ", "\nswitch ", "\nbreak ", "\ncase ", "\nelse ", "\ntry ", "\nthrow ",
		"\nfinally ", "\ncatch ", "\n\n", "\n", " ", ""},
	LangScala: {"\nclass ", "\nobject ", "\ndef ", "\nval ", "\nvar ", "\nif ", "\nfor ", "\nwhile ", "\nmatch ",
		"\ncase ", "\n\n", "\n", " ", ""},
	LangSwift: {"\nfunc ", "\nclass ", "\nstruct ", "\nenum ", "\nif ", "\nfor ", "\nwhile ", "\ndo ", "\nswitch ",
		"\ncase ", "\n\n", "\n", " ", ""},
	LangHTML: {"<body", "<div", "<p", "<br", "<li", "<h1", "<h2", "<h3", "<h4", "<h5", "<h6", "<span", "<table",
		"<tr", "<td", "<th", "<ul", "<ol", "<header", "<footer", "<nav", "<head", "<style", "<script", "<meta",
		"<title", ""},
	LangProto: {"\nmessage ", "\nservice ", "\nenum ", "\noption ", "\nimport ", "\nsyntax ", "\n\n", "\n", " ", ""},
	LangSolidity: {"\npragma ", "\nusing ", "\ncontract ", "\ninterface ", "\nlibrary ", "\nconstructor ",
		"\ntype ", "\nfunction ", "\nevent ", "\nmodifier ", "\nerror ", "\nstruct ", "\nenum ", "\nif ",
		"\nfor ", "\nwhile ", "\ndo while ", "\nassembly ", "\n\n", "\n", " ", ""},
	LangLua: {"\nlocal ", "\nfunction ", "\nif ", "\nfor ", "\nwhile ", "\nrepeat ", "\n\n", "\n", " ", ""},
	LangHaskell: {"\nmain :: ", "\nmain = ", "\nlet ", "\nin ", "\ndo ", "\nwhere ", "\n:: ", "\n= ", "\ndata ",
		"\nnewtype ", "\ntype ", "\nmodule ", "\nimport ", "\nqualified ", "\nimport qualified ", "\nclass ",
		"\ninstance ", "\ncase ", "\n| ", "\n= {", "\n, ", "\n\n", "\n", " ", ""},
	LangElixir: {"\ndef ", "\ndefp ", "\ndefmodule ", "\ndefprotocol ", "\ndefmacro ", "\ndefmacrop ", "\nif ",
		"\nunless ", "\nwhile ", "\ncase ", "\ncond ", "\nwith ", "\nfor ", "\ndo ", "\n\n", "\n", " ", ""},
	LangPerl: {"\nsub ", "\npackage ", "\nuse ", "\nif ", "\nunless ", "\nfor ", "\nforeach ", "\nwhile ",
		"\nuntil ", "\n\n", "\n", " ", ""},
	LangLatex: {"\n\\chapter{", "\n\\section{", "\n\\subsection{", "\n\\subsubsection{", "\n\\begin{enumerate}",
		"\n\\begin{itemize}", "\n\\begin{description}", "\n\\begin{list}", "\n\\begin{quote}",
		"\n\\begin{quotation}", "\n\\begin{verse}", "\n\\begin{verbatim}", "\n\\begin{align}", "$$", "$", " ", ""},
	LangPowerShell: {"\nfunction ", "\nparam ", "\nif ", "\nforeach ", "\nfor ", "\nwhile ", "\nswitch ",
		"\nclass ", "\ntry ", "\ncatch ", "\nfinally ", "\n\n", "\n", " ", ""},
	LangCobol: {"\nIDENTIFICATION DIVISION.", "\nENVIRONMENT DIVISION.", "\nDATA DIVISION.",
		"\nPROCEDURE DIVISION.", "\nWORKING-STORAGE SECTION.", "\nLINKAGE SECTION.", "\nFILE SECTION.",
		"\nINPUT-OUTPUT SECTION.", "\nOPEN ", "\nCLOSE ", "\nREAD ", "\nWRITE ", "\nIF ", "\nELSE ", "\nMOVE ",
		"\nPERFORM ", "\nUNTIL ", "\nVARYING ", "\nACCEPT ", "\nDISPLAY ", "\nSTOP RUN.", "\n", " ", ""},
}

// regexSeparatorTable holds languages whose separators are patterns, not literals
var regexSeparatorTable = map[string][]string{
	LangMarkdown: {`\n#{1,6} `, "```\n", `\n\*\*\*+\n`, `\n---+\n`, `\n___+\n`, `\n\n`, `\n`, ` `, ``},
	LangRST:      {`\n=+\n`, `\n-+\n`, `\n\*+\n`, `\n\n\.\. *\n\n`, `\n\n`, `\n`, ` `, ``},
}

// Piece is a chunk of text and its byte offset in the text it was split from
type Piece struct {
	Text   string
	Offset int
}

// Splitter recursively splits text on a prioritised list of separators until
// every piece fits the chunk size. Sizes count characters, not bytes.
// A nil separator splits into single characters.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []*regexp.Regexp
}

// NewSplitter returns a splitter for language. Unknown languages use
// paragraph, line, word and character boundaries.
func NewSplitter(language string, chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}

	s := &Splitter{chunkSize: chunkSize, overlap: overlap}
	if patterns, ok := regexSeparatorTable[language]; ok {
		for _, p := range patterns {
			s.separators = append(s.separators, compileSeparator(p))
		}
		return s
	}

	literals, ok := separatorTable[language]
	if !ok {
		literals = defaultSeparators
	}
	for _, lit := range literals {
		s.separators = append(s.separators, compileSeparator(regexp.QuoteMeta(lit)))
	}
	return s
}

func compileSeparator(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	return regexp.MustCompile(pattern)
}

// Split returns the chunks of text with their byte offsets. Chunks are
// whitespace-trimmed and never empty.
func (s *Splitter) Split(text string) []Piece {
	chunks := s.splitText(text, s.separators)
	pieces := make([]Piece, 0, len(chunks))

	index, prevLen := 0, 0
	for _, chunk := range chunks {
		from := backRunes(text, index+prevLen, s.overlap)
		pos := strings.Index(text[from:], chunk)
		if pos >= 0 {
			pos += from
		} else if pos = strings.Index(text, chunk); pos < 0 {
			pos = index
		}
		pieces = append(pieces, Piece{Text: chunk, Offset: pos})
		index, prevLen = pos, len(chunk)
	}
	return pieces
}

func (s *Splitter) splitText(text string, separators []*regexp.Regexp) []string {
	// Pick the first separator that occurs in text
	var sep *regexp.Regexp
	var rest []*regexp.Regexp
	for i, candidate := range separators {
		if candidate == nil {
			sep = nil
			break
		}
		if candidate.MatchString(text) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, piece := range splitKeepingSeparator(text, sep) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.splitText(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge greedily packs splits into chunks no longer than chunkSize, carrying
// up to overlap characters from the end of one chunk into the next
func (s *Splitter) merge(splits []string) []string {
	var docs, current []string
	total := 0

	for _, split := range splits {
		n := runeLen(split)
		if total+n > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, split)
		total += n
	}

	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepingSeparator splits text before every match of sep, so each
// separator stays attached to the start of the piece that follows it
func splitKeepingSeparator(text string, sep *regexp.Regexp) []string {
	if sep == nil {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	var out []string
	start := 0
	for _, loc := range sep.FindAllStringIndex(text, -1) {
		if loc[0] > start {
			out = append(out, text[start:loc[0]])
		}
		start = loc[0]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// backRunes returns the byte position n characters before pos, clamped at 0
func backRunes(text string, pos, n int) int {
	for ; n > 0 && pos > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(text[:pos])
		pos -= size
	}
	return pos
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
