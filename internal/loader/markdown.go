package loader

import (
	"bytes"
	"maps"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// maxHeaderLevel is the deepest heading that starts a new section
const maxHeaderLevel = 3

// section is a run of markdown under one heading path
type section struct {
	body    string
	offset  int               // byte offset of body in the source
	headers map[string]string // h1..h3 -> heading text
}

// splitMarkdownSections cuts a markdown document at top-level headings of
// level 1 to 3. Heading lines are removed from the bodies; their text is
// carried as h1/h2/h3 metadata and a heading clears every deeper level.
// Headings inside code blocks are not section boundaries.
func splitMarkdownSections(source []byte) []section {
	reader := text.NewReader(source)
	doc := goldmark.New().Parser().Parse(reader)

	var sections []section
	headers := map[string]string{}
	bodyStart := 0

	emit := func(end int) {
		if end <= bodyStart {
			return
		}
		body := string(source[bodyStart:end])
		if strings.TrimSpace(body) == "" {
			return
		}
		sections = append(sections, section{body: body, offset: bodyStart, headers: maps.Clone(headers)})
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		heading, ok := node.(*ast.Heading)
		if !ok || heading.Level > maxHeaderLevel || heading.Lines().Len() == 0 {
			continue
		}

		first := heading.Lines().At(0)
		last := heading.Lines().At(heading.Lines().Len() - 1)
		lineStart := bytes.LastIndexByte(source[:first.Start], '\n') + 1
		lineEnd := endOfLine(source, max(last.Stop-1, first.Start))
		if !isATXHeading(source[lineStart:first.Start]) {
			// Setext heading: the underline follows the text
			lineEnd = endOfLine(source, lineEnd)
		}

		emit(lineStart)

		level := heading.Level
		headers[headerKey(level)] = strings.TrimSpace(string(heading.Text(source)))
		for deeper := level + 1; deeper <= maxHeaderLevel; deeper++ {
			delete(headers, headerKey(deeper))
		}
		bodyStart = lineEnd
	}
	emit(len(source))

	return sections
}

// endOfLine returns the offset just past the newline ending the line containing pos
func endOfLine(source []byte, pos int) int {
	if pos >= len(source) {
		return len(source)
	}
	if i := bytes.IndexByte(source[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(source)
}

func isATXHeading(prefix []byte) bool {
	return bytes.Contains(prefix, []byte("#"))
}

func headerKey(level int) string {
	return "h" + string(rune('0'+level))
}
