package loader

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/parser"
	"github.com/dshills/repoindex/pkg/types"
)

// DefaultMaxFileSize skips generated blobs and vendored bundles
const DefaultMaxFileSize = 1 << 20

// Options configures LoadAndSplit
type Options struct {
	Include      []string // doublestar globs; empty matches every file
	Exclude      []string // doublestar globs, checked before Include
	ChunkSize    int
	ChunkOverlap int
	MaxFileSize  int64
	Extra        map[string]any // added to every document's metadata
	Logger       *zap.Logger
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		MaxFileSize:  DefaultMaxFileSize,
	}
}

// sourceFile is a file accepted for splitting
type sourceFile struct {
	rel      string // POSIX path relative to the root
	language string
	content  string
}

// LoadAndSplit walks root and returns the chunk candidates of every accepted
// file. Files that are not UTF-8 text, contain NUL bytes or exceed
// MaxFileSize are skipped silently.
func LoadAndSplit(ctx context.Context, root string, opts Options) ([]types.Document, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := collectFiles(ctx, root, opts, logger)
	if err != nil {
		return nil, err
	}

	l := &loader{
		opts:      opts,
		parser:    parser.New(),
		logger:    logger,
		splitters: make(map[string]*Splitter),
	}

	var docs []types.Document
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docs = append(docs, l.splitFile(f)...)
	}

	logger.Debug("loaded documents",
		zap.String("root", root),
		zap.Int("files", len(files)),
		zap.Int("documents", len(docs)))
	return docs, nil
}

func collectFiles(ctx context.Context, root string, opts Options, logger *zap.Logger) ([]sourceFile, error) {
	exclude := lowerAll(opts.Exclude)
	include := lowerAll(opts.Include)

	var files []sourceFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !selected(strings.ToLower(rel), include, exclude) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > opts.MaxFileSize {
			logger.Debug("skipping large file", zap.String("source", rel), zap.Int64("size", info.Size()))
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if !isText(content) {
			return nil
		}

		files = append(files, sourceFile{rel: rel, language: DetectLanguage(rel), content: string(content)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return files, nil
}

// selected applies exclude globs first, then include globs
func selected(rel string, include, exclude []string) bool {
	for _, pattern := range exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func isText(content []byte) bool {
	return utf8.Valid(content) && bytes.IndexByte(content, 0) < 0
}

func lowerAll(patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = strings.ToLower(p)
	}
	return out
}

type loader struct {
	opts      Options
	parser    *parser.Parser
	logger    *zap.Logger
	splitters map[string]*Splitter // one per language
}

func (l *loader) splitter(language string) *Splitter {
	s, ok := l.splitters[language]
	if !ok {
		s = NewSplitter(language, l.opts.ChunkSize, l.opts.ChunkOverlap)
		l.splitters[language] = s
	}
	return s
}

func (l *loader) splitFile(f sourceFile) []types.Document {
	if f.language == LangMarkdown {
		return l.splitMarkdown(f)
	}

	var decls []parser.Declaration
	if f.language == LangGo {
		var err error
		decls, err = l.parser.ParseSource(f.rel, []byte(f.content))
		if err != nil {
			l.logger.Debug("go outline incomplete", zap.String("source", f.rel), zap.Error(err))
		}
	}

	pieces := l.splitter(f.language).Split(f.content)
	docs := make([]types.Document, 0, len(pieces))
	for _, p := range pieces {
		doc := l.newDocument(f, p.Text, utf8.RuneCountInString(f.content[:p.Offset]))
		if len(decls) > 0 {
			start := 1 + strings.Count(f.content[:p.Offset], "\n")
			end := start + strings.Count(p.Text, "\n")
			if names := declarationNames(parser.Covering(decls, start, end)); len(names) > 0 {
				doc.Metadata[types.MetaSymbols] = names
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

func (l *loader) splitMarkdown(f sourceFile) []types.Document {
	var docs []types.Document
	for _, sec := range splitMarkdownSections([]byte(f.content)) {
		for _, p := range l.splitter(LangMarkdown).Split(sec.body) {
			offset := sec.offset + p.Offset
			doc := l.newDocument(f, p.Text, utf8.RuneCountInString(f.content[:offset]))
			for k, v := range sec.headers {
				doc.Metadata[k] = v
			}
			docs = append(docs, doc)
		}
	}
	return docs
}

func (l *loader) newDocument(f sourceFile, content string, startIndex int) types.Document {
	meta := make(map[string]any, len(l.opts.Extra)+4)
	for k, v := range l.opts.Extra {
		meta[k] = v
	}
	meta[types.MetaSource] = f.rel
	meta[types.MetaStartIndex] = startIndex
	meta[types.MetaContentType] = string(types.ContentPrimary)
	if f.language != "" {
		meta[types.MetaLanguage] = f.language
	}
	return types.Document{Source: f.rel, Content: content, Metadata: meta}
}

func declarationNames(decls []parser.Declaration) []string {
	names := make([]string, 0, len(decls))
	for _, d := range decls {
		names = append(names, d.QualifiedName())
	}
	return names
}
