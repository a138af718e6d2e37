// Package markdown turns markdown sources into book.ParsedDocument values.
//
// Rendering is delegated to goldmark configured for GFM with XHTML output.
// On top of it the package adds in-place footnotes ("[^x]: text" blocks and
// "[^x]" references) and image interception: every image is recorded in
// encounter order and its tag is rewritten to point at images/<basename>.
package markdown

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/yuanying/md2epub/internal/book"
)

var (
	// titleRe matches a top-level ATX heading line.
	titleRe = regexp.MustCompile(`^#[ \t]+(.+?)[ \t]*$`)
	// fenceRe matches the opening or closing line of a fenced code block.
	fenceRe = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})(.*)$")
)

// Builder converts markdown into parsed documents. The goldmark instance is
// configured once and only read afterwards, so a Builder may be shared by
// concurrent callers.
type Builder struct {
	md goldmark.Markdown
}

var (
	defaultBuilder     *Builder
	defaultBuilderOnce sync.Once
)

// NewBuilder creates a builder with the extended grammar.
func NewBuilder() *Builder {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM, footnotes{}, images{}),
		goldmark.WithRendererOptions(html.WithXHTML(), html.WithUnsafe()),
	)
	return &Builder{md: md}
}

// Default returns the process-wide builder.
func Default() *Builder {
	defaultBuilderOnce.Do(func() {
		defaultBuilder = NewBuilder()
	})
	return defaultBuilder
}

// Build transforms source. Relative image paths are resolved against baseDir.
func (b *Builder) Build(source []byte, baseDir string) (doc *book.ParsedDocument, err error) {
	st := &buildState{baseDir: baseDir}
	pc := parser.NewContext()
	pc.Set(buildStateKey, st)

	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = book.NewError(book.ErrParse, "parse", "", fmt.Errorf("markdown transform panicked: %v", r))
		}
	}()

	var buf bytes.Buffer
	if err := b.md.Convert(source, &buf, parser.WithContext(pc)); err != nil {
		return nil, book.NewError(book.ErrParse, "parse", "", err)
	}

	return &book.ParsedDocument{
		ContentHTML:    buf.String(),
		Images:         st.images,
		ExtractedTitle: ExtractTitle(source),
	}, nil
}

// BuildFile reads and transforms the markdown file at path.
func (b *Builder) BuildFile(path string) (*book.ParsedDocument, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, book.NewError(book.ErrInputNotFound, "read", path, err)
	}
	source, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, book.NewError(book.ErrInputNotFound, "read", abs, nil)
		}
		return nil, book.NewError(book.ErrInputNotFound, "read", abs, err)
	}

	doc, err := b.Build(source, filepath.Dir(abs))
	if err != nil {
		var be *book.Error
		if errors.As(err, &be) {
			be.Path = abs
		}
		return nil, err
	}
	doc.SourcePath = abs
	return doc, nil
}

// ExtractTitle returns the text of the first top-level heading, verbatim.
// Lines inside fenced code blocks are not headings.
func ExtractTitle(source []byte) string {
	var fence string
	for _, line := range strings.Split(string(source), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			switch {
			case fence == "":
				if m[1][0] != '`' || !strings.Contains(m[2], "`") {
					fence = m[1]
				}
				continue
			case m[1][0] == fence[0] && len(m[1]) >= len(fence) && strings.TrimSpace(m[2]) == "":
				fence = ""
				continue
			}
		}
		if fence != "" {
			continue
		}
		if m := titleRe.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
