package markdown

import (
	"bytes"
	"html"
	"net/url"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/yuanying/md2epub/internal/book"
)

var buildStateKey = parser.NewContextKey()

// buildState is the per-call context threaded through one Convert call.
type buildState struct {
	baseDir string
	images  []book.ImageReference
}

func stateFrom(pc parser.Context) *buildState {
	if st, ok := pc.Get(buildStateKey).(*buildState); ok && st != nil {
		return st
	}
	st := &buildState{}
	pc.Set(buildStateKey, st)
	return st
}

// resolveLocation resolves a written image path against baseDir. Network
// references pass through unchanged.
func resolveLocation(written, baseDir string) string {
	if book.IsRemoteLocation(written) {
		return written
	}
	p := written
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) || baseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

// imageTransformer records every image in encounter order and points it at
// its packaged location.
type imageTransformer struct{}

func (t *imageTransformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	st := stateFrom(pc)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}
		written := string(img.Destination)
		name := book.AssetFileName(written)
		st.images = append(st.images, book.ImageReference{
			SourceRef:        written,
			ResolvedLocation: resolveLocation(written, st.baseDir),
			ContentType:      book.ContentType(name),
			AssetID:          "img-" + uuid.NewString(),
			FileName:         name,
		})
		img.Destination = []byte(book.AssetHref(name))
		return ast.WalkSkipChildren, nil
	})
}

// imageRenderer renders images as self-closing tags with escaped alt/title.
type imageRenderer struct{}

func (r *imageRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindImage, r.renderImage)
}

func (r *imageRenderer) renderImage(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Image)
	_, _ = w.WriteString(`<img src="` + html.EscapeString(string(n.Destination)) + `"`)
	_, _ = w.WriteString(` alt="` + html.EscapeString(string(altText(n, source))) + `"`)
	if n.Title != nil {
		_, _ = w.WriteString(` title="` + html.EscapeString(string(n.Title)) + `"`)
	}
	_, _ = w.WriteString("/>")
	return ast.WalkSkipChildren, nil
}

// altText concatenates the plain text of the image description.
func altText(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(source))
			if v.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(v.Value)
		default:
			buf.Write(altText(c, source))
		}
	}
	return buf.Bytes()
}

// images is the goldmark extension wiring image interception.
type images struct{}

func (e images) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithASTTransformers(util.Prioritized(&imageTransformer{}, 100)))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(&imageRenderer{}, 100)))
}
