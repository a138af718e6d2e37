package markdown

import (
	"fmt"
	"html"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// footnoteDefStartRe matches a line that opens a footnote definition: [^label]:
var footnoteDefStartRe = regexp.MustCompile(`^ {0,3}\[\^([^\]\s]+)\]:`)

// KindFootnoteDefinition is the NodeKind of FootnoteDefinition.
var KindFootnoteDefinition = ast.NewNodeKind("FootnoteDefinition")

// KindFootnoteReference is the NodeKind of FootnoteReference.
var KindFootnoteReference = ast.NewNodeKind("FootnoteReference")

// FootnoteDefinition is a footnote body rendered where it occurs in the source.
type FootnoteDefinition struct {
	ast.BaseBlock
	Label []byte
	ID    string
}

// Kind implements ast.Node.
func (n *FootnoteDefinition) Kind() ast.NodeKind { return KindFootnoteDefinition }

// Dump implements ast.Node.
func (n *FootnoteDefinition) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Label": string(n.Label)}, nil)
}

// FootnoteReference is an inline [^label] marker.
type FootnoteReference struct {
	ast.BaseInline
	Label []byte
	ID    string
}

// Kind implements ast.Node.
func (n *FootnoteReference) Kind() ast.NodeKind { return KindFootnoteReference }

// Dump implements ast.Node.
func (n *FootnoteReference) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Label": string(n.Label)}, nil)
}

// FootnoteID returns the anchor id of the definition with the given label.
func FootnoteID(label string) string {
	return "fn-" + label
}

var footnoteIDsKey = parser.NewContextKey()

// footnoteIDs assigns anchor ids within one document. A label defined more
// than once gets a numbered id for every later definition; references point
// at the first one.
type footnoteIDs struct {
	byLabel map[string]string
	used    map[string]bool
}

func footnoteIDsFrom(pc parser.Context) *footnoteIDs {
	if v, ok := pc.Get(footnoteIDsKey).(*footnoteIDs); ok {
		return v
	}
	ids := &footnoteIDs{byLabel: make(map[string]string), used: make(map[string]bool)}
	pc.Set(footnoteIDsKey, ids)
	return ids
}

func (f *footnoteIDs) define(label string) string {
	id := FootnoteID(label)
	for n := 2; f.used[id]; n++ {
		id = fmt.Sprintf("%s-%d", FootnoteID(label), n)
	}
	f.used[id] = true
	if _, ok := f.byLabel[label]; !ok {
		f.byLabel[label] = id
	}
	return id
}

func (f *footnoteIDs) lookup(label string) string {
	if id, ok := f.byLabel[label]; ok {
		return id
	}
	return FootnoteID(label)
}

// footnoteBlockParser captures "[^label]: text" up to a blank line or the
// next definition.
type footnoteBlockParser struct{}

func (p *footnoteBlockParser) Trigger() []byte {
	return []byte{'['}
}

func (p *footnoteBlockParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	m := footnoteDefStartRe.FindSubmatchIndex(line)
	if m == nil {
		return nil, parser.NoChildren
	}
	node := &FootnoteDefinition{Label: append([]byte(nil), line[m[2]:m[3]]...)}
	node.ID = footnoteIDsFrom(pc).define(string(node.Label))

	rest := text.NewSegment(segment.Start+m[1]-segment.Padding, segment.Stop)
	rest = rest.TrimLeftSpace(reader.Source())
	if !util.IsBlank(rest.Value(reader.Source())) {
		node.Lines().Append(rest)
	}
	reader.AdvanceToEOL()
	return node, parser.NoChildren
}

func (p *footnoteBlockParser) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	line, segment := reader.PeekLine()
	if util.IsBlank(line) || footnoteDefStartRe.Match(line) {
		return parser.Close
	}
	node.Lines().Append(segment)
	reader.AdvanceToEOL()
	return parser.Continue | parser.NoChildren
}

func (p *footnoteBlockParser) Close(node ast.Node, reader text.Reader, pc parser.Context) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		lines.Set(i, seg.TrimLeftSpace(reader.Source()))
	}
	if n := lines.Len(); n > 0 {
		seg := lines.At(n - 1)
		lines.Set(n-1, seg.TrimRightSpace(reader.Source()))
	}
}

func (p *footnoteBlockParser) CanInterruptParagraph() bool { return true }

func (p *footnoteBlockParser) CanAcceptIndentedLine() bool { return false }

// footnoteRefParser parses [^label] not immediately followed by a colon.
type footnoteRefParser struct{}

func (p *footnoteRefParser) Trigger() []byte {
	return []byte{'['}
}

func (p *footnoteRefParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if len(line) < 4 || line[1] != '^' {
		return nil
	}
	end := -1
	for i := 2; i < len(line); i++ {
		c := line[i]
		if c == ']' {
			end = i
			break
		}
		if c == '[' || util.IsSpace(c) {
			return nil
		}
	}
	if end <= 2 {
		return nil
	}
	if end+1 < len(line) && line[end+1] == ':' {
		return nil
	}
	label := append([]byte(nil), line[2:end]...)
	block.Advance(end + 1)
	return &FootnoteReference{Label: label, ID: footnoteIDsFrom(pc).lookup(string(label))}
}

// footnoteRenderer renders footnote nodes as anchored XHTML.
type footnoteRenderer struct{}

func (r *footnoteRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindFootnoteDefinition, r.renderDefinition)
	reg.Register(KindFootnoteReference, r.renderReference)
}

func (r *footnoteRenderer) renderDefinition(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*FootnoteDefinition)
	label := html.EscapeString(string(n.Label))
	if entering {
		_, _ = w.WriteString(`<div class="footnote" id="` + html.EscapeString(n.ID) + `">`)
		_, _ = w.WriteString(`<p><sup class="footnote-label">` + label + `</sup> `)
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("</p></div>\n")
	return ast.WalkContinue, nil
}

func (r *footnoteRenderer) renderReference(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*FootnoteReference)
	label := string(n.Label)
	_, _ = w.WriteString(`<sup class="footnote-ref"><a href="#` + html.EscapeString(n.ID) +
		`" epub:type="noteref">` + html.EscapeString(label) + `</a></sup>`)
	return ast.WalkSkipChildren, nil
}

// footnotes is the goldmark extension wiring the parsers and renderer.
type footnotes struct{}

func (e footnotes) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithBlockParsers(util.Prioritized(&footnoteBlockParser{}, 999)),
		parser.WithInlineParsers(util.Prioritized(&footnoteRefParser{}, 101)),
	)
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&footnoteRenderer{}, 500),
	))
}
