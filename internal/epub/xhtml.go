package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/beevik/etree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// removedElements are dropped from content documents. Scripted content
// would have to be declared in the manifest.
var removedElements = []string{"script", "noscript", "iframe", "object", "embed", "noembed", "noframes", "xmp", "plaintext"}

// contentDocument wraps the fragment of d in a strict XHTML shell that
// links the shared stylesheet.
func contentDocument(d Document, lang string) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateDirective("DOCTYPE html")

	root := doc.CreateElement("html")
	root.CreateAttr("xmlns", nsXHTML)
	root.CreateAttr("xmlns:epub", nsOPS)
	root.CreateAttr("xml:lang", lang)
	root.CreateAttr("lang", lang)

	head := root.CreateElement("head")
	head.CreateElement("meta").CreateAttr("charset", "utf-8")
	head.CreateElement("title").SetText(d.Title)
	link := head.CreateElement("link")
	link.CreateAttr("rel", "stylesheet")
	link.CreateAttr("type", mediaTypeCSS)
	link.CreateAttr("href", StylesheetFile)

	body := root.CreateElement("body")
	if err := appendFragment(body, d.ContentHTML); err != nil {
		return nil, err
	}
	return doc, nil
}

// appendFragment parses an HTML fragment and appends it to parent as XML.
func appendFragment(parent *etree.Element, fragment string) error {
	normalized, err := NormalizeFragment(fragment)
	if err != nil {
		return err
	}

	tmp := etree.NewDocument()
	tmp.ReadSettings.ValidateInput = true
	wrapped := `<body xmlns:epub="` + nsOPS + `">` + normalized + `</body>`
	if err := tmp.ReadFromString(wrapped); err != nil {
		return fmt.Errorf("failed to parse content as XML: %w", err)
	}

	children := append([]etree.Token(nil), tmp.Root().Child...)
	for _, t := range children {
		parent.AddChild(t)
	}
	return nil
}

// NormalizeFragment reparses an HTML fragment in body context and renders it
// back with XML-compatible syntax: void elements self-close, every attribute
// is quoted, named entities become characters.
func NormalizeFragment(fragment string) (string, error) {
	bodyCtx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), bodyCtx)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML fragment: %w", err)
	}

	container := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		container.AppendChild(n)
	}
	doc := goquery.NewDocumentFromNode(container)
	sanitize(doc.Selection)

	var buf bytes.Buffer
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("failed to render HTML fragment: %w", err)
		}
	}
	return xmlText(buf.String()), nil
}

// xmlText drops characters outside the XML character range. Form feeds and
// vertical tabs become spaces.
func xmlText(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\f' || r == '\v':
			return ' '
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20, r == 0xFFFE, r == 0xFFFF:
			return -1
		}
		return r
	}, s)
}

// sanitize removes markup that has no place in a static content document
// and attributes that cannot be expressed in XML.
func sanitize(sel *goquery.Selection) {
	for _, tag := range removedElements {
		sel.Find(tag).Remove()
	}

	sel.Find("*").Each(func(i int, s *goquery.Selection) {
		node := s.Get(0)
		var toRemove []string
		for _, attr := range node.Attr {
			key := strings.ToLower(attr.Key)
			if strings.HasPrefix(key, "on") || !isXMLName(attr.Key) {
				toRemove = append(toRemove, attr.Key)
				continue
			}
			if (key == "href" || key == "src") && strings.HasPrefix(strings.ToLower(strings.TrimSpace(attr.Val)), "javascript:") {
				toRemove = append(toRemove, attr.Key)
			}
		}
		for _, key := range toRemove {
			s.RemoveAttr(key)
		}
	})
}

// isXMLName reports whether name is usable as an XML attribute name. A single
// namespace prefix is allowed.
func isXMLName(name string) bool {
	if name == "" || strings.Count(name, ":") > 1 {
		return false
	}
	var elem struct {
		XMLName xml.Name
	}
	local := name
	if i := strings.IndexByte(name, ':'); i >= 0 {
		if i == 0 || i == len(name)-1 {
			return false
		}
		local = name[:i] + "-" + name[i+1:]
	}
	return xml.Unmarshal([]byte("<"+local+"/>"), &elem) == nil
}
