// Package epub writes and reads EPUB 3 package files.
//
// The Assembler lays out an unpacked package (container pointer, package
// document, NCX, optional navigation document, content documents and the
// stylesheet) in a staging directory. Inspect reads a finished archive back
// and reports its structure.
package epub

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/yuanying/md2epub/internal/book"
)

const (
	nsOPF       = "http://www.idpf.org/2007/opf"
	nsDC        = "http://purl.org/dc/elements/1.1/"
	nsNCX       = "http://www.daisy.org/z3986/2005/ncx/"
	nsXHTML     = "http://www.w3.org/1999/xhtml"
	nsOPS       = "http://www.idpf.org/2007/ops"
	nsContainer = "urn:oasis:names:tc:opendocument:xmlns:container"

	uniqueIdentifierID = "BookId"
	defaultLanguage    = "en"
	navTitle           = "Table of Contents"
)

//go:embed style.css
var defaultStylesheet []byte

var (
	ErrNoDocuments       = errors.New("package has no content documents")
	ErrMissingIdentifier = errors.New("package identifier is empty")
	ErrDuplicateItem     = errors.New("duplicate manifest item")
)

// DefaultStylesheet returns a copy of the built-in stylesheet.
func DefaultStylesheet() []byte {
	return append([]byte(nil), defaultStylesheet...)
}

// Assembler writes package files into a staging directory.
type Assembler struct {
	log *zap.Logger
}

// NewAssembler creates an assembler. A nil logger disables logging.
func NewAssembler(log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{log: log}
}

// Assemble writes pkg under root. The result is the unpacked package tree,
// mimetype marker included.
func (a *Assembler) Assemble(pkg *Package, root string) error {
	if err := pkg.validate(); err != nil {
		return book.NewError(book.ErrArchiveWrite, "assemble", root, err)
	}
	pkg = pkg.xmlSafe()

	if err := writeFile(root, MimetypeFile, []byte(Mimetype)); err != nil {
		return err
	}
	if err := writeXMLFile(root, ContainerFile, containerDocument()); err != nil {
		return err
	}

	contentRoot := filepath.Join(root, ContentDir)
	for _, d := range pkg.Documents {
		doc, err := contentDocument(d, language(pkg.Metadata))
		if err != nil {
			return book.NewError(book.ErrParse, "assemble", d.FileName, err)
		}
		if err := writeXMLFile(contentRoot, d.FileName, doc); err != nil {
			return err
		}
		a.log.Debug("Content document written", zap.String("file", d.FileName), zap.String("title", d.Title))
	}

	css := pkg.Stylesheet
	if css == nil {
		css = defaultStylesheet
	}
	if err := writeFile(contentRoot, StylesheetFile, css); err != nil {
		return err
	}

	if err := writeXMLFile(contentRoot, OPFFile, packageDocument(pkg)); err != nil {
		return err
	}
	if err := writeXMLFile(contentRoot, NCXFile, ncxDocument(pkg)); err != nil {
		return err
	}
	if pkg.Nav {
		if err := writeXMLFile(contentRoot, NavFile, navDocument(pkg)); err != nil {
			return err
		}
	}

	a.log.Debug("Package assembled",
		zap.Int("documents", len(pkg.Documents)),
		zap.Int("images", len(pkg.Assets)),
		zap.Bool("cover", pkg.Cover != nil))
	return nil
}

func language(md book.Metadata) string {
	if md.Language == "" {
		return defaultLanguage
	}
	return md.Language
}

func containerDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	container := doc.CreateElement("container")
	container.CreateAttr("version", "1.0")
	container.CreateAttr("xmlns", nsContainer)

	rootfiles := container.CreateElement("rootfiles")
	rootfile := rootfiles.CreateElement("rootfile")
	rootfile.CreateAttr("full-path", path.Join(ContentDir, OPFFile))
	rootfile.CreateAttr("media-type", mediaTypeOPF)

	doc.Indent(2)
	return doc
}

func packageDocument(pkg *Package) *etree.Document {
	md := pkg.Metadata
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("package")
	root.CreateAttr("xmlns", nsOPF)
	root.CreateAttr("version", "3.0")
	root.CreateAttr("unique-identifier", uniqueIdentifierID)
	root.CreateAttr("xml:lang", language(md))

	metadata := root.CreateElement("metadata")
	metadata.CreateAttr("xmlns:dc", nsDC)

	id := metadata.CreateElement("dc:identifier")
	id.CreateAttr("id", uniqueIdentifierID)
	id.SetText(md.Identifier)

	metadata.CreateElement("dc:title").SetText(md.Title)
	metadata.CreateElement("dc:language").SetText(language(md))
	if md.Author != "" {
		creator := metadata.CreateElement("dc:creator")
		creator.CreateAttr("id", "creator")
		creator.SetText(md.Author)
	}
	optional := []struct{ tag, value string }{
		{"dc:publisher", md.Publisher},
		{"dc:description", md.Description},
		{"dc:rights", md.Rights},
	}
	for _, o := range optional {
		if strings.TrimSpace(o.value) == "" {
			continue
		}
		metadata.CreateElement(o.tag).SetText(o.value)
	}

	created := md.CreationDate.UTC()
	if !md.CreationDate.IsZero() {
		metadata.CreateElement("dc:date").SetText(created.Format("2006-01-02"))
	} else {
		created = time.Now().UTC()
	}
	modified := metadata.CreateElement("meta")
	modified.CreateAttr("property", "dcterms:modified")
	modified.SetText(created.Format("2006-01-02T15:04:05Z"))

	if pkg.Cover != nil {
		meta := metadata.CreateElement("meta")
		meta.CreateAttr("name", "cover")
		meta.CreateAttr("content", coverID)
	}

	manifest := root.CreateElement("manifest")
	for _, it := range pkg.Manifest() {
		item := manifest.CreateElement("item")
		item.CreateAttr("id", it.ID)
		item.CreateAttr("href", it.Href)
		item.CreateAttr("media-type", it.MediaType)
		if len(it.Properties) > 0 {
			item.CreateAttr("properties", strings.Join(it.Properties, " "))
		}
	}

	spine := root.CreateElement("spine")
	spine.CreateAttr("toc", ncxID)
	for _, d := range pkg.Documents {
		spine.CreateElement("itemref").CreateAttr("idref", d.ID)
	}

	doc.Indent(2)
	return doc
}

func ncxDocument(pkg *Package) *etree.Document {
	md := pkg.Metadata
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	ncx := doc.CreateElement("ncx")
	ncx.CreateAttr("xmlns", nsNCX)
	ncx.CreateAttr("version", "2005-1")
	ncx.CreateAttr("xml:lang", language(md))

	head := ncx.CreateElement("head")
	for _, m := range [][2]string{
		{"dtb:uid", md.Identifier},
		{"dtb:depth", "1"},
		{"dtb:totalPageCount", "0"},
		{"dtb:maxPageNumber", "0"},
	} {
		meta := head.CreateElement("meta")
		meta.CreateAttr("name", m[0])
		meta.CreateAttr("content", m[1])
	}

	ncx.CreateElement("docTitle").CreateElement("text").SetText(md.Title)
	if md.Author != "" {
		ncx.CreateElement("docAuthor").CreateElement("text").SetText(md.Author)
	}

	navMap := ncx.CreateElement("navMap")
	for i, e := range pkg.NavEntries() {
		navPoint := navMap.CreateElement("navPoint")
		navPoint.CreateAttr("id", "navpoint-"+strconv.Itoa(i+1))
		navPoint.CreateAttr("playOrder", strconv.Itoa(i+1))
		navPoint.CreateElement("navLabel").CreateElement("text").SetText(e.Label)
		navPoint.CreateElement("content").CreateAttr("src", e.Href)
	}

	doc.Indent(2)
	return doc
}

func navDocument(pkg *Package) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateDirective("DOCTYPE html")

	html := doc.CreateElement("html")
	html.CreateAttr("xmlns", nsXHTML)
	html.CreateAttr("xmlns:epub", nsOPS)
	html.CreateAttr("xml:lang", language(pkg.Metadata))

	head := html.CreateElement("head")
	head.CreateElement("meta").CreateAttr("charset", "utf-8")
	head.CreateElement("title").SetText(navTitle)

	body := html.CreateElement("body")
	nav := body.CreateElement("nav")
	nav.CreateAttr("epub:type", "toc")
	nav.CreateAttr("id", "toc")
	nav.CreateElement("h1").SetText(navTitle)

	ol := nav.CreateElement("ol")
	for _, e := range pkg.NavEntries() {
		a := ol.CreateElement("li").CreateElement("a")
		a.CreateAttr("href", e.Href)
		a.SetText(e.Label)
	}

	doc.Indent(2)
	return doc
}

func writeXMLFile(root, name string, doc *etree.Document) error {
	data, err := doc.WriteToBytes()
	if err != nil {
		return book.NewError(book.ErrArchiveWrite, "assemble", name, err)
	}
	return writeFile(root, name, data)
}

func writeFile(root, name string, data []byte) error {
	full := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return book.NewError(book.ErrArchiveWrite, "assemble", name, fmt.Errorf("failed to create directory: %w", err))
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return book.NewError(book.ErrArchiveWrite, "assemble", name, err)
	}
	return nil
}
