package epub

import (
	"fmt"
	"sort"

	"github.com/yuanying/md2epub/internal/book"
)

const (
	// Mimetype is the exact content of the leading mimetype entry.
	Mimetype = "application/epub+zip"

	MimetypeFile   = "mimetype"
	ContainerFile  = "META-INF/container.xml"
	ContentDir     = "OEBPS"
	OPFFile        = "content.opf"
	NCXFile        = "toc.ncx"
	NavFile        = "nav.xhtml"
	StylesheetFile = "css/style.css"
	SingleDocFile  = "content.xhtml"

	mediaTypeXHTML = "application/xhtml+xml"
	mediaTypeNCX   = "application/x-dtbncx+xml"
	mediaTypeCSS   = "text/css"
	mediaTypeOPF   = "application/oebps-package+xml"

	ncxID        = "ncx"
	navID        = "nav"
	stylesheetID = "style"
	singleDocID  = "content"
	coverID      = "cover-image"
)

// Document is one content document in reading order.
type Document struct {
	ID          string
	FileName    string // relative to the content directory
	Title       string
	ContentHTML string
}

// Package is everything the assembler needs to write the package files.
// Images are expected to be in place under the content directory already.
type Package struct {
	Metadata   book.Metadata
	Documents  []Document
	Assets     []book.Asset
	Cover      *book.Asset
	Stylesheet []byte // nil selects the built-in stylesheet
	Nav        bool   // emit an EPUB 3 navigation document
}

// ManifestItem represents an item in the manifest
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties []string
}

// NavEntry is one top-level table of contents entry.
type NavEntry struct {
	Label string
	Href  string
}

// SingleDocument returns the document list for single-document mode.
func SingleDocument(title, contentHTML string) []Document {
	return []Document{{
		ID:          singleDocID,
		FileName:    SingleDocFile,
		Title:       title,
		ContentHTML: contentHTML,
	}}
}

// ChapterDocuments returns one document per chapter ordered by sequence index.
func ChapterDocuments(chapters []book.Chapter) []Document {
	sorted := make([]book.Chapter, len(chapters))
	copy(sorted, chapters)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SequenceIndex < sorted[j].SequenceIndex
	})

	docs := make([]Document, 0, len(sorted))
	for _, ch := range sorted {
		docs = append(docs, Document{
			ID:          ch.ChapterID,
			FileName:    ch.FileName(),
			Title:       ch.Title,
			ContentHTML: ch.ContentHTML,
		})
	}
	return docs
}

// xmlSafe returns a copy of p whose text fields can be written as XML.
func (p *Package) xmlSafe() *Package {
	safe := *p
	md := &safe.Metadata
	for _, f := range []*string{&md.Identifier, &md.Title, &md.Author, &md.Language, &md.Publisher, &md.Description, &md.Rights} {
		*f = xmlText(*f)
	}
	safe.Documents = make([]Document, len(p.Documents))
	for i, d := range p.Documents {
		d.Title = xmlText(d.Title)
		safe.Documents[i] = d
	}
	return &safe
}

// imageID returns the manifest id of the n-th body image (0-based).
func imageID(n int) string {
	return fmt.Sprintf("image-%d", n+1)
}

// Manifest lists the manifest items of pkg in document order. Ids are
// assigned here so that identical input always yields identical ids.
func (p *Package) Manifest() []ManifestItem {
	items := []ManifestItem{{ID: ncxID, Href: NCXFile, MediaType: mediaTypeNCX}}
	if p.Nav {
		items = append(items, ManifestItem{ID: navID, Href: NavFile, MediaType: mediaTypeXHTML, Properties: []string{"nav"}})
	}
	items = append(items, ManifestItem{ID: stylesheetID, Href: StylesheetFile, MediaType: mediaTypeCSS})
	for _, d := range p.Documents {
		items = append(items, ManifestItem{ID: d.ID, Href: d.FileName, MediaType: mediaTypeXHTML})
	}
	if p.Cover != nil {
		items = append(items, ManifestItem{
			ID:         coverID,
			Href:       p.Cover.Href(),
			MediaType:  p.Cover.ContentType,
			Properties: []string{"cover-image"},
		})
	}
	for i, a := range p.Assets {
		items = append(items, ManifestItem{ID: imageID(i), Href: a.Href(), MediaType: a.ContentType})
	}
	return items
}

// NavEntries returns the table of contents entries in spine order.
func (p *Package) NavEntries() []NavEntry {
	entries := make([]NavEntry, 0, len(p.Documents))
	for _, d := range p.Documents {
		entries = append(entries, NavEntry{Label: d.Title, Href: d.FileName})
	}
	return entries
}

func (p *Package) validate() error {
	if len(p.Documents) == 0 {
		return ErrNoDocuments
	}
	if p.Metadata.Identifier == "" {
		return ErrMissingIdentifier
	}
	ids := make(map[string]struct{})
	hrefs := make(map[string]struct{})
	for _, item := range p.Manifest() {
		if _, dup := ids[item.ID]; dup {
			return fmt.Errorf("%w: id %q", ErrDuplicateItem, item.ID)
		}
		if _, dup := hrefs[item.Href]; dup {
			return fmt.Errorf("%w: href %q", ErrDuplicateItem, item.Href)
		}
		ids[item.ID] = struct{}{}
		hrefs[item.Href] = struct{}{}
	}
	return nil
}
