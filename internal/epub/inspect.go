package epub

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/beevik/etree"
	"go.uber.org/multierr"
)

// Entry is one archive member.
type Entry struct {
	Name   string
	Stored bool
	Size   uint64
}

// PackageMetadata is the metadata block of a package document.
type PackageMetadata struct {
	Identifier  string
	Title       string
	Language    string
	Creators    []string
	Publisher   string
	Description string
	Rights      string
	Date        string
	Modified    string
	CoverID     string // from meta name="cover"
}

// Report describes a packaged EPUB. Problems lists violations of the
// container rules; Dangling lists image references without a packaged file.
type Report struct {
	Entries  []Entry
	OPFPath  string
	Version  string
	Metadata PackageMetadata
	Manifest []ManifestItem
	Spine    []string
	NCX      []NavEntry
	Nav      []NavEntry
	Dangling []string
	Problems []string
}

// Err returns the problems as a single error, or nil.
func (r *Report) Err() error {
	var err error
	for _, p := range r.Problems {
		err = multierr.Append(err, errors.New(p))
	}
	return err
}

// Item returns the manifest item with the given id.
func (r *Report) Item(id string) (ManifestItem, bool) {
	for _, it := range r.Manifest {
		if it.ID == id {
			return it, true
		}
	}
	return ManifestItem{}, false
}

func (r *Report) problemf(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Inspect reads the package at name and checks its structure. An error is
// returned only when the file cannot be read as a package at all.
func Inspect(name string) (*Report, error) {
	rd, err := Open(name)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	rep := &Report{OPFPath: rd.OPFPath()}
	inspectEntries(rd, rep)

	opf, err := rd.ReadXML(rd.OPFPath())
	if err != nil {
		return nil, err
	}
	parseOPF(opf, rep)

	base := dirOf(rd.OPFPath())
	inspectManifest(rd, rep, base)
	inspectNavigation(rd, rep, base)
	inspectContentDocuments(rd, rep, base)
	return rep, nil
}

func inspectEntries(rd *Reader, rep *Report) {
	for i, f := range rd.Entries() {
		rep.Entries = append(rep.Entries, Entry{
			Name:   f.Name,
			Stored: f.Method == zip.Store,
			Size:   f.UncompressedSize64,
		})
		switch {
		case i == 0 && f.Name != MimetypeFile:
			rep.problemf("first entry is %q, want %q", f.Name, MimetypeFile)
		case f.Name == MimetypeFile && f.Method != zip.Store:
			rep.problemf("mimetype must be stored without compression")
		case f.Name != MimetypeFile && f.Method == zip.Store && f.UncompressedSize64 > 0:
			rep.problemf("entry %q is stored without compression", f.Name)
		}
	}

	data, err := rd.ReadFile(MimetypeFile)
	if err != nil {
		rep.problemf("failed to read mimetype: %v", err)
		return
	}
	if string(data) != Mimetype {
		rep.problemf("mimetype content is %q, want %q", data, Mimetype)
	}
}

func parseOPF(doc *etree.Document, rep *Report) {
	root := doc.Root()
	if root == nil || root.Tag != "package" {
		rep.problemf("package document has no package element")
		return
	}
	rep.Version = root.SelectAttrValue("version", "")
	uniqueID := root.SelectAttrValue("unique-identifier", "")

	md := &rep.Metadata
	if metadata := root.SelectElement("metadata"); metadata != nil {
		for _, e := range metadata.ChildElements() {
			text := strings.TrimSpace(e.Text())
			switch e.FullTag() {
			case "dc:identifier":
				if md.Identifier == "" || e.SelectAttrValue("id", "") == uniqueID {
					md.Identifier = text
				}
			case "dc:title":
				if md.Title == "" {
					md.Title = text
				}
			case "dc:language":
				md.Language = text
			case "dc:creator":
				md.Creators = append(md.Creators, text)
			case "dc:publisher":
				md.Publisher = text
			case "dc:description":
				md.Description = text
			case "dc:rights":
				md.Rights = text
			case "dc:date":
				md.Date = text
			case "meta":
				if e.SelectAttrValue("property", "") == "dcterms:modified" {
					md.Modified = text
				}
				if e.SelectAttrValue("name", "") == "cover" {
					md.CoverID = e.SelectAttrValue("content", "")
				}
			}
		}
	}
	if md.Identifier == "" {
		rep.problemf("package document has no identifier")
	}

	if manifest := root.SelectElement("manifest"); manifest != nil {
		for _, e := range manifest.SelectElements("item") {
			rep.Manifest = append(rep.Manifest, ManifestItem{
				ID:         e.SelectAttrValue("id", ""),
				Href:       e.SelectAttrValue("href", ""),
				MediaType:  e.SelectAttrValue("media-type", ""),
				Properties: strings.Fields(e.SelectAttrValue("properties", "")),
			})
		}
	}
	if spine := root.SelectElement("spine"); spine != nil {
		for _, e := range spine.SelectElements("itemref") {
			rep.Spine = append(rep.Spine, e.SelectAttrValue("idref", ""))
		}
	}
}

func inspectManifest(rd *Reader, rep *Report, base string) {
	ids := make(map[string]int)
	hrefs := make(map[string]int)
	for _, it := range rep.Manifest {
		ids[it.ID]++
		hrefs[it.Href]++
		if !rd.Has(resolveHref(base, it.Href)) {
			rep.problemf("manifest item %q points at missing file %q", it.ID, it.Href)
		}
	}
	for id, n := range ids {
		if n > 1 {
			rep.problemf("manifest id %q used %d times", id, n)
		}
	}
	for href, n := range hrefs {
		if n > 1 {
			rep.problemf("manifest href %q listed %d times", href, n)
		}
	}
	for _, idref := range rep.Spine {
		if _, ok := rep.Item(idref); !ok {
			rep.problemf("spine references unknown id %q", idref)
		}
	}
	if id := rep.Metadata.CoverID; id != "" {
		if _, ok := rep.Item(id); !ok {
			rep.problemf("cover meta references unknown id %q", id)
		}
	}
}

func inspectNavigation(rd *Reader, rep *Report, base string) {
	manifestHrefs := make(map[string]bool)
	for _, it := range rep.Manifest {
		manifestHrefs[it.Href] = true
	}
	checkTargets := func(kind string, entries []NavEntry) {
		for _, e := range entries {
			target, _, _ := strings.Cut(e.Href, "#")
			if !manifestHrefs[target] {
				rep.problemf("%s entry %q targets %q which is not in the manifest", kind, e.Label, e.Href)
			}
		}
	}

	for _, it := range rep.Manifest {
		switch {
		case it.MediaType == mediaTypeNCX:
			doc, err := rd.ReadXML(resolveHref(base, it.Href))
			if err != nil {
				rep.problemf("NCX: %v", err)
				continue
			}
			for _, np := range doc.FindElements("/ncx/navMap/navPoint") {
				entry := NavEntry{}
				if t := np.FindElement("./navLabel/text"); t != nil {
					entry.Label = t.Text()
				}
				if c := np.SelectElement("content"); c != nil {
					entry.Href = c.SelectAttrValue("src", "")
				}
				rep.NCX = append(rep.NCX, entry)
			}
			checkTargets("NCX", rep.NCX)
		case hasProperty(it, "nav"):
			data, err := rd.ReadFile(resolveHref(base, it.Href))
			if err != nil {
				rep.problemf("nav: %v", err)
				continue
			}
			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
			if err != nil {
				rep.problemf("nav: %v", err)
				continue
			}
			doc.Find("nav").Each(func(_ int, nav *goquery.Selection) {
				if nav.AttrOr("epub:type", "") != "toc" {
					return
				}
				nav.ChildrenFiltered("ol").ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
					a := li.ChildrenFiltered("a").First()
					rep.Nav = append(rep.Nav, NavEntry{
						Label: strings.TrimSpace(a.Text()),
						Href:  a.AttrOr("href", ""),
					})
				})
			})
			checkTargets("nav", rep.Nav)
		}
	}
}

func inspectContentDocuments(rd *Reader, rep *Report, base string) {
	for _, it := range rep.Manifest {
		if it.MediaType != mediaTypeXHTML || hasProperty(it, "nav") {
			continue
		}
		name := resolveHref(base, it.Href)
		if !rd.Has(name) {
			continue
		}
		if _, err := rd.ReadXML(name); err != nil {
			rep.problemf("content document %q is not well-formed: %v", it.Href, err)
			continue
		}
		data, err := rd.ReadFile(name)
		if err != nil {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
		if err != nil {
			continue
		}
		ids := make(map[string]int)
		doc.Find("[id]").Each(func(_ int, el *goquery.Selection) {
			ids[el.AttrOr("id", "")]++
		})
		for id, n := range ids {
			if n > 1 {
				rep.problemf("content document %q uses id %q %d times", it.Href, id, n)
			}
		}

		docDir := dirOf(name)
		doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
			src := img.AttrOr("src", "")
			if strings.Contains(src, "://") || strings.HasPrefix(src, "data:") {
				return
			}
			if !rd.Has(resolveHref(docDir, src)) {
				rep.Dangling = append(rep.Dangling, it.Href+": "+src)
			}
		})
	}
}

func hasProperty(it ManifestItem, prop string) bool {
	for _, p := range it.Properties {
		if p == prop {
			return true
		}
	}
	return false
}

// resolveHref resolves a URL-encoded href relative to the directory base.
func resolveHref(base, href string) string {
	href, _, _ = strings.Cut(href, "#")
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	if base == "" || base == "." {
		return path.Clean(href)
	}
	return path.Join(base, href)
}

func dirOf(name string) string {
	dir := path.Dir(name)
	if dir == "." {
		return ""
	}
	return dir
}
