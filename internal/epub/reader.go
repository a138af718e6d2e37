package epub

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
)

// Reader provides access to the contents of a packaged EPUB.
type Reader struct {
	zipReader *zip.ReadCloser
	files     map[string]*zip.File
	opfPath   string
}

var (
	ErrMimetypeNotFound  = errors.New("mimetype file not found")
	ErrContainerNotFound = errors.New("META-INF/container.xml not found")
	ErrOPFPathNotFound   = errors.New("OPF path not found in container.xml")
)

// Open opens an EPUB file and locates its package document. Structural
// problems beyond that are left to Inspect.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open EPUB: %w", err)
	}

	reader := &Reader{
		zipReader: zr,
		files:     make(map[string]*zip.File),
	}
	for _, f := range zr.File {
		reader.files[normalizePath(f.Name)] = f
	}

	if _, ok := reader.files[MimetypeFile]; !ok {
		zr.Close()
		return nil, ErrMimetypeNotFound
	}
	if err := reader.parseContainer(); err != nil {
		zr.Close()
		return nil, err
	}
	return reader, nil
}

// Close closes the EPUB reader
func (r *Reader) Close() error {
	return r.zipReader.Close()
}

// OPFPath returns the path to the package document.
func (r *Reader) OPFPath() string {
	return r.opfPath
}

// Entries returns the archive entries in stored order.
func (r *Reader) Entries() []*zip.File {
	return r.zipReader.File
}

// Has reports whether the archive contains name.
func (r *Reader) Has(name string) bool {
	_, ok := r.files[normalizePath(name)]
	return ok
}

// ReadFile reads the contents of a file from the EPUB
func (r *Reader) ReadFile(name string) ([]byte, error) {
	name = normalizePath(name)
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", name, err)
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

// ReadXML reads and parses an XML file from the EPUB.
func (r *Reader) ReadXML(name string) (*etree.Document, error) {
	data, err := r.ReadFile(name)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return doc, nil
}

func (r *Reader) parseContainer() error {
	doc, err := r.ReadXML(ContainerFile)
	if err != nil {
		if !r.Has(ContainerFile) {
			return ErrContainerNotFound
		}
		return err
	}
	root := doc.Root()
	if root == nil {
		return ErrOPFPathNotFound
	}

	var first string
	for _, rf := range root.FindElements("./rootfiles/rootfile") {
		full := rf.SelectAttrValue("full-path", "")
		if full == "" {
			continue
		}
		if first == "" {
			first = full
		}
		if mt := rf.SelectAttrValue("media-type", ""); mt == mediaTypeOPF || mt == "" {
			r.opfPath = normalizePath(full)
			return nil
		}
	}
	if first != "" {
		r.opfPath = normalizePath(first)
		return nil
	}
	return ErrOPFPathNotFound
}

// normalizePath normalizes file paths (removes ./ prefix)
func normalizePath(path string) string {
	return strings.TrimPrefix(path, "./")
}
