// Package book holds the content model shared by the markdown builder, the
// asset resolver and the package assembler.
package book

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ImagesDir is the package-relative directory (under OEBPS) that holds every
// resolved asset. Rendered <img> tags point into it.
const ImagesDir = "images"

// ParsedDocument is one transformed markdown source document.
type ParsedDocument struct {
	SourcePath     string           // Absolute path of the source, empty for in-memory input
	ContentHTML    string           // XHTML fragment (body content only)
	Images         []ImageReference // In first-appearance order, duplicates included
	ExtractedTitle string           // First top-level heading, verbatim; empty if none
}

// ImageReference is one image usage site inside a document.
type ImageReference struct {
	SourceRef        string // As written in the markdown source
	ResolvedLocation string // Filesystem path or http(s) URL
	ContentType      string
	AssetID          string // Unique per reference
	FileName         string // Basename the rendered tag points to (images/<FileName>)
}

// IsRemote reports whether the reference must be fetched over the network.
func (r ImageReference) IsRemote() bool {
	return IsRemoteLocation(r.ResolvedLocation)
}

// Href returns the package-relative href (relative to OEBPS) of the asset.
func (r ImageReference) Href() string {
	return AssetHref(r.FileName)
}

// Chapter is one document placed in a multi-document book.
type Chapter struct {
	Title         string
	ContentHTML   string
	ChapterID     string // "chapter-N"
	SequenceIndex int    // 1-based
}

// NewChapters assigns chapter ids and sequence indexes in input order.
// titles[i] is the already-resolved title for docs[i].
func NewChapters(docs []*ParsedDocument, titles []string) []Chapter {
	chapters := make([]Chapter, 0, len(docs))
	for i, doc := range docs {
		title := ""
		if i < len(titles) {
			title = titles[i]
		}
		chapters = append(chapters, Chapter{
			Title:         title,
			ContentHTML:   doc.ContentHTML,
			ChapterID:     fmt.Sprintf("chapter-%d", i+1),
			SequenceIndex: i + 1,
		})
	}
	return chapters
}

// FileName returns the content document name of the chapter within OEBPS.
func (c Chapter) FileName() string {
	return c.ChapterID + ".xhtml"
}

// Metadata is whole-book descriptive data.
type Metadata struct {
	Title        string
	Author       string
	Language     string
	Publisher    string // Optional
	Description  string // Optional
	Rights       string // Optional
	Identifier   string
	CoverPath    string // Optional, filesystem path or URL
	CreationDate time.Time
}

// Asset is a unique, materialized file placed under OEBPS/images.
type Asset struct {
	ID          string // Manifest id
	FileName    string
	ContentType string
	Cover       bool
}

// Href returns the package-relative href (relative to OEBPS) of the asset.
func (a Asset) Href() string {
	return AssetHref(a.FileName)
}

// AssetHref returns the URL-escaped href of the image file name under ImagesDir.
func AssetHref(fileName string) string {
	return path.Join(ImagesDir, (&url.URL{Path: fileName}).EscapedPath())
}

// IsRemoteLocation reports whether loc is an absolute http(s) reference.
func IsRemoteLocation(loc string) bool {
	lower := strings.ToLower(loc)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ResolveTitle applies the title precedence rule: explicit > extracted > base
// file name of the source (without extension).
func ResolveTitle(explicit, extracted, sourcePath string) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return t
	}
	if t := strings.TrimSpace(extracted); t != "" {
		return t
	}
	if sourcePath == "" {
		return "Untitled"
	}
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
