package book

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"photo.jpg", "image/jpeg"},
		{"photo.JPEG", "image/jpeg"},
		{"diagram.png", "image/png"},
		{"anim.gif", "image/gif"},
		{"pic.webp", "image/webp"},
		{"logo.svg", "image/svg+xml"},
		{"noext", DefaultImageType},
		{"weird.xyz", DefaultImageType},
		{"archive.zip", DefaultImageType},
		{"dir/sub/figure.png", "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentType(tt.name); got != tt.want {
				t.Errorf("ContentType(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestAssetFileName(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"img/a.png", "a.png"},
		{"./a.png", "a.png"},
		{"../shared/logo.svg", "logo.svg"},
		{"my%20pic.png", "my pic.png"},
		{"https://example.com/assets/pic.jpg?size=large#top", "pic.jpg"},
		{"http://example.com/", "image"},
		{"/abs/path/cover.jpg", "cover.jpg"},
	}
	for _, tt := range tests {
		if got := AssetFileName(tt.ref); got != tt.want {
			t.Errorf("AssetFileName(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestResolveTitle(t *testing.T) {
	tests := []struct {
		name      string
		explicit  string
		extracted string
		source    string
		want      string
	}{
		{"explicit wins", "Override", "Heading", "/docs/file.md", "Override"},
		{"extracted next", "", "Heading", "/docs/file.md", "Heading"},
		{"file name last", "", "", "/docs/my-notes.md", "my-notes"},
		{"blank explicit ignored", "   ", "Heading", "/docs/file.md", "Heading"},
		{"nothing at all", "", "", "", "Untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveTitle(tt.explicit, tt.extracted, tt.source); got != tt.want {
				t.Errorf("ResolveTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewChapters_AssignsIDsInOrder(t *testing.T) {
	docs := []*ParsedDocument{
		{ContentHTML: "<p>one</p>"},
		{ContentHTML: "<p>two</p>"},
		{ContentHTML: "<p>three</p>"},
	}
	chapters := NewChapters(docs, []string{"One", "Two", "Three"})
	if len(chapters) != 3 {
		t.Fatalf("len(chapters) = %d, want 3", len(chapters))
	}
	for i, ch := range chapters {
		wantID := fmt.Sprintf("chapter-%d", i+1)
		if ch.ChapterID != wantID {
			t.Errorf("chapters[%d].ChapterID = %q, want %q", i, ch.ChapterID, wantID)
		}
		if ch.SequenceIndex != i+1 {
			t.Errorf("chapters[%d].SequenceIndex = %d, want %d", i, ch.SequenceIndex, i+1)
		}
		if ch.FileName() != wantID+".xhtml" {
			t.Errorf("chapters[%d].FileName() = %q", i, ch.FileName())
		}
		if ch.ContentHTML != docs[i].ContentHTML {
			t.Errorf("chapters[%d].ContentHTML = %q", i, ch.ContentHTML)
		}
	}
}

func TestError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrArchiveWrite, "pack", "/out/book.epub", cause)

	if !errors.Is(err, ErrArchiveWrite) {
		t.Error("errors.Is(err, ErrArchiveWrite) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if errors.Is(err, ErrParse) {
		t.Error("errors.Is(err, ErrParse) = true")
	}
	msg := err.Error()
	for _, want := range []string{"pack", "archive write failed", "/out/book.epub", "disk full"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(NewError(ErrAssetFetch, "assets", "http://x/a.png", nil)) {
		t.Error("fetch failure should be recoverable")
	}
	if !IsRecoverable(fmt.Errorf("wrapped: %w", ErrAssetCopy)) {
		t.Error("copy failure should be recoverable")
	}
	if IsRecoverable(NewError(ErrParse, "parse", "a.md", nil)) {
		t.Error("parse failure should not be recoverable")
	}
}
