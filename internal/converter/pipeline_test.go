package converter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yuanying/md2epub/internal/book"
	"github.com/yuanying/md2epub/internal/epub"
)

var fixedDate = time.Date(2024, 3, 9, 12, 30, 0, 0, time.UTC)

func writeMarkdown(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func convert(t *testing.T, opts ConvertOptions) []Result {
	t.Helper()
	if opts.Metadata.Language == "" {
		opts.Metadata.Language = "en"
	}
	if opts.Metadata.CreationDate.IsZero() {
		opts.Metadata.CreationDate = fixedDate
	}
	results, err := NewPipeline(opts, nil).Convert(context.Background())
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	return results
}

func inspect(t *testing.T, path string) *epub.Report {
	t.Helper()
	rep, err := epub.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect(%s) error = %v", path, err)
	}
	if err := rep.Err(); err != nil {
		t.Fatalf("package problems: %v", err)
	}
	return rep
}

func readEntry(t *testing.T, path, name string) string {
	t.Helper()
	rd, err := epub.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rd.Close()
	data, err := rd.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", name, err)
	}
	return string(data)
}

func TestConvert_SingleDocument(t *testing.T) {
	dir := t.TempDir()
	input := writeMarkdown(t, dir, "notes.md", "# Field Notes\n\nHello *world*.\n")

	results := convert(t, ConvertOptions{Inputs: []string{input}, Nav: true})
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	want := filepath.Join(dir, "notes.epub")
	if results[0].OutputPath != want {
		t.Errorf("OutputPath = %s, want %s", results[0].OutputPath, want)
	}

	rep := inspect(t, want)
	if rep.Entries[0].Name != epub.MimetypeFile || !rep.Entries[0].Stored {
		t.Errorf("first entry = %+v, want stored mimetype", rep.Entries[0])
	}
	if got := strings.Join(rep.Spine, ","); got != "content" {
		t.Errorf("spine = %s, want content", got)
	}
	if rep.Metadata.Title != "Field Notes" {
		t.Errorf("title = %q, want Field Notes", rep.Metadata.Title)
	}
	if rep.Metadata.Date != "2024-03-09" || rep.Metadata.Modified != "2024-03-09T12:30:00Z" {
		t.Errorf("dates = %q / %q", rep.Metadata.Date, rep.Metadata.Modified)
	}
	if len(rep.Nav) != 1 || rep.Nav[0].Label != "Field Notes" {
		t.Errorf("nav = %+v", rep.Nav)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Errorf("leftover staging file %s", e.Name())
		}
	}
}

func TestConvert_IdentifierStability(t *testing.T) {
	dir := t.TempDir()
	input := writeMarkdown(t, dir, "a.md", "# A\n")

	out := filepath.Join(dir, "explicit.epub")
	convert(t, ConvertOptions{
		Inputs:     []string{input},
		OutputPath: out,
		Metadata:   book.Metadata{Identifier: "urn:isbn:9780000000000"},
	})
	rep := inspect(t, out)
	if rep.Metadata.Identifier != "urn:isbn:9780000000000" {
		t.Errorf("identifier = %q", rep.Metadata.Identifier)
	}

	generated := filepath.Join(dir, "generated.epub")
	res := convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: generated})
	rep = inspect(t, generated)
	if !strings.HasPrefix(rep.Metadata.Identifier, "urn:uuid:") {
		t.Errorf("identifier = %q, want urn:uuid: prefix", rep.Metadata.Identifier)
	}
	if rep.Metadata.Identifier != res[0].Identifier {
		t.Errorf("identifier = %q, result says %q", rep.Metadata.Identifier, res[0].Identifier)
	}
}

func TestConvert_DeterministicPackageDocument(t *testing.T) {
	dir := t.TempDir()
	input := writeMarkdown(t, dir, "a.md", "# A\n\nBody.\n")
	md := book.Metadata{Identifier: "urn:uuid:fixed", Author: "Someone"}

	first := filepath.Join(dir, "one.epub")
	second := filepath.Join(dir, "two.epub")
	convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: first, Metadata: md})
	convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: second, Metadata: md})

	for _, name := range []string{"OEBPS/content.opf", "OEBPS/toc.ncx", "OEBPS/content.xhtml"} {
		if readEntry(t, first, name) != readEntry(t, second, name) {
			t.Errorf("%s differs between identical conversions", name)
		}
	}
}

func TestConvert_FootnoteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := writeMarkdown(t, dir, "fn.md", "# Notes\n\nA claim[^src].\n\n[^src]: The source.\n")
	out := filepath.Join(dir, "fn.epub")
	convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: out})

	inspect(t, out)
	body := readEntry(t, out, "OEBPS/content.xhtml")
	if got := strings.Count(body, `id="fn-src"`); got != 1 {
		t.Errorf("anchors fn-src = %d, want 1:\n%s", got, body)
	}
	if got := strings.Count(body, `href="#fn-src"`); got != 1 {
		t.Errorf("links to #fn-src = %d, want 1:\n%s", got, body)
	}
}

func TestConvert_ControlCharacters(t *testing.T) {
	dir := t.TempDir()
	input := writeMarkdown(t, dir, "ff.md", "# Bell\x07 Title\n\nPage one\x0cpage two\n")
	out := filepath.Join(dir, "ff.epub")
	convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: out, Nav: true})

	rep := inspect(t, out)
	if rep.Metadata.Title != "Bell Title" {
		t.Errorf("title = %q, want Bell Title", rep.Metadata.Title)
	}
	if body := readEntry(t, out, "OEBPS/content.xhtml"); !strings.Contains(body, "Page one page two") {
		t.Errorf("form feed not replaced:\n%s", body)
	}
}

func TestConvert_FootnoteLabelDefinedTwice(t *testing.T) {
	dir := t.TempDir()
	input := writeMarkdown(t, dir, "dup.md", "# Dup\n\nSee[^x].\n\n[^x]: one\n\n[^x]: two\n")
	out := filepath.Join(dir, "dup.epub")
	convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: out})

	inspect(t, out)
	body := readEntry(t, out, "OEBPS/content.xhtml")
	if strings.Count(body, `id="fn-x"`) != 1 || strings.Count(body, `id="fn-x-2"`) != 1 {
		t.Errorf("footnote anchors not unique:\n%s", body)
	}
}

func TestConvert_HeadingInCodeFenceIsNotTitle(t *testing.T) {
	dir := t.TempDir()
	input := writeMarkdown(t, dir, "setup.md", "```sh\n# install deps\nmake\n```\n")
	out := filepath.Join(dir, "setup.epub")
	results := convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: out})

	if results[0].Title != "setup" {
		t.Errorf("title = %q, want setup", results[0].Title)
	}
}

func TestConvert_ImageNameWithSpace(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "my pic.png")
	input := writeMarkdown(t, dir, "pic.md", "# Pic\n\n![p](my%20pic.png)\n")
	out := filepath.Join(dir, "pic.epub")
	convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: out})

	rep := inspect(t, out)
	if len(rep.Dangling) != 0 {
		t.Errorf("Dangling = %v", rep.Dangling)
	}
	found := false
	for _, it := range rep.Manifest {
		if it.Href == "images/my%20pic.png" {
			found = true
		}
	}
	if !found {
		t.Errorf("manifest = %+v, want escaped images/my%%20pic.png", rep.Manifest)
	}
}

func TestConvert_ChapterOrderingAndImageDedup(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "shared.png")
	inputs := []string{
		writeMarkdown(t, dir, "01.md", "# One\n\n![a](shared.png)\n"),
		writeMarkdown(t, dir, "02.md", "No heading here.\n\n![b](shared.png)\n"),
		writeMarkdown(t, dir, "03.md", "# Three\n"),
	}
	out := filepath.Join(dir, "book.epub")

	convert(t, ConvertOptions{
		Inputs:        inputs,
		OutputPath:    out,
		Chapters:      true,
		ChapterTitles: []string{"", "", "Finale"},
		Nav:           true,
		Metadata:      book.Metadata{Title: "Collected"},
	})

	rep := inspect(t, out)
	if got := strings.Join(rep.Spine, ","); got != "chapter-1,chapter-2,chapter-3" {
		t.Errorf("spine = %s", got)
	}
	var labels []string
	for _, e := range rep.Nav {
		labels = append(labels, e.Label)
	}
	if got := strings.Join(labels, "|"); got != "One|02|Finale" {
		t.Errorf("nav labels = %s, want One|02|Finale", got)
	}
	if rep.Metadata.Title != "Collected" {
		t.Errorf("title = %q", rep.Metadata.Title)
	}

	var images int
	for _, it := range rep.Manifest {
		if strings.HasPrefix(it.Href, "images/") {
			images++
			if it.Href != "images/shared.png" || it.MediaType != "image/png" {
				t.Errorf("image item = %+v", it)
			}
		}
	}
	if images != 1 {
		t.Errorf("image items = %d, want 1", images)
	}
	if len(rep.Dangling) != 0 {
		t.Errorf("dangling = %v", rep.Dangling)
	}
}

func TestConvert_ChapterOutputNamedAfterTitle(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		writeMarkdown(t, dir, "a.md", "# Über Café\n"),
		writeMarkdown(t, dir, "b.md", "# Two\n"),
	}
	res := convert(t, ConvertOptions{Inputs: inputs, Chapters: true, TransliterateNames: true})
	if want := filepath.Join(dir, "uber-cafe.epub"); res[0].OutputPath != want {
		t.Errorf("OutputPath = %s, want %s", res[0].OutputPath, want)
	}
	inspect(t, res[0].OutputPath)
}

func TestConvert_DegradedAsset(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "here.png")
	input := writeMarkdown(t, dir, "img.md", "# Pics\n\n![ok](here.png)\n\n![gone](missing.png)\n")
	out := filepath.Join(dir, "img.epub")

	res := convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: out})
	if len(res[0].Omitted) != 1 || !errors.Is(res[0].Omitted[0].Err, book.ErrAssetCopy) {
		t.Fatalf("omitted = %+v, want one copy failure", res[0].Omitted)
	}
	if res[0].Assets != 1 {
		t.Errorf("assets = %d, want 1", res[0].Assets)
	}

	rep := inspect(t, out)
	if len(rep.Dangling) != 1 || !strings.HasSuffix(rep.Dangling[0], "images/missing.png") {
		t.Errorf("dangling = %v", rep.Dangling)
	}
	if _, ok := rep.Item("image-1"); !ok {
		t.Error("packaged image missing from manifest")
	}
}

func TestConvert_Cover(t *testing.T) {
	dir := t.TempDir()
	cover := writePNG(t, dir, "art.png")
	input := writeMarkdown(t, dir, "c.md", "# C\n")
	out := filepath.Join(dir, "c.epub")

	convert(t, ConvertOptions{
		Inputs:     []string{input},
		OutputPath: out,
		Metadata:   book.Metadata{CoverPath: cover},
	})
	rep := inspect(t, out)
	item, ok := rep.Item("cover-image")
	if !ok || item.Href != "images/cover.png" {
		t.Fatalf("cover item = %+v, %v", item, ok)
	}
	if rep.Metadata.CoverID != "cover-image" {
		t.Errorf("cover meta = %q", rep.Metadata.CoverID)
	}
}

func TestConvert_TitlePrecedence(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		source   string
		explicit string
		want     string
	}{
		{name: "explicit", source: "# Heading\n", explicit: "Given", want: "Given"},
		{name: "heading", source: "# Heading\n", want: "Heading"},
		{name: "basename", source: "plain text\n", want: "basename"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := writeMarkdown(t, filepath.Join(dir, tt.name), "basename.md", tt.source)
			res := convert(t, ConvertOptions{Inputs: []string{input}, Metadata: book.Metadata{Title: tt.explicit}})
			if res[0].Title != tt.want {
				t.Errorf("title = %q, want %q", res[0].Title, tt.want)
			}
			if rep := inspect(t, res[0].OutputPath); rep.Metadata.Title != tt.want {
				t.Errorf("package title = %q, want %q", rep.Metadata.Title, tt.want)
			}
		})
	}
}

func TestConvert_CustomStylesheet(t *testing.T) {
	dir := t.TempDir()
	input := writeMarkdown(t, dir, "s.md", "# S\n")
	css := writeMarkdown(t, dir, "custom.css", "body { color: red; }\n")
	out := filepath.Join(dir, "s.epub")

	convert(t, ConvertOptions{Inputs: []string{input}, OutputPath: out, StylesheetPath: css})
	if got := readEntry(t, out, "OEBPS/css/style.css"); got != "body { color: red; }\n" {
		t.Errorf("stylesheet = %q", got)
	}

	_, err := NewPipeline(ConvertOptions{
		Inputs:         []string{input},
		OutputPath:     out,
		StylesheetPath: filepath.Join(dir, "nope.css"),
	}, nil).Convert(context.Background())
	if !errors.Is(err, book.ErrInputNotFound) {
		t.Errorf("Convert() error = %v, want ErrInputNotFound", err)
	}
}

func TestConvert_BatchContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	inputs := []string{
		writeMarkdown(t, dir, "good.md", "# Good\n"),
		filepath.Join(dir, "absent.md"),
		writeMarkdown(t, dir, "also.md", "# Also\n"),
	}

	results, err := NewPipeline(ConvertOptions{Inputs: inputs, OutputDir: outDir}, nil).Convert(context.Background())
	if !errors.Is(err, book.ErrInputNotFound) {
		t.Fatalf("Convert() error = %v, want ErrInputNotFound", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, name := range []string{"good.epub", "also.epub"} {
		inspect(t, filepath.Join(outDir, name))
	}
	if _, err := os.Stat(filepath.Join(outDir, "absent.epub")); !os.IsNotExist(err) {
		t.Error("failed input produced a package")
	}
}

func TestConvert_Rejects(t *testing.T) {
	dir := t.TempDir()
	a := writeMarkdown(t, dir, "a.md", "# A\n")
	b := writeMarkdown(t, dir, "b.md", "# B\n")

	tests := []struct {
		name string
		opts ConvertOptions
		want error
	}{
		{name: "no inputs", opts: ConvertOptions{}, want: book.ErrConfiguration},
		{name: "several inputs without target", opts: ConvertOptions{Inputs: []string{a, b}}, want: book.ErrConfiguration},
		{name: "missing input", opts: ConvertOptions{Inputs: []string{filepath.Join(dir, "x.md")}}, want: book.ErrInputNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(tt.opts, nil).Convert(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("Convert() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(dir, "x.epub")); !os.IsNotExist(err) {
		t.Error("missing input produced a package")
	}
}

func TestConvert_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	input := writeMarkdown(t, dir, "a.md", "# A\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(ConvertOptions{Inputs: []string{input}}, nil).Convert(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Convert() error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.epub")); !os.IsNotExist(err) {
		t.Error("cancelled conversion produced a package")
	}
}

func TestFileNameForTitle(t *testing.T) {
	tests := []struct {
		title         string
		transliterate bool
		want          string
	}{
		{title: "  ", want: ""},
		{title: "Plain Title", want: "Plain Title"},
		{title: "a/b: c?", want: "a_b_ c_"},
		{title: "Über Café", transliterate: true, want: "uber-cafe"},
		{title: "Hello World", transliterate: true, want: "hello-world"},
	}
	for _, tt := range tests {
		if got := FileNameForTitle(tt.title, tt.transliterate); got != tt.want {
			t.Errorf("FileNameForTitle(%q, %v) = %q, want %q", tt.title, tt.transliterate, got, tt.want)
		}
	}
}
