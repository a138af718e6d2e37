package converter

import (
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
)

const epubExt = ".epub"

// singleOutputPath returns a function placing the package for input.
func (p *Pipeline) singleOutputPath(input string) func(string) string {
	return func(string) string {
		opts := p.Options
		if opts.OutputPath != "" && len(opts.Inputs) == 1 {
			return opts.OutputPath
		}
		name := replaceExt(filepath.Base(input))
		if opts.OutputDir != "" {
			return filepath.Join(opts.OutputDir, name)
		}
		return filepath.Join(filepath.Dir(input), name)
	}
}

// chapterOutputPath returns the package path of a chapter-mode book. Without
// an explicit output file the name derives from the book title.
func (p *Pipeline) chapterOutputPath(title string) string {
	opts := p.Options
	if opts.OutputPath != "" {
		return opts.OutputPath
	}
	first := opts.Inputs[0]
	dir := opts.OutputDir
	if dir == "" {
		dir = filepath.Dir(first)
	}
	name := FileNameForTitle(title, opts.TransliterateNames)
	if name == "" {
		return filepath.Join(dir, replaceExt(filepath.Base(first)))
	}
	return filepath.Join(dir, name+epubExt)
}

// FileNameForTitle turns a book title into a file name without extension.
// With transliterate the result is an ASCII slug.
func FileNameForTitle(title string, transliterate bool) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	if transliterate {
		return slug.Make(title)
	}
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, title)
	return strings.Trim(name, ". ")
}

func replaceExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + epubExt
}
