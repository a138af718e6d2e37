package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"

	"github.com/yuanying/md2epub/internal/book"
)

var markdownExts = map[string]bool{
	".md":       true,
	".markdown": true,
}

// Discover turns command line arguments into absolute document paths.
// Files are kept in argument order. Directories are walked for markdown files,
// which are ordered naturally so ch2.md precedes ch10.md. Hidden entries are
// skipped.
func Discover(args []string) ([]string, error) {
	var inputs []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			inputs = append(inputs, p)
		}
	}

	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, book.NewError(book.ErrInputNotFound, "discover", arg, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, book.NewError(book.ErrInputNotFound, "discover", abs, nil)
			}
			return nil, book.NewError(book.ErrInputNotFound, "discover", abs, err)
		}
		if !info.IsDir() {
			add(abs)
			continue
		}

		found, err := walkMarkdown(abs)
		if err != nil {
			return nil, book.NewError(book.ErrInputNotFound, "discover", abs, err)
		}
		for _, p := range found {
			add(p)
		}
	}
	return inputs, nil
}

func walkMarkdown(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && IsMarkdown(path) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(found, func(i, j int) bool {
		return natural.Less(filepath.ToSlash(found[i]), filepath.ToSlash(found[j]))
	})
	return found, nil
}

// IsMarkdown reports whether path has a markdown extension.
func IsMarkdown(path string) bool {
	return markdownExts[strings.ToLower(filepath.Ext(path))]
}
