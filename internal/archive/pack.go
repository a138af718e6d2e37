package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	fixzip "github.com/hidez8891/zip"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yuanying/md2epub/internal/book"
	"github.com/yuanying/md2epub/internal/epub"
)

// Options controls how archives are written.
type Options struct {
	// FixZip rewrites the archive without data descriptors, which some
	// readers reject.
	FixZip bool
}

// Packager zips staged trees.
type Packager struct {
	opts Options
	log  *zap.Logger
}

// NewPackager creates a packager. A nil logger disables logging.
func NewPackager(opts Options, log *zap.Logger) *Packager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Packager{opts: opts, log: log}
}

// Pack writes the tree under root to outputPath. The mimetype marker is the
// first entry and the only one stored uncompressed. The archive is built in a
// temporary file next to outputPath and renamed into place, so a failed run
// never leaves a partial package behind.
func (p *Packager) Pack(ctx context.Context, root, outputPath string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("not a directory")
		}
		return book.NewError(book.ErrArchiveWrite, "pack", root, err)
	}

	outDir := filepath.Dir(outputPath)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return book.NewError(book.ErrArchiveWrite, "pack", outputPath, fmt.Errorf("unable to create output directory: %w", err))
	}

	tmp, err := os.CreateTemp(outDir, "."+filepath.Base(outputPath)+".*.tmp")
	if err != nil {
		return book.NewError(book.ErrArchiveWrite, "pack", outputPath, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, rmErr)
		}
	}()

	if err := writeArchive(ctx, tmp, root); err != nil {
		return multierr.Append(
			book.NewError(book.ErrArchiveWrite, "pack", outputPath, err),
			tmp.Close(),
		)
	}
	if err := tmp.Close(); err != nil {
		return book.NewError(book.ErrArchiveWrite, "pack", outputPath, fmt.Errorf("unable to finalize output file: %w", err))
	}

	if p.opts.FixZip {
		fixed := tmpName + ".fixed"
		if err := copyZipWithoutDataDescriptors(tmpName, fixed); err != nil {
			return multierr.Append(
				book.NewError(book.ErrArchiveWrite, "pack", outputPath, err),
				removeIfExists(fixed),
			)
		}
		if err := os.Rename(fixed, tmpName); err != nil {
			return multierr.Append(
				book.NewError(book.ErrArchiveWrite, "pack", outputPath, err),
				removeIfExists(fixed),
			)
		}
	}

	if err := os.Rename(tmpName, outputPath); err != nil {
		return book.NewError(book.ErrArchiveWrite, "pack", outputPath, err)
	}
	p.log.Debug("Archive written", zap.String("output", outputPath), zap.Bool("fix_zip", p.opts.FixZip))
	return nil
}

func writeArchive(ctx context.Context, w io.Writer, root string) error {
	zw := zip.NewWriter(w)

	if err := writeMimetype(zw); err != nil {
		return fmt.Errorf("unable to write mimetype: %w", err)
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if name == epub.MimetypeFile {
			return nil
		}
		return writeFileToZip(zw, name, path)
	})
	if err != nil {
		return multierr.Append(err, zw.Close())
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("unable to close output archive: %w", err)
	}
	return nil
}

func writeMimetype(zw *zip.Writer) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   epub.MimetypeFile,
		Method: zip.Store,
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, epub.Mimetype)
	return err
}

func writeFileToZip(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("unable to add %s: %w", name, err)
	}
	return nil
}

func copyZipWithoutDataDescriptors(from, to string) (err error) {
	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("unable to create target file (%s): %w", to, err)
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	r, err := fixzip.OpenReader(from)
	if err != nil {
		return fmt.Errorf("unable to read archive file (%s): %w", from, err)
	}
	defer r.Close()

	w := fixzip.NewWriter(out)
	for _, file := range r.File {
		// unset data descriptor flag.
		file.Flags &= ^fixzip.FlagDataDescriptor

		if err := w.CopyFile(file); err != nil {
			return multierr.Append(fmt.Errorf("unable to write target file (%s): %w", to, err), w.Close())
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("unable to finalize target file (%s): %w", to, err)
	}
	return nil
}

func removeIfExists(name string) error {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
