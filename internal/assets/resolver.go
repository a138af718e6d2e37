// Package assets materializes the images referenced by a book into the
// staged package tree.
package assets

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yuanying/md2epub/internal/book"
)

const (
	// CoverBaseName is the file name (without extension) of the packaged cover.
	CoverBaseName = "cover"
	// CoverID is the manifest id reserved for the cover image.
	CoverID = "cover-image"

	defaultParallelism = 4
)

// Options tunes a Resolver.
type Options struct {
	FetchTimeout time.Duration
	Parallelism  int
	MaxWidth     int
	JPEGQuality  int
}

// Outcome is the result of materializing one unique reference.
type Outcome struct {
	Ref   book.ImageReference
	Asset book.Asset
	Err   error
}

// OK reports whether the asset was written.
func (o Outcome) OK() bool { return o.Err == nil }

// Result holds the deduplicated assets in first-occurrence order. Assets only
// lists what was written; Outcomes has one entry per unique reference.
type Result struct {
	Assets   []book.Asset
	Cover    *book.Asset
	Outcomes []Outcome
}

// Failed returns the outcomes that could not be materialized.
func (r Result) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Resolver copies local images and downloads remote ones.
type Resolver struct {
	client      *http.Client
	optimizer   *Optimizer
	parallelism int
	log         *zap.Logger
}

// NewResolver creates a resolver. A nil logger disables logging.
func NewResolver(opts Options, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Resolver{
		client:      newHTTPClient(opts.FetchTimeout),
		optimizer:   NewOptimizer(opts.MaxWidth, opts.JPEGQuality),
		parallelism: parallelism,
		log:         log,
	}
}

// Dedup keeps the first reference for every packaged file name.
func Dedup(refs []book.ImageReference) []book.ImageReference {
	seen := make(map[string]struct{}, len(refs))
	unique := make([]book.ImageReference, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.FileName]; ok {
			continue
		}
		seen[ref.FileName] = struct{}{}
		unique = append(unique, ref)
	}
	return unique
}

// CoverFileName returns the packaged name of a cover located at location.
func CoverFileName(location string) string {
	return CoverBaseName + strings.ToLower(filepath.Ext(book.AssetFileName(location)))
}

// Resolve deduplicates refs and writes each unique asset under imagesDir.
// coverPath, if set, is materialized separately as cover<ext>. Per-asset
// failures are logged and reported in the Result; only a cancelled context
// or an unusable imagesDir produce an error.
func (r *Resolver) Resolve(ctx context.Context, refs []book.ImageReference, coverPath, imagesDir string) (Result, error) {
	var res Result
	unique := Dedup(refs)
	if len(unique) == 0 && coverPath == "" {
		return res, nil
	}
	if err := os.MkdirAll(imagesDir, 0755); err != nil {
		return res, book.NewError(book.ErrArchiveWrite, "stage", imagesDir, err)
	}

	if coverPath != "" {
		cover, err := r.resolveCover(ctx, coverPath, imagesDir)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.log.Warn("Asset unavailable, omitting from package", zap.String("asset", coverPath), zap.Error(err))
		} else {
			res.Cover = cover
		}
	}

	outcomes := make([]Outcome, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, ref := range unique {
		if res.Cover != nil && ref.FileName == res.Cover.FileName {
			outcomes[i] = Outcome{Ref: ref, Asset: *res.Cover}
			continue
		}
		g.Go(func() error {
			outcomes[i] = r.materialize(gctx, ref, imagesDir)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	for _, o := range outcomes {
		res.Outcomes = append(res.Outcomes, o)
		if !o.OK() {
			r.log.Warn("Asset unavailable, omitting from package",
				zap.String("asset", o.Ref.SourceRef), zap.Error(o.Err))
			continue
		}
		if res.Cover != nil && o.Asset.FileName == res.Cover.FileName {
			// The cover owns this file name; the body reference shows the cover.
			r.log.Warn("Image file name collides with cover, using cover image",
				zap.String("asset", o.Ref.SourceRef), zap.String("file", o.Asset.FileName))
			continue
		}
		res.Assets = append(res.Assets, o.Asset)
	}
	return res, nil
}

func (r *Resolver) materialize(ctx context.Context, ref book.ImageReference, imagesDir string) Outcome {
	out := Outcome{Ref: ref}
	contentType := ref.ContentType
	if contentType == "" {
		contentType = book.ContentType(ref.FileName)
	}
	if err := r.write(ctx, ref.ResolvedLocation, filepath.Join(imagesDir, ref.FileName), contentType, false); err != nil {
		out.Err = err
		return out
	}
	out.Asset = book.Asset{
		ID:          ref.AssetID,
		FileName:    ref.FileName,
		ContentType: contentType,
	}
	return out
}

func (r *Resolver) resolveCover(ctx context.Context, location, imagesDir string) (*book.Asset, error) {
	name := CoverFileName(location)
	contentType := book.ContentType(name)
	if err := r.write(ctx, location, filepath.Join(imagesDir, name), contentType, true); err != nil {
		return nil, err
	}
	return &book.Asset{
		ID:          CoverID,
		FileName:    name,
		ContentType: contentType,
		Cover:       true,
	}, nil
}

// write loads the bytes at location and stores them at dst. Covers are never
// resized.
func (r *Resolver) write(ctx context.Context, location, dst, contentType string, cover bool) error {
	var (
		data []byte
		err  error
	)
	if book.IsRemoteLocation(location) {
		r.log.Info("Downloading asset", zap.String("url", location))
		data, err = fetchRemote(ctx, r.client, location)
	} else {
		r.log.Debug("Copying asset", zap.String("path", location))
		data, err = readLocal(location)
	}
	if err != nil {
		return err
	}

	r.checkSniffedType(location, contentType, data)

	if !cover {
		optimized, err := r.optimizer.Optimize(contentType, data)
		if err != nil {
			r.log.Warn("Image optimization failed, using original", zap.String("asset", location), zap.Error(err))
		} else {
			if optimized.Warning != "" {
				r.log.Debug("Image passthrough", zap.String("asset", location), zap.String("reason", optimized.Warning))
			}
			if optimized.Resized {
				r.log.Debug("Image resized", zap.String("asset", location),
					zap.Int("width", optimized.Width), zap.Int("height", optimized.Height))
			}
			data = optimized.Data
		}
	}

	if err := os.WriteFile(dst, data, 0644); err != nil {
		return book.NewError(book.ErrAssetCopy, "copy", location, fmt.Errorf("failed to write %s: %w", dst, err))
	}
	return nil
}

// checkSniffedType logs when the bytes do not look like the declared type.
// The declared type still wins since it is derived from the packaged name.
func (r *Resolver) checkSniffedType(location, declared string, data []byte) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return
	}
	if !filetype.IsImage(data) {
		r.log.Warn("Asset content is not an image", zap.String("asset", location), zap.String("detected", kind.MIME.Value))
		return
	}
	if kind.MIME.Value != declared {
		r.log.Debug("Asset content type differs from extension",
			zap.String("asset", location), zap.String("declared", declared), zap.String("detected", kind.MIME.Value))
	}
}
