package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yuanying/md2epub/internal/archive"
	"github.com/yuanying/md2epub/internal/assets"
	"github.com/yuanying/md2epub/internal/book"
	"github.com/yuanying/md2epub/internal/epub"
	"github.com/yuanying/md2epub/internal/markdown"
)

// ConvertOptions holds options for the conversion pipeline.
type ConvertOptions struct {
	// Inputs is the resolved, ordered list of markdown documents.
	Inputs     []string
	OutputPath string
	OutputDir  string

	// Chapters packages every input as one chapter of a single book.
	Chapters      bool
	ChapterTitles []string

	// Metadata holds explicit values. Title overrides extracted titles;
	// Identifier and CreationDate are generated when empty.
	Metadata book.Metadata

	StylesheetPath     string
	Nav                bool
	FixZip             bool
	TransliterateNames bool
	Assets             assets.Options
}

// Result describes one written package.
type Result struct {
	Source     []string
	OutputPath string
	Title      string
	Identifier string
	Assets     int
	Omitted    []assets.Outcome
}

// Pipeline orchestrates the markdown to EPUB conversion.
type Pipeline struct {
	Options ConvertOptions

	builder   *markdown.Builder
	resolver  *assets.Resolver
	assembler *epub.Assembler
	packager  *archive.Packager
	log       *zap.Logger
	now       func() time.Time
}

// NewPipeline creates a new conversion pipeline. A nil logger disables
// logging.
func NewPipeline(opts ConvertOptions, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		Options:   opts,
		builder:   markdown.Default(),
		resolver:  assets.NewResolver(opts.Assets, log.Named("assets")),
		assembler: epub.NewAssembler(log.Named("epub")),
		packager:  archive.NewPackager(archive.Options{FixZip: opts.FixZip}, log.Named("archive")),
		log:       log,
		now:       time.Now,
	}
}

// Convert executes the conversion. In batch mode every input is converted
// independently; failures are collected and the remaining inputs still run.
func (p *Pipeline) Convert(ctx context.Context) ([]Result, error) {
	opts := p.Options
	if err := validate(opts); err != nil {
		return nil, err
	}

	switch {
	case opts.Chapters:
		res, err := p.convertBook(ctx, opts.Inputs, true, p.chapterOutputPath)
		if err != nil {
			return nil, err
		}
		return []Result{*res}, nil

	case len(opts.Inputs) == 1:
		res, err := p.convertBook(ctx, opts.Inputs, false, p.singleOutputPath(opts.Inputs[0]))
		if err != nil {
			return nil, err
		}
		return []Result{*res}, nil

	default:
		return p.convertBatch(ctx)
	}
}

func (p *Pipeline) convertBatch(ctx context.Context) ([]Result, error) {
	var (
		results []Result
		errs    error
	)
	for _, input := range p.Options.Inputs {
		if err := ctx.Err(); err != nil {
			return results, multierr.Append(errs, err)
		}
		res, err := p.convertBook(ctx, []string{input}, false, p.singleOutputPath(input))
		if err != nil {
			p.log.Error("Conversion failed", zap.String("input", input), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		results = append(results, *res)
	}
	return results, errs
}

// convertBook parses inputs and writes a single package. outputFor picks the
// package path once the book title is known.
func (p *Pipeline) convertBook(ctx context.Context, inputs []string, chapters bool, outputFor func(title string) string) (*Result, error) {
	docs := make([]*book.ParsedDocument, 0, len(inputs))
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.log.Info("Parsing document", zap.String("path", input))
		doc, err := p.builder.BuildFile(input)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	md := p.metadata(docs)
	outputPath := outputFor(md.Title)
	pkg := &epub.Package{
		Metadata: md,
		Nav:      p.Options.Nav,
	}
	if chapters {
		titles := make([]string, len(docs))
		for i, d := range docs {
			explicit := ""
			if i < len(p.Options.ChapterTitles) {
				explicit = p.Options.ChapterTitles[i]
			}
			titles[i] = book.ResolveTitle(explicit, d.ExtractedTitle, d.SourcePath)
		}
		pkg.Documents = epub.ChapterDocuments(book.NewChapters(docs, titles))
	} else {
		pkg.Documents = epub.SingleDocument(md.Title, docs[0].ContentHTML)
	}

	if p.Options.StylesheetPath != "" {
		css, err := os.ReadFile(p.Options.StylesheetPath)
		if err != nil {
			return nil, book.NewError(book.ErrInputNotFound, "stylesheet", p.Options.StylesheetPath, err)
		}
		pkg.Stylesheet = css
	}

	var refs []book.ImageReference
	for _, d := range docs {
		refs = append(refs, d.Images...)
	}

	res := &Result{
		Source:     inputs,
		OutputPath: outputPath,
		Title:      md.Title,
		Identifier: md.Identifier,
	}
	err := archive.WithStage(filepath.Dir(outputPath), p.log.Named("archive"), func(dir string) error {
		resolved, err := p.resolver.Resolve(ctx, refs, md.CoverPath, filepath.Join(dir, epub.ContentDir, book.ImagesDir))
		if err != nil {
			return err
		}
		pkg.Assets = resolved.Assets
		pkg.Cover = resolved.Cover
		res.Assets = len(resolved.Assets)
		res.Omitted = resolved.Failed()

		if err := p.assembler.Assemble(pkg, dir); err != nil {
			return err
		}
		return p.packager.Pack(ctx, dir, outputPath)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("Package written",
		zap.String("output", outputPath),
		zap.String("title", md.Title),
		zap.Int("documents", len(pkg.Documents)),
		zap.Int("images", res.Assets),
		zap.Int("omitted", len(res.Omitted)))
	return res, nil
}

// metadata fixes the book metadata once per conversion.
func (p *Pipeline) metadata(docs []*book.ParsedDocument) book.Metadata {
	md := p.Options.Metadata
	first := docs[0]
	md.Title = book.ResolveTitle(md.Title, first.ExtractedTitle, first.SourcePath)
	if md.Identifier == "" {
		md.Identifier = "urn:uuid:" + uuid.NewString()
	}
	if md.CreationDate.IsZero() {
		md.CreationDate = p.now().UTC().Truncate(time.Second)
	}
	return md
}

func validate(opts ConvertOptions) error {
	if len(opts.Inputs) == 0 {
		return book.NewError(book.ErrConfiguration, "validate", "", fmt.Errorf("no input documents"))
	}
	if !opts.Chapters && len(opts.Inputs) > 1 && opts.OutputDir == "" {
		return book.NewError(book.ErrConfiguration, "validate", "",
			fmt.Errorf("%d inputs need chapter mode or an output directory", len(opts.Inputs)))
	}
	return nil
}
