package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yuanying/md2epub/internal/config"
	"github.com/yuanying/md2epub/internal/converter"
	"github.com/yuanying/md2epub/internal/epub"
	"github.com/yuanying/md2epub/internal/watch"
)

const version = "0.1.0"

// shutdownSignals cancel the command context. SIGKILL cannot be trapped.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "md2epub [flags] <input>...",
		Short: "Convert markdown documents to EPUB 3",
		Long: `md2epub converts markdown documents into EPUB 3 packages.

A single document becomes one book. Several documents become chapters of
one book with --chapters, or independent books with --output-dir. Directory
arguments are searched for .md and .markdown files in natural order.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.String("config", "", "Configuration file (default: ./"+config.FileName+" or ~/"+config.FileName+")")
	f.StringP("output", "o", "", "Output file (default: input with .epub extension)")
	f.String("output-dir", "", "Output directory; with several inputs each becomes its own book")
	f.Bool("chapters", false, "Package all inputs as chapters of one book")
	f.StringArray("chapter-title", nil, "Chapter title in input order (repeatable)")

	f.StringP("title", "t", "", "Book title (default: first heading, then file name)")
	f.StringP("author", "a", "", "Book author")
	f.StringP("language", "l", "", "Book language tag (default: en)")
	f.String("publisher", "", "Publisher")
	f.String("description", "", "Description")
	f.String("rights", "", "Rights statement")
	f.String("identifier", "", "Unique identifier (default: generated urn:uuid)")
	f.String("cover", "", "Cover image path or URL")
	f.String("stylesheet", "", "Stylesheet replacing the built-in one")

	f.Duration("fetch-timeout", 0, "Timeout for each remote image")
	f.Int("max-image-width", 0, "Scale wider images down to this width (0 keeps originals)")
	f.Int("jpeg-quality", 0, "JPEG quality for scaled images (1-100)")
	f.Int("parallel-assets", 0, "Number of images resolved concurrently")
	f.Bool("fix-zip", false, "Rewrite the archive without data descriptors")
	f.Bool("transliterate-names", false, "Use ASCII output file names derived from the title")
	f.Bool("no-nav", false, "Do not generate the EPUB 3 navigation document")

	f.String("log-level", "", "Console log level (none, normal, debug)")
	f.BoolP("verbose", "v", false, "Shortcut for --log-level debug")
	f.Bool("check", false, "Inspect written packages and fail on structural problems")
	f.BoolP("watch", "w", false, "Convert again whenever an input changes")

	return cmd
}

// cliOptions are the resolved options plus the flags that only steer the
// command itself.
type cliOptions struct {
	*config.Options
	Check bool
	Watch bool
}

// readCLIOptions layers flags over the configuration file and environment.
func readCLIOptions(cmd *cobra.Command, args []string) (*cliOptions, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	opts, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := opts.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	strs := map[string]*string{
		"output":      &opts.Output,
		"output-dir":  &opts.OutputDir,
		"title":       &opts.Title,
		"author":      &opts.Author,
		"language":    &opts.Language,
		"publisher":   &opts.Publisher,
		"description": &opts.Description,
		"rights":      &opts.Rights,
		"identifier":  &opts.Identifier,
		"cover":       &opts.Cover,
		"stylesheet":  &opts.Stylesheet,
		"log-level":   &opts.Logging.Console.Level,
	}
	for name, dst := range strs {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	bools := map[string]*bool{
		"chapters":            &opts.Chapters,
		"fix-zip":             &opts.FixZip,
		"transliterate-names": &opts.TransliterateNames,
	}
	for name, dst := range bools {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}
	ints := map[string]*int{
		"max-image-width": &opts.MaxImageWidth,
		"jpeg-quality":    &opts.JPEGQuality,
		"parallel-assets": &opts.ParallelAssets,
	}
	for name, dst := range ints {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	if f.Changed("fetch-timeout") {
		opts.FetchTimeout, _ = f.GetDuration("fetch-timeout")
	}
	if f.Changed("chapter-title") {
		opts.ChapterTitles, _ = f.GetStringArray("chapter-title")
	}
	if noNav, _ := f.GetBool("no-nav"); noNav {
		opts.EPUB3Nav = false
	}
	if verbose, _ := f.GetBool("verbose"); verbose {
		opts.Logging.Console.Level = "debug"
	}

	inputs, err := config.Discover(args)
	if err != nil {
		return nil, err
	}
	opts.Inputs = inputs

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	cli := &cliOptions{Options: opts}
	cli.Check, _ = f.GetBool("check")
	cli.Watch, _ = f.GetBool("watch")
	return cli, nil
}

func run(ctx context.Context, opts *cliOptions) error {
	log, err := opts.Logging.Prepare()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// Rebuilds in watch mode keep the identifier of the first build.
	if opts.Watch && opts.Identifier == "" {
		opts.Identifier = "urn:uuid:" + uuid.NewString()
	}

	err = convertOnce(ctx, opts, log)
	if !opts.Watch {
		return err
	}
	if err != nil {
		log.Error("Conversion failed", zap.Error(err))
	}

	w, err := watch.New(opts.Inputs, func(ctx context.Context, changed []string) {
		log.Info("Rebuilding", zap.Strings("changed", changed))
		if err := convertOnce(ctx, opts, log); err != nil {
			log.Error("Conversion failed", zap.Error(err))
		}
	}, watch.WithLogger(log.Named("watch")))
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func convertOnce(ctx context.Context, opts *cliOptions, log *zap.Logger) error {
	results, err := converter.NewPipeline(opts.ConvertOptions(), log).Convert(ctx)
	if opts.Check {
		for _, res := range results {
			if cerr := checkPackage(res.OutputPath, log); cerr != nil {
				err = multierr.Append(err, cerr)
			}
		}
	}
	return err
}

func checkPackage(path string, log *zap.Logger) error {
	rep, err := epub.Inspect(path)
	if err != nil {
		return err
	}
	for _, d := range rep.Dangling {
		log.Warn("Image reference without packaged file", zap.String("package", path), zap.String("reference", d))
	}
	if err := rep.Err(); err != nil {
		return fmt.Errorf("package check failed (%s): %w", path, err)
	}
	log.Info("Package check passed", zap.String("package", path), zap.Int("entries", len(rep.Entries)))
	return nil
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(shutdownSignals...),
	); err != nil {
		os.Exit(1)
	}
}
