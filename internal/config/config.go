// Package config provides configuration loading for md2epub. Values are
// layered: built-in defaults, then a YAML file, then MD2EPUB_* environment
// variables, then command line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yuanying/md2epub/internal/assets"
	"github.com/yuanying/md2epub/internal/book"
	"github.com/yuanying/md2epub/internal/converter"
)

// FileName is the name of the configuration file looked up when none is given.
const FileName = ".md2epub.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MD2EPUB_"

const (
	defaultLanguage      = "en"
	defaultFetchTimeout  = 30 * time.Second
	defaultJPEGQuality   = 85
	defaultParallelism   = 4
	defaultConsoleLevel  = "normal"
	defaultFileLogMode   = "append"
	minJPEGQuality       = 1
	maxJPEGQuality       = 100
	maxParallelAssetJobs = 64
)

// Options holds everything a conversion run needs.
type Options struct {
	Title       string `yaml:"title,omitempty"`
	Author      string `yaml:"author,omitempty"`
	Language    string `yaml:"language"`
	Publisher   string `yaml:"publisher,omitempty"`
	Description string `yaml:"description,omitempty"`
	Rights      string `yaml:"rights,omitempty"`
	Identifier  string `yaml:"identifier,omitempty"`
	Cover       string `yaml:"cover,omitempty"`

	Chapters      bool     `yaml:"chapters"`
	ChapterTitles []string `yaml:"chapter_titles,omitempty"`
	Output        string   `yaml:"output,omitempty"`
	OutputDir     string   `yaml:"output_dir,omitempty"`
	Stylesheet    string   `yaml:"stylesheet,omitempty"`

	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	MaxImageWidth      int           `yaml:"max_image_width"`
	JPEGQuality        int           `yaml:"jpeg_quality"`
	ParallelAssets     int           `yaml:"parallel_assets"`
	FixZip             bool          `yaml:"fix_zip"`
	TransliterateNames bool          `yaml:"transliterate_names"`
	EPUB3Nav           bool          `yaml:"epub3_nav"`

	Logging LoggingConfig `yaml:"logging"`

	// Inputs is the ordered list of documents, filled by Discover.
	Inputs []string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Options {
	return &Options{
		Language:       defaultLanguage,
		FetchTimeout:   defaultFetchTimeout,
		JPEGQuality:    defaultJPEGQuality,
		ParallelAssets: defaultParallelism,
		EPUB3Nav:       true,
		Logging: LoggingConfig{
			Console: LoggerConfig{Level: defaultConsoleLevel},
			File:    LoggerConfig{Level: "none", Mode: defaultFileLogMode},
		},
	}
}

// Load returns the defaults overlaid with the configuration file. With an
// empty path the file is looked up in the working directory, then in the
// user's home directory; a missing file is not an error in that case.
func Load(path string) (*Options, error) {
	opts := Defaults()

	explicit := path != ""
	if !explicit {
		path = lookup()
	}
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return opts, nil
		}
		return nil, book.NewError(book.ErrConfiguration, "config", path, fmt.Errorf("failed to read config: %w", err))
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, book.NewError(book.ErrConfiguration, "config", path, fmt.Errorf("failed to parse config: %w", err))
	}

	dir := filepath.Dir(path)
	opts.Cover = expandPath(opts.Cover, dir)
	opts.Stylesheet = expandPath(opts.Stylesheet, dir)
	opts.Output = expandPath(opts.Output, dir)
	opts.OutputDir = expandPath(opts.OutputDir, dir)
	opts.Logging.File.Destination = expandPath(opts.Logging.File.Destination, dir)
	return opts, nil
}

func lookup() string {
	candidates := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, FileName))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// expandPath makes relative file references in a config file relative to
// the file itself. Remote locations are left alone.
func expandPath(p, configDir string) string {
	if p == "" || filepath.IsAbs(p) || book.IsRemoteLocation(p) {
		return p
	}
	return filepath.Join(configDir, p)
}

// ApplyEnv overlays MD2EPUB_* variables. getenv is os.LookupEnv outside
// tests.
func (o *Options) ApplyEnv(getenv func(string) (string, bool)) error {
	strs := map[string]*string{
		"TITLE":       &o.Title,
		"AUTHOR":      &o.Author,
		"LANGUAGE":    &o.Language,
		"PUBLISHER":   &o.Publisher,
		"DESCRIPTION": &o.Description,
		"RIGHTS":      &o.Rights,
		"IDENTIFIER":  &o.Identifier,
		"COVER":       &o.Cover,
		"OUTPUT":      &o.Output,
		"OUTPUT_DIR":  &o.OutputDir,
		"STYLESHEET":  &o.Stylesheet,
		"LOG_LEVEL":   &o.Logging.Console.Level,
		"LOG_FILE":    &o.Logging.File.Destination,
	}
	for key, dst := range strs {
		if v, ok := getenv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"CHAPTERS":            &o.Chapters,
		"FIX_ZIP":             &o.FixZip,
		"TRANSLITERATE_NAMES": &o.TransliterateNames,
		"EPUB3_NAV":           &o.EPUB3Nav,
	}
	for key, dst := range bools {
		v, ok := getenv(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return envError(key, v, err)
		}
		*dst = b
	}

	ints := map[string]*int{
		"MAX_IMAGE_WIDTH": &o.MaxImageWidth,
		"JPEG_QUALITY":    &o.JPEGQuality,
		"PARALLEL_ASSETS": &o.ParallelAssets,
	}
	for key, dst := range ints {
		v, ok := getenv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return envError(key, v, err)
		}
		*dst = n
	}

	if v, ok := getenv(EnvPrefix + "FETCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return envError("FETCH_TIMEOUT", v, err)
		}
		o.FetchTimeout = d
	}
	return nil
}

func envError(key, value string, err error) error {
	return book.NewError(book.ErrConfiguration, "env", EnvPrefix+key, fmt.Errorf("invalid value %q: %w", value, err))
}

// Metadata returns the book metadata carried by the options.
func (o *Options) Metadata() book.Metadata {
	return book.Metadata{
		Title:       o.Title,
		Author:      o.Author,
		Language:    o.Language,
		Publisher:   o.Publisher,
		Description: o.Description,
		Rights:      o.Rights,
		Identifier:  o.Identifier,
		CoverPath:   o.Cover,
	}
}

// ConvertOptions returns the pipeline options. Validate should be called
// first.
func (o *Options) ConvertOptions() converter.ConvertOptions {
	return converter.ConvertOptions{
		Inputs:             o.Inputs,
		OutputPath:         o.Output,
		OutputDir:          o.OutputDir,
		Chapters:           o.Chapters,
		ChapterTitles:      o.ChapterTitles,
		Metadata:           o.Metadata(),
		StylesheetPath:     o.Stylesheet,
		Nav:                o.EPUB3Nav,
		FixZip:             o.FixZip,
		TransliterateNames: o.TransliterateNames,
		Assets: assets.Options{
			FetchTimeout: o.FetchTimeout,
			Parallelism:  o.ParallelAssets,
			MaxWidth:     o.MaxImageWidth,
			JPEGQuality:  o.JPEGQuality,
		},
	}
}

// Dump returns the options as YAML.
func Dump(o *Options) ([]byte, error) {
	data, err := yaml.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
