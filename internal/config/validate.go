package config

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/text/language"

	"github.com/yuanying/md2epub/internal/book"
)

// Validate checks option combinations before any document is parsed. The
// language tag is canonicalized in place.
func (o *Options) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	switch {
	case len(o.Inputs) == 0:
		add("no input documents")
	case len(o.Inputs) > 1 && !o.Chapters && o.Output != "":
		add("%d inputs cannot share the output file %s without chapter mode", len(o.Inputs), o.Output)
	case len(o.Inputs) > 1 && !o.Chapters && o.OutputDir == "":
		add("%d inputs need chapter mode or an output directory", len(o.Inputs))
	}
	if len(o.ChapterTitles) > 0 && !o.Chapters {
		add("chapter titles require chapter mode")
	}

	if tag, err := language.Parse(o.Language); err != nil {
		add("invalid language tag %q: %v", o.Language, err)
	} else {
		o.Language = tag.String()
	}

	if o.FetchTimeout < 0 {
		add("fetch timeout must not be negative, got %s", o.FetchTimeout)
	}
	if o.MaxImageWidth < 0 {
		add("max image width must not be negative, got %d", o.MaxImageWidth)
	}
	if o.JPEGQuality < minJPEGQuality || o.JPEGQuality > maxJPEGQuality {
		add("jpeg quality must be between %d and %d, got %d", minJPEGQuality, maxJPEGQuality, o.JPEGQuality)
	}
	if o.ParallelAssets < 0 || o.ParallelAssets > maxParallelAssetJobs {
		add("parallel assets must be between 0 and %d, got %d", maxParallelAssetJobs, o.ParallelAssets)
	}
	if err := o.Logging.validate(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs == nil {
		return nil
	}
	return book.NewError(book.ErrConfiguration, "validate", "", errs)
}
