package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	defaultJPEGQuality = 85
	defaultMaxPixels   = 100 * 1000 * 1000 // 100 megapixels
)

// Optimizer down-scales raster images wider than MaxWidth. The output keeps
// the input format so packaged file names stay valid.
type Optimizer struct {
	MaxWidth    int
	JPEGQuality int
	MaxPixels   int // Total pixel count limit for decode (width * height)
}

// OptimizedImage holds optimized image data and metadata.
// Warning is set when the image was returned as-is (passthrough).
type OptimizedImage struct {
	Data    []byte
	Width   int
	Height  int
	Resized bool
	Warning string
}

// NewOptimizer creates an optimizer. A non-positive maxWidth disables resizing.
func NewOptimizer(maxWidth, jpegQuality int) *Optimizer {
	if jpegQuality <= 0 {
		jpegQuality = defaultJPEGQuality
	}
	if jpegQuality > 100 {
		jpegQuality = 100
	}
	return &Optimizer{
		MaxWidth:    maxWidth,
		JPEGQuality: jpegQuality,
		MaxPixels:   defaultMaxPixels,
	}
}

// Optimize resizes data when it is wider than MaxWidth. Decode problems never
// fail: the input is passed through with Warning set.
func (o *Optimizer) Optimize(mediaType string, data []byte) (OptimizedImage, error) {
	out := OptimizedImage{Data: data}
	if o == nil || o.MaxWidth <= 0 {
		return out, nil
	}

	format, ok := formatFor(mediaType)
	if !ok {
		return out, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		out.Warning = fmt.Sprintf("image decode failed: %v", err)
		return out, nil
	}
	out.Width, out.Height = cfg.Width, cfg.Height
	if cfg.Width <= o.MaxWidth {
		return out, nil
	}
	if pixels := uint64(cfg.Width) * uint64(cfg.Height); o.MaxPixels > 0 && pixels > uint64(o.MaxPixels) {
		out.Warning = fmt.Sprintf("image too large to decode: %dx%d (%d pixels)", cfg.Width, cfg.Height, pixels)
		return out, nil
	}
	if format == imaging.GIF {
		if animated, err := isAnimatedGIF(data); err == nil && animated {
			return out, nil
		}
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		out.Warning = fmt.Sprintf("image decode failed: %v", err)
		return out, nil
	}
	resized := imaging.Resize(src, o.MaxWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(o.JPEGQuality), imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return out, fmt.Errorf("image encode failed: %w", err)
	}

	out.Data = buf.Bytes()
	out.Width = resized.Bounds().Dx()
	out.Height = resized.Bounds().Dy()
	out.Resized = true
	return out, nil
}

func formatFor(mediaType string) (imaging.Format, bool) {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return imaging.JPEG, true
	case "image/png":
		return imaging.PNG, true
	case "image/gif":
		return imaging.GIF, true
	case "image/bmp":
		return imaging.BMP, true
	case "image/tiff":
		return imaging.TIFF, true
	}
	return 0, false
}

func isAnimatedGIF(data []byte) (bool, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	return len(g.Image) > 1, nil
}
