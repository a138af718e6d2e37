package assets

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestOptimizer_ResizeOverMaxWidth(t *testing.T) {
	data := mustEncodeJPEG(t, makeSolidNRGBA(1200, 800, color.NRGBA{R: 20, G: 50, B: 200, A: 255}), 90)
	opt := NewOptimizer(600, 0)

	out, err := opt.Optimize("image/jpeg", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if !out.Resized || out.Width != 600 || out.Height != 400 {
		t.Fatalf("got %dx%d resized=%v, want 600x400", out.Width, out.Height, out.Resized)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(out.Data)); err != nil || format != "jpeg" {
		t.Fatalf("output format = %q (err %v), want jpeg", format, err)
	}
}

func TestOptimizer_NoResizeUnderMaxWidth(t *testing.T) {
	data := mustEncodeJPEG(t, makeSolidNRGBA(500, 300, color.NRGBA{R: 100, G: 120, B: 140, A: 255}), 90)
	out, err := NewOptimizer(600, 0).Optimize("image/jpeg", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.Resized {
		t.Fatal("image under max width should not be resized")
	}
	if !bytes.Equal(out.Data, data) {
		t.Fatal("data should pass through unchanged")
	}
}

func TestOptimizer_KeepsPNGFormat(t *testing.T) {
	data := mustEncodePNG(t, makeSolidNRGBA(700, 400, color.NRGBA{R: 10, G: 80, B: 180, A: 120}))
	out, err := NewOptimizer(350, 0).Optimize("image/png", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(out.Data)); err != nil || format != "png" {
		t.Fatalf("output format = %q (err %v), want png", format, err)
	}
	if out.Width != 350 || out.Height != 200 {
		t.Fatalf("got %dx%d, want 350x200", out.Width, out.Height)
	}
}

func TestOptimizer_DisabledWithoutMaxWidth(t *testing.T) {
	data := mustEncodePNG(t, makeSolidNRGBA(2000, 10, color.NRGBA{A: 255}))
	out, err := NewOptimizer(0, 0).Optimize("image/png", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.Resized || !bytes.Equal(out.Data, data) {
		t.Fatal("optimizer without max width should pass through")
	}
}

func TestOptimizer_AnimatedGIFPassthrough(t *testing.T) {
	pal := color.Palette{color.RGBA{0, 0, 0, 255}, color.RGBA{255, 255, 255, 255}}
	anim := &gif.GIF{
		Image: []*image.Paletted{
			image.NewPaletted(image.Rect(0, 0, 800, 100), pal),
			image.NewPaletted(image.Rect(0, 0, 800, 100), pal),
		},
		Delay: []int{10, 10},
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatalf("gif.EncodeAll() error = %v", err)
	}

	out, err := NewOptimizer(400, 0).Optimize("image/gif", buf.Bytes())
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.Resized {
		t.Fatal("animated gif should not be resized")
	}
}

func TestOptimizer_CorruptDataPassthrough(t *testing.T) {
	data := []byte("definitely not a jpeg")
	out, err := NewOptimizer(100, 0).Optimize("image/jpeg", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.Warning == "" {
		t.Fatal("expected warning for undecodable data")
	}
	if !bytes.Equal(out.Data, data) {
		t.Fatal("undecodable data should pass through")
	}
}

func TestOptimizer_SVGUntouched(t *testing.T) {
	data := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="5000"/>`)
	out, err := NewOptimizer(100, 0).Optimize("image/svg+xml", data)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if out.Warning != "" || !bytes.Equal(out.Data, data) {
		t.Fatal("svg should pass through silently")
	}
}

func makeSolidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func mustEncodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func mustEncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}
