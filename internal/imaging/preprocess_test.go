package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x += 50 {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPrepareSmallImagePassthrough(t *testing.T) {
	data := encodePNG(t, 800, 600)
	got, err := Prepare(data, "image/png")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got.Resized {
		t.Fatal("small image must not be resized")
	}
	if !bytes.Equal(got.Data, data) {
		t.Fatal("passthrough must return the original bytes")
	}
	if got.MIME != "image/png" {
		t.Fatalf("mime = %q", got.MIME)
	}
	if got.Width != 800 || got.Height != 600 {
		t.Fatalf("dimensions = %dx%d", got.Width, got.Height)
	}
}

func TestPrepareOversizedImageIsScaled(t *testing.T) {
	data := encodePNG(t, 3200, 1600)
	got, err := Prepare(data, "image/png")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !got.Resized {
		t.Fatal("oversized image must be resized")
	}
	if got.MIME != "image/jpeg" {
		t.Fatalf("resized mime = %q, want image/jpeg", got.MIME)
	}
	if got.Width != 1280 {
		t.Fatalf("long edge = %d, want 1280", got.Width)
	}
	if got.Height != 640 {
		t.Fatalf("short edge = %d, want 640", got.Height)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(got.Data))
	if err != nil {
		t.Fatalf("decode resized output: %v", err)
	}
	if cfg.Width != 1280 || cfg.Height != 640 {
		t.Fatalf("encoded dimensions = %dx%d", cfg.Width, cfg.Height)
	}
}

func TestPrepareTallImageScalesByLongEdge(t *testing.T) {
	data := encodePNG(t, 1000, 4000)
	got, err := Prepare(data, "image/png")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got.Height != 1280 {
		t.Fatalf("long edge = %d, want 1280", got.Height)
	}
	if got.Width != 320 {
		t.Fatalf("short edge = %d, want 320", got.Width)
	}
}

func TestPrepareRejectsGarbage(t *testing.T) {
	if _, err := Prepare([]byte("not an image"), "image/png"); err == nil {
		t.Fatal("garbage input must error")
	}
}
