// Package imaging downsamples oversized reference images before they are
// shipped to a provider. The thresholds are policy, not protocol: anything
// already small enough is passed through untouched to avoid needless
// re-encoding loss.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

const (
	// Inputs within these bounds skip preprocessing entirely.
	maxPassthroughEdge  = 1536
	maxPassthroughBytes = 5 * 1024 * 1024

	// Oversized inputs are scaled so the long edge lands here.
	targetLongEdge = 1280
	jpegQuality    = 90
)

// Prepared is the provider-ready form of a reference image.
type Prepared struct {
	Data    []byte
	MIME    string
	Width   int
	Height  int
	Resized bool
}

// Prepare returns the image unchanged when it is already within bounds,
// otherwise a JPEG re-encode scaled to the target long edge.
func Prepare(data []byte, mime string) (*Prepared, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode image config: %w", err)
	}

	if cfg.Width <= maxPassthroughEdge && cfg.Height <= maxPassthroughEdge && len(data) <= maxPassthroughBytes {
		return &Prepared{Data: data, MIME: mime, Width: cfg.Width, Height: cfg.Height}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode image: %w", err)
	}

	width, height := scaledDimensions(cfg.Width, cfg.Height)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return &Prepared{Data: buf.Bytes(), MIME: "image/jpeg", Width: width, Height: height, Resized: true}, nil
}

func scaledDimensions(width, height int) (int, int) {
	long := width
	if height > width {
		long = height
	}
	if long <= targetLongEdge {
		return width, height
	}
	scale := float64(targetLongEdge) / float64(long)
	scaledW := int(float64(width) * scale)
	scaledH := int(float64(height) * scale)
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}
	return scaledW, scaledH
}
