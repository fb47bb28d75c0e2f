// Package decoder implements the pure in-process image decoder. It is the
// unit of work that the isolated worker pool executes; nothing in here may
// hold shared mutable state.
package decoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"

	"github.com/lumenview/lumen/internal/core/domain"
	"go.trai.ch/zerr"
	"golang.org/x/image/draw"

	// Codec registration with image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decoder decodes image files into losslessly encoded bitmaps.
type Decoder struct{}

// New creates a Decoder.
func New() *Decoder { return &Decoder{} }

// Decode reads the file at path and returns it PNG-encoded. A non-zero
// target box requests an aspect-preserving downscale into that box; the
// image is never upscaled.
func (d *Decoder) Decode(ctx context.Context, path string, targetW, targetH int) (out *domain.Decoded, err error) {
	// Native codec faults must surface as an error for this one request,
	// not take down the worker loop.
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = zerr.With(zerr.Wrap(domain.ErrCorruptImage, "decoder panicked"), "panic", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path) //nolint:gosec // path comes from the browsed folder
	if err != nil {
		return nil, zerr.Wrap(err, "failed to open image")
	}
	defer func() { _ = f.Close() }()

	img, format, err := image.Decode(f)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, zerr.With(zerr.Wrap(domain.ErrUnsupportedFormat, ""), "path", path)
		}
		return nil, zerr.With(zerr.Wrap(domain.ErrCorruptImage, err.Error()), "path", path)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Intrinsic dimensions are reported before any downscale; the scaled
	// size lives in the encoded payload itself.
	intrinsic := img.Bounds()
	img = fit(img, targetW, targetH)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to encode bitmap"), "format", format)
	}

	return &domain.Decoded{
		Data:   buf.Bytes(),
		Width:  intrinsic.Dx(),
		Height: intrinsic.Dy(),
	}, nil
}

// fit downscales img to fill the target box while preserving aspect ratio.
// A zero box, or an image already inside the box, is returned unchanged.
func fit(img image.Image, targetW, targetH int) image.Image {
	if targetW <= 0 || targetH <= 0 {
		return img
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= targetW && h <= targetH {
		return img
	}

	outW, outH := fitBox(w, h, targetW, targetH)
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// fitBox computes the largest dimensions inside (targetW, targetH) with the
// same aspect ratio as (w, h).
func fitBox(w, h, targetW, targetH int) (int, int) {
	scaleW := float64(targetW) / float64(w)
	scaleH := float64(targetH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	outW := int(float64(w) * scale)
	outH := int(float64(h) * scale)
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}
