package decoder_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/lumenview/lumen/internal/adapters/decoder"
	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestImage(t *testing.T, dir, name string, w, h int, encode func(*os.File, image.Image) error) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255}) //nolint:gosec
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path) //nolint:gosec
	require.NoError(t, err)
	require.NoError(t, encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestDecode_FullResolution(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "a.png", 100, 60, func(f *os.File, img image.Image) error {
		return png.Encode(f, img)
	})

	d := decoder.New()
	got, err := d.Decode(context.Background(), path, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 100, got.Width)
	assert.Equal(t, 60, got.Height)

	// The payload must itself be a decodable lossless encoding.
	decoded, err := png.Decode(bytes.NewReader(got.Data))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx())
}

func TestDecode_ThumbnailFit(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "wide.jpg", 400, 100, func(f *os.File, img image.Image) error {
		return jpeg.Encode(f, img, nil)
	})

	d := decoder.New()
	got, err := d.Decode(context.Background(), path, 128, 128)
	require.NoError(t, err)

	// The reported dimensions stay intrinsic to the source.
	assert.Equal(t, 400, got.Width)
	assert.Equal(t, 100, got.Height)

	// 400x100 into a 128 box scales by 0.32: the payload is 128x32.
	scaled, err := png.Decode(bytes.NewReader(got.Data))
	require.NoError(t, err)
	assert.Equal(t, 128, scaled.Bounds().Dx())
	assert.Equal(t, 32, scaled.Bounds().Dy())
}

func TestDecode_NoUpscale(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "small.png", 40, 30, func(f *os.File, img image.Image) error {
		return png.Encode(f, img)
	})

	d := decoder.New()
	got, err := d.Decode(context.Background(), path, 256, 256)
	require.NoError(t, err)

	assert.Equal(t, 40, got.Width)
	assert.Equal(t, 30, got.Height)
}

func TestDecode_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not an image at all"), 0o600))

	d := decoder.New()
	_, err := d.Decode(context.Background(), path, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))
}

func TestDecode_CorruptData(t *testing.T) {
	dir := t.TempDir()
	// A valid PNG signature followed by garbage.
	blob := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, bytes.Repeat([]byte{0xff}, 64)...)
	path := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	d := decoder.New()
	_, err := d.Decode(context.Background(), path, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCorruptImage))
}

func TestDecode_MissingFile(t *testing.T) {
	d := decoder.New()
	_, err := d.Decode(context.Background(), filepath.Join(t.TempDir(), "gone.png"), 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDecode_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := decoder.New()
	_, err := d.Decode(ctx, "irrelevant.png", 0, 0)
	require.ErrorIs(t, err, context.Canceled)
}
