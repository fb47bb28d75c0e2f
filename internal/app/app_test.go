package app_test

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumenview/lumen/internal/app"
	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/lumenview/lumen/internal/core/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func fixedConfig(ctrl *gomock.Controller, cfg domain.Config) *mocks.MockConfigLoader {
	loader := mocks.NewMockConfigLoader(ctrl)
	loader.EXPECT().Load(".").Return(cfg, nil).AnyTimes()
	return loader
}

func quietLogger(ctrl *gomock.Controller) *mocks.MockLogger {
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Error(gomock.Any(), gomock.Any()).AnyTimes()
	return log
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 64, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func testConfig() domain.Config {
	cfg := domain.DefaultConfig()
	cfg.IsolateDecode = false // keep decodes in-process for the test binary
	cfg.ThumbW, cfg.ThumbH = 64, 64
	cfg.PumpTick = 10 * time.Millisecond
	cfg.PumpBatch = 8
	return cfg
}

func TestScan_PopulatesFolderCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writePNG(t, filepath.Join(dir, name), 48, 32)
	}
	// Non-image files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	a := app.New(fixedConfig(ctrl, testConfig()), quietLogger(ctrl))

	summary, err := a.Scan(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 0, summary.Fresh)
	assert.Equal(t, 3, summary.Pending)

	// The store was flushed and closed; a second scan finds everything
	// already cached.
	summary, err = a.Scan(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Fresh)
	assert.Equal(t, 0, summary.Pending)
}

func TestScan_EmptyFolderIsANoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := t.TempDir()

	a := app.New(fixedConfig(ctrl, testConfig()), quietLogger(ctrl))

	summary, err := a.Scan(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, app.ScanSummary{}, summary)

	// No store file is created for a folder without images.
	_, err = os.Stat(filepath.Join(dir, ".lumen-cache.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestScan_MissingDirectoryFails(t *testing.T) {
	ctrl := gomock.NewController(t)

	a := app.New(fixedConfig(ctrl, testConfig()), quietLogger(ctrl))

	_, err := a.Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), true)
	require.Error(t, err)
}
