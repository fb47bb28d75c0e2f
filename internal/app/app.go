// Package app implements the application layer for lumen.
package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lumenview/lumen/internal/adapters/decoder"
	"github.com/lumenview/lumen/internal/adapters/procpool"
	"github.com/lumenview/lumen/internal/adapters/watcher"
	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/lumenview/lumen/internal/core/ports"
	"github.com/lumenview/lumen/internal/engine"
	"go.trai.ch/zerr"
)

// imageExtensions are the file types the decoder understands.
var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".webp": {}, ".bmp": {}, ".tif": {}, ".tiff": {},
}

// App drives the engine for the CLI.
type App struct {
	configLoader ports.ConfigLoader
	log          ports.Logger
}

// New creates a new App instance.
func New(loader ports.ConfigLoader, log ports.Logger) *App {
	return &App{
		configLoader: loader,
		log:          log,
	}
}

// ScanSummary is the outcome of a folder scan.
type ScanSummary struct {
	Total   int
	Fresh   int
	Pending int
	Gone    int
}

// Scan walks one image folder, reconciles it against the colocated cache
// store and, when wait is set, blocks until every pending thumbnail has
// been decoded and persisted.
func (a *App) Scan(ctx context.Context, dir string, wait bool) (ScanSummary, error) {
	cfg, err := a.configLoader.Load(".")
	if err != nil {
		return ScanSummary{}, zerr.Wrap(err, "failed to load configuration")
	}
	cfg = cfg.Normalize()

	dir, err = filepath.Abs(dir)
	if err != nil {
		return ScanSummary{}, zerr.Wrap(err, "resolving scan directory")
	}

	paths, err := listImages(dir)
	if err != nil {
		return ScanSummary{}, err
	}
	if len(paths) == 0 {
		a.log.Info("no images found", "dir", dir)
		return ScanSummary{}, nil
	}

	dec, err := a.newDecoder(cfg)
	if err != nil {
		return ScanSummary{}, err
	}

	eng, err := engine.Open(dir, cfg, dec, a.log)
	if err != nil {
		if c, ok := dec.(io.Closer); ok {
			_ = c.Close()
		}
		return ScanSummary{}, err
	}
	defer func() { _ = eng.Close() }()

	items, err := eng.ScanExisting(ctx, paths)
	if err != nil {
		return ScanSummary{}, err
	}

	summary := ScanSummary{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case engine.ScanFresh:
			summary.Fresh++
		case engine.ScanPending:
			summary.Pending++
		case engine.ScanGone:
			summary.Gone++
		}
	}
	if removed, err := eng.Collect(ctx, paths); err != nil {
		a.log.Warn("stale row collection failed", "error", err)
	} else if removed > 0 {
		a.log.Info("collected stale rows", "removed", removed)
	}

	a.log.Info("scan complete",
		"dir", dir,
		"total", summary.Total,
		"fresh", summary.Fresh,
		"pending", summary.Pending,
	)

	if wait && summary.Pending > 0 {
		if err := eng.Drain(ctx); err != nil {
			return summary, zerr.Wrap(err, "waiting for pending decodes")
		}
		a.log.Info("backlog drained", "decoded", summary.Pending)
	}
	return summary, nil
}

// Watch scans dir and then follows file system changes until the context
// ends: edited or added images are rescanned and re-decoded, removed ones
// are invalidated everywhere.
func (a *App) Watch(ctx context.Context, dir string) error {
	cfg, err := a.configLoader.Load(".")
	if err != nil {
		return zerr.Wrap(err, "failed to load configuration")
	}
	cfg = cfg.Normalize()

	dir, err = filepath.Abs(dir)
	if err != nil {
		return zerr.Wrap(err, "resolving watch directory")
	}

	dec, err := a.newDecoder(cfg)
	if err != nil {
		return err
	}
	eng, err := engine.Open(dir, cfg, dec, a.log)
	if err != nil {
		if c, ok := dec.(io.Closer); ok {
			_ = c.Close()
		}
		return err
	}
	defer func() { _ = eng.Close() }()

	paths, err := listImages(dir)
	if err != nil {
		return err
	}
	if len(paths) > 0 {
		if _, err := eng.ScanExisting(ctx, paths); err != nil {
			return err
		}
	}

	w, err := watcher.New()
	if err != nil {
		return err
	}
	if err := w.Start(ctx, dir); err != nil {
		_ = w.Stop()
		return err
	}
	defer func() { _ = w.Stop() }()

	deb := watcher.NewDebouncer(500*time.Millisecond, func(changed []string) {
		if _, err := eng.ScanExisting(ctx, changed); err != nil {
			a.log.Warn("rescan after change failed", "error", err)
		}
	})

	a.log.Info("watching", "dir", dir, "images", len(paths))
	for ev := range w.Events() {
		if !isImage(ev.Path) {
			continue
		}
		switch ev.Operation {
		case ports.OpRemove, ports.OpRename:
			eng.Invalidate(ev.Path)
		default:
			deb.Add(ev.Path)
		}
	}
	deb.Flush()
	return nil
}

// RunWorker runs the isolated decode loop over the given streams. The
// hidden worker subcommand calls this with the process's stdin/stdout.
func (a *App) RunWorker(r io.Reader, w io.Writer) error {
	return procpool.RunWorker(r, w)
}

func (a *App) newDecoder(cfg domain.Config) (ports.Decoder, error) {
	if cfg.IsolateDecode {
		return procpool.New(cfg.DecodeSlots, a.log)
	}
	return decoder.New(), nil
}

func isImage(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, zerr.Wrap(err, "reading scan directory")
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !isImage(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
