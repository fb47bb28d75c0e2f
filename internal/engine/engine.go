// Package engine ties the decode pool, work dispatcher, memory caches,
// persistent store and missing-item pump together behind one facade.
package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/lumenview/lumen/internal/adapters/storage/sqlite"
	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/lumenview/lumen/internal/core/ports"
	"github.com/lumenview/lumen/internal/engine/loader"
	"github.com/lumenview/lumen/internal/engine/memcache"
	"github.com/lumenview/lumen/internal/engine/operator"
	"github.com/lumenview/lumen/internal/engine/pump"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Engine serves decode requests for one image directory, backed by its
// colocated cache store.
type Engine struct {
	cfg    domain.Config
	log    ports.Logger
	dec    ports.Decoder
	store  *sqlite.Store
	op     *operator.Operator
	disp   *loader.Loader
	caches *memcache.Cache
	pump   *pump.Pump

	closeOnce sync.Once
	closeErr  error
}

// Open builds an engine over dir: it locates or creates the store file,
// migrates it, and starts the operator, dispatcher and pump. The decoder
// is injected so callers choose between in-process and isolated decode.
func Open(dir string, cfg domain.Config, dec ports.Decoder, log ports.Logger) (*Engine, error) {
	cfg = cfg.Normalize()

	store, err := sqlite.Open(dir)
	if err != nil {
		return nil, zerr.Wrap(err, "opening cache store")
	}

	e := &Engine{
		cfg:    cfg,
		log:    log,
		dec:    dec,
		store:  store,
		op:     operator.New(store.DB(), log, cfg.StoreRetryMax, cfg.StoreRetryBase),
		caches: memcache.New(cfg.ViewCacheBudget, cfg.ThumbCacheBudget),
	}
	e.disp = loader.New(dec, log, loader.Config{
		SchedulerSlots: cfg.SchedulerSlots,
		DecodeSlots:    cfg.DecodeSlots,
		QueueSize:      cfg.QueueSize,
	}, loader.WithSink(e.persist))
	e.pump = pump.New(cfg.PumpTick, cfg.PumpBatch, func(key domain.CacheKey) {
		e.disp.Submit(key)
	})

	log.Info("engine opened", "store", store.Path(), "decode_slots", cfg.DecodeSlots)
	return e, nil
}

func (e *Engine) thumbKey(path string) domain.CacheKey {
	return domain.CacheKey{Path: path, TargetW: e.cfg.ThumbW, TargetH: e.cfg.ThumbH, Mode: domain.ModeThumbnail}
}

func fullKey(path string) domain.CacheKey {
	return domain.CacheKey{Path: path, Mode: domain.ModeFull}
}

// RequestView asks for the full-resolution decode of path. A memory cache
// hit resolves the ticket synchronously.
func (e *Engine) RequestView(path string) *loader.Ticket {
	path, err := domain.NormalizePath(path)
	if err != nil {
		return loader.Failed(fullKey(path), err)
	}
	key := fullKey(path)
	if d, ok := e.caches.Get(key); ok {
		return loader.Resolved(key, d)
	}
	return e.disp.Submit(key)
}

// RequestThumbnail asks for the thumbnail of path. Resolution order is
// memory cache, then a valid stored row, then a fresh decode. A stored
// blob whose checksum no longer matches is treated as a miss and its thumb
// column is cleared in the background.
func (e *Engine) RequestThumbnail(path string) *loader.Ticket {
	path, err := domain.NormalizePath(path)
	if err != nil {
		return loader.Failed(e.thumbKey(path), err)
	}
	key := e.thumbKey(path)

	if d, ok := e.caches.Get(key); ok {
		return loader.Resolved(key, d)
	}

	if d := e.storedThumb(key); d != nil {
		e.caches.Put(key, d)
		return loader.Resolved(key, d)
	}

	return e.disp.Submit(key)
}

// storedThumb returns the stored thumbnail for key when the row is still
// valid against the file on disk and its blob checksum holds. Any failure
// on this path degrades to a miss.
func (e *Engine) storedThumb(key domain.CacheKey) *domain.Decoded {
	info, err := os.Stat(key.Path)
	if err != nil {
		return nil
	}
	row, err := sqlite.Lookup(context.Background(), e.store.ReadDB(), key.Path)
	if err != nil {
		e.log.Warn("store lookup failed, falling back to decode", "path", key.Path, "error", err)
		return nil
	}
	if row == nil || !row.ValidFor(domain.StatOf(info), key.TargetW, key.TargetH) {
		return nil
	}
	thumb, ok := row.(domain.ThumbRow)
	if !ok {
		return nil
	}
	if thumb.Checksum != 0 && xxhash.Sum64(thumb.Thumbnail) != thumb.Checksum {
		e.log.Warn("stored thumbnail failed checksum, clearing", "path", key.Path)
		e.op.ScheduleWrite(context.Background(), func(ctx context.Context, q sqlite.Querier) error {
			return sqlite.ClearThumb(ctx, q, key.Path)
		})
		return nil
	}
	return &domain.Decoded{Data: thumb.Thumbnail, Width: thumb.Width, Height: thumb.Height}
}

// persist is the dispatcher sink: it runs once per authoritative decode,
// after delivery, and never for superseded work.
func (e *Engine) persist(o loader.Outcome) {
	e.caches.Put(o.Key, o.Decoded)

	info, err := os.Stat(o.Key.Path)
	if err != nil {
		e.log.Warn("decoded file vanished before persist", "path", o.Key.Path, "error", err)
		return
	}
	stat := domain.StatOf(info)

	switch o.Key.Mode {
	case domain.ModeThumbnail:
		row := domain.ThumbRow{
			RowBase: domain.RowBase{
				Path:   o.Key.Path,
				MTime:  stat.MTime,
				Size:   stat.Size,
				ThumbW: o.Key.TargetW,
				ThumbH: o.Key.TargetH,
			},
			Width:     o.Decoded.Width,
			Height:    o.Decoded.Height,
			Thumbnail: o.Decoded.Data,
			Checksum:  xxhash.Sum64(o.Decoded.Data),
		}
		e.op.ScheduleWrite(context.Background(), func(ctx context.Context, q sqlite.Querier) error {
			return sqlite.UpsertThumb(ctx, q, row)
		})
	case domain.ModeFull:
		// Full decodes stay in memory only; the row is not touched so a
		// valid thumbnail survives view browsing.
	}
}

// Invalidate drops every trace of path: memory caches, backlogged pump
// work, in-flight requests, and the stored row. The returned future
// resolves when the row deletion has been applied.
func (e *Engine) Invalidate(path string) *operator.Future {
	path, err := domain.NormalizePath(path)
	if err != nil {
		return operator.Failed(err)
	}
	e.caches.InvalidatePath(path)
	e.pump.DropPath(path)
	e.disp.CancelAllFor(path)
	return e.op.ScheduleWrite(context.Background(), func(ctx context.Context, q sqlite.Querier) error {
		return sqlite.Delete(ctx, q, path)
	})
}

// ScanStatus classifies one scanned path.
type ScanStatus int

const (
	// ScanFresh means a valid populated row already covers the file.
	ScanFresh ScanStatus = iota
	// ScanPending means the file exists but needs a decode; a metadata
	// row was written and the path handed to the pump.
	ScanPending
	// ScanGone means the file no longer exists; its row is deleted.
	ScanGone
)

// ScanItem is the per-path result of ScanExisting.
type ScanItem struct {
	Path   string
	Status ScanStatus
	Row    domain.Row
}

// ScanExisting stats the given paths, compares them against stored rows,
// upserts metadata rows for files that need decoding and feeds those to
// the pump. Row reads go through the operator or a dedicated read handle
// depending on configuration.
func (e *Engine) ScanExisting(ctx context.Context, paths []string) ([]ScanItem, error) {
	normalized := make([]string, 0, len(paths))
	for _, p := range paths {
		np, err := domain.NormalizePath(p)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "normalizing scan path"), "path", p)
		}
		normalized = append(normalized, np)
	}

	stats := make([]*domain.FileStat, len(normalized))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.SchedulerSlots)
	for i, p := range normalized {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := os.Stat(p)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return zerr.With(zerr.Wrap(err, "stat during scan"), "path", p)
			}
			s := domain.StatOf(info)
			stats[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows, err := e.lookupRows(ctx, normalized)
	if err != nil {
		return nil, err
	}

	type pendingFile struct {
		path string
		stat domain.FileStat
	}
	items := make([]ScanItem, 0, len(normalized))
	var pending []pendingFile
	var gone []string
	for i, p := range normalized {
		stat := stats[i]
		if stat == nil {
			items = append(items, ScanItem{Path: p, Status: ScanGone})
			gone = append(gone, p)
			continue
		}
		row := rows[p]
		if row != nil && row.RowKind() == domain.KindThumb && row.ValidFor(*stat, e.cfg.ThumbW, e.cfg.ThumbH) {
			items = append(items, ScanItem{Path: p, Status: ScanFresh, Row: row})
			continue
		}
		items = append(items, ScanItem{Path: p, Status: ScanPending, Row: row})
		pending = append(pending, pendingFile{path: p, stat: *stat})
	}

	if len(pending) > 0 || len(gone) > 0 {
		thumbW, thumbH := e.cfg.ThumbW, e.cfg.ThumbH
		fut := e.op.ScheduleWrite(ctx, func(wctx context.Context, q sqlite.Querier) error {
			for _, pf := range pending {
				if err := sqlite.UpsertMeta(wctx, q, pf.path, pf.stat, thumbW, thumbH); err != nil {
					return err
				}
			}
			for _, p := range gone {
				if err := sqlite.Delete(wctx, q, p); err != nil {
					return err
				}
			}
			return nil
		})
		if err := fut.Wait(ctx); err != nil {
			return nil, zerr.Wrap(err, "recording scan results")
		}
	}

	for _, pf := range pending {
		e.pump.Enqueue(e.thumbKey(pf.path))
	}
	return items, nil
}

func (e *Engine) lookupRows(ctx context.Context, paths []string) (map[string]domain.Row, error) {
	if e.cfg.ScanReads == domain.ReadViaOperator {
		fut := e.op.ScheduleRead(ctx, func(rctx context.Context, q sqlite.Querier) (any, error) {
			return sqlite.LookupMany(rctx, q, paths)
		})
		v, err := fut.Value()
		if err != nil {
			return nil, err
		}
		return v.(map[string]domain.Row), nil
	}
	return sqlite.LookupMany(ctx, e.store.ReadDB(), paths)
}

// Collect garbage-collects rows for files that are no longer part of the
// folder: every row whose path is not in keep is deleted. It reports the
// number of rows removed.
func (e *Engine) Collect(ctx context.Context, keep []string) (int64, error) {
	normalized := make([]string, 0, len(keep))
	for _, p := range keep {
		np, err := domain.NormalizePath(p)
		if err != nil {
			return 0, zerr.With(zerr.Wrap(err, "normalizing keep path"), "path", p)
		}
		normalized = append(normalized, np)
	}

	var removed int64
	fut := e.op.ScheduleWrite(ctx, func(wctx context.Context, q sqlite.Querier) error {
		n, err := sqlite.DeleteMissing(wctx, q, normalized)
		removed = n
		return err
	})
	if err := fut.Wait(ctx); err != nil {
		return 0, zerr.Wrap(err, "collecting stale rows")
	}
	return removed, nil
}

// Drain blocks until the pump backlog and dispatcher are both idle, or the
// context ends. Batch tools call this before Close.
func (e *Engine) Drain(ctx context.Context) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		if e.pump.Backlog() == 0 && e.disp.Outstanding() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// StorePath returns the resolved cache store file.
func (e *Engine) StorePath() string { return e.store.Path() }

// Close shuts the engine down in dependency order: pump, dispatcher,
// operator (flushing queued writes), decoder, store. Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.pump.Stop()
		errs := []error{e.disp.Close(), e.op.Close()}
		if c, ok := e.dec.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		errs = append(errs, e.store.Close())
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
