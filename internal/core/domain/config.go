package domain

import (
	"runtime"
	"time"
)

// ReadStrategy selects how bulk scan reads reach the store: serialized
// through the operator alongside writes, or on an independent read-only
// connection relying on WAL's concurrent-read guarantee.
type ReadStrategy string

const (
	// ReadViaOperator serializes scan reads behind the single writer.
	ReadViaOperator ReadStrategy = "operator"
	// ReadDirect reads on a separate read-only connection.
	ReadDirect ReadStrategy = "direct"
)

// Config tunes the engine. Zero values are replaced by defaults in
// Normalize; the YAML/env loader builds one of these.
type Config struct {
	// ThumbW and ThumbH bound the thumbnail target box.
	ThumbW int
	ThumbH int

	// SchedulerSlots is the number of lightweight admission workers.
	SchedulerSlots int
	// DecodeSlots bounds concurrent decodes; defaults to core count.
	DecodeSlots int
	// QueueSize caps the admission queue.
	QueueSize int
	// IsolateDecode runs decodes in separate worker processes.
	IsolateDecode bool

	// PumpTick is the drain interval of the missing-item pump.
	PumpTick time.Duration
	// PumpBatch is how many missing paths become decode requests per tick.
	PumpBatch int

	// StoreRetryMax bounds write attempts against a busy store.
	StoreRetryMax int
	// StoreRetryBase is the initial backoff interval between attempts.
	StoreRetryBase time.Duration
	// ScanReads picks the bulk-scan read path.
	ScanReads ReadStrategy

	// ViewCacheBudget and ThumbCacheBudget bound the in-memory caches,
	// in bytes. Zero or negative disables the bound.
	ViewCacheBudget  int64
	ThumbCacheBudget int64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		ThumbW:           256,
		ThumbH:           256,
		SchedulerSlots:   8,
		DecodeSlots:      runtime.NumCPU(),
		QueueSize:        1024,
		IsolateDecode:    true,
		PumpTick:         150 * time.Millisecond,
		PumpBatch:        4,
		StoreRetryMax:    6,
		StoreRetryBase:   25 * time.Millisecond,
		ScanReads:        ReadDirect,
		ViewCacheBudget:  256 << 20,
		ThumbCacheBudget: 64 << 20,
	}
}

// Normalize fills zero fields with defaults and clamps nonsense values.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.ThumbW <= 0 {
		c.ThumbW = def.ThumbW
	}
	if c.ThumbH <= 0 {
		c.ThumbH = def.ThumbH
	}
	if c.SchedulerSlots <= 0 {
		c.SchedulerSlots = def.SchedulerSlots
	}
	if c.DecodeSlots <= 0 {
		c.DecodeSlots = def.DecodeSlots
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.PumpTick <= 0 {
		c.PumpTick = def.PumpTick
	}
	if c.PumpBatch <= 0 {
		c.PumpBatch = def.PumpBatch
	}
	if c.StoreRetryMax <= 0 {
		c.StoreRetryMax = def.StoreRetryMax
	}
	if c.StoreRetryBase <= 0 {
		c.StoreRetryBase = def.StoreRetryBase
	}
	if c.ScanReads != ReadViaOperator && c.ScanReads != ReadDirect {
		c.ScanReads = def.ScanReads
	}
	if c.ViewCacheBudget <= 0 {
		c.ViewCacheBudget = def.ViewCacheBudget
	}
	if c.ThumbCacheBudget <= 0 {
		c.ThumbCacheBudget = def.ThumbCacheBudget
	}
	return c
}
