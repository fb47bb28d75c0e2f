// Package config provides the configuration loader for lumen.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lumenview/lumen/internal/core/domain"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is the config file looked up in the working directory.
const DefaultFilename = "lumen.yaml"

// FileLoader implements ports.ConfigLoader using a YAML file plus LUMEN_*
// environment overrides.
type FileLoader struct {
	Filename string
}

// Load reads the configuration from the given working directory.
func (l *FileLoader) Load(cwd string) (domain.Config, error) {
	name := l.Filename
	if name == "" {
		name = DefaultFilename
	}
	return Load(filepath.Join(cwd, name))
}

// Load reads a configuration file from the given path. A missing file is
// not an error: defaults plus environment overrides apply.
func Load(path string) (domain.Config, error) {
	cfg := domain.DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is provided by user
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return domain.Config{}, zerr.Wrap(err, "failed to read config file")
	default:
		var file lumenFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return domain.Config{}, zerr.Wrap(err, "failed to parse config file")
		}
		if cfg, err = applyFile(cfg, file); err != nil {
			return domain.Config{}, err
		}
	}

	cfg, err = applyEnv(cfg)
	if err != nil {
		return domain.Config{}, err
	}

	return cfg.Normalize(), nil
}

func applyFile(cfg domain.Config, file lumenFile) (domain.Config, error) {
	if file.Thumbnail.Width > 0 {
		cfg.ThumbW = file.Thumbnail.Width
	}
	if file.Thumbnail.Height > 0 {
		cfg.ThumbH = file.Thumbnail.Height
	}
	if file.Scheduler.Slots > 0 {
		cfg.SchedulerSlots = file.Scheduler.Slots
	}
	if file.Scheduler.DecodeSlots > 0 {
		cfg.DecodeSlots = file.Scheduler.DecodeSlots
	}
	if file.Scheduler.QueueSize > 0 {
		cfg.QueueSize = file.Scheduler.QueueSize
	}
	if file.Scheduler.Isolate != nil {
		cfg.IsolateDecode = *file.Scheduler.Isolate
	}
	if file.Pump.Batch > 0 {
		cfg.PumpBatch = file.Pump.Batch
	}
	if file.Store.RetryMax > 0 {
		cfg.StoreRetryMax = file.Store.RetryMax
	}
	if file.Memory.ViewBudgetMB > 0 {
		cfg.ViewCacheBudget = file.Memory.ViewBudgetMB << 20
	}
	if file.Memory.ThumbBudgetMB > 0 {
		cfg.ThumbCacheBudget = file.Memory.ThumbBudgetMB << 20
	}

	var err error
	if cfg.PumpTick, err = parseTick(file.Pump.Tick, cfg.PumpTick); err != nil {
		return domain.Config{}, zerr.With(zerr.Wrap(err, "invalid pump tick"), "value", file.Pump.Tick)
	}
	if cfg.StoreRetryBase, err = parseTick(file.Store.RetryBase, cfg.StoreRetryBase); err != nil {
		return domain.Config{}, zerr.With(zerr.Wrap(err, "invalid retry base"), "value", file.Store.RetryBase)
	}
	if cfg.ScanReads, err = parseStrategy(file.Store.ScanReads, cfg.ScanReads); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg domain.Config) (domain.Config, error) {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: "LUMEN_"}); err != nil {
		return domain.Config{}, zerr.Wrap(err, "failed to parse environment overrides")
	}

	if o.ThumbW > 0 {
		cfg.ThumbW = o.ThumbW
	}
	if o.ThumbH > 0 {
		cfg.ThumbH = o.ThumbH
	}
	if o.Slots > 0 {
		cfg.SchedulerSlots = o.Slots
	}
	if o.DecodeSlots > 0 {
		cfg.DecodeSlots = o.DecodeSlots
	}
	if o.QueueSize > 0 {
		cfg.QueueSize = o.QueueSize
	}
	if o.Isolate != nil {
		cfg.IsolateDecode = *o.Isolate
	}
	if o.PumpBatch > 0 {
		cfg.PumpBatch = o.PumpBatch
	}
	if o.RetryMax > 0 {
		cfg.StoreRetryMax = o.RetryMax
	}
	if o.ViewBudgetMB > 0 {
		cfg.ViewCacheBudget = o.ViewBudgetMB << 20
	}
	if o.ThumbBudgetMB > 0 {
		cfg.ThumbCacheBudget = o.ThumbBudgetMB << 20
	}

	var err error
	if cfg.PumpTick, err = parseTick(o.PumpTick, cfg.PumpTick); err != nil {
		return domain.Config{}, zerr.With(zerr.Wrap(err, "invalid LUMEN_PUMP_TICK"), "value", o.PumpTick)
	}
	if cfg.StoreRetryBase, err = parseTick(o.RetryBase, cfg.StoreRetryBase); err != nil {
		return domain.Config{}, zerr.With(zerr.Wrap(err, "invalid LUMEN_STORE_RETRY_BASE"), "value", o.RetryBase)
	}
	if cfg.ScanReads, err = parseStrategy(o.ScanReads, cfg.ScanReads); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

func parseTick(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}

func parseStrategy(value string, fallback domain.ReadStrategy) (domain.ReadStrategy, error) {
	switch domain.ReadStrategy(value) {
	case "":
		return fallback, nil
	case domain.ReadViaOperator:
		return domain.ReadViaOperator, nil
	case domain.ReadDirect:
		return domain.ReadDirect, nil
	default:
		return "", zerr.With(zerr.New("unknown scan read strategy"), "value", value)
	}
}
