package config

// lumenFile represents the structure of the lumen.yaml configuration file.
type lumenFile struct {
	Thumbnail thumbnailDTO `yaml:"thumbnail"`
	Scheduler schedulerDTO `yaml:"scheduler"`
	Pump      pumpDTO      `yaml:"pump"`
	Store     storeDTO     `yaml:"store"`
	Memory    memoryDTO    `yaml:"memory"`
}

type thumbnailDTO struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type schedulerDTO struct {
	Slots       int   `yaml:"slots"`
	DecodeSlots int   `yaml:"decodeSlots"`
	QueueSize   int   `yaml:"queueSize"`
	Isolate     *bool `yaml:"isolate"`
}

type pumpDTO struct {
	Tick  string `yaml:"tick"`
	Batch int    `yaml:"batch"`
}

type storeDTO struct {
	RetryMax  int    `yaml:"retryMax"`
	RetryBase string `yaml:"retryBase"`
	ScanReads string `yaml:"scanReads"`
}

type memoryDTO struct {
	ViewBudgetMB  int64 `yaml:"viewBudgetMB"`
	ThumbBudgetMB int64 `yaml:"thumbBudgetMB"`
}

// envOverrides are applied after the file, prefixed with LUMEN_.
type envOverrides struct {
	ThumbW        int    `env:"THUMB_WIDTH"`
	ThumbH        int    `env:"THUMB_HEIGHT"`
	Slots         int    `env:"SCHEDULER_SLOTS"`
	DecodeSlots   int    `env:"DECODE_SLOTS"`
	QueueSize     int    `env:"QUEUE_SIZE"`
	Isolate       *bool  `env:"ISOLATE_DECODE"`
	PumpTick      string `env:"PUMP_TICK"`
	PumpBatch     int    `env:"PUMP_BATCH"`
	RetryMax      int    `env:"STORE_RETRY_MAX"`
	RetryBase     string `env:"STORE_RETRY_BASE"`
	ScanReads     string `env:"SCAN_READS"`
	ViewBudgetMB  int64  `env:"VIEW_BUDGET_MB"`
	ThumbBudgetMB int64  `env:"THUMB_BUDGET_MB"`
}
