package config

// Config represents the eventlens CLI configuration.
// Use mapstructure tags for Viper unmarshaling.
type Config struct {
	Cache    CacheConfig    `mapstructure:"cache"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Window   WindowConfig   `mapstructure:"window"`
}

// CacheConfig holds CacheStore settings.
type CacheConfig struct {
	Dir         string `mapstructure:"dir"`
	BudgetBytes int64  `mapstructure:"budget_bytes"`
}

// PipelineConfig holds WorkerPool/PipelineWorker settings.
type PipelineConfig struct {
	MaxWorkers    int      `mapstructure:"max_workers"`
	RawExtensions []string `mapstructure:"raw_extensions"`
}

// WindowConfig holds RollingWindow watermark settings.
type WindowConfig struct {
	MaxReadyItems   int `mapstructure:"max_ready_items"`
	MinQueueBuffer  int `mapstructure:"min_queue_buffer"`
	ResumeThreshold int `mapstructure:"resume_threshold"`
}
