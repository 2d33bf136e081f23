package ports

import "time"

type Policy struct {
	RealTime      bool          `yaml:"real_time"`
	QueueDepth    int           `yaml:"queue_depth"`
	PoolSize      int           `yaml:"pool_size"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	Workers       int           `yaml:"workers"`
	LogQueueDrops bool          `yaml:"log_queue_drops"`
	GateTimeout   time.Duration `yaml:"gate_timeout"`
}

// OnPoolExhausted is "drop" in real-time mode and "block" otherwise.
func (p Policy) OnPoolExhausted() string {
	if p.RealTime {
		return "drop"
	}
	return "block"
}
