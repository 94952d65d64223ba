package ports

import "time"

type Policy struct {
	MaxQueueLen   int           `yaml:"max_queue_len"`  // 0 means unbounded
	OnQueueFull   string        `yaml:"on_queue_full"`  // "block", "reject"
	FlushInterval time.Duration `yaml:"flush_interval"` // process stage cadence
}
