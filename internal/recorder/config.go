package recorder

import (
	"fmt"
	"time"
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultQueueSize             = 4096
	defaultBufferSize            = 64 * 1024
	defaultFilePrefix            = "session"
	segmentSuffix                = ".wal"
)

var defaultSegmentMaxDuration = 15 * time.Minute

// Config controls the session WAL writer.
type Config struct {
	Dir                string        `json:"dir" yaml:"dir"`
	FilePrefix         string        `json:"filePrefix" yaml:"file_prefix"`
	Source             uint16        `json:"source" yaml:"source"`
	SegmentMaxBytes    int64         `json:"segmentMaxBytes" yaml:"segment_max_bytes"`
	SegmentMaxDuration time.Duration `json:"segmentMaxDuration" yaml:"segment_max_duration"`
	QueueSize          int           `json:"queueSize" yaml:"queue_size"`
	BufferSize         int           `json:"bufferSize" yaml:"buffer_size"`
	FlushInterval      time.Duration `json:"flushInterval" yaml:"flush_interval"`
	SyncInterval       time.Duration `json:"syncInterval" yaml:"sync_interval"`
}

// DefaultConfig returns a baseline configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		FilePrefix:         defaultFilePrefix,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FlushInterval:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return fmt.Errorf("invalid recorder config: dir is empty")
	case c.SegmentMaxBytes <= 0:
		return fmt.Errorf("invalid recorder config: segment_max_bytes must be > 0")
	case c.QueueSize <= 0:
		return fmt.Errorf("invalid recorder config: queue_size must be > 0")
	case c.BufferSize <= 0:
		return fmt.Errorf("invalid recorder config: buffer_size must be > 0")
	case c.FlushInterval < 0, c.SyncInterval < 0, c.SegmentMaxDuration < 0:
		return fmt.Errorf("invalid recorder config: intervals must be >= 0")
	}
	return nil
}
