package journal

import (
	"time"

	"github.com/yanun0323/errors"
)

const (
	defaultSegmentMaxBytes int64 = 64 << 20
	defaultSegmentMaxAge         = 10 * time.Minute
	defaultQueueSize             = 2048
	defaultBufferSize            = 64 * 1024
	defaultPrefix                = "events"

	fileSuffix = ".jnl"
)

// Config controls the journal writer.
type Config struct {
	Dir             string        `json:"dir"`
	Prefix          string        `json:"prefix"`
	SegmentMaxBytes int64         `json:"segmentMaxBytes"`
	SegmentMaxAge   time.Duration `json:"segmentMaxAge"`
	QueueSize       int           `json:"queueSize"`
	BufferSize      int           `json:"bufferSize"`
	FlushInterval   time.Duration `json:"flushInterval"`
	SyncInterval    time.Duration `json:"syncInterval"`
}

// DefaultConfig journals into dir with a one second flush.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		Prefix:          defaultPrefix,
		SegmentMaxBytes: defaultSegmentMaxBytes,
		SegmentMaxAge:   defaultSegmentMaxAge,
		QueueSize:       defaultQueueSize,
		BufferSize:      defaultBufferSize,
		FlushInterval:   time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
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
		return errors.New("journal dir is empty")
	case c.SegmentMaxBytes <= 0:
		return errors.New("journal segmentMaxBytes must be > 0")
	case c.SegmentMaxAge < 0:
		return errors.New("journal segmentMaxAge must be >= 0")
	case c.QueueSize <= 0:
		return errors.New("journal queueSize must be > 0")
	case c.BufferSize <= 0:
		return errors.New("journal bufferSize must be > 0")
	case c.FlushInterval < 0 || c.SyncInterval < 0:
		return errors.New("journal flush and sync intervals must be >= 0")
	}
	return nil
}
