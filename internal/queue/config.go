package queue

import (
	"time"

	"github.com/ternarybob/urbix/internal/common"
)

// Config holds configuration for the queue manager
type Config struct {
	// PollInterval is how often workers poll for messages
	PollInterval time.Duration

	// Concurrency is the number of concurrent workers
	Concurrency int

	// VisibilityTimeout hides a received message from other workers; a worker
	// that dies without acknowledging it releases it after this long
	VisibilityTimeout time.Duration

	// MaxReceive is the maximum times a message can be received before it is dropped
	MaxReceive int

	// QueueName namespaces the queue keys in Badger
	QueueName string
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval:      1 * time.Second,
		Concurrency:       4,
		VisibilityTimeout: 15 * time.Minute,
		MaxReceive:        6,
		QueueName:         "urbix_login",
	}
}

// ConfigFrom converts the [queue] section
func ConfigFrom(c *common.QueueConfig) Config {
	defaults := NewDefaultConfig()
	config := Config{
		PollInterval:      common.ParseDurationOr(c.PollInterval, defaults.PollInterval),
		Concurrency:       c.Concurrency,
		VisibilityTimeout: common.ParseDurationOr(c.VisibilityTimeout, defaults.VisibilityTimeout),
		MaxReceive:        c.MaxReceive,
		QueueName:         c.QueueName,
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.MaxReceive <= 0 {
		config.MaxReceive = defaults.MaxReceive
	}
	if config.QueueName == "" {
		config.QueueName = defaults.QueueName
	}
	return config
}
