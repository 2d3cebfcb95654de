package queue

import (
	"time"

	"github.com/ternarybob/reportree/internal/common"
)

// Config holds configuration for the queue manager and its workers
type Config struct {
	// PollInterval is how often the async result poller checks task state
	PollInterval time.Duration

	// Concurrency is the number of concurrent workers
	Concurrency int

	// VisibilityTimeout is the message visibility timeout for redelivery
	VisibilityTimeout time.Duration

	// MaxReceive is the maximum times a message can be received before it is dropped
	MaxReceive int

	// QueueName is the key prefix of the queue in Badger
	QueueName string

	// SoftTimeLimit is the single time budget of one worker invocation
	SoftTimeLimit time.Duration
}

// ConfigFromCommon converts the [queue] section of the application config
func ConfigFromCommon(cfg common.QueueConfig) Config {
	return Config{
		PollInterval:      cfg.PollIntervalDuration(),
		Concurrency:       cfg.Concurrency,
		VisibilityTimeout: cfg.VisibilityTimeoutDuration(),
		MaxReceive:        cfg.MaxReceive,
		QueueName:         cfg.QueueName,
		SoftTimeLimit:     cfg.SoftTimeLimitDuration(),
	}
}
