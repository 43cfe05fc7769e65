/*
Package jobqueue configuration - tunable parameters for the River queue.

Performance: raise MaxWorkers for more concurrent upkeep jobs; each worker
holds a pool connection while running. Reliability: MaxRetries bounds how
long a failed escalation keeps retrying; failed jobs retain their error in
the River jobs table.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// MaxWorkers is the number of concurrent workers processing jobs.
	MaxWorkers int

	// MaxRetries is the maximum retry attempts per job.
	MaxRetries int

	// SweepInterval is how often the deadline sweep runs.
	SweepInterval time.Duration
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:    10,
		MaxRetries:    25,
		SweepInterval: time.Minute,
	}
}

// DevelopmentQueueConfig returns a configuration optimized for development
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 3
	config.MaxRetries = 5
	return config
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
