// Package retry runs an operation under exponential backoff with jitter.
// The coordination server uses it to keep the NOTIFY bridge alive across
// dropped database connections.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxRetries int           // retry attempts after the first try; < 0 retries forever
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on the delay between retries
	Multiplier float64       // backoff growth factor
	Jitter     bool          // randomize delays to avoid thundering herd
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// ForeverConfig retries without an attempt limit, for supervision loops that
// must outlive transient outages.
func ForeverConfig() Config {
	c := DefaultConfig()
	c.MaxRetries = -1
	c.MaxDelay = time.Minute
	return c
}

// Do runs op until it succeeds, the attempt budget is spent, or ctx is done.
// Returns the last error, or nil on success.
func Do(ctx context.Context, config Config, name string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; config.MaxRetries < 0 || attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(config, attempt)
			log.Warn().
				Str("operation", name).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying after failure")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func backoffDelay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if max := float64(config.MaxDelay); delay > max {
		delay = max
	}
	if config.Jitter {
		// Up to 25% either way.
		delay *= 0.75 + rand.Float64()*0.5
	}
	return time.Duration(delay)
}
