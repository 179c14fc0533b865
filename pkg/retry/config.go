package retry

import (
	"fmt"
	"time"
)

// Config holds the backoff parameters for the retry scheduler. It is
// immutable after construction; New validates it and fails fast on invalid
// values rather than surfacing errors at sweep time.
type Config struct {
	MaxAttempts   int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	InitialDelay  time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"1s"`
	MaxDelay      time.Duration `env:"RETRY_MAX_DELAY" envDefault:"5m"`
	BackoffFactor float64       `env:"RETRY_BACKOFF_FACTOR" envDefault:"2"`
}

// DefaultConfig returns the standard retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      5 * time.Minute,
		BackoffFactor: 2,
	}
}

// Validate checks backoff parameters at construction time.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("%w: initial delay must be positive, got %s", ErrInvalidConfig, c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("%w: max delay %s is below initial delay %s", ErrInvalidConfig, c.MaxDelay, c.InitialDelay)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("%w: backoff factor must be at least 1, got %g", ErrInvalidConfig, c.BackoffFactor)
	}
	return nil
}
