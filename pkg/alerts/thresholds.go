package alerts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds are the fully resolved alert boundaries. Every comparison is
// strict: a metric equal to its threshold does not alert.
type Thresholds struct {
	// FailureRate is the overall failure-rate boundary, in [0, 1].
	FailureRate float64 `yaml:"failure_rate"`

	// RetryAttempts is the average-retry-attempts boundary.
	RetryAttempts float64 `yaml:"retry_attempts"`

	// ConsecutiveFailures is the number of closely spaced recent failures
	// that triggers the burst alert.
	ConsecutiveFailures int `yaml:"consecutive_failures"`

	// HourlyFailureRate is the per-hour failure-rate boundary, in [0, 1].
	HourlyFailureRate float64 `yaml:"hourly_failure_rate"`
}

// DefaultThresholds returns the standard alert boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FailureRate:         0.10,
		RetryAttempts:       3,
		ConsecutiveFailures: 5,
		HourlyFailureRate:   0.15,
	}
}

// Validate checks threshold sanity at evaluation time.
func (t Thresholds) Validate() error {
	if t.FailureRate < 0 || t.FailureRate > 1 {
		return fmt.Errorf("%w: failure rate threshold %g outside [0, 1]", ErrInvalidThresholds, t.FailureRate)
	}
	if t.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts threshold %g is negative", ErrInvalidThresholds, t.RetryAttempts)
	}
	if t.ConsecutiveFailures < 1 {
		return fmt.Errorf("%w: consecutive failures threshold %d must be at least 1", ErrInvalidThresholds, t.ConsecutiveFailures)
	}
	if t.HourlyFailureRate < 0 || t.HourlyFailureRate > 1 {
		return fmt.Errorf("%w: hourly failure rate threshold %g outside [0, 1]", ErrInvalidThresholds, t.HourlyFailureRate)
	}
	return nil
}

// Overrides carries caller-supplied threshold values. Nil fields keep the
// default; set fields replace it, so a partial override never resets the
// remaining boundaries.
type Overrides struct {
	FailureRate         *float64 `yaml:"failure_rate"`
	RetryAttempts       *float64 `yaml:"retry_attempts"`
	ConsecutiveFailures *int     `yaml:"consecutive_failures"`
	HourlyFailureRate   *float64 `yaml:"hourly_failure_rate"`
}

// Resolve merges the overrides over the defaults field by field.
func (o Overrides) Resolve() Thresholds {
	t := DefaultThresholds()
	if o.FailureRate != nil {
		t.FailureRate = *o.FailureRate
	}
	if o.RetryAttempts != nil {
		t.RetryAttempts = *o.RetryAttempts
	}
	if o.ConsecutiveFailures != nil {
		t.ConsecutiveFailures = *o.ConsecutiveFailures
	}
	if o.HourlyFailureRate != nil {
		t.HourlyFailureRate = *o.HourlyFailureRate
	}
	return t
}

// LoadOverridesFile reads threshold overrides from a YAML file. Keys absent
// from the file keep their defaults.
func LoadOverridesFile(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, fmt.Errorf("%w: %w", ErrThresholdsFile, err)
	}

	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Overrides{}, fmt.Errorf("%w: %w", ErrThresholdsFile, err)
	}
	return o, nil
}
