package queue

import "time"

// Config holds the environment-driven configuration for the delivery queue.
type Config struct {
	Workers      int           `env:"QUEUE_WORKERS" envDefault:"4"`
	PullInterval time.Duration `env:"QUEUE_PULL_INTERVAL" envDefault:"100ms"`
	SendTimeout  time.Duration `env:"QUEUE_SEND_TIMEOUT" envDefault:"30s"`
}

// Options converts the config into constructor options.
func (c Config) Options() []Option {
	return []Option{
		WithWorkers(c.Workers),
		WithPullInterval(c.PullInterval),
		WithSendTimeout(c.SendTimeout),
	}
}
