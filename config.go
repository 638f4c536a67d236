package stride

import "time"

// Config holds engine-level configuration.
type Config struct {
	// Concurrency is the number of trigger-consuming worker goroutines.
	Concurrency int

	// Queues is the list of trigger queues this process will consume.
	Queues []string

	// PollInterval is how often idle workers poll for new triggers.
	PollInterval time.Duration

	// CoordinateInterval is how often the coordinator scans for groups
	// with pending work.
	CoordinateInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		Queues:             []string{"default"},
		PollInterval:       1 * time.Second,
		CoordinateInterval: 1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}
