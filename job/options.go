package job

import "time"

// Options carries per-class defaults applied when steps of this class are
// created through the engine.
type Options struct {
	// MaxRetries is the retry ceiling for steps of this class.
	MaxRetries int

	// RetryDelay is the fixed delay applied to job- and API-classified
	// transient errors. Jobs may override per-instance via RetryDelayer.
	RetryDelay time.Duration

	// Queue is the default trigger queue for steps of this class.
	Queue string

	// Timeout is the default per-execution deadline. Zero means none.
	Timeout time.Duration
}

// DefaultOptions returns the per-class defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		RetryDelay: 10 * time.Second,
		Queue:      "default",
	}
}

// OptionFunc configures per-class Options.
type OptionFunc func(*Options)

// WithMaxRetries sets the retry ceiling for the class.
func WithMaxRetries(n int) OptionFunc {
	return func(o *Options) { o.MaxRetries = n }
}

// WithRetryDelay sets the fixed transient-error delay for the class.
func WithRetryDelay(d time.Duration) OptionFunc {
	return func(o *Options) { o.RetryDelay = d }
}

// WithQueue sets the default trigger queue for the class.
func WithQueue(queue string) OptionFunc {
	return func(o *Options) { o.Queue = queue }
}

// WithTimeout sets the default per-execution deadline for the class.
func WithTimeout(d time.Duration) OptionFunc {
	return func(o *Options) { o.Timeout = d }
}
