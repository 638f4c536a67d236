package step

import (
	"time"

	"github.com/google/uuid"
)

// CreateOpts configures step creation.
type CreateOpts struct {
	Queue         string
	Group         string
	MaxRetries    int
	DispatchAfter time.Time
	Block         uuid.UUID
	Index         int
	Type          Type
	Timeout       time.Duration
	Relatable     *Ref
}

// DefaultCreateOpts returns the default creation options.
func DefaultCreateOpts() CreateOpts {
	return CreateOpts{
		Queue:      "default",
		Group:      "default",
		MaxRetries: 3,
		Index:      1,
		Type:       TypeDefault,
	}
}

// Option configures step creation.
type Option func(*CreateOpts)

// WithQueue routes the step's group triggers to the named queue.
func WithQueue(queue string) Option {
	return func(o *CreateOpts) { o.Queue = queue }
}

// WithGroup assigns the shard key used for routing and parallel dispatch.
func WithGroup(group string) Option {
	return func(o *CreateOpts) { o.Group = group }
}

// WithMaxRetries sets the retry ceiling.
func WithMaxRetries(n int) Option {
	return func(o *CreateOpts) { o.MaxRetries = n }
}

// WithDispatchAfter sets the earliest time the step may run.
func WithDispatchAfter(t time.Time) Option {
	return func(o *CreateOpts) { o.DispatchAfter = t }
}

// WithBlock places the step inside an existing workflow block.
func WithBlock(block uuid.UUID) Option {
	return func(o *CreateOpts) { o.Block = block }
}

// WithIndex sets the ordering key within the block. Steps sharing an index
// may run in parallel.
func WithIndex(i int) Option {
	return func(o *CreateOpts) { o.Index = i }
}

// WithType marks the step as a principal-path or resolve-exception step.
func WithType(t Type) Option {
	return func(o *CreateOpts) { o.Type = t }
}

// WithTimeout sets a per-execution deadline enforced by middleware.
func WithTimeout(d time.Duration) Option {
	return func(o *CreateOpts) { o.Timeout = d }
}

// WithRelatable attaches the weak domain-entity reference.
func WithRelatable(r *Ref) Option {
	return func(o *CreateOpts) { o.Relatable = r }
}
