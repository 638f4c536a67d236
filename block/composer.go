// Package block composes workflow blocks: ordered sequences of atomic
// steps sharing one block uuid. An orchestrator job does no domain work
// itself; it emits a block and lets the dispatcher drive it. Steps at
// the same index run concurrently; a higher index only becomes eligible
// once every step at the lower index settled without failing.
package block

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/martingalian/stride/step"
)

// Spec describes one step to place in the block.
type Spec struct {
	Class string
	Args  json.RawMessage
	Opts  []step.Option
}

// Composer accumulates a block's steps. It is not safe for concurrent
// use; compose the block, then Emit it once.
type Composer struct {
	block   uuid.UUID
	queue   string
	group   string
	index   int
	steps   []*step.Step
	failure *step.Step
}

// Option configures a Composer.
type Option func(*Composer)

// WithQueue routes every step of the block to the queue.
func WithQueue(queue string) Option {
	return func(c *Composer) { c.queue = queue }
}

// WithGroup assigns every step of the block to the group.
func WithGroup(group string) Option {
	return func(c *Composer) { c.group = group }
}

// Continue appends to an existing block instead of opening a new one.
// nextIndex must be the value a previous Emit returned.
func Continue(block uuid.UUID, nextIndex int) Option {
	return func(c *Composer) {
		c.block = block
		c.index = nextIndex - 1
	}
}

// New opens a block. Without Continue, a fresh block uuid is generated
// and indexing starts at 1.
func New(opts ...Option) *Composer {
	c := &Composer{
		block: uuid.New(),
		queue: "default",
		group: "default",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Block returns the block uuid shared by every emitted step.
func (c *Composer) Block() uuid.UUID { return c.block }

// NextIndex returns the next free index, for chaining further
// sub-blocks onto this one.
func (c *Composer) NextIndex() int { return c.index + 1 }

// Add places one step at the next index. Steps added by consecutive Add
// calls run strictly in order.
func (c *Composer) Add(class string, args json.RawMessage, opts ...step.Option) *Composer {
	c.index++
	c.place(c.index, Spec{Class: class, Args: args, Opts: opts})
	return c
}

// AddParallel places several steps at the same next index; they are
// dispatched together and may run concurrently.
func (c *Composer) AddParallel(specs ...Spec) *Composer {
	if len(specs) == 0 {
		return c
	}
	c.index++
	for _, spec := range specs {
		c.place(c.index, spec)
	}
	return c
}

// OnFailure declares the block's compensating step. It only ever runs
// if a step in the block fails, and at most once per block. Calling
// OnFailure again replaces the previous compensator.
func (c *Composer) OnFailure(class string, args json.RawMessage, opts ...step.Option) *Composer {
	base := []step.Option{
		step.WithQueue(c.queue),
		step.WithGroup(c.group),
		step.WithBlock(c.block),
		step.WithIndex(step.ResolveIndex),
		step.WithType(step.TypeResolveException),
	}
	c.failure = step.New(class, args, append(base, opts...)...)
	return c
}

func (c *Composer) place(index int, spec Spec) {
	base := []step.Option{
		step.WithQueue(c.queue),
		step.WithGroup(c.group),
		step.WithBlock(c.block),
		step.WithIndex(index),
	}
	c.steps = append(c.steps, step.New(spec.Class, spec.Args, append(base, spec.Opts...)...))
}

// Steps returns the steps this composer holds, including the
// compensating step when one was declared. A Continue-chained composer
// holds only its own additions, not earlier emits of the block.
func (c *Composer) Steps() []*step.Step {
	all := append([]*step.Step(nil), c.steps...)
	if c.failure != nil {
		all = append(all, c.failure)
	}
	return all
}

// Emit persists the block's steps and returns the next free index.
func (c *Composer) Emit(ctx context.Context, store step.Store) (int, error) {
	for _, s := range c.Steps() {
		if err := store.CreateStep(ctx, s); err != nil {
			return 0, err
		}
	}
	return c.NextIndex(), nil
}
