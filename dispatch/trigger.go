package dispatch

import (
	"context"
	"time"
)

// TriggerQueue carries lightweight per-group dispatch triggers from the
// coordinator to workers. Implementations deduplicate: pushing a group
// that is already queued is a no-op, so a slow consumer never builds a
// backlog of identical triggers.
type TriggerQueue interface {
	// PushTrigger enqueues a dispatch trigger for the group.
	PushTrigger(ctx context.Context, group string) error

	// PopTrigger blocks up to timeout for the next trigger. It returns
	// an empty string when the timeout elapses with no work.
	PopTrigger(ctx context.Context, timeout time.Duration) (string, error)
}
