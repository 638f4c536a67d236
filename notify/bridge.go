package notify

import (
	"context"

	"github.com/martingalian/stride/ext"
	"github.com/martingalian/stride/step"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Bridge)(nil)
	_ ext.StepEscalatedHook = (*Bridge)(nil)
)

// Bridge forwards escalation events observed through the extension
// registry to a secondary Notifier. The classifier escalates directly
// through its own Notifier; a Bridge lets an additional channel (a
// paging integration, a chat webhook) listen without being wired into
// the recovery path.
type Bridge struct {
	notifier Notifier
}

// NewBridge creates a Bridge around the given notifier.
func NewBridge(n Notifier) *Bridge {
	return &Bridge{notifier: n}
}

// Name implements ext.Extension.
func (b *Bridge) Name() string { return "notify-bridge" }

// OnStepEscalated implements ext.StepEscalatedHook. Errors from the
// notifier are swallowed; an escalation channel must never disturb the
// recovery path.
func (b *Bridge) OnStepEscalated(ctx context.Context, s *step.Step, err error) {
	_ = b.notifier.Escalate(ctx, s, err) //nolint:errcheck // escalation is best effort
}
