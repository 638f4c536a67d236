// Package audithook is a Stride extension that bridges step lifecycle
// events to an immutable audit trail backend.
//
// Every lifecycle hook emits a structured audit event through the
// [Recorder] interface. The extension assigns severity levels (info for
// normal progress, warning for retries and throttle refusals, critical
// for terminal failures and escalations) and rich metadata (class, group,
// retry counters, errors). For a trading system the resulting trail
// answers "what did the bot do to this position and why" after the fact.
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionStepFailed,
//	        audithook.ActionStepEscalated,
//	    ),
//	)
package audithook
