package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionStepCreated     = "step.created"
	ActionStepStarted     = "step.started"
	ActionStepCompleted   = "step.completed"
	ActionStepRetrying    = "step.retrying"
	ActionStepFailed      = "step.failed"
	ActionStepEscalated   = "step.escalated"
	ActionThrottleRefused = "throttle.refused"
)

// Audit event categories group related actions.
const (
	CategoryStep     = "stride.step"
	CategoryThrottle = "stride.throttle"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceStep      = "step"
	ResourceAPISystem = "api_system"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionStepCreated,
		ActionStepStarted,
		ActionStepCompleted,
		ActionStepRetrying,
		ActionStepFailed,
		ActionStepEscalated,
		ActionThrottleRefused,
	}
}
