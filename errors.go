package stride

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("stride: no store configured")
	ErrStoreClosed     = errors.New("stride: store closed")
	ErrMigrationFailed = errors.New("stride: migration failed")

	// Not found errors.
	ErrStepNotFound  = errors.New("stride: step not found")
	ErrClassNotFound = errors.New("stride: job class not registered")

	// Conflict errors.
	ErrStepAlreadyExists = errors.New("stride: step already exists")

	// State errors.
	ErrInvalidTransition = errors.New("stride: invalid state transition")
)

// Shortcut signals. These are control-flow markers, not real failures:
// the classifier handles them before any other rule and they bypass
// retry/ignore classification entirely.
var (
	// ErrMaxRetriesReached is raised when a step's retry counter hits its
	// configured ceiling. The next failure must not re-enter Pending.
	ErrMaxRetriesReached = errors.New("stride: max retries reached")

	// ErrJustResolve instructs the engine to run the job's resolution hook
	// and finalize without treating the condition as a failure to classify.
	ErrJustResolve = errors.New("stride: just resolve")

	// ErrJustEnd instructs the engine to end the step immediately,
	// running only the resolution hook if one exists.
	ErrJustEnd = errors.New("stride: just end")
)

// Shortcut reports whether err is one of the shortcut signals.
func Shortcut(err error) bool {
	return errors.Is(err, ErrMaxRetriesReached) ||
		errors.Is(err, ErrJustResolve) ||
		errors.Is(err, ErrJustEnd)
}
