package job

import (
	"fmt"
	"sync"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/step"
)

// Factory builds a job instance bound to a specific step record. The job
// keeps the pointer; hooks that finalize the step mutate it in place and
// the controller persists the result.
type Factory func(s *step.Step) (Job, error)

// Registration couples a factory with per-class defaults.
type Registration struct {
	Factory Factory
	Opts    Options
}

// Registry maps job class names to registrations. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]Registration)}
}

// Register adds a job class. Registering the same class twice panics —
// duplicate classes are a wiring bug, not a runtime condition.
func (r *Registry) Register(class string, factory Factory, opts ...OptionFunc) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.classes[class]; exists {
		panic(fmt.Sprintf("job: class %q registered twice", class))
	}
	r.classes[class] = Registration{Factory: factory, Opts: o}
}

// Get returns the registration for a class.
func (r *Registry) Get(class string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.classes[class]
	return reg, ok
}

// Build instantiates a job for the step's class.
func (r *Registry) Build(s *step.Step) (Job, Registration, error) {
	reg, ok := r.Get(s.Class)
	if !ok {
		return nil, Registration{}, fmt.Errorf("%w: %q", stride.ErrClassNotFound, s.Class)
	}

	jb, err := reg.Factory(s)
	if err != nil {
		return nil, Registration{}, fmt.Errorf("job: build %q: %w", s.Class, err)
	}
	return jb, reg, nil
}

// Classes returns the registered class names.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	return names
}
