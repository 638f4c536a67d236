package step

import (
	"context"
	"fmt"
	"sync"
)

// Ref is a weak (type-tag, id) reference from a step to the domain entity
// it concerns — an account, position, or symbol. It is used purely for log
// correlation and exchange-handler selection, never as an ownership link.
type Ref struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// NewRef builds a weak reference.
func NewRef(kind, refID string) *Ref {
	return &Ref{Kind: kind, ID: refID}
}

func (r *Ref) String() string {
	return r.Kind + ":" + r.ID
}

// DescribeFunc resolves a referenced entity into a short human-readable
// description for correlated log entries.
type DescribeFunc func(ctx context.Context, refID string) (string, error)

// Resolvers maps Ref kinds to lookup functions. Safe for concurrent use.
type Resolvers struct {
	mu    sync.RWMutex
	kinds map[string]DescribeFunc
}

// NewResolvers returns an empty resolver registry.
func NewResolvers() *Resolvers {
	return &Resolvers{kinds: make(map[string]DescribeFunc)}
}

// Register installs the lookup function for a Ref kind, replacing any
// previous registration.
func (rr *Resolvers) Register(kind string, fn DescribeFunc) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.kinds[kind] = fn
}

// Describe resolves the reference. Unknown kinds fall back to the raw
// kind:id form rather than erroring — correlation is best effort.
func (rr *Resolvers) Describe(ctx context.Context, r *Ref) string {
	if r == nil {
		return ""
	}

	rr.mu.RLock()
	fn := rr.kinds[r.Kind]
	rr.mu.RUnlock()

	if fn == nil {
		return r.String()
	}

	desc, err := fn(ctx, r.ID)
	if err != nil {
		return fmt.Sprintf("%s (lookup failed: %v)", r.String(), err)
	}
	return desc
}
