// Package exchangeapi defines the per-exchange exception handler contract
// consumed by the recovery classifier. Handlers recognize exchange-specific
// error shapes (rate limits, transient server errors, permission failures)
// without this module knowing anything about wire formats or signing —
// those live in the exchange client packages outside the engine.
package exchangeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/martingalian/stride/step"
)

// Handler classifies and resolves errors raised by calls to one API system.
type Handler interface {
	// RetryException reports whether the error is a transient exchange
	// condition worth retrying (rate limit, server-side error).
	RetryException(err error) bool

	// IgnoreException reports whether the error is harmless for this
	// exchange (e.g. cancelling an order that is already gone).
	IgnoreException(err error) bool

	// ResolveException runs exchange-specific compensating logic for an
	// error that is about to fail the step. It may finalize the step by
	// mutating it to a terminal state.
	ResolveException(ctx context.Context, s *step.Step, err error) error

	// IsForbidden reports whether the error is a permission/authentication
	// failure that must never be retried.
	IsForbidden(err error) bool
}

// Registry maps API system names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs the handler for an API system.
func (r *Registry) Register(apiSystem string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[apiSystem] = h
}

// Get returns the handler for an API system, or nil if none is registered.
func (r *Registry) Get(apiSystem string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[apiSystem]
}

// StatusError is the transport-level error shape exchange clients surface
// to the engine: an HTTP status plus the raw response body for logs.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("exchange responded %d: %s", e.Code, e.Body)
}

// StatusOf extracts the HTTP status from an error chain, returning 0 when
// none is present.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// StatusHandler is the default status-code based handler: 429 (and the
// 418 ban code some exchanges use) and all 5xx responses are transient;
// 401/403 are forbidden. It carries no resolve logic.
type StatusHandler struct {
	// IgnoreCodes are treated as idempotent duplicates, e.g. a 404 from
	// cancelling an already-cancelled order.
	IgnoreCodes []int
}

// RetryException implements Handler.
func (h *StatusHandler) RetryException(err error) bool {
	code := StatusOf(err)
	return code == http.StatusTooManyRequests ||
		code == http.StatusTeapot || // exchange IP-ban code
		code >= http.StatusInternalServerError
}

// IgnoreException implements Handler.
func (h *StatusHandler) IgnoreException(err error) bool {
	code := StatusOf(err)
	for _, ignorable := range h.IgnoreCodes {
		if code == ignorable {
			return true
		}
	}
	return false
}

// ResolveException implements Handler. The plain status handler has no
// compensating action.
func (h *StatusHandler) ResolveException(_ context.Context, _ *step.Step, _ error) error {
	return nil
}

// IsForbidden implements Handler.
func (h *StatusHandler) IsForbidden(err error) bool {
	code := StatusOf(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
