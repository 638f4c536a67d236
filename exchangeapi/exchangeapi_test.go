package exchangeapi_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/martingalian/stride/exchangeapi"
)

func TestStatusHandler_Retry(t *testing.T) {
	h := &exchangeapi.StatusHandler{}

	retryable := []int{http.StatusTooManyRequests, http.StatusTeapot, 500, 502, 503}
	for _, code := range retryable {
		err := &exchangeapi.StatusError{Code: code}
		if !h.RetryException(err) {
			t.Errorf("status %d not classified retryable", code)
		}
	}

	for _, code := range []int{200, 400, 404, 409} {
		err := &exchangeapi.StatusError{Code: code}
		if h.RetryException(err) {
			t.Errorf("status %d classified retryable", code)
		}
	}
}

func TestStatusHandler_Forbidden(t *testing.T) {
	h := &exchangeapi.StatusHandler{}

	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		if !h.IsForbidden(&exchangeapi.StatusError{Code: code}) {
			t.Errorf("status %d not classified forbidden", code)
		}
	}
	if h.IsForbidden(&exchangeapi.StatusError{Code: 429}) {
		t.Error("429 classified forbidden")
	}
}

func TestStatusHandler_IgnoreCodes(t *testing.T) {
	h := &exchangeapi.StatusHandler{IgnoreCodes: []int{404}}

	if !h.IgnoreException(&exchangeapi.StatusError{Code: 404}) {
		t.Error("configured ignore code not ignored")
	}
	if h.IgnoreException(&exchangeapi.StatusError{Code: 400}) {
		t.Error("unconfigured code ignored")
	}
}

func TestStatusOf_UnwrapsChain(t *testing.T) {
	inner := &exchangeapi.StatusError{Code: 503, Body: "maintenance"}
	wrapped := fmt.Errorf("place entry order: %w", inner)

	if got := exchangeapi.StatusOf(wrapped); got != 503 {
		t.Errorf("StatusOf = %d, want 503", got)
	}
	if got := exchangeapi.StatusOf(fmt.Errorf("plain")); got != 0 {
		t.Errorf("StatusOf(plain) = %d, want 0", got)
	}
}

func TestRegistry(t *testing.T) {
	r := exchangeapi.NewRegistry()
	h := &exchangeapi.StatusHandler{}
	r.Register("binance-futures", h)

	if r.Get("binance-futures") != h {
		t.Error("registered handler not returned")
	}
	if r.Get("unknown") != nil {
		t.Error("unknown system returned a handler")
	}
}
