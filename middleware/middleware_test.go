package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/martingalian/stride/step"
)

func testStep(t *testing.T, opts ...step.Option) *step.Step {
	t.Helper()
	s := step.New("orders.place", nil, opts...)
	return s
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(ctx context.Context, s *step.Step, next Handler) error {
			order = append(order, name+":pre")
			err := next(ctx)
			order = append(order, name+":post")
			return err
		}
	}

	chain := Chain(tag("outer"), tag("inner"))
	err := chain(context.Background(), testStep(t), func(ctx context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"outer:pre", "inner:pre", "handler", "inner:post", "outer:post"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("execution order = %v, want %v", order, want)
	}
}

func TestChainEmptyCallsHandler(t *testing.T) {
	called := false
	err := Chain()(context.Background(), testStep(t), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("empty chain: called=%v err=%v", called, err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	s := testStep(t)
	err := Recover(discard())(context.Background(), s, func(ctx context.Context) error {
		panic("kaboom")
	})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("recovered error = %v, want panic message", err)
	}
	if s.ErrorMessage == "" || s.ErrorStackTrace == "" {
		t.Error("panic not recorded on step")
	}
}

func TestRecoverPassthrough(t *testing.T) {
	want := errors.New("plain failure")
	err := Recover(discard())(context.Background(), testStep(t), func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestTimeoutCancelsContext(t *testing.T) {
	s := testStep(t, step.WithTimeout(10*time.Millisecond))
	err := Timeout(discard())(context.Background(), s, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("deadline never fired")
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestTimeoutZeroLeavesContextAlone(t *testing.T) {
	err := Timeout(discard())(context.Background(), testStep(t), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			return errors.New("unexpected deadline")
		}
		return nil
	})
	if err != nil {
		t.Errorf("err = %v", err)
	}
}

func TestLoggingPreservesError(t *testing.T) {
	want := errors.New("exchange rejected order")
	resolvers := step.NewResolvers()
	s := testStep(t, step.WithRelatable(step.NewRef("position", "42")))
	err := Logging(discard(), resolvers)(context.Background(), s, func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}
