package backoff_test

import (
	"testing"
	"time"

	"github.com/martingalian/stride/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(10 * time.Second)

	for _, attempt := range []int{1, 2, 10} {
		if d := c.Delay(attempt); d != 10*time.Second {
			t.Errorf("Delay(%d) = %v, want 10s", attempt, d)
		}
	}
}

func TestExponential_MonotonicAndCapped(t *testing.T) {
	e := backoff.NewExponential(5*time.Second, 2*time.Minute)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 80 * time.Second},
		{6, 2 * time.Minute}, // capped
		{7, 2 * time.Minute},
	}
	var prev time.Duration
	for _, tc := range cases {
		got := e.Delay(tc.attempt)
		if got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
		if got < prev {
			t.Errorf("Delay(%d) = %v decreased below %v", tc.attempt, got, prev)
		}
		prev = got
	}
}

func TestExponential_ClampsAttemptFloor(t *testing.T) {
	e := backoff.NewExponential(time.Second, 0)

	if d := e.Delay(0); d != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", d)
	}
	if d := e.Delay(-3); d != time.Second {
		t.Errorf("Delay(-3) = %v, want 1s", d)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	j := backoff.NewExponentialWithJitter(time.Second, 30*time.Second)

	for attempt := 1; attempt <= 8; attempt++ {
		for range 50 {
			d := j.Delay(attempt)
			if d < 0 || d > 30*time.Second {
				t.Fatalf("Delay(%d) = %v out of [0, 30s]", attempt, d)
			}
		}
	}
}

func TestDefaultTransient(t *testing.T) {
	s := backoff.DefaultTransient()

	if d := s.Delay(1); d != 5*time.Second {
		t.Errorf("first retry = %v, want 5s", d)
	}
	if d := s.Delay(20); d != 5*time.Minute {
		t.Errorf("late retry = %v, want 5m cap", d)
	}
}
