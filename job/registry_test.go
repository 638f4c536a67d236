package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/job"
	"github.com/martingalian/stride/step"
)

type noopJob struct{}

func (noopJob) Compute(_ context.Context) (any, error) { return "ok", nil }

func noopFactory(_ *step.Step) (job.Job, error) { return noopJob{}, nil }

func TestRegistry_RegisterAndBuild(t *testing.T) {
	r := job.NewRegistry()
	r.Register("set-margin-mode", noopFactory,
		job.WithMaxRetries(5),
		job.WithRetryDelay(3*time.Second),
	)

	s := step.New("set-margin-mode", nil)
	jb, reg, err := r.Build(s)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if jb == nil {
		t.Fatal("Build returned nil job")
	}
	if reg.Opts.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", reg.Opts.MaxRetries)
	}
	if reg.Opts.RetryDelay != 3*time.Second {
		t.Errorf("RetryDelay = %v, want 3s", reg.Opts.RetryDelay)
	}
}

func TestRegistry_UnknownClass(t *testing.T) {
	r := job.NewRegistry()

	_, _, err := r.Build(step.New("no-such-class", nil))
	if !errors.Is(err, stride.ErrClassNotFound) {
		t.Errorf("err = %v, want ErrClassNotFound", err)
	}
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	r := job.NewRegistry()
	r.Register("open-position", noopFactory)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.Register("open-position", noopFactory)
}

func TestRegistry_Classes(t *testing.T) {
	r := job.NewRegistry()
	r.Register("a", noopFactory)
	r.Register("b", noopFactory)

	classes := r.Classes()
	if len(classes) != 2 {
		t.Errorf("Classes() returned %d entries, want 2", len(classes))
	}
}
