package id_test

import (
	"encoding/json"
	"testing"

	"github.com/martingalian/stride/id"
)

func TestNew_PrefixAndUniqueness(t *testing.T) {
	a := id.NewStepID()
	b := id.NewStepID()

	if a.Prefix() != id.PrefixStep {
		t.Errorf("prefix = %q, want %q", a.Prefix(), id.PrefixStep)
	}
	if a.String() == b.String() {
		t.Errorf("two generated IDs collided: %s", a)
	}
	if a.IsNil() {
		t.Error("generated ID reported IsNil")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewWorkerID()

	parsed, err := id.ParseWorkerID(orig.String())
	if err != nil {
		t.Fatalf("ParseWorkerID: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed, orig)
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	stepID := id.NewStepID()

	if _, err := id.ParseWorkerID(stepID.String()); err == nil {
		t.Error("expected prefix mismatch error, got nil")
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "not-a-typeid", "step_"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) = nil error, want failure", s)
		}
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	type wrapper struct {
		ID id.StepID `json:"id"`
	}

	orig := wrapper{ID: id.NewStepID()}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got wrapper
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID.String() != orig.ID.String() {
		t.Errorf("json round trip = %q, want %q", got.ID, orig.ID)
	}
}

func TestNil_Behaviour(t *testing.T) {
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}

	v, err := id.Nil.Value()
	if err != nil {
		t.Fatalf("Nil.Value: %v", err)
	}
	if v != nil {
		t.Errorf("Nil.Value() = %v, want nil", v)
	}
}
