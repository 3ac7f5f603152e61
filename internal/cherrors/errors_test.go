package cherrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_ErrorStringHasNoCauseSuffix(t *testing.T) {
	err := New(NotFound, "task abc123 not found")
	want := "NotFound: task abc123 not found"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Unwrap() != nil {
		t.Fatalf("Unwrap() = %v, want nil", err.Unwrap())
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf(GraphInvariantViolation, "node %q references unknown target %q", "n1", "n9")
	want := `GraphInvariantViolation: node "n1" references unknown target "n9"`
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap_ErrorStringIncludesCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(BackendProcess, "backend process exited with error", cause)
	want := "BackendProcess: backend process exited with error: exit status 1"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Unwrap() != cause {
		t.Fatalf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestIs_MatchesDirectKind(t *testing.T) {
	err := New(LockBusy, "could not acquire queue lock")
	if !Is(err, LockBusy) {
		t.Fatal("Is(err, LockBusy) = false, want true")
	}
	if Is(err, NotFound) {
		t.Fatal("Is(err, NotFound) = true, want false")
	}
}

func TestIs_UnwrapsThroughFmtErrorfWrapping(t *testing.T) {
	inner := New(BackendTimeout, "deadline exceeded")
	wrapped := fmt.Errorf("invoke adapter: %w", inner)
	if !Is(wrapped, BackendTimeout) {
		t.Fatal("Is(wrapped, BackendTimeout) = false, want true")
	}
}

func TestIs_NilErrorNeverMatches(t *testing.T) {
	if Is(nil, NotFound) {
		t.Fatal("Is(nil, NotFound) = true, want false")
	}
}

func TestIs_PlainErrorNeverMatches(t *testing.T) {
	if Is(errors.New("boom"), NotFound) {
		t.Fatal("Is(plain error, NotFound) = true, want false")
	}
}

func TestExitCode_CoversEveryKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{NotFound, 3},
		{AmbiguousPrefix, 4},
		{LockBusy, 5},
		{ConcurrencyConflict, 5},
		{InvalidStateTransition, 2},
		{GraphInvariantViolation, 2},
		{Usage, 2},
		{BackendTimeout, 1},
		{BackendCancelled, 1},
		{BackendProcess, 1},
		{BackendConfig, 1},
		{CorruptJSON, 1},
	}
	for _, c := range cases {
		if got := c.kind.ExitCode(); got != c.want {
			t.Errorf("%s.ExitCode() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestExitCode_UnknownKindDefaultsToOne(t *testing.T) {
	if got := Kind("SomethingNovel").ExitCode(); got != 1 {
		t.Fatalf("ExitCode() = %d, want 1", got)
	}
}
