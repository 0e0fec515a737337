package registry

import (
	"context"
	"testing"
)

func noop(ctx context.Context, payload, traceID string) (any, error) {
	return nil, nil
}

func TestRegisterRejectsUnknownJobType(t *testing.T) {
	r := New()
	if err := r.Register("shell.exec", noop); err == nil {
		t.Fatal("expected registration of a job type outside the enumeration to fail")
	}
	if err := r.Register("scheduler.tick", noop); err != nil {
		t.Fatalf("register scheduler.tick: %v", err)
	}
}

func TestLookup(t *testing.T) {
	r := New()
	if err := r.Register("index.build", noop); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := r.Lookup("index.build"); err != nil {
		t.Fatalf("lookup registered type: %v", err)
	}
	if _, err := r.Lookup("notify.dispatch"); err == nil {
		t.Fatal("expected lookup of an unregistered type to fail")
	}
}

func TestFatalErrorUnwraps(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &FatalError{Cause: cause}
	if err.Unwrap() != cause {
		t.Fatal("FatalError should unwrap to its cause")
	}
	if err.Error() != cause.Error() {
		t.Fatalf("Error() = %q, want %q", err.Error(), cause.Error())
	}
}
