package registry

import (
	"context"
	"fmt"

	"github.com/yourorg/warrant/internal/contracts"
)

// Handler executes one job and returns the result data that will be hashed
// into the signed JobResult.
type Handler func(ctx context.Context, payload string, traceID string) (any, error)

// FatalError wraps a handler error that must not be retried.
// Return this to dead-letter a job on the first failure.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string { return e.Cause.Error() }
func (e *FatalError) Unwrap() error { return e.Cause }

// Registry maps job types to handlers. Only members of the closed job-type
// enumeration can be registered; tickets already reject unknown types, and
// the registry refuses them too so the two lists cannot drift apart.
type Registry struct {
	handlers map[string]Handler
}

func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(jobType string, h Handler) error {
	if !contracts.ValidJobType(jobType) {
		return fmt.Errorf("job type %q is not in the closed enumeration", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) Lookup(jobType string) (Handler, error) {
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for: %q", jobType)
	}
	return h, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}
