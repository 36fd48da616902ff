package resolution

import (
	"context"
)

// Sink receives the result of every successful run
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string
	Write(ctx context.Context, result *Result) error
}

// RunLocker serialises runs that touch the same entity types
type RunLocker interface {
	// Lock takes the lock for key without waiting and fails if it is held.
	// The returned func releases it.
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}
