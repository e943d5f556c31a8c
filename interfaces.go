package tubes

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Handler executes reserved jobs. Returning nil destroys the job, returning
// Delayed (see ReservedJob.Delay) leaves it rescheduled, any other error
// releases the job for a retry or buries it once the tries are exhausted.
type Handler interface {
	Handle(ctx context.Context, job *ReservedJob) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *ReservedJob) error

func (f HandlerFunc) Handle(ctx context.Context, job *ReservedJob) error {
	return f(ctx, job)
}

// HandlerProvider is implemented by plugins which own tube handlers, keys are tube names.
type HandlerProvider interface {
	TubeHandlers() map[string]Handler
}

type Logger interface {
	NamedLogger(name string) *zap.Logger
}

type Tracer interface {
	Tracer() *sdktrace.TracerProvider
}

type Configurer interface {
	// UnmarshalKey takes a single key and unmarshal it into a Struct.
	UnmarshalKey(name string, out any) error
	// Has checks if config section exists.
	Has(name string) bool
}

// Informer reports the state of every watcher of a worker.
type Informer interface {
	Watchers() []*WatcherState
}
