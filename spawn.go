package tubes

import (
	"context"
	"time"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/protocol"
	"github.com/roadrunner-server/tubes/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// jobs with a shorter ttr leave no room for a touch before the deadline
const minTouchableTTR time.Duration = 3 * time.Second

// Spawn enqueues payload into the tube and returns the handle of the new job.
// A nil payload is rejected, use an empty object to enqueue a job without data.
func (w *Worker) Spawn(ctx context.Context, tube string, payload any, opts Options) (*Job, error) {
	const op = errors.Op("tubes_spawn")

	start := time.Now()
	ctx, span := w.tracer.Tracer(tracerName).Start(ctx, "spawn")
	defer span.End()

	id, err := w.spawn(ctx, tube, payload, opts)
	w.metrics.observePush(tube, start, err)
	if err != nil {
		span.RecordError(err)
		return nil, errors.E(op, err)
	}

	span.SetAttributes(attribute.String("tube", tube), attribute.Int64("id", int64(id))) //nolint:gosec
	return w.Job(tube, id), nil
}

func (w *Worker) spawn(ctx context.Context, tube string, payload any, opts Options) (uint64, error) {
	if payload == nil {
		return 0, ErrNoPayload
	}

	if opts == nil {
		opts = Options{}
	}

	ttr := opts.Timeout()
	if ttr < minTouchableTTR {
		w.log.Warn("job timeout is too short to keep the job alive, use at least 3s",
			zap.String("tube", tube),
			zap.Duration("timeout", ttr),
		)
	}

	headers := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	body, err := protocol.Encode(payload, headers, opts.Metadata())
	if err != nil {
		return 0, err
	}

	priority := opts.Priority()
	delay := ceilSeconds(opts.Delay())
	ttr = ceilSeconds(ttr)

	var id uint64
	err = w.Tube(tube).Command(ctx, func(ctx context.Context, c queue.Client) error {
		var err error
		id, err = c.Put(ctx, priority, delay, ttr, body)
		return err
	})
	if err != nil {
		return 0, err
	}

	w.log.Debug("job spawned",
		zap.String("tube", tube),
		zap.Uint64("id", id),
		zap.Uint32("priority", priority),
		zap.Duration("delay", delay),
		zap.Duration("ttr", ttr),
	)

	return id, nil
}
