package tubes

import (
	"context"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const rpcTimeout time.Duration = time.Minute

type rpc struct {
	p *Plugin
}

type SpawnRequest struct {
	Tube    string            `json:"tube"`
	Payload json.RawMessage   `json:"payload"`
	Options Options           `json:"options,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type SpawnResponse struct {
	ID uint64 `json:"id"`
}

type SpawnBatchRequest struct {
	Jobs []*SpawnRequest `json:"jobs"`
}

type SpawnBatchResponse struct {
	IDs []uint64 `json:"ids"`
}

type JobRequest struct {
	Tube string `json:"tube"`
	ID   uint64 `json:"id"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type WorkingResponse struct {
	Working  bool            `json:"working"`
	Watchers []*WatcherState `json:"watchers"`
}

type Empty struct{}

func (r *rpc) Spawn(req *SpawnRequest, resp *SpawnResponse) error {
	const op = errors.Op("rpc_spawn")

	w, err := r.worker()
	if err != nil {
		return errors.E(op, err)
	}

	ctx, cancel := context.WithTimeout(rpcContextFromHeaders(req.Headers), rpcTimeout)
	defer cancel()

	ctx, span := r.p.tracer.Tracer(spanName).Start(ctx, "spawn", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	id, err := r.spawn(ctx, w, req)
	if err != nil {
		span.SetAttributes(attribute.KeyValue{
			Key:   "error",
			Value: attribute.StringValue(err.Error()),
		})
		return errors.E(op, err)
	}

	resp.ID = id
	return nil
}

// SpawnBatch spawns the jobs concurrently, at most Parallelism at a time.
// IDs of the jobs spawned before a failure are still returned.
func (r *rpc) SpawnBatch(req *SpawnBatchRequest, resp *SpawnBatchResponse) error {
	const op = errors.Op("rpc_spawn_batch")

	w, err := r.worker()
	if err != nil {
		return errors.E(op, err)
	}

	ctx, cancel := context.WithTimeout(rpcContextFromRequests(req.Jobs), rpcTimeout)
	defer cancel()

	ctx, span := r.p.tracer.Tracer(spanName).Start(ctx, "spawn_batch", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	mu := sync.Mutex{}
	ids := make([]uint64, len(req.Jobs))

	errg := errgroup.Group{}
	errg.SetLimit(r.p.cfg.Parallelism)

	for i := range req.Jobs {
		errg.Go(func() error {
			if req.Jobs[i] == nil {
				return errors.Errorf("job %d is empty", i)
			}

			id, err := r.spawn(ctx, w, req.Jobs[i])
			if err != nil {
				return err
			}

			mu.Lock()
			ids[i] = id
			mu.Unlock()
			return nil
		})
	}

	err = errg.Wait()
	resp.IDs = ids
	if err != nil {
		span.SetAttributes(attribute.KeyValue{
			Key:   "error",
			Value: attribute.StringValue(err.Error()),
		})
		return errors.E(op, err)
	}

	return nil
}

func (r *rpc) Status(req *JobRequest, resp *StatusResponse) error {
	const op = errors.Op("rpc_status")

	w, err := r.worker()
	if err != nil {
		return errors.E(op, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	ctx, span := r.p.tracer.Tracer(spanName).Start(ctx, "status", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	status, err := w.Job(req.Tube, req.ID).Status(ctx)
	if err != nil {
		span.SetAttributes(attribute.KeyValue{
			Key:   "error",
			Value: attribute.StringValue(err.Error()),
		})
		return errors.E(op, err)
	}

	resp.Status = status
	return nil
}

func (r *rpc) Working(_ *Empty, resp *WorkingResponse) error {
	const op = errors.Op("rpc_working")

	w, err := r.worker()
	if err != nil {
		return errors.E(op, err)
	}

	_, span := r.p.tracer.Tracer(spanName).Start(context.Background(), "working", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	resp.Working = w.Working()
	resp.Watchers = w.Watchers()
	return nil
}

func (r *rpc) worker() (*Worker, error) {
	w := r.p.Worker()
	if w == nil {
		return nil, errors.Str("tubes plugin is not served yet")
	}

	return w, nil
}

func (r *rpc) spawn(ctx context.Context, w *Worker, req *SpawnRequest) (uint64, error) {
	if req.Tube == "" {
		return 0, errors.Str("empty tube name not allowed")
	}

	// a nil RawMessage is not a nil payload
	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	job, err := w.Spawn(ctx, req.Tube, payload, req.Options)
	if err != nil {
		return 0, err
	}

	return job.ID(), nil
}

// rpcContextFromHeaders extracts the trace context sent by the client, header
// names are matched case-insensitively.
func rpcContextFromHeaders(headers map[string]string) context.Context {
	if len(headers) == 0 {
		return context.Background()
	}

	carrier := propagation.HeaderCarrier{}
	for k, v := range headers {
		if v == "" {
			continue
		}
		carrier[textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(k))] = []string{v}
	}

	return otel.GetTextMapPropagator().Extract(context.Background(), carrier)
}

// rpcContextFromRequests uses the first valid trace context of the batch.
func rpcContextFromRequests(reqs []*SpawnRequest) context.Context {
	for i := 0; i < len(reqs); i++ {
		if reqs[i] == nil {
			continue
		}

		ctx := rpcContextFromHeaders(reqs[i].Headers)
		if trace.SpanContextFromContext(ctx).IsValid() {
			return ctx
		}
	}

	return context.Background()
}
