package tubes

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/beanstalk"
	"github.com/roadrunner-server/tubes/queue"
	jprop "go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const (
	PluginName string = "tubes"

	// v2023.1.0 OTEL
	spanName string = "tubes"
)

type Plugin struct {
	mu sync.RWMutex

	cfg *Config `structure:"tubes"`
	log *zap.Logger

	dialer   queue.Dialer
	worker   *Worker
	handlers map[string]Handler
	tracer   *sdktrace.TracerProvider

	// initial set of the tubes to consume
	consume map[string]struct{}

	metrics *statsExporter
}

func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("tubes_plugin_init")
	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	err := cfg.UnmarshalKey(PluginName, &p.cfg)
	if err != nil {
		return errors.E(op, err)
	}

	if p.cfg == nil {
		p.cfg = &Config{}
	}

	err = p.cfg.InitDefaults()
	if err != nil {
		return errors.E(op, err)
	}

	p.log = log.NamedLogger(PluginName)
	p.handlers = make(map[string]Handler)
	p.consume = make(map[string]struct{}, len(p.cfg.Consume))
	for i := 0; i < len(p.cfg.Consume); i++ {
		p.consume[p.cfg.Consume[i]] = struct{}{}
	}

	if p.dialer == nil {
		p.dialer, err = beanstalk.NewDialer(p.cfg.Addr, p.cfg.ConnectTimeout)
		if err != nil {
			return errors.E(op, err)
		}
	}

	// collector
	p.metrics = newStatsExporter(p)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}, jprop.Jaeger{}))

	return nil
}

func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)
	const op = errors.Op("tubes_plugin_serve")

	if p.tracer == nil {
		// noop tracer
		p.tracer = sdktrace.NewTracerProvider()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.worker = NewWorker(p.dialer,
		WithLogger(p.log),
		WithConnectTimeout(p.cfg.ConnectTimeout),
		WithTracerProvider(p.tracer),
		withStatsExporter(p.metrics),
		WithErrorHandler(func(err error) {
			p.log.Error("watcher error", zap.Error(err))
		}),
	)

	for name, handler := range p.handlers {
		err := p.worker.Handle(name, handler, p.cfg.Tubes[name])
		if err != nil {
			errCh <- errors.E(op, err)
			return errCh
		}

		if !p.consumes(name) {
			p.log.Debug("tube is not consumed", zap.String("tube", name))
			continue
		}

		p.worker.Tube(name).Start()
	}

	for name := range p.consume {
		if _, ok := p.handlers[name]; !ok {
			p.log.Warn("no handler registered for the consumed tube", zap.String("tube", name))
		}
	}

	p.log.Debug("tubes plugin started", zap.String("addr", p.cfg.Addr), zap.Int("handlers", len(p.handlers)))
	return errCh
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.RLock()
	w := p.worker
	p.mu.RUnlock()

	if w == nil {
		return nil
	}

	w.Stop(ctx)
	return nil
}

func (p *Plugin) Collects() []*dep.In {
	return []*dep.In{
		dep.Fits(func(pp any) {
			provider := pp.(HandlerProvider)
			for name, h := range provider.TubeHandlers() {
				if _, ok := p.handlers[name]; ok {
					p.log.Warn("tube handler is overwritten", zap.String("tube", name))
				}
				p.handlers[name] = h
			}
		}, (*HandlerProvider)(nil)),
		dep.Fits(func(pp any) {
			p.tracer = pp.(Tracer).Tracer()
		}, (*Tracer)(nil)),
	}
}

// Watchers implements Informer, nil until the plugin is served.
func (p *Plugin) Watchers() []*WatcherState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.worker == nil {
		return nil
	}

	return p.worker.Watchers()
}

func (p *Plugin) MetricsCollector() []prometheus.Collector {
	// p - implements Informer interface (watchers)
	return []prometheus.Collector{p.metrics}
}

func (p *Plugin) Name() string {
	return PluginName
}

func (p *Plugin) RPC() any {
	return &rpc{
		p: p,
	}
}

// Worker returns the served worker, nil before Serve.
func (p *Plugin) Worker() *Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.worker
}

// consumes reports whether the tube is started on Serve, every tube when consume is empty.
func (p *Plugin) consumes(name string) bool {
	if len(p.consume) == 0 {
		return true
	}

	_, ok := p.consume[name]
	return ok
}
