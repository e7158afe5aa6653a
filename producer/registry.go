package producer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/streamfan/config"
	"github.com/c360/streamfan/errors"
	"github.com/c360/streamfan/message"
	"github.com/c360/streamfan/metric"
	"github.com/c360/streamfan/pkg/worker"
	"github.com/c360/streamfan/streamclient"
)

// SenderFactory builds the stream client for one named destination.
type SenderFactory func(name string, pc config.ProducerConfig) (BatchSender, error)

// RegistryOption configures Registry construction.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics wires the shared metrics registry into the producers and the
// flush pool.
func WithMetrics(m *metric.Registry) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithSenderFactory replaces the default JetStream client factory; tests use
// this to inject fakes.
func WithSenderFactory(f SenderFactory) RegistryOption {
	return func(r *Registry) {
		r.factory = f
	}
}

// Registry owns every stream producer, the routing table, and the shared
// flush worker pool. It is built once at startup and never mutated.
type Registry struct {
	producers map[string]*Producer
	routes    map[string][]*Producer
	settings  config.Settings

	logger  *slog.Logger
	metrics *metric.Registry
	factory SenderFactory

	// The pool is created lazily on first flush — pre-forking front ends
	// must not inherit a half-initialized pool — and exactly once.
	poolMu sync.Mutex
	pool   *worker.Pool[FlushJob]
}

// NewRegistry validates the configuration and builds every producer and the
// routing table. Configuration errors are fatal: the process must not start
// serving on a registry that cannot route or deliver.
func NewRegistry(cfg *config.Config, opts ...RegistryOption) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		producers: make(map[string]*Producer, len(cfg.Producers)),
		routes:    make(map[string][]*Producer),
		settings:  cfg.Settings,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		r.factory = jetStreamSenderFactory(r.logger)
	}

	var producerMetrics *metric.ProducerMetrics
	if r.metrics != nil {
		producerMetrics = r.metrics.Producer()
	}

	// One producer per named destination, deduplicated by the config map.
	for name, pc := range cfg.Producers {
		sender, err := r.factory(name, pc)
		if err != nil {
			return nil, errors.WrapFatal(err, "Registry", "NewRegistry",
				fmt.Sprintf("build stream client for %q", name))
		}
		r.producers[name] = NewProducer(name, sender, r.submitFlush, Options{
			BatchSize: cfg.Settings.BatchSize,
			Backoff:   cfg.Settings.Backoff,
			Logger:    r.logger,
			Metrics:   producerMetrics,
		})
	}

	for selector, names := range cfg.RouteTable() {
		targets := make([]*Producer, 0, len(names))
		for _, name := range names {
			// Validate() already guarantees the name exists.
			targets = append(targets, r.producers[name])
		}
		r.routes[selector] = targets
	}

	r.logger.Info("producer registry built",
		"destinations", len(r.producers),
		"routes", len(r.routes),
		"batch_size", cfg.Settings.BatchSize,
		"backoff", cfg.Settings.Backoff)

	return r, nil
}

// jetStreamSenderFactory is the default factory: one JetStream client per
// destination, bound to the configured subject.
func jetStreamSenderFactory(logger *slog.Logger) SenderFactory {
	return func(name string, pc config.ProducerConfig) (BatchSender, error) {
		client, err := streamclient.NewClient(pc.URL,
			streamclient.WithName("streamfan-"+name),
			streamclient.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(context.Background()); err != nil {
			return nil, err
		}
		return client.Publisher(pc.Subject), nil
	}
}

// Producer returns the named producer, or nil when unknown.
func (r *Registry) Producer(name string) *Producer {
	return r.producers[name]
}

// ResolveTargets returns the producer set routed from the selector value,
// falling back to the "default" set when the value is absent or unmapped.
// Pure lookup, no side effects.
func (r *Registry) ResolveTargets(selector string) []*Producer {
	if targets, ok := r.routes[selector]; ok {
		return targets
	}
	return r.routes[config.DefaultRouteKey]
}

// Dispatch fans the message out to every producer routed from the selector.
// There is no ordering guarantee across producers and no cross-stream flush
// consistency: each destination batches and fails independently. The caller
// must not mutate the message after dispatching it.
func (r *Registry) Dispatch(msg message.Message, selector string) {
	for _, p := range r.ResolveTargets(selector) {
		p.Submit(msg)
	}
}

// FlushAll flushes every producer. When sync is true it is the
// graceful-termination path and the only one that blocks: the shared pool is
// stopped so in-flight batches finish, every producer sends its remainder
// synchronously via Close, and each sender that can be torn down is closed.
func (r *Registry) FlushAll(sync bool) error {
	if !sync {
		for _, p := range r.producers {
			p.Flush()
		}
		return nil
	}

	r.poolMu.Lock()
	pool := r.pool
	r.pool = nil
	r.poolMu.Unlock()

	var stopErr error
	if pool != nil {
		if err := pool.Stop(r.settings.StopTimeout); err != nil {
			stopErr = errors.WrapTransient(err, "Registry", "FlushAll", "stop worker pool")
		} else {
			r.logger.Info("flush pool stopped", "stats", pool.Stats())
		}
	}

	ctx := context.Background()
	for _, p := range r.producers {
		if err := p.Close(ctx); err != nil {
			r.logger.Warn("final drain incomplete", "destination", p.Name(), "error", err)
		}
		if closer, ok := p.sender.(interface{ Close() }); ok {
			closer.Close()
		}
	}

	return stopErr
}

// submitFlush enqueues a flush job on the shared pool, creating the pool on
// first use.
func (r *Registry) submitFlush(job FlushJob) error {
	pool, err := r.getPool()
	if err != nil {
		return err
	}
	return pool.Submit(job)
}

func (r *Registry) getPool() (*worker.Pool[FlushJob], error) {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()

	if r.pool != nil {
		return r.pool, nil
	}

	var opts []worker.Option[FlushJob]
	if r.metrics != nil {
		opts = append(opts, worker.WithMetrics[FlushJob](r.metrics, "streamfan_flush_pool"))
	}

	pool, err := worker.NewPool(r.settings.WorkerPoolSize, r.settings.QueueSize, r.process, opts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Registry", "getPool", "create worker pool")
	}
	if err := pool.Start(context.Background()); err != nil {
		return nil, errors.WrapFatal(err, "Registry", "getPool", "start worker pool")
	}

	r.logger.Debug("flush pool started",
		"workers", r.settings.WorkerPoolSize,
		"queue_size", r.settings.QueueSize)

	r.pool = pool
	return pool, nil
}

// process runs one flush job on a pool worker.
func (r *Registry) process(ctx context.Context, job FlushJob) error {
	return job.producer.deliver(ctx, job.batch)
}
