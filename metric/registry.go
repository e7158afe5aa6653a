package metric

import (
	stderrors "errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/streamfan/errors"
)

// Registry manages all Prometheus collectors for one process. It wraps a
// private prometheus.Registry so independent registries can coexist in tests.
type Registry struct {
	prom *prometheus.Registry
	mu   sync.Mutex

	producer *ProducerMetrics
}

// NewRegistry creates a registry pre-loaded with Go runtime and process
// collectors plus the per-destination delivery metrics.
func NewRegistry() *Registry {
	r := &Registry{
		prom: prometheus.NewRegistry(),
	}

	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r.producer = newProducerMetrics()
	r.prom.MustRegister(
		r.producer.MessagesSent,
		r.producer.BatchesSent,
		r.producer.MessagesDropped,
		r.producer.SendFailures,
	)

	return r
}

// Register adds a collector, translating duplicate registration into an
// invalid-classified error.
func (r *Registry) Register(c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.prom.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if stderrors.As(err, &dup) {
			return errors.WrapInvalid(err, "Registry", "Register", "duplicate collector")
		}
		return errors.WrapFatal(err, "Registry", "Register", "register collector")
	}
	return nil
}

// Producer returns the shared per-destination delivery metrics.
func (r *Registry) Producer() *ProducerMetrics {
	return r.producer
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying gatherer, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// ProducerMetrics are the delivery counters labelled by destination name.
type ProducerMetrics struct {
	MessagesSent    *prometheus.CounterVec
	BatchesSent     *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec
	SendFailures    *prometheus.CounterVec
}

func newProducerMetrics() *ProducerMetrics {
	return &ProducerMetrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamfan",
				Subsystem: "producer",
				Name:      "messages_sent_total",
				Help:      "Messages delivered to the stream client",
			},
			[]string{"destination"},
		),
		BatchesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamfan",
				Subsystem: "producer",
				Name:      "batches_sent_total",
				Help:      "Batches delivered to the stream client",
			},
			[]string{"destination"},
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamfan",
				Subsystem: "producer",
				Name:      "messages_dropped_total",
				Help:      "Messages discarded while the destination was in backoff",
			},
			[]string{"destination"},
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamfan",
				Subsystem: "producer",
				Name:      "send_failures_total",
				Help:      "Batch sends that failed and opened the backoff window",
			},
			[]string{"destination"},
		),
	}
}
