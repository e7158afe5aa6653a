package producer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/streamfan/errors"
	"github.com/c360/streamfan/message"
	"github.com/c360/streamfan/metric"
	"github.com/c360/streamfan/pkg/buffer"
)

// BatchSender is the downstream stream-client operation. It is synchronous
// from the calling goroutine's perspective and returns an error on failure.
type BatchSender interface {
	SendBatch(ctx context.Context, batch [][]byte) error
}

// FlushJob is one drained batch bound to the producer that owns it, queued
// on the shared worker pool.
type FlushJob struct {
	producer *Producer
	batch    [][]byte
}

// Options configure a single Producer. The registry applies the shared
// settings uniformly; tests construct producers directly.
type Options struct {
	BatchSize int
	Backoff   time.Duration
	Logger    *slog.Logger
	Metrics   *metric.ProducerMetrics
}

// Producer accumulates messages for one destination stream and ships them in
// batches without ever letting a slow or failing destination stall the
// caller.
type Producer struct {
	name      string
	sender    BatchSender
	submitJob func(FlushJob) error

	buf       *buffer.SwapBuffer[[]byte]
	batchSize int
	backoff   time.Duration

	// blockedUntil is the circuit-breaker state, written by the pool worker
	// on send failure and read by Flush; mu guards it because both sides
	// run concurrently.
	mu           sync.Mutex
	blockedUntil time.Time

	logger  *slog.Logger
	metrics *metric.ProducerMetrics
}

// NewProducer creates a producer for one named destination. submitJob hands
// a drained batch to the shared worker pool.
func NewProducer(name string, sender BatchSender, submitJob func(FlushJob) error, opts Options) *Producer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Producer{
		name:      name,
		sender:    sender,
		submitJob: submitJob,
		buf:       buffer.New[[]byte](),
		batchSize: opts.BatchSize,
		backoff:   opts.Backoff,
		logger:    opts.Logger.With("destination", name),
		metrics:   opts.Metrics,
	}
}

// Name returns the destination name.
func (p *Producer) Name() string {
	return p.name
}

// Pending reports the current buffered message count (threshold heuristic).
func (p *Producer) Pending() int {
	return p.buf.Len()
}

// Blocked reports whether the producer is inside its backoff window.
func (p *Producer) Blocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.blockedUntil)
}

// Submit enriches the message with a unique id and UTC timestamp, encodes
// it, and appends it to the buffer. Reaching the batch threshold triggers an
// asynchronous flush. Submit never blocks on network I/O and never surfaces
// downstream errors; the producer owns the message from here on.
func (p *Producer) Submit(msg message.Message) {
	msg.Enrich()

	data, err := msg.Encode()
	if err != nil {
		// An unserializable payload cannot be shipped; drop it rather than
		// poison the batch.
		p.logger.Warn("dropping unserializable message", "error", err)
		if p.metrics != nil {
			p.metrics.MessagesDropped.WithLabelValues(p.name).Inc()
		}
		return
	}

	p.buf.Append(data)

	if p.buf.Len() >= p.batchSize {
		p.Flush()
	}
}

// Flush drains the buffer and queues the batch on the shared worker pool.
// While the producer is blocked, the pending buffer is discarded instead —
// dropped, not retried. The call blocks only to enqueue; batches in flight
// concurrently may complete out of order, which is fine because batches are
// independent.
func (p *Producer) Flush() {
	if p.Blocked() {
		dropped := p.buf.Reset()
		if dropped > 0 {
			p.mu.Lock()
			until := p.blockedUntil
			p.mu.Unlock()
			p.logger.Debug("discarding pending messages, producer is blocked",
				"dropped", dropped,
				"blocked_until", until)
			if p.metrics != nil {
				p.metrics.MessagesDropped.WithLabelValues(p.name).Add(float64(dropped))
			}
		}
		return
	}

	batch := p.buf.Drain()
	if err := p.submitJob(FlushJob{producer: p, batch: batch}); err != nil {
		p.logger.Warn("flush job rejected, dropping batch",
			"messages", len(batch),
			"error", err)
		if p.metrics != nil {
			p.metrics.MessagesDropped.WithLabelValues(p.name).Add(float64(len(batch)))
		}
	}
}

// Close drains the buffer and sends the final batch synchronously on the
// calling goroutine, bypassing the pool. It blocks until the send finishes
// and is the shutdown path only; a blocked producer drops its remainder and
// reports ErrProducerBlocked instead of sending.
func (p *Producer) Close(ctx context.Context) error {
	if p.Blocked() {
		dropped := p.buf.Reset()
		if dropped > 0 {
			p.logger.Warn("discarding final messages, producer is blocked",
				"dropped", dropped)
			if p.metrics != nil {
				p.metrics.MessagesDropped.WithLabelValues(p.name).Add(float64(dropped))
			}
		}
		return errors.WrapTransient(errors.ErrProducerBlocked, "Producer", "Close",
			fmt.Sprintf("drain %s", p.name))
	}
	return p.deliver(ctx, p.buf.Drain())
}

// deliver runs on a pool worker: it sends the batch and updates the circuit
// breaker. An empty batch is a no-op send, still logged.
func (p *Producer) deliver(ctx context.Context, batch [][]byte) error {
	var err error
	if len(batch) > 0 {
		err = p.sender.SendBatch(ctx, batch)
	}

	if err != nil {
		p.mu.Lock()
		p.blockedUntil = time.Now().Add(p.backoff)
		until := p.blockedUntil
		p.mu.Unlock()

		p.logger.Error("batch send failed, blocking producer",
			"messages", len(batch),
			"blocked_until", until,
			"backoff", p.backoff,
			"error", err)
		if p.metrics != nil {
			p.metrics.SendFailures.WithLabelValues(p.name).Inc()
			p.metrics.MessagesDropped.WithLabelValues(p.name).Add(float64(len(batch)))
		}
		return err
	}

	p.logger.Debug("batch sent", "messages", len(batch))
	if p.metrics != nil {
		p.metrics.BatchesSent.WithLabelValues(p.name).Inc()
		p.metrics.MessagesSent.WithLabelValues(p.name).Add(float64(len(batch)))
	}
	return nil
}
