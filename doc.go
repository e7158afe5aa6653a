// Package streamfan forwards high-volume front-end events to one or more
// durable NATS JetStream destinations, batched and asynchronously, with
// per-destination failure isolation.
//
// # Architecture
//
// The pipeline is a fixed chain of three layers:
//
//	message -> buffer -> batch -> stream client
//
//   - pkg/buffer holds pending messages for a single destination behind an
//     indivisible swap, so appends never race a drain.
//   - producer owns one buffer and one stream client per destination. It
//     enriches every message with an id and timestamp, ships batches through
//     a shared worker pool, and isolates a failing destination behind a
//     fixed backoff window during which pending messages are dropped.
//   - producer.Registry fans one event out to the subset of destinations
//     selected by a routing key, with a "default" fallback.
//
// Delivery is deliberately fire-and-forget: Dispatch and Submit never block
// on the network and never surface downstream errors. Only misconfiguration
// at construction time is a hard failure.
//
// # Ingest surface
//
// gateway/http exposes the thin collection endpoints (event POST, tracking
// pixel, visitor id) that turn an HTTP request into a message and a routing
// key. Everything behind the registry boundary is transport-agnostic.
package streamfan
