// Package producer implements batched, fire-and-forget delivery of messages
// to named stream destinations, and the registry that fans one message out
// to the destinations selected by a routing key.
//
// Each Producer owns a swap buffer and a circuit-breaker window for exactly
// one destination. Submit enriches and appends; reaching the batch threshold
// triggers an asynchronous flush through the pool shared by all producers.
// A failed send blocks only that producer for a fixed cool-down, during
// which its pending messages are discarded rather than retried — bounded
// staleness is preferred over unbounded queues. This drop-on-backoff policy
// is a product decision worth revisiting, not an implementation shortcut.
//
// The Registry is built once from configuration and never mutated: the
// routing table, the producer set, and the shared worker pool (created
// lazily on first flush) all live for the process lifetime. Shutdown is the
// only blocking path: FlushAll(true) drains every buffer, waits for
// in-flight sends, and stops the pool.
package producer
