// Package metric provides the Prometheus metrics registry shared by the
// producers, the worker pool, and the ingest gateway. Each process owns one
// Registry; collectors are registered at construction and exposed through
// the promhttp handler mounted by the gateway.
package metric
