// Package streamclient wraps the NATS JetStream publish path for one
// destination stream.
//
// A Client owns one NATS connection; a Publisher binds that connection to a
// destination subject and exposes the synchronous SendBatch operation the
// producers call from the shared worker pool. Failure handling above the
// send (backoff, drop policy) belongs to the producer — the client only
// reports errors.
package streamclient
