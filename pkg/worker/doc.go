// Package worker provides the bounded worker pool that executes
// asynchronous batch-send jobs for all stream producers.
//
// The pool is shared: every producer submits flush jobs to the same queue,
// and the pool size bounds total concurrent sends. Submit never blocks —
// when the queue is full the job is dropped and reported, consistent with
// the fire-and-forget delivery model.
package worker
