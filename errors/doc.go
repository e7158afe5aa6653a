// Package errors provides standardized error handling for streamfan.
// Errors are classified as transient, invalid, or fatal so callers can
// decide between absorbing a failure (the producer circuit breaker),
// rejecting input, or refusing to start.
package errors
