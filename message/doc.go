// Package message defines the event payload shipped to stream destinations.
//
// A Message is an opaque key-value mapping supplied by the caller. The core
// enriches it with a generated id and a UTC timestamp immediately before it
// is appended to a producer buffer — not at creation — so the timestamp
// reflects intake order. Once submitted, the producer owns the message and
// the caller must not mutate it.
package message
