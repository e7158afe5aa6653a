// Package buffer provides a thread-safe, swap-on-drain buffer for pending
// messages.
//
// The buffer exists to make the hand-off between "messages being appended"
// and "messages being shipped" lossless: Drain replaces the backing slice
// in a single guarded step, so every appended item lands in exactly one of
// the drained batch or the buffer that remains. There is no copy-then-clear
// window in which a concurrent append could be lost.
package buffer
