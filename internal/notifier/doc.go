// Package notifier is the delivery path of drained batches.
//
// Dispatch is fire-and-forget: each batch gets its own supervised goroutine
// that renders the batch with package format, posts it through a
// transport.Sender and reports the outcome (log line, event bus, metrics).
// Failed batches are dropped, never retried or requeued.
//
// # Batch ids
//
// Every dispatched batch carries a random UUID so the log lines of one
// delivery, its bus event and its delivery-log record can be correlated.
package notifier
