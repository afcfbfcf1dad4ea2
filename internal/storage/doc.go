// Package storage keeps the delivery log: one record per webhook send attempt.
//
// Drivers:
//   - "file": JSON Lines file, no dependencies
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
//
// The delivery log is an outcome history for operators. Pending events are
// never persisted.
package storage
