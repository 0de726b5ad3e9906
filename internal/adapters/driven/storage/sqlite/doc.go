// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO. It implements several ports through a single database:
//
//   - DetectionStore: detection records, the source of truth
//   - LabelIndex: per-user label postings ordered by recency
//   - IndexQueue: the outbox of pending label index updates
//   - SchedulerStore: background task state and history
//
// A record write and its index job are committed in one transaction, so the
// index can always be brought up to date from the queue.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.detectsearch/data/detections.db
//
// # Errors
//
// Lock contention and expired deadlines are reported as
// domain.ErrTransientStorage.
package sqlite
