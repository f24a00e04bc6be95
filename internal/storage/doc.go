// Package storage records which (subscriber, event) pairs were already notified.
//
// Drivers:
//   - file: one JSON document, re-read on every call and replaced atomically on change
//   - sqlite: a single table keyed by (subscriber, event_id)
//   - redis: one set per subscriber
//
// Records are never removed.
package storage
