// Package store provides SQLite-backed durable storage for sweep history.
//
// The store keeps an append-mostly ledger with:
//   - Runs: one row per sweep invocation, keyed by a UUIDv7
//   - Attempts: one row per training launch (run, fold, attempt number)
//
// # Ordering
//
// Every row carries a seq INTEGER assigned at insert time from the current
// maximum across the table. Queries order by seq, never by wall-clock
// timestamps, so history reads back in the order it was written even when
// the host clock jumps.
//
// # Idempotency
//
// Attempts are unique on (run_id, fold, attempt); re-writing the same
// attempt is a no-op. Resuming a run continues the attempt numbering from
// what is already recorded.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
