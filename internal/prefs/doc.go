// Package prefs provides the durable key-value preference store the clock
// client keeps its offline state in.
//
// Two implementations satisfy Store:
//   - SQLiteStore: crash-durable file store (WAL, synchronous=FULL)
//   - MemoryStore: process-local map for tests and throwaway runs
//
// Keys are opaque strings. Callers namespace their entries with a prefix and
// enumerate them with ListKeys; the offline queue uses "offline_scan_".
//
// # Database Configuration
//
//   - WAL mode: readers never block the single writer
//   - synchronous=FULL: a committed Set survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - one open connection: SQLite allows a single writer anyway
package prefs
