// Package clocksync implements the offline-first clock event synchronizer.
//
// A Synchronizer ties together three responsibilities:
//
//  1. Capture: a decoded QR payload becomes a scan.ScanEvent, enriched with a
//     best-effort location, and is submitted to the remote service.
//  2. Queueing: when submission fails for lack of connectivity the event is
//     written to the durable offline queue and the local session state is
//     flipped optimistically.
//  3. Reconciliation: Sync replays queued events in enumeration order, one at
//     a time, removing each right after the server confirms it and stopping
//     at the first failure. After a complete drain the local state is
//     replaced with the server's.
//
// UI layers observe state through Subscribe. Every notification carries a
// full snapshot; listeners must replace, never merge.
//
// Concurrency: at most one Sync runs per Synchronizer. A Sync started while
// another is in flight returns SyncSkipped immediately. The guard is owned
// by the instance, so independent synchronizers never block each other.
package clocksync
