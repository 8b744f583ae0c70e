// Package scan defines the canonical record produced when an employee scans
// a task or location code.
//
// A ScanEvent is immutable once built. Its ID doubles as the offline queue
// key suffix and as the idempotency token sent to the remote service, so it
// must be unique across process restarts. UUIDv7Generator provides that
// guarantee in production; FixedGenerator gives tests a known sequence.
package scan
