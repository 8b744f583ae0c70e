// Package remote is the client side of the time-tracking REST contract.
//
// Every failure is classified into one of three categories, because the
// synchronizer reacts differently to each:
//   - connectivity: no HTTP response was received, or the client was told it
//     is offline. The scan is queued and replayed later.
//   - rejected: the server answered with a non-2xx status. Never retried.
//   - protocol: the server answered 2xx with a body the client does not
//     understand. Never retried, no state change.
//
// Scan responses are decoded as a tagged union on the "status" field and any
// unknown tag fails closed.
package remote
