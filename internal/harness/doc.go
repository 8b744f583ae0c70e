// Package harness runs scripted conformance scenarios against the clock
// event synchronizer.
//
// A scenario drives a Synchronizer wired to a scripted remote service, an
// in-memory preference store, a manual clock and sequential event ids, so
// every run produces the same trace.
//
// # Scenario Format
//
//	name: offline_clock_in
//	description: "A scan taken offline is queued and replayed"
//	tasks:
//	  - { id: t1, name: Install, code: TASK-42 }
//	steps:
//	  - offline: true
//	  - scan: TASK-42
//	    expect: { outcome: started-optimistic, queued: true }
//	  - advance: 5m
//	  - online: true
//	  - sync: { notify: true }
//	    expect: { result: drained-success, delivered: 1 }
//	assertions:
//	  - type: queue_length
//	    count: 0
//	  - type: session
//	    task: Install
//
// # Steps
//
// Each step performs exactly one action:
//
//   - online / offline: make the remote service reachable or not
//   - scan: capture a code
//   - sync: drain the queue (notify defaults to false)
//   - refresh: reload session and tasks from the service
//   - switch_task: move the session to a task id
//   - advance: move the clock by a Go duration
//   - reject: make the service refuse a code with an HTTP status
//
// # Assertion Types
//
//   - queue_length: number of queued scans
//   - unconfirmed: the state's count of unconfirmed transitions
//   - session: the active session's task, or none
//   - notifications: the exact messages of one notification kind
//   - submitted: codes that reached the service, in order
//
// Traces are compared with golden files under testdata/golden.
package harness
