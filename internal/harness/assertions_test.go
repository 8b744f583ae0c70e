package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/clocksync/internal/remote"
)

// runSteps executes steps and returns the harness for direct assertion checks.
func runSteps(t *testing.T, tasks []remote.Task, steps ...Step) *Harness {
	t.Helper()

	var captured *Harness
	scenario := &Scenario{Name: "assertions", Description: "assertion fixture", Tasks: tasks, Steps: steps}
	_, err := run(scenario, func(h *Harness) { captured = h })
	require.NoError(t, err)
	return captured
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertSession,
		Expected: "Install",
		Actual:   "none",
		Trace: []TraceEvent{
			{Seq: 1, Type: "scan", Input: map[string]any{"code": "TASK-42"}},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: session")
	assert.Contains(t, msg, "Expected: Install")
	assert.Contains(t, msg, "Actual: none")
	assert.Contains(t, msg, "[1] scan map[code:TASK-42]")
}

func TestEvaluate_QueueLengthAndUnconfirmed(t *testing.T) {
	h := runSteps(t, nil, Step{Offline: true}, Step{Scan: "LOC-1"}, Step{Scan: "LOC-1"})
	ctx := context.Background()

	assert.NoError(t, h.evaluate(ctx, Assertion{Type: AssertQueueLength, Count: 2}))
	assert.NoError(t, h.evaluate(ctx, Assertion{Type: AssertUnconfirmed, Count: 2}))

	var aerr *AssertionError
	require.ErrorAs(t, h.evaluate(ctx, Assertion{Type: AssertQueueLength, Count: 1}), &aerr)
	assert.Equal(t, "2 queued", aerr.Actual)
	require.ErrorAs(t, h.evaluate(ctx, Assertion{Type: AssertUnconfirmed}), &aerr)
	assert.Equal(t, "2 unconfirmed", aerr.Actual)
}

func TestEvaluate_Session(t *testing.T) {
	h := runSteps(t, []remote.Task{installTask}, Step{Scan: "TASK-42"})
	ctx := context.Background()

	assert.NoError(t, h.evaluate(ctx, Assertion{Type: AssertSession, Task: "Install"}))
	assert.NoError(t, h.evaluate(ctx, Assertion{Type: AssertSession, Task: "Install", Optimistic: boolPtr(false)}))

	var aerr *AssertionError
	require.ErrorAs(t, h.evaluate(ctx, Assertion{Type: AssertSession, None: true}), &aerr)
	assert.Equal(t, "none", aerr.Expected)
	assert.Equal(t, "Install@08:00", aerr.Actual)

	require.ErrorAs(t, h.evaluate(ctx, Assertion{Type: AssertSession}), &aerr)
	assert.Equal(t, "general", aerr.Expected)

	require.ErrorAs(t, h.evaluate(ctx, Assertion{Type: AssertSession, Task: "Install", Optimistic: boolPtr(true)}), &aerr)
	assert.Equal(t, "Install optimistic", aerr.Expected)
}

func TestEvaluate_SessionNone(t *testing.T) {
	h := runSteps(t, nil, Step{Online: true})
	ctx := context.Background()

	assert.NoError(t, h.evaluate(ctx, Assertion{Type: AssertSession, None: true}))

	var aerr *AssertionError
	require.ErrorAs(t, h.evaluate(ctx, Assertion{Type: AssertSession, Task: "Install"}), &aerr)
	assert.Equal(t, "none", aerr.Actual)
}

func TestEvaluate_Notifications(t *testing.T) {
	h := runSteps(t, nil,
		Step{Offline: true},
		Step{Scan: "LOC-1"},
		Step{Online: true},
		Step{Sync: &SyncStep{Notify: true}},
	)
	ctx := context.Background()

	assert.NoError(t, h.evaluate(ctx, Assertion{
		Type: AssertNotifications, Kind: "info", Messages: []string{"Synchronizing 1 offline scan..."},
	}))
	assert.NoError(t, h.evaluate(ctx, Assertion{Type: AssertNotifications, Kind: "error"}))
	assert.Error(t, h.evaluate(ctx, Assertion{Type: AssertNotifications, Kind: "success"}))
}

func TestEvaluate_Submitted(t *testing.T) {
	h := runSteps(t, nil, Step{Scan: "LOC-1"}, Step{Offline: true}, Step{Scan: "LOC-2"})
	ctx := context.Background()

	assert.NoError(t, h.evaluate(ctx, Assertion{Type: AssertSubmitted, Codes: []string{"LOC-1"}}))

	var aerr *AssertionError
	require.ErrorAs(t, h.evaluate(ctx, Assertion{Type: AssertSubmitted, Codes: []string{"LOC-1", "LOC-2"}}), &aerr)
	assert.Equal(t, `["LOC-1"]`, aerr.Actual)
}

func TestEvaluate_UnknownType(t *testing.T) {
	h := runSteps(t, nil, Step{Online: true})

	err := h.evaluate(context.Background(), Assertion{Type: "trace_contains"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown assertion type")
}

func TestEqualStrings(t *testing.T) {
	assert.True(t, equalStrings(nil, []string{}))
	assert.True(t, equalStrings([]string{"a", "b"}, []string{"a", "b"}))
	assert.False(t, equalStrings([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, equalStrings([]string{"a"}, nil))
}
