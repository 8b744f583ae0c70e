package harness

import (
	"context"
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %v -> %v\n", event.Seq, event.Type, event.Input, event.Output)
	}
	return buf.String()
}

// evaluate checks one assertion against the harness's final state.
func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	var expected, actual string

	switch a.Type {
	case AssertQueueLength:
		n, err := h.queue.Len(ctx)
		if err != nil {
			return fmt.Errorf("queue_length: %w", err)
		}
		if n == a.Count {
			return nil
		}
		expected, actual = fmt.Sprintf("%d queued", a.Count), fmt.Sprintf("%d queued", n)

	case AssertUnconfirmed:
		n := h.sync.State().Unconfirmed
		if n == a.Count {
			return nil
		}
		expected, actual = fmt.Sprintf("%d unconfirmed", a.Count), fmt.Sprintf("%d unconfirmed", n)

	case AssertSession:
		return h.assertSession(a)

	case AssertNotifications:
		got := h.notifier.messages[a.Kind]
		if equalStrings(got, a.Messages) {
			return nil
		}
		expected = fmt.Sprintf("%s %q", a.Kind, a.Messages)
		actual = fmt.Sprintf("%s %q", a.Kind, got)

	case AssertSubmitted:
		var got []string
		for _, event := range h.svc.Submitted() {
			got = append(got, event.CodeValue)
		}
		if equalStrings(got, a.Codes) {
			return nil
		}
		expected, actual = fmt.Sprintf("%q", a.Codes), fmt.Sprintf("%q", got)

	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}

	return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: h.result.Trace}
}

func (h *Harness) assertSession(a Assertion) error {
	session := h.sync.State().Session
	fail := func(expected string) error {
		return &AssertionError{
			Type:     AssertSession,
			Expected: expected,
			Actual:   describeSession(session),
			Trace:    h.result.Trace,
		}
	}

	if a.None {
		if session != nil {
			return fail("none")
		}
		return nil
	}

	want := a.Task
	if want == "" {
		want = "general"
	}
	if session == nil {
		return fail(want)
	}
	got := session.TaskName()
	if got == "" {
		got = "general"
	}
	if got != want {
		return fail(want)
	}
	if a.Optimistic != nil && session.Optimistic != *a.Optimistic {
		if *a.Optimistic {
			return fail(want + " optimistic")
		}
		return fail(want + " confirmed")
	}
	return nil
}

// equalStrings treats nil and empty as equal.
func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
