package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/clocksync/internal/clocksync"
	"github.com/roach88/clocksync/internal/prefs"
	"github.com/roach88/clocksync/internal/queue"
	"github.com/roach88/clocksync/internal/remote"
	"github.com/roach88/clocksync/internal/testutil"
)

// DefaultStart is the clock reading scenarios start at.
var DefaultStart = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

// Harness holds the collaborators of one scenario run.
type Harness struct {
	svc      *testutil.ScriptedService
	queue    *queue.Queue
	clock    *testutil.ManualClock
	sync     *clocksync.Synchronizer
	notifier *traceNotifier
	result   *Result
}

// traceNotifier records notifications into the trace.
type traceNotifier struct {
	result   *Result
	messages map[string][]string
}

func (n *traceNotifier) add(kind, msg string, err error) {
	n.messages[kind] = append(n.messages[kind], msg)
	out := map[string]any{"kind": kind, "message": msg}
	if err != nil {
		out["error"] = errorClass(err)
	}
	n.result.record("notify", nil, out)
}

func (n *traceNotifier) Info(msg string)             { n.add("info", msg, nil) }
func (n *traceNotifier) Success(msg string)          { n.add("success", msg, nil) }
func (n *traceNotifier) Error(msg string, err error) { n.add("error", msg, err) }

// Run executes a scenario in a fresh in-memory environment.
//
// Execution flow:
// 1. Build the scripted service, queue and synchronizer
// 2. Execute steps, checking expect clauses
// 3. Evaluate assertions against the final state
func Run(scenario *Scenario) (*Result, error) {
	return run(scenario, nil)
}

// run executes the scenario, handing the harness to inspect before
// assertions are evaluated.
func run(scenario *Scenario, inspect func(*Harness)) (*Result, error) {
	start := DefaultStart
	if scenario.Start != nil {
		start = scenario.Start.UTC()
	}

	result := NewResult()
	h := &Harness{
		svc:      testutil.NewScriptedService(scenario.Tasks...),
		queue:    queue.New(prefs.NewMemoryStore()),
		clock:    testutil.NewManualClock(start),
		notifier: &traceNotifier{result: result, messages: make(map[string][]string)},
		result:   result,
	}
	h.sync = clocksync.New(h.svc, h.queue,
		clocksync.WithClock(h.clock.Now),
		clocksync.WithIDGenerator(testutil.NewSequentialIDs("e")),
		clocksync.WithNotifier(h.notifier),
		clocksync.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step); err != nil {
			return nil, err
		}
	}

	if inspect != nil {
		inspect(h)
	}
	for _, assertion := range scenario.Assertions {
		if err := h.evaluate(ctx, assertion); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// executeStep runs one step. Step failures the scenario did not expect are
// recorded as result errors; only environment failures are returned.
func (h *Harness) executeStep(ctx context.Context, index int, step Step) error {
	switch step.kind() {
	case "online":
		h.svc.SetOnline(true)
		h.result.record("online", nil, nil)
	case "offline":
		h.svc.SetOnline(false)
		h.result.record("offline", nil, nil)
	case "advance":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		now := h.clock.Advance(d)
		h.result.record("advance", map[string]any{"by": step.Advance}, map[string]any{"now": now.Format(time.RFC3339)})
	case "reject":
		h.svc.RejectCode(step.Reject.Code, step.Reject.Status, step.Reject.Message)
		h.result.record("reject", map[string]any{"code": step.Reject.Code, "status": step.Reject.Status}, nil)
	case "scan":
		h.scan(ctx, index, step)
	case "sync":
		return h.drain(ctx, index, step)
	case "refresh":
		err := h.sync.Refresh(ctx)
		out := h.stateOutput()
		if err != nil {
			out = map[string]any{"error": errorClass(err)}
		}
		h.result.record("refresh", nil, out)
		h.checkError(index, step.Expect, err)
	case "switch_task":
		session, err := h.sync.SwitchTask(ctx, step.SwitchTask)
		out := map[string]any{"session": describeSession(session)}
		if err != nil {
			out = map[string]any{"error": errorClass(err)}
		}
		h.result.record("switch_task", map[string]any{"task_id": step.SwitchTask}, out)
		h.checkError(index, step.Expect, err)
	default:
		return fmt.Errorf("steps[%d]: exactly one action is required", index)
	}
	return nil
}

func (h *Harness) scan(ctx context.Context, index int, step Step) {
	outcome, err := h.sync.Capture(ctx, step.Scan)
	input := map[string]any{"code": step.Scan}
	if err != nil {
		h.result.record("scan", input, map[string]any{"error": errorClass(err)})
		h.checkError(index, step.Expect, err)
		return
	}

	st := h.sync.State()
	h.result.record("scan", input, map[string]any{
		"event_id":    outcome.Event.ID,
		"outcome":     string(outcome.Kind),
		"queued":      outcome.Queued,
		"session":     describeSession(outcome.Session),
		"unconfirmed": st.Unconfirmed,
	})
	h.checkError(index, step.Expect, nil)

	if exp := step.Expect; exp != nil {
		if exp.Outcome != "" && exp.Outcome != string(outcome.Kind) {
			h.result.AddError(fmt.Sprintf("steps[%d]: expected outcome %s, got %s", index, exp.Outcome, outcome.Kind))
		}
		if exp.Queued != nil && *exp.Queued != outcome.Queued {
			h.result.AddError(fmt.Sprintf("steps[%d]: expected queued=%t, got %t", index, *exp.Queued, outcome.Queued))
		}
	}
}

func (h *Harness) drain(ctx context.Context, index int, step Step) error {
	report, err := h.sync.Sync(ctx, step.Sync.Notify)
	if err != nil {
		return fmt.Errorf("steps[%d]: sync: %w", index, err)
	}

	out := map[string]any{
		"result":    string(report.Result),
		"pending":   report.Pending,
		"delivered": report.Delivered,
	}
	if report.Cause != nil {
		out["failed_key"] = report.FailedKey
		out["cause"] = errorClass(report.Cause)
	}
	h.result.record("sync", map[string]any{"notify": step.Sync.Notify}, out)

	if exp := step.Expect; exp != nil {
		if exp.Result != "" && exp.Result != string(report.Result) {
			h.result.AddError(fmt.Sprintf("steps[%d]: expected sync result %s, got %s", index, exp.Result, report.Result))
		}
		if exp.Delivered != nil && *exp.Delivered != report.Delivered {
			h.result.AddError(fmt.Sprintf("steps[%d]: expected %d delivered, got %d", index, *exp.Delivered, report.Delivered))
		}
	}
	return nil
}

// checkError compares err against the expected error class. Without an
// expect clause any error is a failure.
func (h *Harness) checkError(index int, exp *Expect, err error) {
	want := ErrorNone
	if exp != nil && exp.Error != "" {
		want = exp.Error
	}
	got := errorClass(err)

	switch {
	case want == ErrorAny && err != nil:
	case want == got:
	default:
		h.result.AddError(fmt.Sprintf("steps[%d]: expected error %s, got %s", index, want, got))
	}
}

func (h *Harness) stateOutput() map[string]any {
	st := h.sync.State()
	return map[string]any{
		"session":     describeSession(st.Session),
		"tasks":       len(st.Tasks),
		"unconfirmed": st.Unconfirmed,
	}
}

// errorClass maps err onto the scenario error vocabulary.
func errorClass(err error) string {
	var rerr *remote.Error
	switch {
	case err == nil:
		return ErrorNone
	case errors.As(err, &rerr):
		switch rerr.Code {
		case remote.ErrCodeConnectivity:
			return ErrorOffline
		case remote.ErrCodeProtocol:
			return ErrorProtocol
		default:
			return ErrorRejected
		}
	case errors.Is(err, queue.ErrCorruptEntry):
		return "corrupt"
	}
	return "other"
}

// describeSession renders a session as "<task>@<HH:MM>", with "general"
// for sessions without a task and an "optimistic" suffix for local guesses.
func describeSession(s *remote.Session) string {
	if s == nil {
		return "none"
	}
	name := s.TaskName()
	if name == "" {
		name = "general"
	}
	desc := name + "@" + s.StartedAt.UTC().Format("15:04")
	if s.Optimistic {
		desc += " optimistic"
	}
	return desc
}
