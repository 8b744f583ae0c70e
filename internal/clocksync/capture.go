package clocksync

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/clocksync/internal/geo"
	"github.com/roach88/clocksync/internal/remote"
	"github.com/roach88/clocksync/internal/scan"
)

// OutcomeKind describes what a capture did to the active session.
type OutcomeKind string

const (
	// OutcomeStarted means the server started a session (or switched task).
	OutcomeStarted OutcomeKind = "started"
	// OutcomeStopped means the session ended. When Outcome.Queued is set this
	// is a local guess made while offline.
	OutcomeStopped OutcomeKind = "stopped"
	// OutcomeStartedOptimistic means the scan was queued offline and a
	// general session was assumed to start at capture time.
	OutcomeStartedOptimistic OutcomeKind = "started-optimistic"
)

// Outcome is the result of a successful Capture.
type Outcome struct {
	Kind OutcomeKind
	// Event is the scan event that was submitted or queued.
	Event scan.ScanEvent
	// Session is the active session after the capture, nil when stopped.
	Session *remote.Session
	// Queued is true when the event went to the offline queue.
	Queued bool
}

// ErrSwitchTaskEmpty is returned by SwitchTask for a blank task id.
var ErrSwitchTaskEmpty = errors.New("clocksync: task id is empty")

// Capture records a scanned code.
//
// Connectivity failures queue the event and flip the session optimistically:
// an open session is assumed closed, otherwise a general session is assumed
// to start at the capture timestamp. Rejections and protocol violations are
// returned with no state change and nothing queued. Queue write failures are
// returned as-is, also with no state change.
func (s *Synchronizer) Capture(ctx context.Context, code string) (Outcome, error) {
	loc := geo.BestEffort(ctx, s.geo, s.geoTimeout, s.logger)

	event, err := scan.NewEvent(code, loc, s.now(), s.ids)
	if err != nil {
		return Outcome{}, err
	}
	logger := s.logger.With("scan_id", event.ID, "code", event.CodeValue)

	result, err := s.svc.SubmitScan(ctx, event)
	if err != nil {
		if !remote.IsConnectivity(err) {
			logger.Warn("scan not accepted", "error", err)
			return Outcome{}, fmt.Errorf("capture: %w", err)
		}
		return s.captureOffline(ctx, event, err)
	}

	switch result.Status {
	case remote.ScanStatusClockIn:
		if result.Session == nil {
			return Outcome{}, &remote.Error{Code: remote.ErrCodeProtocol, Op: "submit scan", Message: "clock_in without session"}
		}
		st := s.update(func(st *State) {
			st.Session = result.Session.Clone()
		})
		logger.Info("clocked in", "session_id", result.Session.ID, "task", result.Session.TaskName())
		return Outcome{Kind: OutcomeStarted, Event: event, Session: st.Session}, nil
	case remote.ScanStatusClockOut:
		s.update(func(st *State) {
			st.Session = nil
		})
		logger.Info("clocked out")
		return Outcome{Kind: OutcomeStopped, Event: event}, nil
	default:
		return Outcome{}, &remote.Error{
			Code:    remote.ErrCodeProtocol,
			Op:      "submit scan",
			Message: fmt.Sprintf("unrecognized status %q", result.Status),
		}
	}
}

func (s *Synchronizer) captureOffline(ctx context.Context, event scan.ScanEvent, cause error) (Outcome, error) {
	if err := s.queue.Enqueue(ctx, event); err != nil {
		return Outcome{}, fmt.Errorf("capture: queue offline scan: %w", err)
	}

	var kind OutcomeKind
	st := s.update(func(st *State) {
		if st.Session != nil {
			st.Session = nil
			kind = OutcomeStopped
		} else {
			st.Session = &remote.Session{
				ID:         "local-" + event.ID,
				StartedAt:  event.CapturedAt,
				Optimistic: true,
			}
			kind = OutcomeStartedOptimistic
		}
		st.Unconfirmed++
	})

	s.logger.Info("scan queued offline",
		"scan_id", event.ID,
		"code", event.CodeValue,
		"assumed", string(kind),
		"cause", cause,
	)
	return Outcome{Kind: kind, Event: event, Session: st.Session, Queued: true}, nil
}

// SwitchTask moves the active session to taskID. Task switches are never
// queued: on any failure the error is returned and state is untouched.
func (s *Synchronizer) SwitchTask(ctx context.Context, taskID string) (*remote.Session, error) {
	if taskID == "" {
		return nil, ErrSwitchTaskEmpty
	}
	loc := geo.BestEffort(ctx, s.geo, s.geoTimeout, s.logger)

	session, err := s.svc.SwitchTask(ctx, remote.SwitchTaskRequest{TaskID: taskID, Location: loc})
	if err != nil {
		return nil, fmt.Errorf("switch task: %w", err)
	}

	st := s.update(func(st *State) {
		st.Session = session.Clone()
	})
	s.logger.Info("task switched", "task_id", taskID, "session_id", sessionID(st.Session))
	return st.Session, nil
}

func sessionID(s *remote.Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}
