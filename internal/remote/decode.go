package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// wireSession accepts the task either as a plain name or as {"name": ...}.
type wireSession struct {
	ID        *string         `json:"id"`
	StartedAt *time.Time      `json:"startedAt"`
	Task      json.RawMessage `json:"task"`
}

type wireTask struct {
	Name string `json:"name"`
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeSession parses a session object. A JSON null yields (nil, nil).
func decodeSession(raw json.RawMessage) (*Session, error) {
	if isNull(raw) {
		return nil, nil
	}

	var w wireSession
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if w.ID == nil || *w.ID == "" {
		return nil, fmt.Errorf("session: missing id")
	}
	if w.StartedAt == nil {
		return nil, fmt.Errorf("session %s: missing startedAt", *w.ID)
	}

	s := &Session{ID: *w.ID, StartedAt: w.StartedAt.UTC()}
	if !isNull(w.Task) {
		var name string
		if err := json.Unmarshal(w.Task, &name); err != nil {
			var obj wireTask
			if objErr := json.Unmarshal(w.Task, &obj); objErr != nil || obj.Name == "" {
				return nil, fmt.Errorf("session %s: task is neither a name nor a task object", s.ID)
			}
			name = obj.Name
		}
		s.Task = &name
	}
	return s, nil
}

// wireScanResult mirrors the scan endpoint's response. Status is a raw
// message so that a non-string tag is distinguishable from a missing one.
type wireScanResult struct {
	Status   json.RawMessage `json:"status"`
	Entry    json.RawMessage `json:"entry"`
	NewEntry json.RawMessage `json:"newEntry"`
}

// DecodeScanResult parses a scan response body. Unknown, missing, or
// non-string status tags are protocol violations.
func DecodeScanResult(body []byte) (ScanResult, error) {
	const op = "submit scan"

	var w wireScanResult
	if err := json.Unmarshal(body, &w); err != nil {
		return ScanResult{}, protocolError(op, fmt.Sprintf("malformed response: %v", err))
	}
	if isNull(w.Status) {
		return ScanResult{}, protocolError(op, "response has no status")
	}
	var status string
	if err := json.Unmarshal(w.Status, &status); err != nil {
		return ScanResult{}, protocolError(op, "status is not a string")
	}

	switch ScanStatus(status) {
	case ScanStatusClockIn:
		raw := w.Entry
		if isNull(raw) {
			raw = w.NewEntry
		}
		session, err := decodeSession(raw)
		if err != nil {
			return ScanResult{}, protocolError(op, err.Error())
		}
		if session == nil {
			return ScanResult{}, protocolError(op, "clock_in response has no entry")
		}
		return ScanResult{Status: ScanStatusClockIn, Session: session}, nil
	case ScanStatusClockOut:
		return ScanResult{Status: ScanStatusClockOut}, nil
	default:
		return ScanResult{}, protocolError(op, fmt.Sprintf("unrecognized status %q", status))
	}
}

// decodeSwitchTask parses {"newEntry": Session|null}.
func decodeSwitchTask(body []byte) (*Session, error) {
	const op = "switch task"

	var w struct {
		NewEntry json.RawMessage `json:"newEntry"`
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, protocolError(op, fmt.Sprintf("malformed response: %v", err))
	}
	session, err := decodeSession(w.NewEntry)
	if err != nil {
		return nil, protocolError(op, err.Error())
	}
	return session, nil
}

// decodeActiveSession parses a bare session or null. An empty body means no
// active session.
func decodeActiveSession(body []byte) (*Session, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	session, err := decodeSession(body)
	if err != nil {
		return nil, protocolError("active session", err.Error())
	}
	return session, nil
}

func decodeTasks(body []byte) ([]Task, error) {
	tasks := make([]Task, 0)
	if err := json.Unmarshal(body, &tasks); err != nil {
		return nil, protocolError("list tasks", fmt.Sprintf("malformed response: %v", err))
	}
	for i, t := range tasks {
		if t.ID == "" {
			return nil, protocolError("list tasks", fmt.Sprintf("task %d has no id", i))
		}
	}
	return tasks, nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte) string {
	var w struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &w); err == nil {
		if w.Message != "" {
			return w.Message
		}
		if w.Error != "" {
			return w.Error
		}
	}
	return string(bytes.TrimSpace(body))
}
