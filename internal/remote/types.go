package remote

import (
	"context"
	"time"

	"github.com/roach88/clocksync/internal/scan"
)

// Session is the employee's open time entry.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	// Task is the task name; nil for a general session.
	Task *string `json:"task"`
	// Optimistic marks a session inferred locally while offline.
	Optimistic bool `json:"optimistic,omitempty"`
}

// TaskName returns the task name or "" for a general session.
func (s *Session) TaskName() string {
	if s == nil || s.Task == nil {
		return ""
	}
	return *s.Task
}

// Clone returns a deep copy. Clone of nil is nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Task != nil {
		task := *s.Task
		c.Task = &task
	}
	return &c
}

// Task is an assignable task.
type Task struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Code is the QR payload printed for this task, when the server exposes it.
	Code string `json:"code,omitempty"`
}

// ScanStatus tags a scan response.
type ScanStatus string

const (
	// ScanStatusClockIn means work started, including a task switch.
	ScanStatusClockIn ScanStatus = "clock_in"
	// ScanStatusClockOut means the open session was closed.
	ScanStatusClockOut ScanStatus = "clock_out"
)

// ScanResult is the decoded response of a scan submission.
// Session is set if and only if Status is ScanStatusClockIn.
type ScanResult struct {
	Status  ScanStatus
	Session *Session
}

// SwitchTaskRequest asks the server to move the open session to another task.
type SwitchTaskRequest struct {
	TaskID   string         `json:"taskId"`
	Location *scan.Location `json:"location"`
}

// Service is the remote contract the synchronizer depends on.
type Service interface {
	SubmitScan(ctx context.Context, event scan.ScanEvent) (ScanResult, error)
	SwitchTask(ctx context.Context, req SwitchTaskRequest) (*Session, error)
	ActiveSession(ctx context.Context) (*Session, error)
	Tasks(ctx context.Context) ([]Task, error)
}
