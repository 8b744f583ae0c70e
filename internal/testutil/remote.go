package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/roach88/clocksync/internal/remote"
	"github.com/roach88/clocksync/internal/scan"
)

// ScriptedService is an in-memory remote.Service with the server's toggle
// semantics and hooks for injecting failures.
//
// Semantics: a scan with no open session clocks in (with the task when the
// code is a known task code); scanning a different task code while clocked
// in switches task, which also reports clock_in; any other scan clocks out.
// Resubmitting an already seen event id replays the first answer.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedService struct {
	mu        sync.Mutex
	online    bool
	tasks     []remote.Task
	active    *remote.Session
	nextID    int
	failures  map[string]error
	seen      map[string]remote.ScanResult
	submitted []scan.ScanEvent
	gate      chan struct{}
	entered   chan struct{}

	activeCalls int
	taskCalls   int
}

var _ remote.Service = (*ScriptedService)(nil)

// NewScriptedService creates an online service offering tasks.
func NewScriptedService(tasks ...remote.Task) *ScriptedService {
	return &ScriptedService{
		online:   true,
		tasks:    tasks,
		failures: make(map[string]error),
		seen:     make(map[string]remote.ScanResult),
	}
}

// SetOnline toggles reachability. Offline calls fail with a connectivity error.
func (s *ScriptedService) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// SetActive overrides the server-side open session.
func (s *ScriptedService) SetActive(session *remote.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = session.Clone()
}

// Active returns the server-side open session.
func (s *ScriptedService) Active() *remote.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Clone()
}

// FailCode makes submissions of code fail with err until cleared with nil.
func (s *ScriptedService) FailCode(code string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, code)
		return
	}
	s.failures[code] = err
}

// RejectCode makes submissions of code fail with an HTTP status.
func (s *ScriptedService) RejectCode(code string, status int, message string) {
	s.FailCode(code, &remote.Error{Code: remote.ErrCodeRejected, Op: "submit scan", Status: status, Message: message})
}

// Block makes SubmitScan wait until the returned release func is called.
// The returned channel receives once per submission that reaches the gate.
func (s *ScriptedService) Block() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 16)
	gate := s.gate
	var once sync.Once
	return s.entered, func() { once.Do(func() { close(gate) }) }
}

// Submitted returns every event that reached the service, in call order.
func (s *ScriptedService) Submitted() []scan.ScanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scan.ScanEvent(nil), s.submitted...)
}

// RefreshCalls returns how many times ActiveSession and Tasks were called.
func (s *ScriptedService) RefreshCalls() (active, tasks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCalls, s.taskCalls
}

func (s *ScriptedService) offlineErr(op string) error {
	return &remote.Error{Code: remote.ErrCodeConnectivity, Op: op, Err: remote.ErrOffline}
}

func (s *ScriptedService) SubmitScan(ctx context.Context, event scan.ScanEvent) (remote.ScanResult, error) {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return remote.ScanResult{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return remote.ScanResult{}, s.offlineErr("submit scan")
	}
	s.submitted = append(s.submitted, event)
	if err, ok := s.failures[event.CodeValue]; ok {
		return remote.ScanResult{}, err
	}
	if prior, ok := s.seen[event.ID]; ok {
		return cloneResult(prior), nil
	}

	task := s.taskForCode(event.CodeValue)
	var result remote.ScanResult
	switch {
	case s.active == nil:
		s.active = s.newSession(event, task)
		result = remote.ScanResult{Status: remote.ScanStatusClockIn, Session: s.active.Clone()}
	case task != nil && s.active.TaskName() != task.Name:
		s.active = s.newSession(event, task)
		result = remote.ScanResult{Status: remote.ScanStatusClockIn, Session: s.active.Clone()}
	default:
		s.active = nil
		result = remote.ScanResult{Status: remote.ScanStatusClockOut}
	}
	s.seen[event.ID] = cloneResult(result)
	return result, nil
}

func (s *ScriptedService) SwitchTask(_ context.Context, req remote.SwitchTaskRequest) (*remote.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return nil, s.offlineErr("switch task")
	}
	var task *remote.Task
	for i := range s.tasks {
		if s.tasks[i].ID == req.TaskID {
			task = &s.tasks[i]
		}
	}
	if task == nil {
		return nil, &remote.Error{Code: remote.ErrCodeRejected, Op: "switch task", Status: http.StatusNotFound, Message: "task not found"}
	}
	if s.active == nil {
		return nil, &remote.Error{Code: remote.ErrCodeRejected, Op: "switch task", Status: http.StatusConflict, Message: "not clocked in"}
	}
	s.nextID++
	name := task.Name
	s.active = &remote.Session{ID: fmt.Sprintf("s%d", s.nextID), StartedAt: s.active.StartedAt, Task: &name}
	return s.active.Clone(), nil
}

func (s *ScriptedService) ActiveSession(context.Context) (*remote.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCalls++
	if !s.online {
		return nil, s.offlineErr("active session")
	}
	return s.active.Clone(), nil
}

func (s *ScriptedService) Tasks(context.Context) ([]remote.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskCalls++
	if !s.online {
		return nil, s.offlineErr("list tasks")
	}
	return append([]remote.Task(nil), s.tasks...), nil
}

func (s *ScriptedService) taskForCode(code string) *remote.Task {
	for i := range s.tasks {
		if s.tasks[i].Code == code {
			return &s.tasks[i]
		}
	}
	return nil
}

func (s *ScriptedService) newSession(event scan.ScanEvent, task *remote.Task) *remote.Session {
	s.nextID++
	session := &remote.Session{ID: fmt.Sprintf("s%d", s.nextID), StartedAt: event.CapturedAt}
	if task != nil {
		name := task.Name
		session.Task = &name
	}
	return session
}

func cloneResult(r remote.ScanResult) remote.ScanResult {
	return remote.ScanResult{Status: r.Status, Session: r.Session.Clone()}
}
