// Package devserver is an in-memory implementation of the time-tracking
// REST API used for local development and end-to-end tests.
//
// Scanning a task code clocks in on that task, or switches to it when a
// session on another task is open. Scanning a location code toggles a
// general session. Any other scan while clocked in clocks out. Scan ids are
// idempotency keys: a repeated id replays the first response.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/roach88/clocksync/internal/auth"
	"github.com/roach88/clocksync/internal/remote"
	"github.com/roach88/clocksync/internal/scan"
)

// Entry is a closed time entry.
type Entry struct {
	ID        string    `json:"id"`
	Task      *string   `json:"task"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

type replay struct {
	status int
	body   []byte
}

type employee struct {
	active  *remote.Session
	closed  []Entry
	replays map[string]replay
}

// Server holds per-employee sessions in memory.
type Server struct {
	issuer    *auth.Issuer
	tasks     []remote.Task
	locations map[string]bool
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	employees map[string]*employee
}

// Option configures a Server.
type Option func(*Server)

// WithTasks sets the tasks every employee is assigned.
func WithTasks(tasks ...remote.Task) Option {
	return func(s *Server) { s.tasks = append([]remote.Task(nil), tasks...) }
}

// WithLocationCodes sets the codes printed at work sites.
func WithLocationCodes(codes ...string) Option {
	return func(s *Server) {
		for _, c := range codes {
			s.locations[c] = true
		}
	}
}

// WithClock overrides the server clock used for clock-out times.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server that authenticates requests with issuer.
func New(issuer *auth.Issuer, opts ...Option) *Server {
	s := &Server{
		issuer:    issuer,
		locations: make(map[string]bool),
		now:       time.Now,
		logger:    slog.Default(),
		employees: make(map[string]*employee),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get(remote.PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post(remote.PathScan, s.handleScan)
		r.Post(remote.PathSwitchTask, s.handleSwitchTask)
		r.Get(remote.PathActiveSession, s.handleActive)
		r.Get("/time-entries", s.handleEntries)
		r.Get(remote.PathMyTasks, s.handleTasks)
	})
	return r
}

type employeeKey struct{}

// EmployeeID returns the authenticated employee for a request context.
func EmployeeID(ctx context.Context) string {
	id, _ := ctx.Value(employeeKey{}).(string)
	return id
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		id, err := s.issuer.Verify(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), employeeKey{}, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// employee returns the state for id, creating it. Caller holds s.mu.
func (s *Server) employee(id string) *employee {
	e, ok := s.employees[id]
	if !ok {
		e = &employee{replays: make(map[string]replay)}
		s.employees[id] = e
	}
	return e
}

func (s *Server) taskByCode(code string) *remote.Task {
	for i := range s.tasks {
		if s.tasks[i].Code == code {
			return &s.tasks[i]
		}
	}
	return nil
}

func (s *Server) taskByID(id string) *remote.Task {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return &s.tasks[i]
		}
	}
	return nil
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var event scan.ScanEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if event.ID == "" || event.CodeValue == "" || event.CapturedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "id, codeValue and capturedAt are required")
		return
	}
	if event.Location != nil {
		if err := event.Location.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	emp := s.employee(EmployeeID(r.Context()))
	if prior, ok := emp.replays[event.ID]; ok {
		writeRaw(w, prior.status, prior.body)
		return
	}

	status, body := s.applyScan(emp, event)
	encoded, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if status < 300 {
		emp.replays[event.ID] = replay{status: status, body: encoded}
	}
	writeRaw(w, status, encoded)
}

// applyScan mutates emp for event. Caller holds s.mu.
func (s *Server) applyScan(emp *employee, event scan.ScanEvent) (int, any) {
	task := s.taskByCode(event.CodeValue)
	if task == nil && !s.locations[event.CodeValue] {
		return http.StatusUnprocessableEntity, errorBody("unrecognized code")
	}

	switch {
	case emp.active == nil:
		emp.active = newSession(event.CapturedAt, task)
		return http.StatusOK, map[string]any{"status": remote.ScanStatusClockIn, "entry": emp.active}
	case task != nil && emp.active.TaskName() != task.Name:
		s.close(emp, event.CapturedAt)
		emp.active = newSession(event.CapturedAt, task)
		return http.StatusOK, map[string]any{"status": remote.ScanStatusClockIn, "newEntry": emp.active}
	default:
		closed := s.close(emp, event.CapturedAt)
		return http.StatusOK, map[string]any{"status": remote.ScanStatusClockOut, "entry": closed}
	}
}

// close ends the active session at the later of end and its start.
func (s *Server) close(emp *employee, end time.Time) Entry {
	if end.Before(emp.active.StartedAt) {
		end = emp.active.StartedAt
	}
	entry := Entry{ID: emp.active.ID, Task: emp.active.Clone().Task, StartedAt: emp.active.StartedAt, EndedAt: end.UTC()}
	emp.closed = append(emp.closed, entry)
	emp.active = nil
	return entry
}

func newSession(start time.Time, task *remote.Task) *remote.Session {
	session := &remote.Session{ID: uuid.NewString(), StartedAt: start.UTC()}
	if task != nil {
		name := task.Name
		session.Task = &name
	}
	return session
}

func (s *Server) handleSwitchTask(w http.ResponseWriter, r *http.Request) {
	var req remote.SwitchTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		writeError(w, http.StatusBadRequest, `invalid body: {"taskId":"..."}`)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.taskByID(req.TaskID)
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	emp := s.employee(EmployeeID(r.Context()))
	if emp.active == nil {
		writeError(w, http.StatusConflict, "not clocked in")
		return
	}

	now := s.now()
	s.close(emp, now)
	emp.active = newSession(now, task)
	writeJSON(w, http.StatusOK, map[string]any{"newEntry": emp.active})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.employee(EmployeeID(r.Context())).active)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append([]Entry{}, s.employee(EmployeeID(r.Context())).closed...)
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, append([]remote.Task{}, s.tasks...))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody(msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	encoded, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, encoded)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
