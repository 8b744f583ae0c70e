package clocksync

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/clocksync/internal/geo"
	"github.com/roach88/clocksync/internal/queue"
	"github.com/roach88/clocksync/internal/remote"
	"github.com/roach88/clocksync/internal/scan"
)

// DefaultGeoTimeout bounds location lookups.
const DefaultGeoTimeout = 10 * time.Second

// State is the UI-facing view of the employee's clock.
type State struct {
	// Session is the active time entry, nil when clocked out.
	Session *remote.Session `json:"session"`
	// Tasks are the employee's assignable tasks as of the last refresh.
	Tasks []remote.Task `json:"tasks"`
	// Unconfirmed counts queued scans the server has not yet seen.
	// Session is a local guess while this is non-zero.
	Unconfirmed int `json:"unconfirmed"`
	// RefreshedAt is when state was last replaced from the server.
	RefreshedAt time.Time `json:"refreshedAt"`
}

func (s State) clone() State {
	c := s
	c.Session = s.Session.Clone()
	if s.Tasks != nil {
		c.Tasks = append([]remote.Task(nil), s.Tasks...)
	}
	return c
}

// Synchronizer is the clock event synchronizer.
type Synchronizer struct {
	svc        remote.Service
	queue      *queue.Queue
	geo        geo.Provider
	geoTimeout time.Duration
	now        func() time.Time
	ids        scan.IDGenerator
	notifier   Notifier
	logger     *slog.Logger

	// draining guards Sync re-entrancy.
	draining atomic.Bool

	mu           sync.Mutex
	state        State
	listeners    map[int]func(State)
	nextListener int
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithGeoProvider sets the location source. Defaults to geo.NoopProvider.
func WithGeoProvider(p geo.Provider) Option {
	return func(s *Synchronizer) {
		s.geo = p
	}
}

// WithGeoTimeout bounds each location lookup.
func WithGeoTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.geoTimeout = d
	}
}

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// WithIDGenerator overrides scan id generation. Defaults to UUIDv7.
func WithIDGenerator(g scan.IDGenerator) Option {
	return func(s *Synchronizer) {
		s.ids = g
	}
}

// WithNotifier sets where sync progress messages go.
func WithNotifier(n Notifier) Option {
	return func(s *Synchronizer) {
		s.notifier = n
	}
}

// WithLogger sets the synchronizer logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = l
	}
}

// New returns a Synchronizer with empty state. Call Start or Refresh to load
// the server's view.
func New(svc remote.Service, q *queue.Queue, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		svc:        svc,
		queue:      q,
		geo:        geo.NoopProvider{},
		geoTimeout: DefaultGeoTimeout,
		now:        time.Now,
		ids:        scan.UUIDv7Generator{},
		notifier:   NopNotifier{},
		logger:     slog.Default(),
		listeners:  make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a snapshot of the current view state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Seed replaces the state with a snapshot saved by an earlier process, for
// use when the server cannot be reached at startup. Listeners are notified.
func (s *Synchronizer) Seed(st State) {
	s.update(func(cur *State) { *cur = st.clone() })
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs synchronously on the goroutine that made the change and must not
// call back into the Synchronizer's mutating methods.
func (s *Synchronizer) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// update applies mutate under the lock and then notifies listeners.
func (s *Synchronizer) update(mutate func(*State)) State {
	s.mu.Lock()
	mutate(&s.state)
	snapshot := s.state.clone()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot.clone())
	}
	return snapshot
}
