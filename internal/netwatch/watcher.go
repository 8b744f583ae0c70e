// Package netwatch observes connectivity to the remote service and reports
// transitions between online and offline.
package netwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the probe period when none is configured.
const DefaultInterval = 15 * time.Second

// Prober checks whether the remote service is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Transition is a change in connectivity.
type Transition struct {
	Online bool
	At     time.Time
}

// Watcher probes on an interval and emits a Transition whenever the
// observed state changes. The state starts unknown, so the first probe
// always emits.
type Watcher struct {
	prober   Prober
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	known  bool
	online bool
	closed bool
	subs   []chan Transition
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the probe period.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithClock overrides the timestamp source for transitions.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		w.now = now
	}
}

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New returns a Watcher over prober.
func New(prober Prober, opts ...Option) *Watcher {
	w := &Watcher{
		prober:   prober,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Subscribe returns a channel receiving transitions. The channel holds one
// pending transition; a slow reader only ever sees the latest state.
// Channels are closed when Run returns; subscribing afterwards yields a
// closed channel.
func (w *Watcher) Subscribe() <-chan Transition {
	ch := make(chan Transition, 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		close(ch)
		return ch
	}
	w.subs = append(w.subs, ch)
	return ch
}

// Online reports the last observed state. known is false before the first
// probe completes.
func (w *Watcher) Online() (online, known bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online, w.known
}

// Offline reports true only when the service is known to be unreachable.
// Suitable for remote.WithOfflineCheck.
func (w *Watcher) Offline() bool {
	online, known := w.Online()
	return known && !online
}

// Run probes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.closeSubscribers()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Probe(ctx)
		}
	}
}

// Probe performs one reachability check and publishes a transition if the
// state changed. After Run has returned it still updates Online but
// publishes nothing.
func (w *Watcher) Probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, w.interval)
	err := w.prober.Ping(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	w.observe(err == nil, err)
}

func (w *Watcher) observe(online bool, err error) {
	at := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	changed := !w.known || w.online != online
	w.known = true
	w.online = online
	if !changed {
		return
	}
	if online {
		w.logger.Info("network online")
	} else {
		w.logger.Info("network offline", "error", err)
	}

	// publish never blocks, and holding mu keeps closeSubscribers out.
	t := Transition{Online: online, At: at}
	for _, ch := range w.subs {
		publish(ch, t)
	}
}

// publish replaces any unread transition with t.
func publish(ch chan Transition, t Transition) {
	for {
		select {
		case ch <- t:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (w *Watcher) closeSubscribers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for _, ch := range w.subs {
		close(ch)
	}
	w.subs = nil
}
