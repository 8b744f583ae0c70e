package clocksync

import (
	"context"
	"fmt"

	"github.com/roach88/clocksync/internal/netwatch"
	"github.com/roach88/clocksync/internal/remote"
)

// SyncResult is the terminal state of one Sync invocation.
type SyncResult string

const (
	// SyncSkipped means another drain was already running.
	SyncSkipped SyncResult = "skipped"
	// SyncIdle means the queue was empty.
	SyncIdle SyncResult = "drained-empty"
	// SyncDrained means every pending entry was delivered.
	SyncDrained SyncResult = "drained-success"
	// SyncAborted means the drain stopped at a failing entry.
	SyncAborted SyncResult = "aborted-on-error"
)

// SyncReport describes what a Sync call did.
type SyncReport struct {
	Result SyncResult
	// Pending is the queue length when the drain started.
	Pending int
	// Delivered counts entries confirmed and removed.
	Delivered int
	// FailedKey is the entry the drain stopped at, if aborted.
	FailedKey string
	// Cause is why the drain stopped, if aborted.
	Cause error
	// RefreshErr is set when the post-drain refresh failed.
	RefreshErr error
}

// Sync replays the offline queue.
//
// Entries are processed one at a time in ListPending order. Each is removed
// as soon as the server confirms it. The first undecodable entry or failed
// submission stops the drain; it and everything after it stay queued for the
// next trigger, and the report carries the cause rather than an error. Only
// storage failures are returned as errors.
//
// With notify set, an informational message announces the item count and a
// success message follows a complete drain. After a complete drain the state
// is refreshed from the server.
func (s *Synchronizer) Sync(ctx context.Context, notify bool) (SyncReport, error) {
	if !s.draining.CompareAndSwap(false, true) {
		s.logger.Debug("sync already in progress")
		return SyncReport{Result: SyncSkipped}, nil
	}
	defer s.draining.Store(false)

	keys, err := s.queue.ListPending(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("sync: %w", err)
	}
	report := SyncReport{Pending: len(keys)}
	if len(keys) == 0 {
		report.Result = SyncIdle
		return report, nil
	}

	if notify {
		s.notifier.Info(fmt.Sprintf("Synchronizing %d offline %s...", len(keys), plural(len(keys), "scan", "scans")))
	}
	s.logger.Info("sync started", "pending", len(keys))

	for _, key := range keys {
		event, err := s.queue.Load(ctx, key)
		if err != nil {
			return s.abort(report, key, err), nil
		}

		if _, err := s.svc.SubmitScan(ctx, event); err != nil {
			return s.abort(report, key, err), nil
		}

		if err := s.queue.Remove(ctx, key); err != nil {
			return report, fmt.Errorf("sync: %w", err)
		}
		report.Delivered++
		s.update(func(st *State) {
			if st.Unconfirmed > 0 {
				st.Unconfirmed--
			}
		})
		s.logger.Debug("offline scan delivered", "key", key)
	}

	report.Result = SyncDrained
	s.logger.Info("sync finished", "delivered", report.Delivered)
	if notify {
		s.notifier.Success("Offline scans synchronized")
	}

	if err := s.Refresh(ctx); err != nil {
		report.RefreshErr = err
		s.logger.Warn("refresh after sync failed", "error", err)
	}
	return report, nil
}

func (s *Synchronizer) abort(report SyncReport, key string, cause error) SyncReport {
	report.Result = SyncAborted
	report.FailedKey = key
	report.Cause = cause
	s.logger.Warn("sync aborted",
		"key", key,
		"delivered", report.Delivered,
		"remaining", report.Pending-report.Delivered,
		"error", cause,
	)
	return report
}

// Refresh replaces session and tasks with the server's view. On failure
// state is left untouched.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	session, err := s.svc.ActiveSession(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	tasks, err := s.svc.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	pending, err := s.queue.Len(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	now := s.now()
	s.update(func(st *State) {
		*st = State{
			Session:     session.Clone(),
			Tasks:       append([]remote.Task(nil), tasks...),
			Unconfirmed: pending,
			RefreshedAt: now,
		}
	})
	return nil
}

// Start loads the server's view and silently replays anything queued by a
// previous run.
func (s *Synchronizer) Start(ctx context.Context) error {
	report, err := s.Sync(ctx, false)
	if err != nil {
		return err
	}
	if report.Result == SyncDrained {
		return report.RefreshErr
	}
	return s.Refresh(ctx)
}

// RunTriggers calls Start, then runs a notifying Sync on every transition to
// online until ctx is done or transitions is closed. An aborted drain is
// logged and left for the next reconnect; only storage failures reach the
// Notifier. Nothing stops the loop.
func (s *Synchronizer) RunTriggers(ctx context.Context, transitions <-chan netwatch.Transition) error {
	if err := s.Start(ctx); err != nil {
		s.logger.Warn("startup refresh failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-transitions:
			if !ok {
				return nil
			}
			if !t.Online {
				continue
			}
			report, err := s.Sync(ctx, true)
			switch {
			case err != nil:
				s.notifier.Error("Could not read offline queue", err)
			case report.Result == SyncAborted:
				s.logger.Warn("deferring offline scans to next reconnect",
					"remaining", report.Pending-report.Delivered,
					"error", report.Cause,
				)
			case report.Result == SyncIdle:
				if err := s.Refresh(ctx); err != nil {
					s.logger.Warn("refresh on reconnect failed", "error", err)
				}
			}
		}
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
