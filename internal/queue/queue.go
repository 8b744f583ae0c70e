// Package queue persists scan events that could not be delivered so they
// survive restarts until the reconciliation loop replays them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/clocksync/internal/prefs"
	"github.com/roach88/clocksync/internal/scan"
)

// KeyPrefix namespaces queue entries among unrelated preferences.
const KeyPrefix = "offline_scan_"

var (
	// ErrDuplicateEntry means an entry with the same id is already queued.
	ErrDuplicateEntry = errors.New("queue: entry already exists")
	// ErrEntryMissing means the key was not found when loading.
	ErrEntryMissing = errors.New("queue: entry not found")
	// ErrCorruptEntry means a stored payload could not be decoded.
	ErrCorruptEntry = errors.New("queue: entry is corrupt")
)

// Queue is the durable offline queue.
//
// Storage failures are returned to the caller wrapped but otherwise
// untouched; the queue never retries internally.
type Queue struct {
	store prefs.Store
}

// New returns a Queue over store.
func New(store prefs.Store) *Queue {
	return &Queue{store: store}
}

// Key returns the storage key for an event id.
func Key(id string) string {
	return KeyPrefix + id
}

// IDFromKey strips the namespace prefix.
func IDFromKey(key string) string {
	return strings.TrimPrefix(key, KeyPrefix)
}

// Enqueue stores event under its key. Returns ErrDuplicateEntry rather than
// overwriting an existing entry.
func (q *Queue) Enqueue(ctx context.Context, event scan.ScanEvent) error {
	if event.ID == "" {
		return fmt.Errorf("enqueue: event has no id")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", event.ID, err)
	}

	inserted, err := q.store.Insert(ctx, Key(event.ID), string(data))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", event.ID, err)
	}
	if !inserted {
		return fmt.Errorf("enqueue %s: %w", event.ID, ErrDuplicateEntry)
	}
	return nil
}

// ListPending returns the keys of every queued entry in the order the store
// enumerates them.
func (q *Queue) ListPending(ctx context.Context) ([]string, error) {
	keys, err := q.store.ListKeys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return keys, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	keys, err := q.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Load decodes the entry stored under key.
func (q *Queue) Load(ctx context.Context, key string) (scan.ScanEvent, error) {
	raw, ok, err := q.store.Get(ctx, key)
	if err != nil {
		return scan.ScanEvent{}, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return scan.ScanEvent{}, fmt.Errorf("load %s: %w", key, ErrEntryMissing)
	}

	var event scan.ScanEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return scan.ScanEvent{}, fmt.Errorf("load %s: %w: %v", key, ErrCorruptEntry, err)
	}
	if event.ID == "" || event.CodeValue == "" || event.CapturedAt.IsZero() {
		return scan.ScanEvent{}, fmt.Errorf("load %s: %w: missing required fields", key, ErrCorruptEntry)
	}
	if Key(event.ID) != key {
		return scan.ScanEvent{}, fmt.Errorf("load %s: %w: id %q does not match key", key, ErrCorruptEntry, event.ID)
	}
	return event, nil
}

// Remove deletes the entry under key. Removing an absent key is a no-op.
func (q *Queue) Remove(ctx context.Context, key string) error {
	if err := q.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Clear removes every queued entry and returns how many were dropped.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	keys, err := q.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	for i, key := range keys {
		if err := q.Remove(ctx, key); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}
