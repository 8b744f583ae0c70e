package netwatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toggleProber struct {
	up atomic.Bool
}

func (p *toggleProber) Ping(context.Context) error {
	if p.up.Load() {
		return nil
	}
	return errors.New("connection refused")
}

func receive(t *testing.T, ch <-chan Transition) Transition {
	t.Helper()
	select {
	case tr, ok := <-ch:
		require.True(t, ok, "channel closed")
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("no transition received")
		return Transition{}
	}
}

func assertNoTransition(t *testing.T, ch <-chan Transition) {
	t.Helper()
	select {
	case tr := <-ch:
		t.Fatalf("unexpected transition %+v", tr)
	default:
	}
}

func TestProbe_EmitsOnlyOnChange(t *testing.T) {
	p := &toggleProber{}
	w := New(p)
	ch := w.Subscribe()
	ctx := context.Background()

	_, known := w.Online()
	assert.False(t, known)
	assert.False(t, w.Offline(), "unknown state is not offline")

	w.Probe(ctx)
	assert.False(t, receive(t, ch).Online)
	assert.True(t, w.Offline())

	w.Probe(ctx)
	assertNoTransition(t, ch)

	p.up.Store(true)
	w.Probe(ctx)
	assert.True(t, receive(t, ch).Online)
	assert.False(t, w.Offline())

	w.Probe(ctx)
	assertNoTransition(t, ch)
}

func TestProbe_SlowSubscriberSeesLatest(t *testing.T) {
	p := &toggleProber{}
	w := New(p)
	ch := w.Subscribe()
	ctx := context.Background()

	w.Probe(ctx)
	p.up.Store(true)
	w.Probe(ctx)

	tr := receive(t, ch)
	assert.True(t, tr.Online)
	assertNoTransition(t, ch)
}

func TestRun_ProbesImmediatelyAndClosesOnCancel(t *testing.T) {
	p := &toggleProber{}
	p.up.Store(true)
	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	w := New(p, WithInterval(10*time.Millisecond), WithClock(func() time.Time { return at }))
	ch := w.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	tr := receive(t, ch)
	assert.True(t, tr.Online)
	assert.Equal(t, at, tr.At)

	p.up.Store(false)
	assert.False(t, receive(t, ch).Online)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel closed after Run")
}

func TestProbe_AfterRunReturnsDoesNotPublish(t *testing.T) {
	p := &toggleProber{}
	w := New(p, WithInterval(time.Hour))
	ch := w.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	assert.False(t, receive(t, ch).Online)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	p.up.Store(true)
	require.NotPanics(t, func() { w.Probe(context.Background()) })
	online, known := w.Online()
	assert.True(t, known)
	assert.True(t, online)

	_, ok := <-ch
	assert.False(t, ok)
	_, ok = <-w.Subscribe()
	assert.False(t, ok, "late subscribers get a closed channel")
}
