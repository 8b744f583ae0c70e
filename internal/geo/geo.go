// Package geo supplies best-effort device coordinates for scan events.
package geo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/clocksync/internal/scan"
)

// ErrUnavailable is returned by providers with no location capability.
var ErrUnavailable = errors.New("geo: location unavailable")

// ErrPermissionDenied is returned when the platform refuses access.
var ErrPermissionDenied = errors.New("geo: permission denied")

// Provider acquires the current device location.
type Provider interface {
	Locate(ctx context.Context) (*scan.Location, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*scan.Location, error)

func (f ProviderFunc) Locate(ctx context.Context) (*scan.Location, error) {
	return f(ctx)
}

// NoopProvider reports that no location capability exists.
type NoopProvider struct{}

func (NoopProvider) Locate(context.Context) (*scan.Location, error) {
	return nil, ErrUnavailable
}

// StaticProvider returns fixed coordinates, e.g. a wall-mounted kiosk.
type StaticProvider struct {
	Location scan.Location
}

func (p StaticProvider) Locate(context.Context) (*scan.Location, error) {
	loc := p.Location
	return &loc, nil
}

// BestEffort asks p for a location, bounded by timeout when positive.
// Every failure is logged at debug level and yields nil; it never returns
// an error.
func BestEffort(ctx context.Context, p Provider, timeout time.Duration, logger *slog.Logger) *scan.Location {
	if p == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		loc *scan.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := p.Locate(ctx)
		done <- result{loc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			logger.Debug("location unavailable", "error", r.err)
			return nil
		}
		if r.loc == nil {
			return nil
		}
		if err := r.loc.Validate(); err != nil {
			logger.Debug("discarding invalid location", "error", err)
			return nil
		}
		loc := *r.loc
		return &loc
	case <-ctx.Done():
		logger.Debug("location lookup timed out", "error", ctx.Err())
		return nil
	}
}
