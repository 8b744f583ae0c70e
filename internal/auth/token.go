// Package auth supplies bearer tokens to the remote client and, for the
// development backend, issues and verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrRefreshUnsupported is returned by sources that cannot obtain a new token.
	ErrRefreshUnsupported = errors.New("auth: token source cannot refresh")
	// ErrNoToken means no token is configured.
	ErrNoToken = errors.New("auth: no token configured")
)

// TokenSource hands out the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Refresh discards the current token and obtains a new one.
	Refresh(ctx context.Context) (string, error)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

func (s StaticTokenSource) Refresh(context.Context) (string, error) {
	return "", ErrRefreshUnsupported
}

// FileTokenSource reads the token from a file that an external login helper
// rotates. The token is cached until Refresh re-reads the file.
type FileTokenSource struct {
	path string

	mu    sync.Mutex
	token string
}

// NewFileTokenSource returns a source backed by path.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

func (f *FileTokenSource) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	cached := f.token
	f.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	return f.Refresh(ctx)
}

func (f *FileTokenSource) Refresh(context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("read token file %s: %w", f.path, ErrNoToken)
	}

	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
	return token, nil
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// ok is false when the token carries no exp claim or is not a JWT.
func ExpiresAt(token string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	date, err := claims.GetExpirationTime()
	if err != nil || date == nil {
		return time.Time{}, false
	}
	return date.Time, true
}

// NeedsRefresh reports whether token expires within skew of now.
// Opaque (non-JWT) tokens never need a proactive refresh.
func NeedsRefresh(token string, now time.Time, skew time.Duration) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
