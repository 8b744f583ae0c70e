package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return epoch }

func TestStaticTokenSource(t *testing.T) {
	ctx := context.Background()

	tok, err := StaticTokenSource("abc").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = StaticTokenSource("abc").Refresh(ctx)
	assert.ErrorIs(t, err, ErrRefreshUnsupported)

	_, err = StaticTokenSource("").Token(ctx)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFileTokenSource_RefreshRereadsFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

	src := NewFileTokenSource(path)
	tok, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	tok, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", tok, "token is cached until refresh")

	tok, err = src.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
}

func TestFileTokenSource_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

	_, err := NewFileTokenSource(path).Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestExpiresAt(t *testing.T) {
	issuer := NewIssuer([]byte("secret"), time.Hour, fixedNow)
	tok, err := issuer.Issue("emp-1")
	require.NoError(t, err)

	exp, ok := ExpiresAt(tok)
	require.True(t, ok)
	assert.True(t, exp.Equal(epoch.Add(time.Hour)))

	_, ok = ExpiresAt("not-a-jwt")
	assert.False(t, ok)
}

func TestNeedsRefresh(t *testing.T) {
	issuer := NewIssuer([]byte("secret"), time.Hour, fixedNow)
	tok, err := issuer.Issue("emp-1")
	require.NoError(t, err)

	assert.False(t, NeedsRefresh(tok, epoch, time.Minute))
	assert.True(t, NeedsRefresh(tok, epoch.Add(59*time.Minute+30*time.Second), time.Minute))
	assert.True(t, NeedsRefresh(tok, epoch.Add(2*time.Hour), 0))
	assert.False(t, NeedsRefresh("opaque-token", epoch, time.Hour))
}

func TestIssuer_Verify(t *testing.T) {
	now := epoch
	issuer := NewIssuer([]byte("secret"), time.Hour, func() time.Time { return now })

	tok, err := issuer.Issue("emp-1")
	require.NoError(t, err)

	sub, err := issuer.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "emp-1", sub)

	other := NewIssuer([]byte("other"), time.Hour, fixedNow)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	now = epoch.Add(2 * time.Hour)
	_, err = issuer.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
