package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/clocksync/internal/auth"
	"github.com/roach88/clocksync/internal/scan"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func testEvent(t *testing.T) scan.ScanEvent {
	t.Helper()
	ev, err := scan.NewEvent("TASK-42", &scan.Location{Latitude: 1, Longitude: 2},
		time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), scan.NewFixedGenerator("e1"))
	require.NoError(t, err)
	return ev
}

func TestNewHTTPClient_RejectsBadURL(t *testing.T) {
	_, err := NewHTTPClient("ftp://example.com")
	assert.Error(t, err)
	_, err = NewHTTPClient("://nope")
	assert.Error(t, err)
}

func TestSubmitScan_SendsEventAndDecodes(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathScan, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"clock_in","entry":{"id":"s1","startedAt":"2024-01-01T08:00:00Z","task":"Install"}}`))
	}, WithTokenSource(auth.StaticTokenSource("tok")))

	res, err := c.SubmitScan(context.Background(), testEvent(t))
	require.NoError(t, err)
	assert.Equal(t, ScanStatusClockIn, res.Status)
	assert.Equal(t, "Install", res.Session.TaskName())

	assert.Equal(t, "e1", got["id"])
	assert.Equal(t, "TASK-42", got["codeValue"])
	assert.Equal(t, "2024-01-01T08:00:00Z", got["capturedAt"])
	assert.Equal(t, map[string]any{"latitude": 1.0, "longitude": 2.0}, got["location"])
}

func TestSubmitScan_RejectedIsNotConnectivity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"unknown code"}`))
	})

	_, err := c.SubmitScan(context.Background(), testEvent(t))
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.False(t, IsConnectivity(err))

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusConflict, re.Status)
	assert.Equal(t, "unknown code", re.Message)
}

func TestSubmitScan_ServerErrorIsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.SubmitScan(context.Background(), testEvent(t))
	assert.True(t, IsRejected(err))
	assert.Contains(t, err.Error(), "Internal Server Error")
}

func TestSubmitScan_UnreachableIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(url, WithTimeout(2*time.Second))
	require.NoError(t, err)

	_, err = c.SubmitScan(context.Background(), testEvent(t))
	require.Error(t, err)
	assert.True(t, IsConnectivity(err), "got %v", err)
}

func TestSubmitScan_OfflineCheckFailsFast(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, WithOfflineCheck(func() bool { return true }))

	_, err := c.SubmitScan(context.Background(), testEvent(t))
	assert.True(t, IsConnectivity(err))
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, calls.Load())
}

func TestSubmitScan_ProtocolViolation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	_, err := c.SubmitScan(context.Background(), testEvent(t))
	assert.True(t, IsProtocol(err))
}

func TestSubmitScan_CancelledContextIsNotConnectivity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SubmitScan(ctx, testEvent(t))
	require.Error(t, err)
	assert.False(t, IsConnectivity(err))
	assert.ErrorIs(t, err, context.Canceled)
}

type rotatingSource struct {
	current   string
	next      string
	refreshes int
}

func (r *rotatingSource) Token(context.Context) (string, error) { return r.current, nil }

func (r *rotatingSource) Refresh(context.Context) (string, error) {
	r.refreshes++
	r.current = r.next
	return r.current, nil
}

func TestDo_RefreshesTokenOnceOn401(t *testing.T) {
	src := &rotatingSource{current: "stale", next: "fresh"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`null`))
	}, WithTokenSource(src))

	s, err := c.ActiveSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, 1, src.refreshes)
}

func TestDo_UnauthorizedAfterRefresh(t *testing.T) {
	src := &rotatingSource{current: "stale", next: "still-bad"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"token expired"}`))
	}, WithTokenSource(src))

	_, err := c.Tasks(context.Background())
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Equal(t, 1, src.refreshes)

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeUnauthorized, re.Code)
}

func TestDo_ProactiveRefreshNearExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	issuer := auth.NewIssuer([]byte("s"), time.Minute, func() time.Time { return now })
	stale, err := issuer.Issue("emp-1")
	require.NoError(t, err)

	src := &rotatingSource{current: stale, next: "fresh"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}, WithTokenSource(src), WithClock(func() time.Time { return now.Add(59 * time.Second) }))

	tasks, err := c.Tasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, 1, src.refreshes)
}

func TestSwitchTask(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathSwitchTask, r.URL.Path)
		var req SwitchTaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "t2", req.TaskID)
		assert.Nil(t, req.Location)
		_, _ = w.Write([]byte(`{"newEntry":{"id":"s2","startedAt":"2024-01-01T09:00:00Z","task":"Paint"}}`))
	})

	s, err := c.SwitchTask(context.Background(), SwitchTaskRequest{TaskID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, "s2", s.ID)
}

func TestPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathHealth, r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}, WithOfflineCheck(func() bool { return true }))

	assert.NoError(t, c.Ping(context.Background()), "ping ignores the offline check")
	healthy.Store(false)
	assert.Error(t, c.Ping(context.Background()))
}

func TestNewHTTPClient_TimeoutIndependentOfOptionOrder(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}

	before, err := NewHTTPClient("http://example.test", WithTimeout(3*time.Second), WithHTTPClient(shared))
	require.NoError(t, err)
	after, err := NewHTTPClient("http://example.test", WithHTTPClient(shared), WithTimeout(3*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, before.http.Timeout)
	assert.Equal(t, 3*time.Second, after.http.Timeout)
	assert.Equal(t, time.Minute, shared.Timeout, "caller's client must not change")
	assert.NotSame(t, shared, after.http)
}

func TestNewHTTPClient_DefaultTimeout(t *testing.T) {
	plain, err := NewHTTPClient("http://example.test")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, plain.http.Timeout)

	own, err := NewHTTPClient("http://example.test", WithHTTPClient(&http.Client{Timeout: time.Minute}))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, own.http.Timeout)

	zero, err := NewHTTPClient("http://example.test", WithHTTPClient(&http.Client{}))
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, zero.http.Timeout)
}
