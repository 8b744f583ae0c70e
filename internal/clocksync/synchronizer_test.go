package clocksync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/clocksync/internal/geo"
	"github.com/roach88/clocksync/internal/prefs"
	"github.com/roach88/clocksync/internal/queue"
	"github.com/roach88/clocksync/internal/remote"
	"github.com/roach88/clocksync/internal/scan"
	"github.com/roach88/clocksync/internal/testutil"
)

var epoch = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu        sync.Mutex
	infos     []string
	successes []string
	errors    []string
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, msg)
}

func (n *recordingNotifier) Error(msg string, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) snapshot() (infos, successes, errs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.infos...), append([]string(nil), n.successes...), append([]string(nil), n.errors...)
}

type fixture struct {
	svc      *testutil.ScriptedService
	store    *prefs.MemoryStore
	queue    *queue.Queue
	clock    *testutil.ManualClock
	notifier *recordingNotifier
	sync     *Synchronizer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		svc: testutil.NewScriptedService(
			remote.Task{ID: "t1", Name: "Install", Code: "TASK-42"},
			remote.Task{ID: "t2", Name: "Paint", Code: "TASK-43"},
		),
		store:    prefs.NewMemoryStore(),
		clock:    testutil.NewManualClock(epoch),
		notifier: &recordingNotifier{},
	}
	f.queue = queue.New(f.store)
	base := []Option{
		WithClock(f.clock.Now),
		WithIDGenerator(testutil.NewSequentialIDs("e")),
		WithNotifier(f.notifier),
	}
	f.sync = New(f.svc, f.queue, append(base, opts...)...)
	return f
}

func (f *fixture) pending(t *testing.T) []string {
	t.Helper()
	keys, err := f.queue.ListPending(context.Background())
	require.NoError(t, err)
	return keys
}

func TestCapture_OnlineClockIn(t *testing.T) {
	f := newFixture(t)

	out, err := f.sync.Capture(context.Background(), "TASK-42")
	require.NoError(t, err)

	assert.Equal(t, OutcomeStarted, out.Kind)
	assert.False(t, out.Queued)
	require.NotNil(t, out.Session)
	assert.Equal(t, "s1", out.Session.ID)
	assert.Equal(t, "Install", out.Session.TaskName())
	assert.True(t, out.Session.StartedAt.Equal(epoch))

	st := f.sync.State()
	require.NotNil(t, st.Session)
	assert.Equal(t, "s1", st.Session.ID)
	assert.Equal(t, "Install", st.Session.TaskName())
	assert.Empty(t, f.pending(t))
}

func TestCapture_OnlineClockOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sync.Capture(ctx, "LOC-7")
	require.NoError(t, err)
	out, err := f.sync.Capture(ctx, "LOC-7")
	require.NoError(t, err)

	assert.Equal(t, OutcomeStopped, out.Kind)
	assert.False(t, out.Queued)
	assert.Nil(t, f.sync.State().Session)
}

func TestCapture_OfflineWithoutSessionStartsOptimistic(t *testing.T) {
	f := newFixture(t)
	f.svc.SetOnline(false)
	captureAt := f.clock.Advance(5 * time.Minute)

	out, err := f.sync.Capture(context.Background(), "LOC-7")
	require.NoError(t, err)

	assert.Equal(t, OutcomeStartedOptimistic, out.Kind)
	assert.True(t, out.Queued)

	keys := f.pending(t)
	require.Len(t, keys, 1)
	queued, err := f.queue.Load(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Equal(t, "LOC-7", queued.CodeValue)

	st := f.sync.State()
	require.NotNil(t, st.Session)
	assert.True(t, st.Session.StartedAt.Equal(captureAt))
	assert.Nil(t, st.Session.Task)
	assert.True(t, st.Session.Optimistic)
	assert.Equal(t, 1, st.Unconfirmed)
}

func TestCapture_OfflineWithSessionStopsOptimistic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sync.Capture(ctx, "TASK-42")
	require.NoError(t, err)
	require.NotNil(t, f.sync.State().Session)

	f.svc.SetOnline(false)
	out, err := f.sync.Capture(ctx, "TASK-42")
	require.NoError(t, err)

	assert.Equal(t, OutcomeStopped, out.Kind)
	assert.True(t, out.Queued)
	assert.Nil(t, out.Session)
	assert.Nil(t, f.sync.State().Session)
	assert.Len(t, f.pending(t), 1)
}

func TestCapture_RejectedIsNotQueued(t *testing.T) {
	f := newFixture(t)
	f.svc.RejectCode("BOGUS", 422, "unknown code")

	_, err := f.sync.Capture(context.Background(), "BOGUS")
	require.Error(t, err)
	assert.True(t, remote.IsRejected(err))

	assert.Empty(t, f.pending(t))
	assert.Nil(t, f.sync.State().Session)
}

type badStatusService struct {
	*testutil.ScriptedService
}

func (badStatusService) SubmitScan(context.Context, scan.ScanEvent) (remote.ScanResult, error) {
	return remote.ScanResult{Status: "paused"}, nil
}

func TestCapture_UnknownStatusIsProtocolError(t *testing.T) {
	svc := badStatusService{testutil.NewScriptedService()}
	s := New(svc, queue.New(prefs.NewMemoryStore()), WithIDGenerator(testutil.NewSequentialIDs("e")))

	_, err := s.Capture(context.Background(), "TASK-42")
	require.Error(t, err)
	assert.True(t, remote.IsProtocol(err))
	assert.Nil(t, s.State().Session)
}

type failingInsertStore struct {
	*prefs.MemoryStore
}

func (failingInsertStore) Insert(context.Context, string, string) (bool, error) {
	return false, errors.New("disk full")
}

func TestCapture_QueueFailureLeavesStateAlone(t *testing.T) {
	svc := testutil.NewScriptedService()
	svc.SetOnline(false)
	s := New(svc, queue.New(failingInsertStore{prefs.NewMemoryStore()}), WithIDGenerator(testutil.NewSequentialIDs("e")))

	_, err := s.Capture(context.Background(), "LOC-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Nil(t, s.State().Session)
	assert.Zero(t, s.State().Unconfirmed)
}

func TestCapture_EmptyCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.sync.Capture(context.Background(), "   ")
	assert.ErrorIs(t, err, scan.ErrEmptyCode)
	assert.Empty(t, f.svc.Submitted())
}

func TestCapture_AttachesLocation(t *testing.T) {
	loc := scan.Location{Latitude: 52.52, Longitude: 13.405}
	f := newFixture(t, WithGeoProvider(geo.StaticProvider{Location: loc}))

	_, err := f.sync.Capture(context.Background(), "TASK-42")
	require.NoError(t, err)

	submitted := f.svc.Submitted()
	require.Len(t, submitted, 1)
	require.NotNil(t, submitted[0].Location)
	assert.Equal(t, loc, *submitted[0].Location)
}

func TestCapture_LocationFailureIsNonFatal(t *testing.T) {
	denied := geo.ProviderFunc(func(context.Context) (*scan.Location, error) {
		return nil, geo.ErrPermissionDenied
	})
	f := newFixture(t, WithGeoProvider(denied))

	out, err := f.sync.Capture(context.Background(), "TASK-42")
	require.NoError(t, err)
	assert.Nil(t, out.Event.Location)
}

func TestSwitchTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sync.Capture(ctx, "TASK-42")
	require.NoError(t, err)

	session, err := f.sync.SwitchTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "Paint", session.TaskName())
	assert.Equal(t, "Paint", f.sync.State().Session.TaskName())
}

func TestSwitchTask_FailureLeavesStateAndQueueAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sync.Capture(ctx, "TASK-42")
	require.NoError(t, err)
	before := f.sync.State()

	f.svc.SetOnline(false)
	_, err = f.sync.SwitchTask(ctx, "t2")
	require.Error(t, err)
	assert.True(t, remote.IsConnectivity(err))
	assert.Equal(t, before.Session, f.sync.State().Session)
	assert.Empty(t, f.pending(t), "task switches are never queued")

	_, err = f.sync.SwitchTask(ctx, "")
	assert.ErrorIs(t, err, ErrSwitchTaskEmpty)
}

func TestSubscribe_ReceivesFullSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var got []State
	cancel := f.sync.Subscribe(func(s State) { got = append(got, s) })

	_, err := f.sync.Capture(ctx, "TASK-42")
	require.NoError(t, err)
	_, err = f.sync.Capture(ctx, "TASK-42")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "Install", got[0].Session.TaskName())
	assert.Nil(t, got[1].Session)

	cancel()
	_, err = f.sync.Capture(ctx, "TASK-42")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestState_IsACopy(t *testing.T) {
	f := newFixture(t)
	_, err := f.sync.Capture(context.Background(), "TASK-42")
	require.NoError(t, err)

	st := f.sync.State()
	*st.Session.Task = "Tampered"
	assert.Equal(t, "Install", f.sync.State().Session.TaskName())
}

func TestSeed_RestoresSnapshotForOfflineToggle(t *testing.T) {
	f := newFixture(t)
	task := "Install"
	f.sync.Seed(State{Session: &remote.Session{ID: "s9", StartedAt: epoch, Task: &task}, Unconfirmed: 1})

	f.svc.SetOnline(false)
	out, err := f.sync.Capture(context.Background(), "TASK-42")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, out.Kind, "seeded session is closed optimistically")
	assert.Equal(t, 2, f.sync.State().Unconfirmed)
}
