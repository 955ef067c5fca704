package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/identity"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deskFixture struct {
	backend *fakeBackend
	dialer  *fakeDialer
	log     *opLog
	desk    *Desk
	metrics *Metrics
}

func newDeskFixture(t *testing.T) *deskFixture {
	t.Helper()
	log := &opLog{}
	f := &deskFixture{
		backend: newFakeBackend(),
		dialer:  &fakeDialer{log: log},
		log:     log,
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	conns := NewConnectionManager(f.dialer, WithManagerMetrics(f.metrics))
	stream := NewMessageStream(f.backend, WithClock(fixedClock), WithIDGenerator(sequentialIDs()), WithStreamMetrics(f.metrics))
	f.desk = NewDesk(f.backend, conns, WithStream(stream), WithDeskMetrics(f.metrics))
	t.Cleanup(func() {
		f.desk.Close(context.Background())
		_ = conns.Close()
	})
	return f
}

func (f *deskFixture) login(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, f.desk.Connections().SetIdentity(context.Background(), opA))
	return f.dialer.Last()
}

func TestDesk_OpenBindsAndLoads(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 3)
	conn := f.login(t)

	require.NoError(t, f.desk.Open(context.Background(), "C7"))

	assert.Equal(t, []string{"A1", "C7"}, conn.Rooms())
	snap := f.desk.Snapshot()
	assert.Equal(t, "C7", snap.Active)
	assert.Equal(t, StateReady, snap.Stream.State)
	assert.Len(t, snap.Stream.Entries, 3)
	assert.Equal(t, opA, snap.Operator)
	assert.Equal(t, realtime.HealthConnected, snap.Health)
}

func TestDesk_SwitchConversation(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C1", 2)
	f.backend.history("C2", 1)
	conn := f.login(t)
	ctx := context.Background()

	require.NoError(t, f.desk.Open(ctx, "C1"))
	f.log.Reset()
	require.NoError(t, f.desk.Open(ctx, "C2"))

	assert.Equal(t, []string{"leave C1", "join C2"}, f.log.All())
	assert.Equal(t, []string{"A1", "C2"}, conn.Rooms())
	for _, e := range f.desk.Snapshot().Stream.Entries {
		assert.Equal(t, "C2", e.Message.ConversationID)
	}
}

func TestDesk_ReopenActiveConversationIsNoop(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 3)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.desk.Open(ctx, "C7"))
	f.log.Reset()
	require.NoError(t, f.desk.Open(ctx, "C7"))

	assert.Empty(t, f.log.All())
	assert.Equal(t, 1, f.backend.HistoryCalls("C7"))
}

func TestDesk_ReopenAfterFailureRetries(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 3)
	f.backend.historyErr = errBoom
	f.login(t)
	ctx := context.Background()

	require.ErrorIs(t, f.desk.Open(ctx, "C7"), ErrLoadMessages)
	assert.Equal(t, LoadFailedMessage, f.desk.Snapshot().Stream.Err)

	f.backend.mu.Lock()
	f.backend.historyErr = nil
	f.backend.mu.Unlock()
	require.NoError(t, f.desk.Open(ctx, "C7"))
	assert.Len(t, f.desk.Snapshot().Stream.Entries, 3)
	assert.Equal(t, 2, f.backend.HistoryCalls("C7"))
}

func TestDesk_RoutesMessagesOfBoundRoomOnly(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 3)
	conn := f.login(t)
	require.NoError(t, f.desk.Open(context.Background(), "C7"))

	conn.push(t, "C7", realtime.KindMessage, api.Message{ID: "M4", Sender: api.RoleCleaner, Content: "still locked"})
	conn.push(t, "C8", realtime.KindMessage, api.Message{ID: "X1", Sender: api.RoleCleaner})
	conn.push(t, "A1", realtime.KindMessage, api.Message{ID: "X2", Sender: api.RoleCleaner})
	conn.push(t, "C7", realtime.KindMessage, api.Message{ID: "X3", Sender: "admin"})
	conn.cb.OnEvent(realtime.Event{Room: "C7", Kind: realtime.KindMessage, Data: []byte("{not json")})

	entries := f.desk.Snapshot().Stream.Entries
	require.Len(t, entries, 4)
	assert.Equal(t, "M4", entries[3].Message.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesReceived))
}

func TestDesk_NotifyRefreshesUnresolvedCount(t *testing.T) {
	f := newDeskFixture(t)
	conn := f.login(t)
	f.backend.setUnresolved(5)

	conn.push(t, "A1", realtime.KindNotify, map[string]string{"type": "new_issue"})

	require.Eventually(t, func() bool { return f.desk.Unresolved() == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.Unresolved))
}

func TestDesk_NotifyBurstCollapsesRefreshes(t *testing.T) {
	f := newDeskFixture(t)
	conn := f.login(t)
	release := f.backend.gateCount()
	defer release()

	for i := 0; i < 10; i++ {
		conn.push(t, "A1", realtime.KindNotify, map[string]string{"type": "new_issue"})
	}
	require.Eventually(t, func() bool { return f.backend.CountCalls() == 1 }, time.Second, 5*time.Millisecond)

	f.backend.setUnresolved(7)
	release()

	require.Eventually(t, func() bool { return f.desk.Unresolved() == 7 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		f.desk.mu.Lock()
		defer f.desk.mu.Unlock()
		return !f.desk.refreshing
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.backend.CountCalls())
}

func TestDesk_CloseCancelsUnresolvedRefresh(t *testing.T) {
	f := newDeskFixture(t)
	conn := f.login(t)
	release := f.backend.gateCount()
	defer release()

	conn.push(t, "A1", realtime.KindNotify, map[string]string{"type": "new_issue"})
	require.Eventually(t, func() bool { return f.backend.CountCalls() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		f.desk.Close(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return while a refresh was in flight")
	}
	assert.Equal(t, 0, f.desk.Unresolved())

	conn.push(t, "A1", realtime.KindNotify, map[string]string{"type": "new_issue"})
	assert.Equal(t, 1, f.backend.CountCalls())
}

func TestDesk_SendUsesCurrentConnection(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 0)
	conn := f.login(t)
	ctx := context.Background()
	require.NoError(t, f.desk.Open(ctx, "C7"))

	e, err := f.desk.Send(ctx, "on my way")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, e.Status)
	require.Len(t, conn.Published(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesSent.WithLabelValues("sent")))
}

func TestDesk_ToggleResolved(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 1)
	f.backend.conversations = []api.Conversation{{ID: "C7"}, {ID: "C8"}}
	f.login(t)
	ctx := context.Background()

	_, err := f.desk.ToggleResolved(ctx)
	assert.ErrorIs(t, err, ErrNoConversation)

	_, err = f.desk.Refresh(ctx, api.ConversationQuery{})
	require.NoError(t, err)
	require.NoError(t, f.desk.Open(ctx, "C7"))

	conv, err := f.desk.ToggleResolved(ctx)
	require.NoError(t, err)
	assert.True(t, conv.IsResolved)
	cached, _ := f.desk.Conversations().Get("C7")
	assert.True(t, cached.IsResolved)

	conv, err = f.desk.ToggleResolved(ctx)
	require.NoError(t, err)
	assert.False(t, conv.IsResolved)
	assert.Equal(t, []bool{true, false}, f.backend.resolveCalls)
}

func TestDesk_ToggleResolvedFailureLeavesFlag(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 1)
	f.backend.conversations = []api.Conversation{{ID: "C7"}}
	f.backend.resolveErr = &api.Error{StatusCode: 500, Message: "nope"}
	f.login(t)
	ctx := context.Background()

	_, err := f.desk.Refresh(ctx, api.ConversationQuery{})
	require.NoError(t, err)
	require.NoError(t, f.desk.Open(ctx, "C7"))

	_, err = f.desk.ToggleResolved(ctx)
	require.Error(t, err)
	assert.Equal(t, 500, api.StatusCode(err))

	cached, _ := f.desk.Conversations().Get("C7")
	assert.False(t, cached.IsResolved)
}

func TestDesk_ToggleResolvedUnknownConversation(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 1)
	f.login(t)
	require.NoError(t, f.desk.Open(context.Background(), "C7"))

	_, err := f.desk.ToggleResolved(context.Background())
	assert.ErrorIs(t, err, ErrUnknownConversation)
	assert.Empty(t, f.backend.resolveCalls)
}

func TestDesk_RebindsOnReconnectOfSameOperator(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 1)
	f.login(t)
	ctx := context.Background()
	require.NoError(t, f.desk.Open(ctx, "C7"))

	require.NoError(t, f.desk.Connections().SetIdentity(ctx, identity.None))
	assert.Empty(t, f.desk.Binder().Room())
	assert.Equal(t, "C7", f.desk.Active())

	require.NoError(t, f.desk.Connections().SetIdentity(ctx, opA))
	second := f.dialer.Last()

	assert.Equal(t, []string{"A1", "C7"}, second.Rooms())
	assert.Equal(t, "C7", f.desk.Binder().Room())
	assert.Equal(t, StateReady, f.desk.Snapshot().Stream.State)
}

func TestDesk_OperatorChangeClosesConversation(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 2)
	f.login(t)
	ctx := context.Background()
	require.NoError(t, f.desk.Open(ctx, "C7"))

	require.NoError(t, f.desk.Connections().SetIdentity(ctx, opB))
	second := f.dialer.Last()

	assert.Equal(t, []string{"B2"}, second.Rooms())
	snap := f.desk.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Empty(t, f.desk.Binder().Room())
	assert.Equal(t, StateIdle, snap.Stream.State)
	assert.Empty(t, snap.Stream.Entries)
}

func TestDesk_OperatorChangeAfterLogoutClosesConversation(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 2)
	f.login(t)
	ctx := context.Background()
	require.NoError(t, f.desk.Open(ctx, "C7"))

	require.NoError(t, f.desk.Connections().SetIdentity(ctx, identity.None))
	require.NoError(t, f.desk.Connections().SetIdentity(ctx, opB))

	assert.Equal(t, []string{"B2"}, f.dialer.Last().Rooms())
	assert.Empty(t, f.desk.Active())
	assert.Equal(t, StateIdle, f.desk.Snapshot().Stream.State)
}

func TestDesk_ConcurrentOpensStayConsistent(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C1", 2)
	f.backend.history("C2", 3)
	conn := f.login(t)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = f.desk.Open(ctx, "C1") }()
		go func() { defer wg.Done(); _ = f.desk.Open(ctx, "C2") }()
		wg.Wait()

		active := f.desk.Active()
		view := f.desk.Snapshot().Stream
		require.Equal(t, active, f.desk.Binder().Room(), "iteration %d", i)
		require.Equal(t, active, view.ConversationID, "iteration %d", i)
		require.Equal(t, StateReady, view.State, "iteration %d", i)
		for _, e := range view.Entries {
			require.Equal(t, active, e.Message.ConversationID, "iteration %d", i)
		}
		require.Equal(t, []string{"A1", active}, conn.Rooms(), "iteration %d", i)
	}
}

func TestDesk_OpenRacingCloseConversationStaysConsistent(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C1", 2)
	f.login(t)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = f.desk.Open(ctx, "C1") }()
		go func() { defer wg.Done(); f.desk.CloseConversation(ctx) }()
		wg.Wait()

		active := f.desk.Active()
		view := f.desk.Snapshot().Stream
		require.Equal(t, active, f.desk.Binder().Room(), "iteration %d", i)
		require.Equal(t, active, view.ConversationID, "iteration %d", i)
		f.desk.CloseConversation(ctx)
	}
}

func TestDesk_OpenBeforeConnectionJoinsWhenConnected(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 1)
	ctx := context.Background()

	require.NoError(t, f.desk.Open(ctx, "C7"))
	assert.Empty(t, f.desk.Binder().Room())

	conn := f.login(t)
	assert.Equal(t, []string{"A1", "C7"}, conn.Rooms())
}

func TestDesk_CloseConversation(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 2)
	conn := f.login(t)
	ctx := context.Background()
	require.NoError(t, f.desk.Open(ctx, "C7"))

	f.desk.CloseConversation(ctx)

	assert.Equal(t, []string{"A1"}, conn.Rooms())
	snap := f.desk.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Equal(t, StateIdle, snap.Stream.State)
	assert.Empty(t, snap.Stream.Entries)
}

func TestDesk_SubscribeNotifiesOnChanges(t *testing.T) {
	f := newDeskFixture(t)
	f.backend.history("C7", 1)
	calls := make(chan struct{}, 64)
	f.desk.Subscribe(func() { calls <- struct{}{} })

	f.login(t)
	require.NoError(t, f.desk.Open(context.Background(), "C7"))
	assert.NotEmpty(t, calls)
}
