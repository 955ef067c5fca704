package chat

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestBinder_SwitchLeavesThenJoins(t *testing.T) {
	log := &opLog{}
	conn := newFakeConn(log)
	b := NewRoomBinder(nil, nil)
	ctx := context.Background()

	b.Bind(ctx, conn, "C1")
	b.Bind(ctx, conn, "C2")

	assert.Equal(t, []string{"join C1", "leave C1", "join C2"}, log.All())
	assert.Equal(t, "C2", b.Room())
	assert.Equal(t, []string{"C2"}, conn.Rooms())
}

func TestBinder_RebindSameRoomIsNoop(t *testing.T) {
	log := &opLog{}
	conn := newFakeConn(log)
	b := NewRoomBinder(nil, nil)
	ctx := context.Background()

	b.Bind(ctx, conn, "C7")
	b.Bind(ctx, conn, "C7")
	b.Bind(ctx, conn, "C7")

	assert.Equal(t, []string{"join C7"}, log.All())
}

func TestBinder_NoConnectionNoJoin(t *testing.T) {
	b := NewRoomBinder(nil, nil)
	b.Bind(context.Background(), nil, "C7")
	assert.Empty(t, b.Room())
}

func TestBinder_NoConnectionStillLeavesOldRoom(t *testing.T) {
	log := &opLog{}
	conn := newFakeConn(log)
	b := NewRoomBinder(nil, nil)
	ctx := context.Background()

	b.Bind(ctx, conn, "C1")
	b.Bind(ctx, nil, "C2")

	assert.Equal(t, []string{"join C1", "leave C1"}, log.All())
	assert.Empty(t, b.Room())
}

func TestBinder_NewConnectionRejoins(t *testing.T) {
	log := &opLog{}
	oldConn, newConn := newFakeConn(log), newFakeConn(log)
	b := NewRoomBinder(nil, nil)
	ctx := context.Background()

	b.Bind(ctx, oldConn, "C7")
	_ = oldConn.Close()
	b.Bind(ctx, newConn, "C7")

	assert.Equal(t, []string{"join C7", "close", "join C7"}, log.All())
	assert.Equal(t, []string{"C7"}, newConn.Rooms())
}

func TestBinder_UnbindLeavesOnce(t *testing.T) {
	log := &opLog{}
	conn := newFakeConn(log)
	b := NewRoomBinder(nil, nil)
	ctx := context.Background()

	b.Bind(ctx, conn, "C7")
	b.Unbind(ctx)
	b.Unbind(ctx)

	assert.Equal(t, []string{"join C7", "leave C7"}, log.All())
	assert.Empty(t, conn.Rooms())
}

func TestBinder_JoinFailureIsLoggedAndCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tl := logging.NewTestLogger()
	log := &opLog{}
	conn := newFakeConn(log)
	conn.joinErr = errBoom
	b := NewRoomBinder(tl.Logger, metrics)
	ctx := context.Background()

	b.Bind(ctx, conn, "C7")
	assert.Empty(t, b.Room())
	tl.AssertLogged(t, zapcore.WarnLevel, "conversation room join failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoomOps.WithLabelValues("join", "error")))

	// Nothing was joined, so switching away emits no leave and a retry joins.
	conn.joinErr = nil
	b.Bind(ctx, conn, "C7")
	assert.Equal(t, []string{"join C7", "join C7"}, log.All())
	assert.Equal(t, "C7", b.Room())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoomOps.WithLabelValues("join", "ok")))
}

func TestBinder_LeaveFailureIsLoggedAndCounted(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	tl := logging.NewTestLogger()
	conn := newFakeConn(nil)
	b := NewRoomBinder(tl.Logger, metrics)
	ctx := context.Background()

	b.Bind(ctx, conn, "C1")
	conn.leaveErr = errBoom
	b.Bind(ctx, conn, "C2")

	assert.Equal(t, "C2", b.Room())
	tl.AssertLogged(t, zapcore.WarnLevel, "conversation room leave failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoomOps.WithLabelValues("leave", "error")))
}

func TestBinder_NeverMoreThanOneConversationRoom(t *testing.T) {
	conn := newFakeConn(nil)
	b := NewRoomBinder(nil, nil)
	ctx := context.Background()

	for _, room := range []string{"C1", "C2", "C2", "C3", "C1", "C4"} {
		b.Bind(ctx, conn, room)
		assert.Len(t, conn.Rooms(), 1)
		assert.Equal(t, []string{room}, conn.Rooms())
	}
}
