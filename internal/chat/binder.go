package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
	"go.uber.org/zap"
)

// RoomBinder keeps the room of the open conversation joined. At most one
// conversation room is joined at a time. Join and leave failures are logged
// and counted, never returned.
type RoomBinder struct {
	logger  *logging.Logger
	metrics *Metrics

	mu   sync.Mutex
	conn realtime.Conn
	room string
}

// NewRoomBinder returns a binder with nothing joined.
func NewRoomBinder(logger *logging.Logger, metrics *Metrics) *RoomBinder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RoomBinder{logger: logger.Named("binder"), metrics: metrics}
}

// Bind leaves the joined room, if any, then joins room on conn. Binding the
// room already joined on the same connection is a no-op. With a nil conn or
// an empty room nothing is joined; no join is deferred until a connection
// appears.
func (b *RoomBinder) Bind(ctx context.Context, conn realtime.Conn, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.room != "" && b.room == room && b.conn == conn {
		return
	}

	b.leaveLocked(ctx)

	if conn == nil || room == "" {
		return
	}

	ctx = logging.WithConversation(ctx, room)
	err := conn.Join(ctx, room)
	b.metrics.RecordRoomOp("join", err)
	if err != nil {
		b.logger.Warn(ctx, "conversation room join failed", zap.String("room", room), zap.Error(err))
		return
	}
	b.conn = conn
	b.room = room
	b.logger.Debug(ctx, "conversation room joined", zap.String("room", room))
}

// Unbind leaves the joined room.
func (b *RoomBinder) Unbind(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(ctx)
}

// Room returns the joined conversation room, or "".
func (b *RoomBinder) Room() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.room
}

func (b *RoomBinder) leaveLocked(ctx context.Context) {
	if b.room == "" {
		return
	}
	conn, room := b.conn, b.room
	b.conn, b.room = nil, ""

	ctx = logging.WithConversation(ctx, room)
	err := conn.Leave(ctx, room)
	if errors.Is(err, realtime.ErrClosed) {
		// The membership went away with the connection.
		b.logger.Debug(ctx, "conversation room dropped with connection", zap.String("room", room))
		return
	}
	b.metrics.RecordRoomOp("leave", err)
	if err != nil {
		b.logger.Warn(ctx, "conversation room leave failed", zap.String("room", room), zap.Error(err))
		return
	}
	b.logger.Debug(ctx, "conversation room left", zap.String("room", room))
}
