package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fyrsmithlabs/opsdesk/internal/identity"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
	"go.uber.org/zap"
)

const defaultRedialInterval = 5 * time.Second

// ConnectionManager owns the single realtime connection of an operator.
//
// While the identity is None no connection exists. When an identity becomes
// available the manager dials and joins the identity room; when it changes
// the old connection is closed before the new one is dialed.
type ConnectionManager struct {
	dialer  realtime.Dialer
	logger  *logging.Logger
	metrics *Metrics
	redial  time.Duration

	// op serializes identity transitions.
	op sync.Mutex

	mu       sync.Mutex
	identity identity.Identity
	conn     realtime.Conn
	gen      uint64
	health   realtime.Health
	closed   bool

	handlers       listeners[realtime.Event]
	connListeners  listeners[realtime.Conn]
	healthWatchers listeners[realtime.Health]
}

// ManagerOption configures a ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithManagerLogger sets the logger.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *ConnectionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithManagerMetrics sets the metrics sink.
func WithManagerMetrics(metrics *Metrics) ManagerOption {
	return func(m *ConnectionManager) { m.metrics = metrics }
}

// WithRedialInterval sets how long Run waits before redialing after a
// failed dial.
func WithRedialInterval(d time.Duration) ManagerOption {
	return func(m *ConnectionManager) { m.redial = d }
}

// NewConnectionManager returns a manager with no connection.
func NewConnectionManager(dialer realtime.Dialer, opts ...ManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		dialer: dialer,
		logger: logging.Nop(),
		redial: defaultRedialInterval,
		health: realtime.HealthDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("connection")
	return m
}

// Conn returns the active connection, or nil.
func (m *ConnectionManager) Conn() realtime.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Identity returns the identity the current connection belongs to.
func (m *ConnectionManager) Identity() identity.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Health returns the health of the current connection.
func (m *ConnectionManager) Health() realtime.Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// Subscribe registers h for every inbound event. The returned func removes it.
func (m *ConnectionManager) Subscribe(h realtime.Handler) func() {
	return m.handlers.add(h)
}

// OnConnChange registers fn to be called with the new handle (nil when the
// connection goes away) each time the connection changes.
func (m *ConnectionManager) OnConnChange(fn func(realtime.Conn)) func() {
	return m.connListeners.add(fn)
}

// OnHealthChange registers fn for health transitions.
func (m *ConnectionManager) OnHealthChange(fn func(realtime.Health)) func() {
	return m.healthWatchers.add(fn)
}

// SetIdentity moves the manager to id. Setting the identity already
// connected is a no-op. Dial errors are returned; a failed identity room
// join is logged and counted but leaves the connection in place.
func (m *ConnectionManager) SetIdentity(ctx context.Context, id identity.Identity) error {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return realtime.ErrClosed
	}
	if id == m.identity && (m.conn != nil || !id.Available()) {
		m.mu.Unlock()
		return nil
	}
	old := m.conn
	m.conn = nil
	m.identity = id
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if old != nil {
		m.logger.Info(ctx, "closing realtime connection")
		if err := old.Close(); err != nil {
			m.logger.Warn(ctx, "closing realtime connection failed", zap.Error(err))
		}
		m.connListeners.emit(nil)
	}

	if !id.Available() {
		m.setHealth(gen, realtime.HealthDisconnected)
		return nil
	}

	ctx = logging.WithOperator(ctx, id.OperatorID)
	conn, err := m.dialer.Dial(ctx, id, realtime.Callbacks{
		OnEvent:  m.handlers.emit,
		OnHealth: func(h realtime.Health) { m.setHealth(gen, h) },
	})
	if err != nil {
		m.setHealth(gen, realtime.HealthDisconnected)
		m.logger.Warn(ctx, "realtime dial failed", zap.Error(err))
		return fmt.Errorf("dial realtime: %w", err)
	}

	err = conn.Join(ctx, id.Room())
	m.metrics.RecordRoomOp("join", err)
	if err != nil {
		m.logger.Warn(ctx, "identity room join failed", zap.String("room", id.Room()), zap.Error(err))
	} else {
		m.logger.Info(ctx, "identity room joined", zap.String("room", id.Room()))
	}

	m.mu.Lock()
	if m.gen != gen || m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.mu.Unlock()

	m.setHealth(gen, conn.Health())
	m.connListeners.emit(conn)
	return nil
}

// Run follows src until ctx is done, then closes the connection. A failed
// dial is retried after the redial interval while the identity is unchanged.
func (m *ConnectionManager) Run(ctx context.Context, src identity.Source) error {
	defer m.Close()

	var retry <-chan time.Time
	apply := func(id identity.Identity) {
		retry = nil
		if err := m.SetIdentity(ctx, id); err != nil && !errors.Is(err, realtime.ErrClosed) && ctx.Err() == nil {
			retry = time.After(m.redial)
		}
	}

	apply(src.Current())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-src.Updates():
			apply(id)
		case <-retry:
			apply(m.Identity())
		}
	}
}

// Close closes the connection. The manager cannot be reused.
func (m *ConnectionManager) Close() error {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	old := m.conn
	m.conn = nil
	m.identity = identity.None
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	var err error
	if old != nil {
		err = old.Close()
		m.connListeners.emit(nil)
	}
	m.setHealth(gen, realtime.HealthClosed)
	return err
}

func (m *ConnectionManager) setHealth(gen uint64, h realtime.Health) {
	m.mu.Lock()
	if gen != m.gen || m.health == h {
		m.mu.Unlock()
		return
	}
	m.health = h
	m.mu.Unlock()

	m.metrics.SetHealth(h)
	m.healthWatchers.emit(h)
}

// listeners is a registry of callbacks safe for concurrent add and emit.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	fns := make([]func(T), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
