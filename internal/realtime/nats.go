package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/opsdesk/internal/config"
	"github.com/fyrsmithlabs/opsdesk/internal/identity"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSDialer dials realtime connections over NATS.
type NATSDialer struct {
	cfg    config.RealtimeConfig
	logger *logging.Logger
}

// NewNATSDialer returns a dialer using cfg's URL, subject prefix and
// reconnection policy.
func NewNATSDialer(cfg config.RealtimeConfig, logger *logging.Logger) *NATSDialer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &NATSDialer{cfg: cfg, logger: logger.Named("realtime")}
}

// Dial connects to NATS as the given operator.
//
// Reconnection is delegated to the NATS client: MaxReconnects attempts spaced
// by ReconnectWait plus up to ReconnectJitter. Subscriptions survive
// reconnects. Health changes are reported through cb.OnHealth.
func (d *NATSDialer) Dial(ctx context.Context, id identity.Identity, cb Callbacks) (Conn, error) {
	if !id.Available() {
		return nil, fmt.Errorf("dial: operator identity not available")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &natsConn{
		subj:         subjects{prefix: d.cfg.SubjectPrefix},
		operatorID:   id.OperatorID,
		flushTimeout: d.cfg.FlushTimeout,
		cb:           cb,
		logger:       d.logger.With(zap.String("operator", id.OperatorID)),
		subs:         make(map[string]*nats.Subscription),
	}
	c.setHealth(HealthConnecting)

	opts := []nats.Option{
		nats.Name("opsdesk/" + id.OperatorID),
		nats.Timeout(d.cfg.DialTimeout),
		nats.MaxReconnects(d.cfg.MaxReconnects),
		nats.ReconnectWait(d.cfg.ReconnectWait),
		nats.ReconnectJitter(d.cfg.ReconnectJitter, d.cfg.ReconnectJitter),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if nc.IsReconnecting() {
				c.setHealth(HealthReconnecting)
			} else if !nc.IsClosed() {
				c.setHealth(HealthDisconnected)
			}
			c.logger.Warn(context.Background(), "realtime disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setHealth(HealthConnected)
			c.logger.Info(context.Background(), "realtime reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.setHealth(HealthClosed)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Warn(context.Background(), "realtime async error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	if d.cfg.NoEcho {
		opts = append(opts, nats.NoEcho())
	}

	nc, err := nats.Connect(d.cfg.URL, opts...)
	if err != nil {
		c.setHealth(HealthDisconnected)
		return nil, fmt.Errorf("failed to connect to realtime server at %s: %w", d.cfg.URL, err)
	}
	c.nc = nc
	c.setHealth(HealthConnected)

	d.logger.Info(ctx, "realtime connected",
		zap.String("url", nc.ConnectedUrlRedacted()),
		zap.String("operator", id.OperatorID))
	return c, nil
}

type natsConn struct {
	nc           *nats.Conn
	subj         subjects
	operatorID   string
	flushTimeout time.Duration
	cb           Callbacks
	logger       *logging.Logger

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	health Health
	closed bool
}

func (c *natsConn) setHealth(h Health) {
	c.mu.Lock()
	if c.health == h || (c.health == HealthClosed && h != HealthClosed) {
		c.mu.Unlock()
		return
	}
	c.health = h
	c.mu.Unlock()

	if c.cb.OnHealth != nil {
		c.cb.OnHealth(h)
	}
}

func (c *natsConn) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

func (c *natsConn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.subs))
	for r := range c.subs {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *natsConn) Join(ctx context.Context, room string) error {
	if !ValidRoom(room) {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.subs[room]; ok {
		return nil
	}

	sub, err := c.nc.Subscribe(c.subj.roomWildcard(room), c.deliver)
	if err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}
	if err := c.announce(ctx, "join", room); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("join %s: %w", room, err)
	}

	c.subs[room] = sub
	c.logger.Debug(ctx, "room joined", zap.String("room", room))
	return nil
}

func (c *natsConn) Leave(ctx context.Context, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	sub, ok := c.subs[room]
	if !ok {
		return nil
	}

	delete(c.subs, room)
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("leave %s: %w", room, err)
	}
	if err := c.announce(ctx, "leave", room); err != nil {
		return fmt.Errorf("leave %s: %w", room, err)
	}

	c.logger.Debug(ctx, "room left", zap.String("room", room))
	return nil
}

// announce publishes a presence change and flushes so the subscription
// change has reached the server before returning. While reconnecting the
// flush is skipped; the client replays subscriptions on reconnect.
func (c *natsConn) announce(ctx context.Context, action, room string) error {
	data, err := json.Marshal(Presence{Room: room, OperatorID: c.operatorID})
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := c.nc.Publish(c.subj.presence(action), data); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	if c.nc.IsReconnecting() {
		return nil
	}
	return c.flush(ctx)
}

func (c *natsConn) Publish(ctx context.Context, room string, kind Kind, v any) error {
	if !ValidRoom(room) {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	subject := c.subj.room(room, kind)
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", room, err)
	}
	if err := c.flush(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", room, err)
	}

	c.logger.Trace(ctx, "published", zap.String("subject", subject), zap.ByteString("payload", data))
	return nil
}

func (c *natsConn) flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.flushTimeout)
	defer cancel()
	return c.nc.FlushWithContext(ctx)
}

func (c *natsConn) deliver(m *nats.Msg) {
	room, kind, ok := c.subj.parseRoom(m.Subject)
	if !ok {
		return
	}
	c.logger.Trace(context.Background(), "received", zap.String("subject", m.Subject), zap.ByteString("payload", m.Data))
	if c.cb.OnEvent != nil {
		c.cb.OnEvent(Event{Room: room, Kind: kind, Data: m.Data})
	}
}

func (c *natsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	c.nc.Close()
	c.setHealth(HealthClosed)
	return nil
}
