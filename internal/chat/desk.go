package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/identity"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
	"go.uber.org/zap"
)

const unresolvedRefreshTimeout = 10 * time.Second

// Snapshot is the complete desk state rendered by the console.
type Snapshot struct {
	Operator      identity.Identity
	Health        realtime.Health
	Conversations []api.Conversation
	Unresolved    int
	Active        string
	Stream        View
}

// Desk composes the connection manager, room binder, message stream and
// conversation list on top of the REST backend.
type Desk struct {
	backend Backend
	conns   *ConnectionManager
	binder  *RoomBinder
	stream  *MessageStream
	list    *ConversationList
	logger  *logging.Logger
	metrics *Metrics

	// op serializes changes to the open conversation so the active id, the
	// bound room and the stream always name the same conversation.
	op sync.Mutex

	mu         sync.Mutex
	active     string
	owner      string // operator the open conversation was opened under
	unresolved int
	closed     bool

	// refreshCtx bounds background refreshes; Close cancels it.
	refreshCtx    context.Context
	cancelRefresh context.CancelFunc
	refreshing    bool
	refreshAgain  bool
	refreshWG     sync.WaitGroup

	observers listeners[struct{}]
	unsub     []func()
}

// DeskOption configures a Desk.
type DeskOption func(*Desk)

// WithDeskLogger sets the logger shared by the desk's components.
func WithDeskLogger(l *logging.Logger) DeskOption {
	return func(d *Desk) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDeskMetrics sets the metrics shared by the desk's components.
func WithDeskMetrics(m *Metrics) DeskOption {
	return func(d *Desk) { d.metrics = m }
}

// WithStream replaces the message stream, mainly to inject a clock or id
// generator.
func WithStream(s *MessageStream) DeskOption {
	return func(d *Desk) { d.stream = s }
}

// NewDesk wires a desk. The desk routes inbound events from conns: messages
// on the bound conversation room go to the stream and notify events trigger
// an unresolved count refresh. When the connection changes the open
// conversation is rebound on the new one.
func NewDesk(backend Backend, conns *ConnectionManager, opts ...DeskOption) *Desk {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Desk{
		backend:       backend,
		conns:         conns,
		list:          NewConversationList(),
		logger:        logging.Nop(),
		refreshCtx:    ctx,
		cancelRefresh: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.stream == nil {
		d.stream = NewMessageStream(backend, WithStreamLogger(d.logger), WithStreamMetrics(d.metrics))
	}
	d.binder = NewRoomBinder(d.logger, d.metrics)
	d.logger = d.logger.Named("desk")

	d.unsub = append(d.unsub,
		conns.Subscribe(d.handleEvent),
		conns.OnConnChange(d.rebind),
		conns.OnHealthChange(func(realtime.Health) { d.notify() }),
		d.stream.Subscribe(func(View) { d.notify() }),
	)
	return d
}

// Connections returns the desk's connection manager.
func (d *Desk) Connections() *ConnectionManager { return d.conns }

// Stream returns the desk's message stream.
func (d *Desk) Stream() *MessageStream { return d.stream }

// Conversations returns the conversation list cache.
func (d *Desk) Conversations() *ConversationList { return d.list }

// Binder returns the conversation room binder.
func (d *Desk) Binder() *RoomBinder { return d.binder }

// Subscribe registers fn to be called after any desk state change.
func (d *Desk) Subscribe(fn func()) func() {
	return d.observers.add(func(struct{}) { fn() })
}

func (d *Desk) notify() {
	d.observers.emit(struct{}{})
}

// Snapshot returns the current desk state.
func (d *Desk) Snapshot() Snapshot {
	d.mu.Lock()
	active, unresolved := d.active, d.unresolved
	d.mu.Unlock()

	return Snapshot{
		Operator:      d.conns.Identity(),
		Health:        d.conns.Health(),
		Conversations: d.list.All(),
		Unresolved:    unresolved,
		Active:        active,
		Stream:        d.stream.Snapshot(),
	}
}

// Refresh reloads the conversation list.
func (d *Desk) Refresh(ctx context.Context, q api.ConversationQuery) ([]api.Conversation, error) {
	page, err := d.backend.ListConversations(ctx, q)
	if err != nil {
		d.logger.Warn(ctx, "listing conversations failed", zap.Error(err))
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	d.list.Set(page.Items)
	d.notify()
	return page.Items, nil
}

// RefreshUnresolved fetches the unresolved conversation count.
func (d *Desk) RefreshUnresolved(ctx context.Context) (int, error) {
	n, err := d.backend.UnresolvedCount(ctx)
	if err != nil {
		d.logger.Warn(ctx, "unresolved count refresh failed", zap.Error(err))
		return 0, fmt.Errorf("unresolved count: %w", err)
	}

	d.mu.Lock()
	d.unresolved = n
	d.mu.Unlock()

	d.metrics.SetUnresolved(n)
	d.notify()
	return n, nil
}

// Unresolved returns the last fetched unresolved count.
func (d *Desk) Unresolved() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unresolved
}

// Active returns the open conversation id, or "".
func (d *Desk) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Open opens conversation id: its room is bound and its history loaded.
// Re-opening the conversation already open and loaded or loading is a no-op.
// After a failed load, opening it again retries. Only the history fetch runs
// outside the desk's operation lock, so a later Open or CloseConversation
// supersedes it.
func (d *Desk) Open(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoConversation
	}

	d.op.Lock()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.op.Unlock()
		return realtime.ErrClosed
	}
	if d.active == id {
		if st := d.stream.Snapshot().State; st == StateReady || st == StateLoading {
			d.mu.Unlock()
			d.op.Unlock()
			return nil
		}
	}
	d.active = id
	d.owner = d.conns.Identity().OperatorID
	d.mu.Unlock()

	d.binder.Bind(ctx, d.conns.Conn(), id)
	load := d.stream.begin(ctx, id)
	d.op.Unlock()

	return load()
}

// CloseConversation leaves the open conversation's room and clears the
// transcript.
func (d *Desk) CloseConversation(ctx context.Context) {
	d.op.Lock()
	defer d.op.Unlock()
	d.closeConversationLocked(ctx)
}

func (d *Desk) closeConversationLocked(ctx context.Context) {
	d.mu.Lock()
	d.active = ""
	d.owner = ""
	d.mu.Unlock()

	d.binder.Unbind(ctx)
	d.stream.Clear()
}

// Send sends text to the open conversation.
func (d *Desk) Send(ctx context.Context, text string) (Entry, error) {
	return d.stream.Send(ctx, d.conns.Conn(), text)
}

// ToggleResolved flips the resolved flag of the open conversation. The
// cached entry is replaced only after the backend accepts the change.
func (d *Desk) ToggleResolved(ctx context.Context) (api.Conversation, error) {
	id := d.Active()
	if id == "" {
		return api.Conversation{}, ErrNoConversation
	}
	conv, ok := d.list.Get(id)
	if !ok {
		return api.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	ctx = logging.WithConversation(ctx, id)
	want := !conv.IsResolved
	if err := d.backend.SetResolved(ctx, id, want); err != nil {
		d.logger.Warn(ctx, "resolve toggle failed", zap.Bool("resolved", want), zap.Error(err))
		return conv, fmt.Errorf("set resolved: %w", err)
	}

	conv.IsResolved = want
	d.list.Replace(conv)
	d.logger.Info(ctx, "conversation resolution changed", zap.Bool("resolved", want))
	d.notify()
	return conv, nil
}

// Close unbinds the open conversation, stops routing events and waits for
// in-flight unresolved count refreshes. The connection manager is left to
// its owner.
func (d *Desk) Close(ctx context.Context) {
	d.op.Lock()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.op.Unlock()
		return
	}
	d.closed = true
	unsub := d.unsub
	d.unsub = nil
	d.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	d.closeConversationLocked(ctx)
	d.op.Unlock()

	d.cancelRefresh()
	d.refreshWG.Wait()
}

func (d *Desk) handleEvent(e realtime.Event) {
	switch e.Kind {
	case realtime.KindMessage:
		if e.Room != d.binder.Room() {
			return
		}
		var msg api.Message
		if err := json.Unmarshal(e.Data, &msg); err != nil {
			d.logger.Warn(context.Background(), "dropping malformed message event",
				zap.String("room", e.Room), zap.Error(err))
			return
		}
		if !msg.Sender.Valid() {
			d.logger.Warn(context.Background(), "dropping message with unknown sender",
				zap.String("room", e.Room), zap.String("sender", string(msg.Sender)))
			return
		}
		d.stream.Receive(e.Room, msg)

	case realtime.KindNotify:
		d.scheduleUnresolvedRefresh()
	}
}

// scheduleUnresolvedRefresh runs at most one refresh at a time. Notifies
// arriving during a refresh collapse into a single follow-up refresh.
func (d *Desk) scheduleUnresolvedRefresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.refreshing {
		d.refreshAgain = true
		return
	}
	d.refreshing = true
	d.refreshWG.Add(1)
	go d.refreshUnresolvedLoop()
}

func (d *Desk) refreshUnresolvedLoop() {
	defer d.refreshWG.Done()
	for {
		ctx, cancel := context.WithTimeout(d.refreshCtx, unresolvedRefreshTimeout)
		_, _ = d.RefreshUnresolved(ctx)
		cancel()

		d.mu.Lock()
		if !d.refreshAgain || d.closed {
			d.refreshing = false
			d.refreshAgain = false
			d.mu.Unlock()
			return
		}
		d.refreshAgain = false
		d.mu.Unlock()
	}
}

// rebind follows connection changes. The open conversation is rejoined on a
// new connection of the same operator and closed when another operator
// signs in.
func (d *Desk) rebind(conn realtime.Conn) {
	d.op.Lock()
	defer d.op.Unlock()

	ctx := context.Background()
	d.mu.Lock()
	active, owner := d.active, d.owner
	d.mu.Unlock()
	if active == "" {
		return
	}

	current := d.conns.Identity()
	if current.Available() && owner != "" && owner != current.OperatorID {
		d.logger.Info(ctx, "operator changed, closing conversation",
			zap.String("conversation", active))
		d.closeConversationLocked(ctx)
		return
	}
	if owner == "" && current.Available() {
		d.mu.Lock()
		d.owner = current.OperatorID
		d.mu.Unlock()
	}

	if conn == nil {
		d.binder.Unbind(ctx)
		return
	}
	d.binder.Bind(ctx, conn, active)
}
