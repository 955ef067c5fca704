package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/identity"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
)

// opLog records room operations across connections in order.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *opLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = nil
}

type published struct {
	Room string
	Kind realtime.Kind
	Data []byte
}

// fakeConn is an in-memory realtime.Conn.
type fakeConn struct {
	log *opLog
	cb  realtime.Callbacks

	mu         sync.Mutex
	rooms      map[string]bool
	closed     bool
	joinErr    error
	leaveErr   error
	publishErr error
	publishing chan struct{} // when set, Publish waits for it to close
	echo       bool
	published  []published
}

func newFakeConn(log *opLog) *fakeConn {
	if log == nil {
		log = &opLog{}
	}
	return &fakeConn{log: log, rooms: make(map[string]bool)}
}

func (c *fakeConn) Join(_ context.Context, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrClosed
	}
	c.log.add("join " + room)
	if c.joinErr != nil {
		return c.joinErr
	}
	c.rooms[room] = true
	return nil
}

func (c *fakeConn) Leave(_ context.Context, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrClosed
	}
	c.log.add("leave " + room)
	if c.leaveErr != nil {
		return c.leaveErr
	}
	delete(c.rooms, room)
	return nil
}

func (c *fakeConn) Publish(ctx context.Context, room string, kind realtime.Kind, v any) error {
	c.mu.Lock()
	gate, closed, pubErr, echo := c.publishing, c.closed, c.publishErr, c.echo
	c.mu.Unlock()

	if closed {
		return realtime.ErrClosed
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if pubErr != nil {
		return pubErr
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.published = append(c.published, published{Room: room, Kind: kind, Data: data})
	c.mu.Unlock()

	if echo && c.cb.OnEvent != nil {
		c.cb.OnEvent(realtime.Event{Room: room, Kind: kind, Data: data})
	}
	return nil
}

func (c *fakeConn) Published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

func (c *fakeConn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *fakeConn) Health() realtime.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.HealthClosed
	}
	return realtime.HealthConnected
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.log.add("close")
	}
	c.rooms = map[string]bool{}
	return nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// push delivers an inbound event as the transport would.
func (c *fakeConn) push(t *testing.T, room string, kind realtime.Kind, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	c.cb.OnEvent(realtime.Event{Room: room, Kind: kind, Data: data})
}

// fakeDialer hands out fakeConns sharing one op log.
type fakeDialer struct {
	log *opLog

	mu      sync.Mutex
	dialErr error
	echo    bool
	dialed  []identity.Identity
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, id identity.Identity, cb realtime.Callbacks) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, id)
	d.log.add("dial " + id.OperatorID)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if cb.OnHealth != nil {
		cb.OnHealth(realtime.HealthConnecting)
		cb.OnHealth(realtime.HealthConnected)
	}
	c := newFakeConn(d.log)
	c.cb = cb
	c.echo = d.echo
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

func (d *fakeDialer) Dialed() []identity.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]identity.Identity(nil), d.dialed...)
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fakeBackend is an in-memory REST backend.
type fakeBackend struct {
	mu            sync.Mutex
	messages      map[string][]api.Message
	meta          map[string]*api.ConversationMeta
	conversations []api.Conversation
	historyErr    error
	metaErr       error
	resolveErr    error
	unresolved    int
	countGate     chan struct{}
	countCalls    int
	gates         map[string]chan struct{}
	historyCalls  map[string]int
	resolveCalls  []bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages:     make(map[string][]api.Message),
		meta:         make(map[string]*api.ConversationMeta),
		gates:        make(map[string]chan struct{}),
		historyCalls: make(map[string]int),
	}
}

// history seeds n cleaner messages for id.
func (b *fakeBackend) history(id string, n int) []api.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := make([]api.Message, n)
	for i := range msgs {
		msgs[i] = api.Message{
			ID:             fmt.Sprintf("%s-M%d", id, i+1),
			ConversationID: id,
			Sender:         api.RoleCleaner,
			Content:        fmt.Sprintf("message %d", i+1),
			CreatedAt:      time.Date(2026, 10, 19, 9, i, 0, 0, time.UTC),
		}
	}
	b.messages[id] = msgs
	b.meta[id] = &api.ConversationMeta{ConversationID: id, BookingID: "B-" + id, IssueText: "issue " + id}
	return msgs
}

// gate makes history fetches for id block until the returned func is called.
func (b *fakeBackend) gate(id string) func() {
	ch := make(chan struct{})
	b.mu.Lock()
	b.gates[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (b *fakeBackend) Messages(ctx context.Context, id string) ([]api.Message, error) {
	b.mu.Lock()
	b.historyCalls[id]++
	gate, err := b.gates[id], b.historyErr
	msgs := append([]api.Message(nil), b.messages[id]...)
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (b *fakeBackend) HistoryCalls(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.historyCalls[id]
}

func (b *fakeBackend) ConversationMeta(_ context.Context, id string) (*api.ConversationMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.metaErr != nil {
		return nil, b.metaErr
	}
	m, ok := b.meta[id]
	if !ok {
		return nil, &api.Error{StatusCode: 404, Message: "not found"}
	}
	return m, nil
}

func (b *fakeBackend) ListConversations(_ context.Context, _ api.ConversationQuery) (*api.Page[api.Conversation], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := append([]api.Conversation(nil), b.conversations...)
	return &api.Page[api.Conversation]{Items: items, Page: 1, Limit: 50, Total: len(items)}, nil
}

func (b *fakeBackend) SetResolved(_ context.Context, _ string, resolved bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolveCalls = append(b.resolveCalls, resolved)
	return b.resolveErr
}

func (b *fakeBackend) UnresolvedCount(ctx context.Context) (int, error) {
	b.mu.Lock()
	b.countCalls++
	gate := b.countGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unresolved, nil
}

// gateCount makes unresolved count fetches block until the returned func is
// called.
func (b *fakeBackend) gateCount() func() {
	ch := make(chan struct{})
	b.mu.Lock()
	b.countGate = ch
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (b *fakeBackend) CountCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.countCalls
}

func (b *fakeBackend) setUnresolved(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unresolved = n
}

var errBoom = errors.New("boom")

// sequentialIDs returns a deterministic correlation id generator.
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("corr-%d", n)
	}
}

func fixedClock() time.Time {
	return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
}
