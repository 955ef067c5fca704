package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle of the open conversation view.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the delivery status of a transcript entry.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusDelivered
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// advance reports whether moving from s to next is allowed. Status only
// moves forward through pending, sent, delivered; failed is reachable only
// from pending and is final.
func (s Status) advance(next Status) bool {
	switch s {
	case StatusPending:
		return next != StatusPending
	case StatusSent:
		return next == StatusDelivered
	default:
		return false
	}
}

// Entry is a transcript line.
type Entry struct {
	Message api.Message
	Status  Status
}

// View is an immutable snapshot of a MessageStream.
type View struct {
	ConversationID string
	State          State
	Entries        []Entry
	Meta           *api.ConversationMeta
	Err            string
}

// MessageStream holds the transcript of the open conversation.
//
// Observers registered with Subscribe are called after every mutation, in
// mutation order. They must not call back into the stream.
type MessageStream struct {
	source  HistorySource
	logger  *logging.Logger
	metrics *Metrics
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	convID  string
	state   State
	entries []Entry
	meta    *api.ConversationMeta
	errMsg  string
	gen     uint64
	cancel  context.CancelFunc
	pending []api.Message

	notifyMu  sync.Mutex
	observers listeners[View]
}

// StreamOption configures a MessageStream.
type StreamOption func(*MessageStream)

// WithClock overrides the timestamp source for local messages.
func WithClock(now func() time.Time) StreamOption {
	return func(s *MessageStream) { s.now = now }
}

// WithIDGenerator overrides the correlation id generator.
func WithIDGenerator(gen func() string) StreamOption {
	return func(s *MessageStream) { s.newID = gen }
}

// WithStreamLogger sets the logger.
func WithStreamLogger(l *logging.Logger) StreamOption {
	return func(s *MessageStream) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStreamMetrics sets the metrics sink.
func WithStreamMetrics(m *Metrics) StreamOption {
	return func(s *MessageStream) { s.metrics = m }
}

// NewMessageStream returns an idle stream reading history from source.
func NewMessageStream(source HistorySource, opts ...StreamOption) *MessageStream {
	s := &MessageStream{
		source: source,
		logger: logging.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("stream")
	return s
}

// Subscribe registers fn for snapshots after each mutation.
func (s *MessageStream) Subscribe(fn func(View)) func() {
	return s.observers.add(fn)
}

// Snapshot returns the current view.
func (s *MessageStream) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *MessageStream) viewLocked() View {
	v := View{
		ConversationID: s.convID,
		State:          s.state,
		Entries:        append([]Entry(nil), s.entries...),
		Err:            s.errMsg,
	}
	if s.meta != nil {
		meta := *s.meta
		v.Meta = &meta
	}
	return v
}

// unlockAndNotify releases mu and delivers the snapshot taken under it.
// notifyMu is acquired before mu is released so observers see snapshots in
// mutation order.
func (s *MessageStream) unlockAndNotify() {
	v := s.viewLocked()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	s.observers.emit(v)
}

// Select loads conversation id, replacing the transcript. Any in-flight load
// is cancelled. History and metadata are fetched concurrently; a history
// failure moves the stream to StateError while a metadata failure only
// leaves the header empty. A load superseded by a newer Select or Clear
// returns context.Canceled and changes nothing.
func (s *MessageStream) Select(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoConversation
	}
	return s.begin(ctx, id)()
}

// begin moves the stream to StateLoading for id and returns the fetch that
// completes the load. The returned func must be called exactly once.
func (s *MessageStream) begin(ctx context.Context, id string) func() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.convID = id
	s.state = StateLoading
	s.entries = nil
	s.meta = nil
	s.errMsg = ""
	s.pending = nil
	s.unlockAndNotify()

	return func() error {
		defer cancel()
		return s.load(ctx, fetchCtx, gen, id)
	}
}

func (s *MessageStream) load(ctx, fetchCtx context.Context, gen uint64, id string) error {
	ctx = logging.WithConversation(ctx, id)
	start := time.Now()

	var (
		history []api.Message
		meta    *api.ConversationMeta
	)
	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		msgs, err := s.source.Messages(gctx, id)
		if err != nil {
			return err
		}
		history = msgs
		return nil
	})
	g.Go(func() error {
		m, err := s.source.ConversationMeta(gctx, id)
		if err != nil {
			if gctx.Err() == nil {
				s.logger.Warn(ctx, "conversation metadata unavailable", zap.Error(err))
			}
			return nil
		}
		meta = m
		return nil
	})
	err := g.Wait()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return context.Canceled
	}
	s.cancel = nil

	if err != nil {
		s.metrics.RecordHistoryLoad(time.Since(start), err)
		s.state = StateError
		s.entries = nil
		s.pending = nil
		s.errMsg = LoadFailedMessage
		s.unlockAndNotify()
		s.logger.Error(ctx, "loading conversation history failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrLoadMessages, err)
	}

	s.metrics.RecordHistoryLoad(time.Since(start), nil)
	s.entries = make([]Entry, 0, len(history)+len(s.pending))
	for _, m := range history {
		s.entries = append(s.entries, Entry{Message: m, Status: StatusDelivered})
	}
	buffered := s.pending
	s.pending = nil
	for _, m := range buffered {
		s.applyLocked(m)
	}
	s.meta = meta
	s.state = StateReady
	n := len(s.entries)
	s.unlockAndNotify()

	s.logger.Debug(ctx, "conversation loaded",
		zap.Int("messages", n),
		zap.Int("buffered", len(buffered)))
	return nil
}

// Clear discards the transcript, cancels any in-flight load and returns to
// StateIdle.
func (s *MessageStream) Clear() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.convID = ""
	s.state = StateIdle
	s.entries = nil
	s.meta = nil
	s.errMsg = ""
	s.pending = nil
	s.unlockAndNotify()
}

// Send appends text as a pending operator message and publishes it to the
// conversation room on conn. The entry becomes sent when the server
// acknowledges the publish and failed when the publish fails or conn is nil.
// Blank text is rejected with ErrEmptyMessage without touching the
// transcript.
func (s *MessageStream) Send(ctx context.Context, conn realtime.Conn, text string) (Entry, error) {
	if strings.TrimSpace(text) == "" {
		return Entry{}, ErrEmptyMessage
	}

	s.mu.Lock()
	switch {
	case s.convID == "":
		s.mu.Unlock()
		return Entry{}, ErrNoConversation
	case s.state != StateReady:
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrNotReady, s.state)
	}

	corr := s.newID()
	msg := api.Message{
		ConversationID: s.convID,
		Sender:         api.RoleOperator,
		Content:        text,
		CreatedAt:      s.now(),
		CorrelationID:  corr,
	}
	room := s.convID
	gen := s.gen
	s.entries = append(s.entries, Entry{Message: msg, Status: StatusPending})
	s.unlockAndNotify()

	ctx = logging.WithConversation(ctx, room)
	err := ErrNoConnection
	if conn != nil {
		err = conn.Publish(ctx, room, realtime.KindMessage, msg)
	}

	next := StatusSent
	if err != nil {
		next = StatusFailed
		s.logger.Warn(ctx, "message send failed", zap.String("correlation_id", corr), zap.Error(err))
	}
	s.metrics.RecordSend(next)

	entry := Entry{Message: msg, Status: next}
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return entry, err
	}
	if i := s.findCorrelationLocked(corr); i >= 0 {
		if s.entries[i].Status.advance(next) {
			s.entries[i].Status = next
		}
		entry = s.entries[i]
	}
	s.unlockAndNotify()

	if err != nil && !errors.Is(err, ErrNoConnection) {
		err = fmt.Errorf("send message: %w", err)
	}
	return entry, err
}

// Receive applies a pushed message for conversationID. Messages for other
// conversations are ignored. A message carrying the correlation id of a
// local entry marks that entry delivered instead of appending. While the
// history is loading, messages are buffered and applied after it.
// Receive reports whether the message was accepted.
func (s *MessageStream) Receive(conversationID string, msg api.Message) bool {
	s.mu.Lock()
	if conversationID == "" || conversationID != s.convID {
		s.mu.Unlock()
		return false
	}

	switch s.state {
	case StateLoading:
		s.pending = append(s.pending, msg)
		s.mu.Unlock()
		return true
	case StateReady:
		s.applyLocked(msg)
		s.unlockAndNotify()
		s.metrics.RecordReceive()
		return true
	default:
		s.mu.Unlock()
		return false
	}
}

func (s *MessageStream) applyLocked(msg api.Message) {
	if msg.CorrelationID != "" {
		if i := s.findCorrelationLocked(msg.CorrelationID); i >= 0 {
			e := &s.entries[i]
			if e.Status.advance(StatusDelivered) {
				e.Status = StatusDelivered
			}
			if e.Message.ID == "" {
				e.Message.ID = msg.ID
			}
			return
		}
	}
	if msg.ID != "" {
		for _, e := range s.entries {
			if e.Message.ID == msg.ID {
				return
			}
		}
	}
	s.entries = append(s.entries, Entry{Message: msg, Status: StatusDelivered})
}

func (s *MessageStream) findCorrelationLocked(corr string) int {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Message.CorrelationID == corr {
			return i
		}
	}
	return -1
}
