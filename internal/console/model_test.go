package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/chat"
	"github.com/fyrsmithlabs/opsdesk/internal/identity"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
)

type fakeDesk struct {
	mu         sync.Mutex
	snap       chat.Snapshot
	opened     []string
	sent       []string
	refreshes  int
	unresolved int
	closed     int
	toggles    int
	toggleErr  error
	sendErr    error
}

func newFakeDesk() *fakeDesk {
	return &fakeDesk{snap: chat.Snapshot{
		Operator: identity.Identity{OperatorID: "A1", Name: "Ana"},
		Health:   realtime.HealthConnected,
		Conversations: []api.Conversation{
			{ID: "C1", IssueType: "access", CleanerName: "Maya"},
			{ID: "C2", IssueType: "damage", CleanerName: "Omar"},
			{ID: "C3", IssueType: "supplies", CleanerName: "Lena", IsResolved: true},
		},
		Unresolved: 2,
	}}
}

func (f *fakeDesk) Snapshot() chat.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeDesk) set(fn func(*chat.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.snap)
}

func (f *fakeDesk) Subscribe(func()) func() { return func() {} }

func (f *fakeDesk) Refresh(context.Context, api.ConversationQuery) ([]api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.snap.Conversations, nil
}

func (f *fakeDesk) RefreshUnresolved(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unresolved++
	return f.snap.Unresolved, nil
}

func (f *fakeDesk) Open(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, id)
	f.snap.Active = id
	f.snap.Stream = chat.View{ConversationID: id, State: chat.StateReady}
	return nil
}

func (f *fakeDesk) CloseConversation(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.snap.Active = ""
	f.snap.Stream = chat.View{}
}

func (f *fakeDesk) Send(_ context.Context, text string) (chat.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return chat.Entry{}, f.sendErr
}

func (f *fakeDesk) ToggleResolved(context.Context) (api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	return api.Conversation{}, f.toggleErr
}

// collect executes cmd, flattening batches, and returns the produced messages.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

// press sends a key to the model and feeds every resulting desk message back.
func press(t *testing.T, m Model, key tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(key)
	m = next.(Model)
	for _, msg := range collect(cmd) {
		switch msg.(type) {
		case openedMsg, sentMsg, resolvedMsg, refreshedMsg, deskChangedMsg:
			next, _ = m.Update(msg)
			m = next.(Model)
		}
	}
	return m
}

var (
	keyTab   = tea.KeyMsg{Type: tea.KeyTab}
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyUp    = tea.KeyMsg{Type: tea.KeyUp}
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
)

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	return press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func TestNewModel(t *testing.T) {
	m := NewModel(newFakeDesk(), Options{})
	assert.Equal(t, focusList, m.focus)
	assert.Len(t, m.snap.Conversations, 3)
	assert.Equal(t, 50, m.opts.PageSize)
	assert.Equal(t, 30, m.opts.TrendSize)
	assert.NotNil(t, m.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	m := NewModel(newFakeDesk(), Options{})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, next.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, next.(Model).View())
}

func TestModel_TabTogglesFocus(t *testing.T) {
	m := NewModel(newFakeDesk(), Options{})
	m = press(t, m, keyTab)
	assert.Equal(t, focusInput, m.focus)
	assert.True(t, m.input.Focused())
	m = press(t, m, keyTab)
	assert.Equal(t, focusList, m.focus)
	assert.False(t, m.input.Focused())
}

func TestModel_CursorStaysInBounds(t *testing.T) {
	m := NewModel(newFakeDesk(), Options{})
	m = press(t, m, keyUp)
	assert.Equal(t, 0, m.cursor)
	for range 5 {
		m = press(t, m, keyDown)
	}
	assert.Equal(t, 2, m.cursor)
}

func TestModel_EnterOpensSelectedConversation(t *testing.T) {
	desk := newFakeDesk()
	m := NewModel(desk, Options{})

	m = press(t, m, keyDown)
	m = press(t, m, keyEnter)

	assert.Equal(t, []string{"C2"}, desk.opened)
	assert.Equal(t, focusInput, m.focus)
	assert.Equal(t, "C2", m.snap.Active)
	assert.Equal(t, chat.StateReady, m.snap.Stream.State)
}

func TestModel_EnterSendsInput(t *testing.T) {
	desk := newFakeDesk()
	m := NewModel(desk, Options{})
	m = press(t, m, keyEnter)

	m = typeText(t, m, "on my way")
	m = press(t, m, keyEnter)

	assert.Equal(t, []string{"on my way"}, desk.sent)
	assert.Empty(t, m.input.Value())
}

func TestModel_WhitespaceInputIsNotSent(t *testing.T) {
	desk := newFakeDesk()
	m := NewModel(desk, Options{})
	m = press(t, m, keyEnter)

	m = typeText(t, m, "   ")
	_, cmd := m.Update(keyEnter)

	assert.Nil(t, cmd)
	assert.Empty(t, desk.sent)
}

func TestModel_SendFailureShowsNotice(t *testing.T) {
	desk := newFakeDesk()
	desk.sendErr = chat.ErrNoConnection
	m := NewModel(desk, Options{})
	m = press(t, m, keyEnter)

	m = typeText(t, m, "ok")
	m = press(t, m, keyEnter)

	assert.Contains(t, m.notice, "send failed")
	assert.Contains(t, m.View(), "send failed")
}

func TestModel_ToggleResolved(t *testing.T) {
	desk := newFakeDesk()
	m := NewModel(desk, Options{})

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, 1, desk.toggles)
	assert.Empty(t, m.notice)

	desk.toggleErr = &api.Error{StatusCode: 500, Message: "boom"}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, 2, desk.toggles)
	assert.Contains(t, m.notice, "resolve failed")
}

func TestModel_ReloadList(t *testing.T) {
	desk := newFakeDesk()
	m := NewModel(desk, Options{})

	press(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})

	assert.Equal(t, 1, desk.refreshes)
	assert.Equal(t, 1, desk.unresolved)
}

func TestModel_EscClosesConversation(t *testing.T) {
	desk := newFakeDesk()
	m := NewModel(desk, Options{})
	m = press(t, m, keyEnter)
	require.Equal(t, "C1", m.snap.Active)

	m = press(t, m, keyEsc)

	assert.Equal(t, 1, desk.closed)
	assert.Equal(t, focusList, m.focus)
	assert.Empty(t, m.snap.Active)
	assert.Equal(t, chat.StateIdle, m.snap.Stream.State)
}

func TestModel_TranscriptFollowsNewestEntry(t *testing.T) {
	desk := newFakeDesk()
	m := NewModel(desk, Options{})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m = next.(Model)

	entries := make([]chat.Entry, 60)
	for i := range entries {
		entries[i] = chat.Entry{Message: api.Message{ID: fmt.Sprint(i), Sender: api.RoleCleaner, Content: fmt.Sprintf("line %d", i)}}
	}
	desk.set(func(s *chat.Snapshot) {
		s.Active = "C1"
		s.Stream = chat.View{ConversationID: "C1", State: chat.StateReady, Entries: entries}
	})

	next, _ = m.Update(deskChangedMsg{})
	m = next.(Model)

	assert.True(t, m.transcript.AtBottom())
	assert.Contains(t, m.View(), "line 59")
}

func TestModel_View_Loading(t *testing.T) {
	desk := newFakeDesk()
	desk.set(func(s *chat.Snapshot) {
		s.Active = "C1"
		s.Stream = chat.View{ConversationID: "C1", State: chat.StateLoading}
	})
	m := NewModel(desk, Options{})

	assert.Contains(t, m.View(), "Loading messages...")
}

func TestModel_View_LoadFailure(t *testing.T) {
	desk := newFakeDesk()
	desk.set(func(s *chat.Snapshot) {
		s.Active = "C1"
		s.Stream = chat.View{ConversationID: "C1", State: chat.StateError, Err: chat.LoadFailedMessage}
	})
	m := NewModel(desk, Options{})

	view := m.View()
	assert.Contains(t, view, chat.LoadFailedMessage)
	assert.Contains(t, view, "retry")
}

func TestModel_View_Header(t *testing.T) {
	desk := newFakeDesk()
	desk.set(func(s *chat.Snapshot) {
		s.Active = "C3"
		s.Stream = chat.View{
			ConversationID: "C3",
			State:          chat.StateReady,
			Meta:           &api.ConversationMeta{ConversationID: "C3", BookingID: "B-42", IssueText: "no soap left"},
		}
	})
	m := NewModel(desk, Options{})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})

	view := next.(Model).View()
	assert.Contains(t, view, "B-42")
	assert.Contains(t, view, "no soap left")
	assert.Contains(t, view, "[resolved]")
	assert.Contains(t, view, "Ana")
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "2 unresolved")
	assert.Contains(t, view, "[ctrl+r]")
}

func TestModel_View_Idle(t *testing.T) {
	m := NewModel(newFakeDesk(), Options{})
	view := m.View()
	assert.Contains(t, view, "Select a conversation")
	assert.Contains(t, view, "access · Maya")
}

func TestModel_TickRecordsTrend(t *testing.T) {
	desk := newFakeDesk()
	m := NewModel(desk, Options{TrendSize: 3})

	for range 5 {
		next, cmd := m.Update(tickMsg(time.Now()))
		m = next.(Model)
		assert.NotNil(t, cmd)
	}

	assert.Equal(t, []float64{2, 2, 2}, m.trend)
	assert.NotContains(t, m.View(), "no trend yet")
}

func TestModel_CursorClampedWhenListShrinks(t *testing.T) {
	desk := newFakeDesk()
	m := NewModel(desk, Options{})
	m = press(t, m, keyDown)
	m = press(t, m, keyDown)
	require.Equal(t, 2, m.cursor)

	desk.set(func(s *chat.Snapshot) { s.Conversations = s.Conversations[:1] })
	next, _ := m.Update(deskChangedMsg{})

	assert.Equal(t, 0, next.(Model).cursor)
}

func TestModel_OpenLoadFailureIsNotANotice(t *testing.T) {
	m := NewModel(newFakeDesk(), Options{})
	next, _ := m.Update(openedMsg{err: fmt.Errorf("%w: boom", chat.ErrLoadMessages)})
	assert.Empty(t, next.(Model).notice)

	next, _ = m.Update(openedMsg{err: errors.New("bind failed")})
	assert.Contains(t, next.(Model).notice, "open failed")
}
