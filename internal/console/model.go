// Package console implements the opsdesk terminal console: a conversation
// list, the transcript of the open conversation and an input line, driven
// by a chat.Desk.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/chat"
)

const (
	sparklineWidth  = 20
	sparklineHeight = 1
	listWidth       = 34
	minTranscriptW  = 20
	minTranscriptH  = 3
)

// Desk is the subset of chat.Desk the console drives.
type Desk interface {
	Snapshot() chat.Snapshot
	Subscribe(fn func()) func()
	Refresh(ctx context.Context, q api.ConversationQuery) ([]api.Conversation, error)
	RefreshUnresolved(ctx context.Context) (int, error)
	Open(ctx context.Context, id string) error
	CloseConversation(ctx context.Context)
	Send(ctx context.Context, text string) (chat.Entry, error)
	ToggleResolved(ctx context.Context) (api.Conversation, error)
}

var _ Desk = (*chat.Desk)(nil)

// Options configures the console model.
type Options struct {
	PageSize        int
	RefreshInterval time.Duration
	TrendSize       int
	Timeout         time.Duration // Per desk call
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 30 * time.Second
	}
	if o.TrendSize <= 0 {
		o.TrendSize = 30
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	return o
}

type focus int

const (
	focusList focus = iota
	focusInput
)

// Model is the Bubble Tea console model.
type Model struct {
	desk Desk
	opts Options

	snap     chat.Snapshot
	focus    focus
	cursor   int
	notice   string
	trend    []float64
	width    int
	height   int
	quitting bool

	transcript viewport.Model
	input      textinput.Model
	spinner    spinner.Model
}

// Message types
type (
	deskChangedMsg struct{}
	tickMsg        time.Time
	refreshedMsg   struct{ err error }
	openedMsg      struct{ err error }
	sentMsg        struct{ err error }
	resolvedMsg    struct {
		conv api.Conversation
		err  error
	}
)

// NewModel creates a console model over desk.
func NewModel(desk Desk, opts Options) Model {
	in := textinput.New()
	in.Placeholder = "Type a reply"
	in.CharLimit = 2000
	in.Prompt = "› "

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = sectionStyle

	m := Model{
		desk:       desk,
		opts:       opts.withDefaults(),
		focus:      focusList,
		transcript: viewport.New(60, 15),
		input:      in,
		spinner:    sp,
	}
	m.trend = make([]float64, 0, m.opts.TrendSize)
	m.snap = desk.Snapshot()
	m.syncTranscript()
	return m
}

// Init loads the conversation list and starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.refreshCmd(),
		tick(m.opts.RefreshInterval),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) call() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.opts.Timeout)
}

func (m Model) refreshCmd() tea.Cmd {
	desk, q := m.desk, api.ConversationQuery{Filter: api.FilterAll, Limit: m.opts.PageSize}
	return func() tea.Msg {
		ctx, cancel := m.call()
		defer cancel()
		if _, err := desk.Refresh(ctx, q); err != nil {
			return refreshedMsg{err: err}
		}
		_, err := desk.RefreshUnresolved(ctx)
		return refreshedMsg{err: err}
	}
}

func (m Model) openCmd(id string) tea.Cmd {
	desk := m.desk
	return func() tea.Msg {
		ctx, cancel := m.call()
		defer cancel()
		return openedMsg{err: desk.Open(ctx, id)}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	desk := m.desk
	return func() tea.Msg {
		ctx, cancel := m.call()
		defer cancel()
		_, err := desk.Send(ctx, text)
		return sentMsg{err: err}
	}
}

func (m Model) resolveCmd() tea.Cmd {
	desk := m.desk
	return func() tea.Msg {
		ctx, cancel := m.call()
		defer cancel()
		conv, err := desk.ToggleResolved(ctx)
		return resolvedMsg{conv: conv, err: err}
	}
}

func (m Model) closeCmd() tea.Cmd {
	desk := m.desk
	return func() tea.Msg {
		ctx, cancel := m.call()
		defer cancel()
		desk.CloseConversation(ctx)
		return deskChangedMsg{}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case deskChangedMsg:
		return m, m.reload()

	case tickMsg:
		m.trend = appendToHistory(m.trend, float64(m.snap.Unresolved), m.opts.TrendSize)
		return m, tea.Batch(tick(m.opts.RefreshInterval), m.refreshCmd())

	case refreshedMsg:
		m.setNotice(msg.err, "refresh failed")
		return m, m.reload()

	case openedMsg:
		// Load failures are rendered from the stream state.
		if msg.err != nil && !errors.Is(msg.err, chat.ErrLoadMessages) && !errors.Is(msg.err, context.Canceled) {
			m.setNotice(msg.err, "open failed")
		}
		return m, m.reload()

	case sentMsg:
		if !errors.Is(msg.err, chat.ErrEmptyMessage) {
			m.setNotice(msg.err, "send failed")
		}
		return m, m.reload()

	case resolvedMsg:
		m.setNotice(msg.err, "resolve failed")
		return m, m.reload()

	case spinner.TickMsg:
		if m.snap.Stream.State != chat.StateLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		if m.focus == focusList {
			m.focus = focusInput
			return m, m.input.Focus()
		}
		m.focus = focusList
		m.input.Blur()
		return m, nil

	case "ctrl+r":
		return m, m.resolveCmd()

	case "ctrl+l":
		return m, m.refreshCmd()

	case "esc":
		m.focus = focusList
		m.input.Blur()
		return m, m.closeCmd()
	}

	if m.focus == focusList {
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.snap.Conversations)-1 {
				m.cursor++
			}
		case "enter":
			if m.cursor >= len(m.snap.Conversations) {
				return m, nil
			}
			id := m.snap.Conversations[m.cursor].ID
			m.focus = focusInput
			m.notice = ""
			return m, tea.Batch(m.input.Focus(), m.openCmd(id), m.spinner.Tick)
		}
		return m, nil
	}

	switch msg.String() {
	case "enter":
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.sendCmd(text)
	case "up", "down", "pgup", "pgdown":
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// reload pulls a fresh desk snapshot and re-renders the transcript.
func (m *Model) reload() tea.Cmd {
	wasLoading := m.snap.Stream.State == chat.StateLoading
	m.snap = m.desk.Snapshot()
	if n := len(m.snap.Conversations); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
	m.syncTranscript()
	if m.snap.Stream.State == chat.StateLoading && !wasLoading {
		return m.spinner.Tick
	}
	return nil
}

// syncTranscript renders the transcript and scrolls to the newest entry.
func (m *Model) syncTranscript() {
	m.transcript.SetContent(FormatTranscript(m.snap.Stream.Entries))
	m.transcript.GotoBottom()
}

func (m *Model) setNotice(err error, what string) {
	if err == nil {
		m.notice = ""
		return
	}
	m.notice = fmt.Sprintf("%s: %v", what, err)
}

func (m *Model) resize() {
	w := max(m.width-listWidth-6, minTranscriptW)
	h := max(m.height-12, minTranscriptH)
	m.transcript.Width = w
	m.transcript.Height = h
	m.input.Width = w - 4
	m.syncTranscript()
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64, size int) []float64 {
	history = append(history, value)
	if len(history) > size {
		history = history[len(history)-size:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no trend yet"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// activeConversation returns the list entry of the open conversation.
func (m Model) activeConversation() (api.Conversation, bool) {
	for _, c := range m.snap.Conversations {
		if c.ID == m.snap.Active {
			return c, true
		}
	}
	return api.Conversation{}, false
}

// View renders the console
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	top := headerStyle.Render(" opsdesk ") + "  " + m.renderOperator()
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderList(), " ", m.renderConversation())

	return lipgloss.JoinVertical(lipgloss.Left, top, body, m.renderStatus(), m.renderFooter())
}

func (m Model) renderOperator() string {
	if !m.snap.Operator.Available() {
		return dimStyle.Render("not logged in")
	}
	return labelStyle.Render("operator ") + valueStyle.Render(m.snap.Operator.String())
}

func (m Model) renderList() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("┃ Conversations"))
	b.WriteString("\n")
	if len(m.snap.Conversations) == 0 {
		b.WriteString(dimStyle.Render("No conversations."))
	}
	for i, c := range m.snap.Conversations {
		row := FormatConversation(c, listWidth-4)
		if c.ID == m.snap.Active {
			row = "• " + row
		} else {
			row = "  " + row
		}
		if i == m.cursor && m.focus == focusList {
			row = cursorStyle.Render(row)
		}
		b.WriteString(row)
		if i < len(m.snap.Conversations)-1 {
			b.WriteString("\n")
		}
	}

	style := paneStyle
	if m.focus == focusList {
		style = focusedPaneStyle
	}
	return style.Width(listWidth).Render(b.String())
}

func (m Model) renderConversation() string {
	var b strings.Builder
	v := m.snap.Stream

	switch v.State {
	case chat.StateIdle:
		b.WriteString(dimStyle.Render("Select a conversation and press enter."))
	case chat.StateLoading:
		b.WriteString(m.renderHeader())
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View() + " " + dimStyle.Render("Loading messages..."))
	case chat.StateError:
		b.WriteString(m.renderHeader())
		b.WriteString("\n\n")
		b.WriteString(errorBlockStyle.Render("⚠ " + v.Err))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("Press enter on the conversation to retry."))
	case chat.StateReady:
		b.WriteString(m.renderHeader())
		b.WriteString("\n\n")
		b.WriteString(m.transcript.View())
		b.WriteString("\n")
		b.WriteString(m.input.View())
	}

	style := paneStyle
	if m.focus == focusInput {
		style = focusedPaneStyle
	}
	return style.Width(m.transcript.Width + 2).Render(b.String())
}

// renderHeader renders booking, issue and resolution of the open conversation.
func (m Model) renderHeader() string {
	v := m.snap.Stream
	booking, issue := "—", ""
	if v.Meta != nil {
		if v.Meta.BookingID != "" {
			booking = v.Meta.BookingID
		}
		issue = v.Meta.IssueText
		if issue == "" {
			issue = v.Meta.IssueType
		}
	}

	badge := warningStyle.Render("[open]")
	if c, ok := m.activeConversation(); ok && c.IsResolved {
		badge = healthyStyle.Render("[resolved]")
	}

	line := labelStyle.Render("Booking ") + valueStyle.Render(booking) + "  " + badge
	if issue != "" {
		line += "\n" + dimStyle.Render(truncate(issue, m.transcript.Width))
	}
	return line
}

func (m Model) renderStatus() string {
	parts := []string{
		FormatHealth(m.snap.Health),
		FormatUnresolved(m.snap.Unresolved),
		createSparkline(m.trend),
	}
	line := strings.Join(parts, "   ")
	if m.notice != "" {
		line += "\n" + errorStyle.Render("⚠ "+m.notice)
	}
	return line
}

func (m Model) renderFooter() string {
	keys := []struct{ key, help string }{
		{"tab", "focus"},
		{"enter", "open/send"},
		{"ctrl+r", "resolve"},
		{"ctrl+l", "reload"},
		{"esc", "close"},
		{"ctrl+c", "quit"},
	}
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(footerKeyStyle.Render("["+k.key+"]") + footerStyle.Render(" "+k.help+"  "))
	}
	return b.String()
}
