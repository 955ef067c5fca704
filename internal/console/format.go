package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
	"github.com/fyrsmithlabs/opsdesk/internal/chat"
	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
)

// FormatHealth renders a connection health badge.
func FormatHealth(h realtime.Health) string {
	switch h {
	case realtime.HealthConnected:
		return healthyStyle.Render("● connected")
	case realtime.HealthConnecting, realtime.HealthReconnecting:
		return warningStyle.Render("◌ " + string(h))
	default:
		return errorStyle.Render("○ " + string(h))
	}
}

// FormatUnresolved renders the unresolved-issue badge.
func FormatUnresolved(n int) string {
	switch {
	case n == 0:
		return healthyStyle.Render("[✓] no open issues")
	case n == 1:
		return warningStyle.Render("[!] 1 unresolved")
	default:
		return warningStyle.Render(fmt.Sprintf("[!] %d unresolved", n))
	}
}

// FormatStatus renders the delivery marker of a transcript entry.
func FormatStatus(s chat.Status) string {
	switch s {
	case chat.StatusPending:
		return dimStyle.Render("…")
	case chat.StatusSent:
		return dimStyle.Render("✓")
	case chat.StatusDelivered:
		return healthyStyle.Render("✓✓")
	case chat.StatusFailed:
		return errorStyle.Render("✗ not sent")
	}
	return ""
}

// FormatClock formats a message timestamp as local HH:MM.
func FormatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.Local().Format("15:04")
}

// FormatEntry renders one transcript line.
func FormatEntry(e chat.Entry) string {
	who := cleanerStyle.Render("cleaner")
	if e.Message.Sender == api.RoleOperator {
		who = operatorStyle.Render("you")
	}
	line := fmt.Sprintf("%s %s: %s", dimStyle.Render(FormatClock(e.Message.CreatedAt)), who, e.Message.Content)
	if e.Message.Sender == api.RoleOperator {
		line += " " + FormatStatus(e.Status)
	}
	return line
}

// FormatTranscript renders all entries, oldest first.
func FormatTranscript(entries []chat.Entry) string {
	if len(entries) == 0 {
		return dimStyle.Render("No messages yet.")
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = FormatEntry(e)
	}
	return strings.Join(lines, "\n")
}

// FormatConversation renders one conversation list row without selection
// markers.
func FormatConversation(c api.Conversation, width int) string {
	mark := warningStyle.Render("!")
	if c.IsResolved {
		mark = healthyStyle.Render("✓")
	}
	label := c.IssueType
	if c.CleanerName != "" {
		label += " · " + c.CleanerName
	}
	if label == "" {
		label = c.ID
	}
	return mark + " " + truncate(label, width-2)
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
