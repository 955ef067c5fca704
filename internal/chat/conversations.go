package chat

import (
	"sync"

	"github.com/fyrsmithlabs/opsdesk/internal/api"
)

// ConversationList caches the conversations shown in the list pane.
// Entries are replaced wholesale, never merged.
type ConversationList struct {
	mu    sync.RWMutex
	items []api.Conversation
	index map[string]int
}

// NewConversationList returns an empty list.
func NewConversationList() *ConversationList {
	return &ConversationList{index: make(map[string]int)}
}

// Set replaces the cached list.
func (l *ConversationList) Set(items []api.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append([]api.Conversation(nil), items...)
	l.index = make(map[string]int, len(items))
	for i, c := range l.items {
		l.index[c.ID] = i
	}
}

// All returns a copy of the cached list in order.
func (l *ConversationList) All() []api.Conversation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]api.Conversation(nil), l.items...)
}

// Get returns the cached conversation with id.
func (l *ConversationList) Get(id string) (api.Conversation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return api.Conversation{}, false
	}
	return l.items[i], true
}

// Replace swaps the entry with c.ID for c. It reports whether an entry was
// replaced.
func (l *ConversationList) Replace(c api.Conversation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[c.ID]
	if !ok {
		return false
	}
	l.items[i] = c
	return true
}

// Len returns the number of cached conversations.
func (l *ConversationList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Unresolved counts cached conversations that are not resolved.
func (l *ConversationList) Unresolved() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, c := range l.items {
		if !c.IsResolved {
			n++
		}
	}
	return n
}
