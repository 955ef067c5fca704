package api

import "time"

// Role identifies the sender of a chat message.
type Role string

const (
	RoleOperator Role = "operator"
	RoleCleaner  Role = "cleaner"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleOperator || r == RoleCleaner
}

// Conversation is an issue chat between an operator and a cleaner.
type Conversation struct {
	ID          string    `json:"id"`
	CleanerID   string    `json:"cleanerId"`
	CleanerName string    `json:"cleanerName,omitempty"`
	BookingID   string    `json:"bookingId"`
	IssueType   string    `json:"issueType"`
	Description string    `json:"description"`
	IsResolved  bool      `json:"isResolved"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ConversationMeta is the header data of an open conversation.
type ConversationMeta struct {
	ConversationID string `json:"conversationId"`
	BookingID      string `json:"bookingId"`
	IssueType      string `json:"issueType"`
	IssueText      string `json:"issueText"`
}

// Message is a single chat message. CorrelationID is set by the sending
// client and echoed back by the realtime transport.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         Role      `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	CorrelationID  string    `json:"correlationId,omitempty"`
}

// Page is a paginated list response.
type Page[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// ResolvedFilter narrows conversation listings by resolution state.
type ResolvedFilter string

const (
	FilterAll        ResolvedFilter = "all"
	FilterResolved   ResolvedFilter = "resolved"
	FilterUnresolved ResolvedFilter = "unresolved"
)

// ConversationQuery parameterizes ListConversations. Zero values are omitted.
type ConversationQuery struct {
	Filter ResolvedFilter
	Search string
	Page   int
	Limit  int
}

// Booking is a scheduled cleaning job.
type Booking struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	CustomerName string    `json:"customerName"`
	Vehicle      string    `json:"vehicle"`
	Building     string    `json:"building,omitempty"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	CleanerID    string    `json:"cleanerId,omitempty"`
}

// BookingQuery parameterizes ListBookings. Zero values are omitted.
type BookingQuery struct {
	Status string
	Page   int
	Limit  int
}

// Cleaner is a field worker that bookings can be assigned to.
type Cleaner struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Active bool   `json:"isActive"`
}

// Profile is the authenticated operator.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token   string  `json:"token"`
	Profile Profile `json:"admin"`
}
