// Package realtime provides named rooms over NATS.
//
// A room is a pair of subjects under a configurable prefix:
//
//	<prefix>.room.<room>.message   chat messages
//	<prefix>.room.<room>.notify    notifications (new issue, count changed)
//
// Joining subscribes to <prefix>.room.<room>.* and announces the membership
// on <prefix>.presence.join; leaving unsubscribes and announces on
// <prefix>.presence.leave. The backend fans messages out to room subjects.
package realtime

import (
	"context"
	"errors"
	"regexp"

	"github.com/fyrsmithlabs/opsdesk/internal/identity"
)

var (
	// ErrInvalidRoom is returned for room ids that are not a single subject token.
	ErrInvalidRoom = errors.New("invalid room id")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("connection closed")
)

// Kind is the event type carried on a room.
type Kind string

const (
	KindMessage Kind = "message"
	KindNotify  Kind = "notify"
)

// Event is an inbound room event. Data is the raw JSON payload.
type Event struct {
	Room string
	Kind Kind
	Data []byte
}

// Handler receives inbound events.
type Handler func(Event)

// Health is the observable state of a connection.
type Health string

const (
	HealthConnecting   Health = "connecting"
	HealthConnected    Health = "connected"
	HealthReconnecting Health = "reconnecting"
	HealthDisconnected Health = "disconnected"
	HealthClosed       Health = "closed"
)

// Callbacks are invoked by a connection. Either may be nil.
type Callbacks struct {
	OnEvent  Handler
	OnHealth func(Health)
}

// Conn is a live realtime connection.
type Conn interface {
	// Join subscribes to a room. Joining a room twice is a no-op.
	Join(ctx context.Context, room string) error
	// Leave unsubscribes from a room. Leaving a room not joined is a no-op.
	Leave(ctx context.Context, room string) error
	// Publish sends v as JSON to the room's kind subject and waits for the
	// server to acknowledge receipt.
	Publish(ctx context.Context, room string, kind Kind, v any) error
	// Rooms returns the joined rooms in sorted order.
	Rooms() []string
	// Health returns the current connection health.
	Health() Health
	// Close closes the connection.
	Close() error
}

// Dialer opens connections on behalf of an operator.
type Dialer interface {
	Dial(ctx context.Context, id identity.Identity, cb Callbacks) (Conn, error)
}

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidRoom reports whether room can be used as a room id.
func ValidRoom(room string) bool {
	return roomPattern.MatchString(room)
}

// Presence is the payload announced on join and leave.
type Presence struct {
	Room       string `json:"room"`
	OperatorID string `json:"operatorId"`
}
