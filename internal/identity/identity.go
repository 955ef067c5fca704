// Package identity supplies the authenticated operator to the realtime
// connection manager.
//
// The operator becomes known asynchronously: `opsdesk login` writes a session
// file, `opsdesk logout` removes it, and a Watcher turns those file changes
// into a stream of Identity values. The zero Identity (None) means "not yet
// available".
package identity

import (
	"errors"
	"time"
)

// ErrNoSession is returned when no session file exists.
var ErrNoSession = errors.New("no session: run `opsdesk login` first")

// Identity is the authenticated operator.
type Identity struct {
	OperatorID string `json:"operatorId"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
}

// None is the "not yet available" identity.
var None = Identity{}

// Available reports whether the identity names an operator.
func (i Identity) Available() bool {
	return i.OperatorID != ""
}

// Room returns the identity room id.
func (i Identity) Room() string {
	return i.OperatorID
}

func (i Identity) String() string {
	if !i.Available() {
		return "<none>"
	}
	if i.Name == "" {
		return i.OperatorID
	}
	return i.Name + " (" + i.OperatorID + ")"
}

// Source delivers identity changes.
//
// Current returns the latest known identity. Updates emits every change; a
// slow reader only ever sees the most recent value.
type Source interface {
	Current() Identity
	Updates() <-chan Identity
}

// Session is the on-disk login state.
type Session struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	BaseURL   string    `json:"baseUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
