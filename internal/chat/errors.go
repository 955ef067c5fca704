package chat

import "errors"

var (
	// ErrEmptyMessage is returned when sending blank or whitespace-only text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoConversation is returned when an operation needs an open conversation.
	ErrNoConversation = errors.New("no conversation selected")

	// ErrNotReady is returned when sending before the history has loaded.
	ErrNotReady = errors.New("conversation is not ready")

	// ErrNoConnection marks a send attempted without a realtime connection.
	ErrNoConnection = errors.New("no realtime connection")

	// ErrLoadMessages wraps history fetch failures.
	ErrLoadMessages = errors.New("failed to load messages")

	// ErrUnknownConversation is returned for ids missing from the list cache.
	ErrUnknownConversation = errors.New("conversation not in list")
)

// LoadFailedMessage is shown in place of the transcript when history fails
// to load.
const LoadFailedMessage = "Failed to load messages..."
