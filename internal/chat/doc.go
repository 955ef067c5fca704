// Package chat keeps one operator's issue chat in sync with the backend.
//
// Three components cooperate through a shared realtime connection handle:
//
//   - ConnectionManager owns the connection. It dials when the operator
//     identity becomes available, joins the operator's identity room, and
//     redials when the identity changes.
//   - RoomBinder keeps at most one conversation room joined: the room of the
//     conversation currently open.
//   - MessageStream holds the transcript of the open conversation. History
//     replaces it on selection; local sends are appended optimistically and
//     reconciled with their echo by correlation id; pushed messages are
//     appended in arrival order.
//
// Desk wires them together with the conversation list cache and the REST
// backend, and is what the console and the watcher use.
package chat
