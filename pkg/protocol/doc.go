// Package protocol defines the wire protocol for coedit.
//
// Every message is a single JSON envelope carried in one WebSocket text
// message. WebSocket framing delimits messages, so the protocol never
// depends on TCP preserving write boundaries.
//
// # Envelope
//
// All messages share one record shape, tagged by a command code:
//
//	{"code": "editor_change", "data": "full document text"}
//
// Field sets by code:
//
//   - client_connection (client→server): code, username
//   - client_connection (server→client reply): code, data, users, client_username
//   - new_client (server→others): code, username, color
//   - client_disconnect (either direction): code, username
//   - editor_change (client→server): code, data (the client's full buffer)
//   - new_patch (server→others): code, data (serialized patch set)
//   - empty_editor (either direction): code
//
// Clients always transmit their entire buffer on editor_change; the server
// answers with patches, never with full text (except in the connection reply).
package protocol
