package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code identifies the command carried by a message envelope.
type Code string

const (
	ClientConnection Code = "client_connection" // Handshake and its unicast reply
	NewClient        Code = "new_client"        // Server → others: a client joined
	ClientDisconnect Code = "client_disconnect" // A client left
	EditorChange     Code = "editor_change"     // Client → server: full buffer contents
	NewPatch         Code = "new_patch"         // Server → others: serialized patch set
	EmptyEditor      Code = "empty_editor"      // Document cleared
)

// Valid reports whether the code is one of the defined commands.
func (c Code) Valid() bool {
	switch c {
	case ClientConnection, NewClient, ClientDisconnect, EditorChange, NewPatch, EmptyEditor:
		return true
	}
	return false
}

// String returns the string representation of the code.
func (c Code) String() string { return string(c) }

// Protocol errors.
var (
	ErrUnknownCode = errors.New("protocol: unknown command code")
	ErrMissingCode = errors.New("protocol: missing command code")
)

// Message is one wire envelope. Messages are immutable once constructed;
// fields not used by a given code are left zero and omitted on the wire.
type Message struct {
	Code Code `json:"code"`

	// Username names the subject of client_connection, new_client and
	// client_disconnect messages.
	Username string `json:"username,omitempty"`

	// Color is the display color assigned to a joining client (new_client).
	Color string `json:"color,omitempty"`

	// Data carries full document text (client_connection reply,
	// editor_change) or a serialized patch set (new_patch).
	Data string `json:"data,omitempty"`

	// Users maps username to color; sent only in the client_connection reply.
	Users map[string]string `json:"users,omitempty"`

	// ClientUsername is the username the server actually assigned, which may
	// differ from the requested one (client_connection reply only).
	ClientUsername string `json:"client_username,omitempty"`
}

// Encode serializes the message to its wire form.
func Encode(m *Message) ([]byte, error) {
	if !m.Code.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCode, m.Code)
	}
	return json.Marshal(m)
}

// Decode parses one wire envelope. It rejects envelopes with a missing or
// unknown code; unknown extra fields are ignored for forward compatibility.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	if m.Code == "" {
		return nil, ErrMissingCode
	}
	if !m.Code.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCode, m.Code)
	}
	return &m, nil
}

// Connect builds the client→server handshake message.
func Connect(username string) *Message {
	return &Message{Code: ClientConnection, Username: username}
}

// ConnectReply builds the unicast handshake reply: the full document, the
// current user table and the username the server settled on.
func ConnectReply(text string, users map[string]string, assigned string) *Message {
	return &Message{Code: ClientConnection, Data: text, Users: users, ClientUsername: assigned}
}

// Joined builds the new_client broadcast.
func Joined(username, color string) *Message {
	return &Message{Code: NewClient, Username: username, Color: color}
}

// Disconnected builds the client_disconnect message.
func Disconnected(username string) *Message {
	return &Message{Code: ClientDisconnect, Username: username}
}

// Change builds the client→server editor_change message carrying the
// client's entire buffer.
func Change(text string) *Message {
	return &Message{Code: EditorChange, Data: text}
}

// Patched builds the new_patch broadcast from a serialized patch set.
func Patched(patchText string) *Message {
	return &Message{Code: NewPatch, Data: patchText}
}

// Emptied builds the empty_editor message.
func Emptied() *Message {
	return &Message{Code: EmptyEditor}
}
