// Package client implements a headless coedit client: it connects to a
// server, keeps a local copy of the shared document, pushes local edits as
// editor_change messages on a fixed cadence, and applies patches arriving
// from other clients.
//
// The receive path mirrors the original editor's design: a dedicated
// receiver goroutine reads the socket and posts envelopes to a buffered
// queue, and a consumer goroutine applies them to the local buffer and
// republishes them on Events for the embedder (a terminal UI, a bot, a
// test). The socket read never blocks anything but its own goroutine.
package client

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coedit-dev/coedit/pkg/patch"
	"github.com/coedit-dev/coedit/pkg/protocol"
)

// Config holds client configuration.
type Config struct {
	// URL is the server's websocket endpoint, e.g. "ws://localhost:9009/ws".
	URL string

	// Username is the requested username; the server may disambiguate it.
	Username string

	// DialTimeout bounds connecting and the handshake reply. Once connected
	// there are no read timeouts. Default: 10s.
	DialTimeout time.Duration

	// SyncInterval is how often the local buffer is scanned for changes to
	// push. Default: 500ms.
	SyncInterval time.Duration

	// QueueSize is the receive queue depth between the receiver goroutine
	// and the apply loop. Default: 64.
	QueueSize int
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.DialTimeout == 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.SyncInterval == 0 {
		out.SyncInterval = 500 * time.Millisecond
	}
	if out.QueueSize == 0 {
		out.QueueSize = 64
	}
	return &out
}

// Client is one live connection to a coedit server.
type Client struct {
	conn   *websocket.Conn
	codec  *patch.Codec
	config *Config

	writeMu sync.Mutex // serializes socket writes (flusher, Empty, Close)

	mu        sync.Mutex
	username  string
	buffer    string
	signature uint64 // hash of buffer at last sync with the server
	users     map[string]string

	queue  chan *protocol.Message
	events chan *protocol.Message

	closeOnce sync.Once
	done      chan struct{}
	err       error
	errMu     sync.Mutex
}

// Dial connects to a coedit server, performs the client_connection
// handshake, and starts the receive and sync loops. The returned client's
// buffer already holds the server's current document.
func Dial(config *Config) (*Client, error) {
	config = config.withDefaults()
	if config.Username == "" {
		return nil, fmt.Errorf("client: username is required")
	}

	dialer := websocket.Dialer{HandshakeTimeout: config.DialTimeout}
	conn, _, err := dialer.Dial(config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", config.URL, err)
	}

	c := &Client{
		conn:   conn,
		codec:  patch.NewCodec(),
		config: config,
		users:  make(map[string]string),
		queue:  make(chan *protocol.Message, config.QueueSize),
		events: make(chan *protocol.Message, config.QueueSize),
		done:   make(chan struct{}),
	}

	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	go c.receive()
	go c.apply()
	go c.flush()
	return c, nil
}

// handshake sends the connection request and installs the server's reply:
// assigned username, current user table, full document text.
func (c *Client) handshake() error {
	if err := c.writeMessage(protocol.Connect(c.config.Username)); err != nil {
		return fmt.Errorf("client: handshake send: %w", err)
	}

	// The server broadcasts to every live connection, session or not, so
	// envelopes about other clients can arrive ahead of our reply.
	var reply *protocol.Message
	c.conn.SetReadDeadline(time.Now().Add(c.config.DialTimeout))
	for reply == nil {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("client: handshake read: %w", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			return fmt.Errorf("client: handshake: %w", err)
		}
		if msg.Code == protocol.ClientConnection {
			reply = msg
		}
	}
	c.conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.username = reply.ClientUsername
	c.buffer = reply.Data
	c.signature = hash(reply.Data)
	for name, color := range reply.Users {
		c.users[name] = color
	}
	c.mu.Unlock()
	return nil
}

// receive is the socket reader: one envelope per websocket message, posted
// to the queue. It exits on any transport error, recording it and closing
// the client.
func (c *Client) receive() {
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			// A bad server frame is dropped, not fatal.
			continue
		}
		select {
		case c.queue <- msg:
		case <-c.done:
			return
		}
	}
}

// apply consumes the receive queue, updates local state, and republishes
// each message on Events.
func (c *Client) apply() {
	for {
		select {
		case msg := <-c.queue:
			c.applyOne(msg)
			select {
			case c.events <- msg:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) applyOne(msg *protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Code {
	case protocol.NewPatch:
		if msg.Data == "" {
			return
		}
		set, err := c.codec.FromText(msg.Data)
		if err != nil {
			return
		}
		merged, _ := c.codec.Apply(set, c.buffer)
		c.buffer = merged
		// Resetting the signature keeps the flusher from echoing the
		// server's own patch back as an edit.
		c.signature = hash(merged)

	case protocol.EmptyEditor:
		c.buffer = ""
		c.signature = hash("")

	case protocol.NewClient:
		c.users[msg.Username] = msg.Color

	case protocol.ClientDisconnect:
		delete(c.users, msg.Username)
	}
}

// flush scans the buffer on the sync cadence and pushes the full contents
// when it changed since the last sync. An emptied buffer is not pushed;
// clearing the shared document goes through Empty.
func (c *Client) flush() {
	ticker := time.NewTicker(c.config.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Sync(); err != nil {
				c.setErr(err)
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Sync pushes the local buffer now if it changed since the last sync.
func (c *Client) Sync() error {
	c.mu.Lock()
	text := c.buffer
	dirty := hash(text) != c.signature && text != ""
	if dirty {
		c.signature = hash(text)
	}
	c.mu.Unlock()

	if !dirty {
		return nil
	}
	return c.writeMessage(protocol.Change(text))
}

// Text returns the local copy of the document.
func (c *Client) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

// SetText replaces the local buffer; the change reaches the server on the
// next sync tick (or an explicit Sync).
func (c *Client) SetText(text string) {
	c.mu.Lock()
	c.buffer = text
	c.mu.Unlock()
}

// Empty clears the local buffer and asks the server to clear the shared
// document.
func (c *Client) Empty() error {
	c.mu.Lock()
	c.buffer = ""
	c.signature = hash("")
	c.mu.Unlock()
	return c.writeMessage(protocol.Emptied())
}

// Username returns the username the server assigned.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Users returns a snapshot of the known username → color table.
func (c *Client) Users() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]string, len(c.users))
	for name, color := range c.users {
		snapshot[name] = color
	}
	return snapshot
}

// Events returns the stream of server messages, delivered after the client
// applied them to its local state.
func (c *Client) Events() <-chan *protocol.Message { return c.events }

// Done is closed when the connection ends, by Close or by a transport error.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the transport error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close announces the disconnect to the server and closes the connection.
func (c *Client) Close() error {
	var sendErr error
	c.closeOnce.Do(func() {
		sendErr = c.writeMessage(protocol.Disconnected(c.Username()))
		close(c.done)
		c.conn.Close()
	})
	return sendErr
}

// shutdown closes the connection without the disconnect announcement (the
// transport already failed).
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) writeMessage(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func hash(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	return h.Sum64()
}
