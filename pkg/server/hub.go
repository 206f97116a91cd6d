package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/coedit-dev/coedit/pkg/document"
	"github.com/coedit-dev/coedit/pkg/patch"
	"github.com/coedit-dev/coedit/pkg/protocol"
)

// inbound is one raw envelope handed from a read pump to the hub.
type inbound struct {
	c    *client
	data []byte
}

// hub owns every piece of shared state: the live connection set, the session
// registry and the document store. Its run goroutine is the only mutator, so
// dispatch needs no locks and messages are totally ordered by arrival.
type hub struct {
	doc      *document.Store
	codec    *patch.Codec
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	config   *Config

	register chan *client
	messages chan inbound
	gone     chan *client

	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// clients is the live set: the single source of truth for who can
	// receive a broadcast. Hub goroutine only.
	clients map[*client]bool
}

func newHub(doc *document.Store, registry *Registry, metrics *Metrics, logger *slog.Logger, tracer trace.Tracer, config *Config) *hub {
	return &hub{
		doc:      doc,
		codec:    patch.NewCodec(),
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		tracer:   tracer,
		config:   config,
		register: make(chan *client),
		messages: make(chan inbound, config.InboundQueue),
		gone:     make(chan *client),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		clients:  make(map[*client]bool),
	}
}

// run is the multiplex wait: it blocks until a connection is accepted, an
// envelope arrives or a connection dies, and handles exactly one event at a
// time. It returns when the hub is stopped.
func (h *hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.metrics.connections.Inc()

		case in := <-h.messages:
			h.dispatch(in.c, in.data)

		case c := <-h.gone:
			h.teardown(c)

		case <-h.quit:
			for c := range h.clients {
				c.ws.Close()
			}
			h.clients = make(map[*client]bool)
			return
		}
	}
}

// add registers a freshly accepted connection in the live set.
func (h *hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

// post hands one raw envelope to the hub. It reports false once the hub has
// stopped.
func (h *hub) post(c *client, data []byte) bool {
	select {
	case h.messages <- inbound{c: c, data: data}:
		return true
	case <-h.quit:
		return false
	}
}

// drop reports a connection whose read side ended (EOF or transport error).
func (h *hub) drop(c *client) {
	select {
	case h.gone <- c:
	case <-h.quit:
	}
}

// stop shuts the hub down and waits for the run goroutine to exit.
func (h *hub) stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}

// dispatch decodes one envelope and routes it per its command code. A
// malformed envelope, an unknown code, or a command from a connection
// without a session is a protocol error: logged, counted and dropped, with
// the connection kept open.
func (h *hub) dispatch(c *client, data []byte) {
	if !h.clients[c] {
		// Torn down while the envelope sat in the queue.
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		h.protocolError(c, "malformed envelope", "error", err)
		return
	}

	_, span := h.tracer.Start(context.Background(), "hub.dispatch",
		trace.WithAttributes(
			attribute.String("coedit.code", msg.Code.String()),
			attribute.String("coedit.username", c.username),
		))
	defer span.End()

	h.metrics.messages.WithLabelValues(msg.Code.String()).Inc()

	switch msg.Code {
	case protocol.ClientConnection:
		h.handleConnect(c, msg)

	case protocol.EditorChange:
		if !c.hasSession() {
			h.protocolError(c, "editor_change before handshake")
			return
		}
		h.handleChange(c, msg)

	case protocol.EmptyEditor:
		if !c.hasSession() {
			h.protocolError(c, "empty_editor before handshake")
			return
		}
		h.handleEmpty(c)

	case protocol.ClientDisconnect:
		if !c.hasSession() {
			h.protocolError(c, "client_disconnect before handshake")
			return
		}
		h.handleDisconnect(c)

	default:
		// new_client and new_patch only ever travel server → client.
		h.protocolError(c, "server-only code from client", "code", msg.Code)
	}
}

// handleConnect runs the client_connection handshake: register a username
// and color, reply with the full document and user table, then announce the
// newcomer to everyone else.
func (h *hub) handleConnect(c *client, msg *protocol.Message) {
	if c.hasSession() {
		h.protocolError(c, "duplicate handshake", "username", c.username)
		return
	}

	username, color, err := h.registry.Register(msg.Username)
	switch {
	case errors.Is(err, ErrEmptyUsername):
		h.protocolError(c, "handshake with empty username")
		return
	case err != nil:
		// Disambiguation exhausted: refuse this connection rather than spin.
		h.logger.Warn("handshake refused", "requested", msg.Username, "error", err)
		h.refuse(c, "username unavailable")
		return
	}

	c.username = username
	c.color = color
	h.metrics.sessions.Set(float64(h.registry.Len()))

	reply := protocol.ConnectReply(h.doc.Read(), h.registry.Users(), username)
	if !h.send(c, reply) {
		h.teardown(c)
		return
	}

	h.broadcast(c, protocol.Joined(username, color))
	h.logger.Info("client connected", "username", username, "color", color, "remote", c.remoteAddr)
}

// handleChange merges the sender's full buffer into the current document.
// The patch is computed against the server's current text and applied to
// that same text, so edits that landed since the sender's last sync survive
// where contexts don't overlap; hunks whose context is gone are dropped
// silently. The patch, not the merged text, is what gets broadcast.
func (h *hub) handleChange(c *client, msg *protocol.Message) {
	current := h.doc.Read()
	set := h.codec.Make(current, msg.Data)
	merged, applied := h.codec.Apply(set, current)
	for _, ok := range applied {
		if ok {
			h.metrics.hunks.WithLabelValues("applied").Inc()
		} else {
			h.metrics.hunks.WithLabelValues("dropped").Inc()
		}
	}

	if err := h.doc.Replace(merged); err != nil {
		// The store kept its previous text; suppress the broadcast so
		// clients never see a patch the server failed to commit.
		h.logger.Error("document write failed", "username", c.username, "error", err)
		return
	}
	h.metrics.documentBytes.Set(float64(h.doc.Len()))

	h.broadcast(c, protocol.Patched(h.codec.Text(set)))
}

// handleEmpty clears the document and tells everyone else.
func (h *hub) handleEmpty(c *client) {
	if err := h.doc.Clear(); err != nil {
		h.logger.Error("document clear failed", "username", c.username, "error", err)
		return
	}
	h.metrics.documentBytes.Set(0)
	h.broadcast(c, protocol.Emptied())
}

// handleDisconnect ends the sender's session on request. The connection
// itself stays in the live set until its read pump sees EOF; detaching the
// session first keeps that later teardown from broadcasting a second
// client_disconnect.
func (h *hub) handleDisconnect(c *client) {
	username := c.detach()
	h.registry.Unregister(username)
	h.metrics.sessions.Set(float64(h.registry.Len()))
	h.broadcast(c, protocol.Disconnected(username))
	h.logger.Info("client disconnected", "username", username)
}

// teardown removes a connection from the live set, closes it, and ends any
// session it carried, announcing the departure to the remaining clients.
// Tearing down an already-removed connection is a no-op, so the disconnect
// broadcast is emitted at most once per session.
func (h *hub) teardown(c *client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	c.ws.Close()

	if !c.hasSession() {
		return
	}
	username := c.detach()
	h.registry.Unregister(username)
	h.metrics.sessions.Set(float64(h.registry.Len()))
	h.broadcast(nil, protocol.Disconnected(username))
	h.logger.Info("client dropped", "username", username)
}

// broadcast fans msg out to every live connection except origin. Failed
// connections are collected during the fanout and torn down only after it
// completes, so a mid-send failure never skips or double-visits a peer.
// Those teardowns each broadcast their own disconnect to the survivors.
func (h *hub) broadcast(origin *client, msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("broadcast encode failed", "code", msg.Code, "error", err)
		return
	}
	h.metrics.broadcasts.Inc()

	var failed []*client
	for c := range h.clients {
		if c == origin {
			continue
		}
		if err := c.write(data, h.config.WriteTimeout); err != nil {
			h.metrics.sendErrors.Inc()
			h.logger.Warn("broadcast send failed", "username", c.username, "remote", c.remoteAddr, "error", err)
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		h.teardown(c)
	}
}

// send writes one unicast envelope, reporting success.
func (h *hub) send(c *client, msg *protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("send encode failed", "code", msg.Code, "error", err)
		return false
	}
	if err := c.write(data, h.config.WriteTimeout); err != nil {
		h.metrics.sendErrors.Inc()
		h.logger.Warn("send failed", "username", c.username, "remote", c.remoteAddr, "error", err)
		return false
	}
	return true
}

// refuse closes a connection that cannot be admitted, with a close frame
// naming the reason.
func (h *hub) refuse(c *client, reason string) {
	deadline := time.Now().Add(h.config.WriteTimeout)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	h.teardown(c)
}

// protocolError records a malformed or out-of-order message. The connection
// is kept open; only transport failures end a connection.
func (h *hub) protocolError(c *client, reason string, args ...any) {
	h.metrics.protocolErrors.Inc()
	args = append([]any{"remote", c.remoteAddr}, args...)
	h.logger.Warn("protocol error: "+reason, args...)
}
