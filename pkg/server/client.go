package server

import (
	"time"

	"github.com/gorilla/websocket"
)

// client is the server-side record for one live connection. The connection
// joins the hub's live set as soon as it is accepted; username and color are
// assigned only when a client_connection handshake succeeds, and an empty
// username marks the connection as having no session.
//
// All fields after construction are owned by the hub goroutine. The read
// pump only touches the websocket's read side.
type client struct {
	ws *websocket.Conn

	username string
	color    string

	remoteAddr string
}

// hasSession reports whether the connection completed its handshake.
func (c *client) hasSession() bool { return c.username != "" }

// detach clears the session binding and returns the username it had.
// Teardown after an explicit disconnect finds no session and stays silent.
func (c *client) detach() string {
	name := c.username
	c.username = ""
	c.color = ""
	return name
}

// write sends one envelope on the connection with the configured deadline.
// Only the hub goroutine writes, so no write lock is needed.
func (c *client) write(data []byte, timeout time.Duration) error {
	c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// readPump reads envelopes off the connection and posts them to the hub
// until the peer closes or errors. It runs on its own goroutine per
// connection and performs no decoding or state changes itself.
func (s *Server) readPump(c *client) {
	defer s.hub.drop(c)

	c.ws.SetReadLimit(s.config.MaxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				s.logger.Debug("read error", "remote", c.remoteAddr, "error", err)
			}
			return
		}
		if !s.hub.post(c, data) {
			return
		}
	}
}
