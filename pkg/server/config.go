package server

import (
	"net/http"
	"time"
)

// Config holds configuration for the coedit server.
type Config struct {
	// Address is the address to listen on (e.g., ":9009" or "localhost:9009").
	// Default: ":9009".
	Address string

	// DocumentPath is the backing file for the shared document.
	// Required; Open fails without it.
	DocumentPath string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: allow all. The protocol has no authentication, so origin
	// checks are the only admission control available to deployments.
	CheckOrigin func(r *http.Request) bool

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// One envelope carries the client's entire buffer, so this bounds the
	// document size a client may propose. Default: 1MB.
	MaxMessageSize int64

	// UsernameAttempts caps suffix re-rolls when disambiguating a colliding
	// username before the handshake is refused. Default: 32.
	UsernameAttempts int

	// InboundQueue is the hub inbound channel depth. Default: 256.
	InboundQueue int

	// Timeouts
	//
	// Established connections carry no read deadline: a silent client stays
	// registered until it disconnects or errors.

	// HandshakeTimeout bounds the WebSocket upgrade. Default: 10s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each outbound send; a timed-out send counts as a
	// dead peer and tears the session down. Default: 10s.
	WriteTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s.
	ShutdownTimeout time.Duration

	// Palette is the set of display colors assigned to clients. Colors are
	// drawn at random with no reuse tracking; duplicates are permitted.
	// Default: DefaultPalette.
	Palette []string
}

// DefaultConfig returns a Config with sensible defaults. DocumentPath must
// still be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		Address:          ":9009",
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      func(r *http.Request) bool { return true },
		MaxMessageSize:   1 << 20,
		UsernameAttempts: 32,
		InboundQueue:     256,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		Palette:          DefaultPalette,
	}
}

// withDefaults fills in defaults for any unset fields.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	defaults := DefaultConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = defaults.CheckOrigin
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.UsernameAttempts == 0 {
		c.UsernameAttempts = defaults.UsernameAttempts
	}
	if c.InboundQueue == 0 {
		c.InboundQueue = defaults.InboundQueue
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if len(c.Palette) == 0 {
		c.Palette = defaults.Palette
	}
	return c
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Palette != nil {
		clone.Palette = append([]string(nil), c.Palette...)
	}
	return &clone
}
