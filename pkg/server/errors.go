package server

import "errors"

// Server errors.
var (
	// ErrUsernameExhausted is returned when the registry cannot find a free
	// username within the configured number of suffix re-rolls.
	ErrUsernameExhausted = errors.New("server: username disambiguation exhausted")

	// ErrEmptyUsername is returned when a handshake requests a blank username.
	ErrEmptyUsername = errors.New("server: empty username")
)
