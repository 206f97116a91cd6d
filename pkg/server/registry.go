package server

import (
	"fmt"
	"math/rand"
)

// DefaultPalette is the fixed set of display colors clients are assigned
// from. The names come from the Tk color table the original editor drew on.
var DefaultPalette = []string{
	"steel blue",
	"sea green",
	"coral",
	"orchid",
	"goldenrod",
	"firebrick",
	"dark khaki",
	"medium purple",
	"indian red",
	"cadet blue",
	"olive drab",
	"rosy brown",
	"slate gray",
	"dark salmon",
	"turquoise",
	"plum",
}

// Registry tracks the active sessions' usernames and colors. It is touched
// only from the hub goroutine, so it carries no lock; usernames and colors
// reset when the server restarts.
type Registry struct {
	users       map[string]string // username → color
	palette     []string
	maxAttempts int
}

// NewRegistry returns an empty registry drawing colors from palette and
// giving up on username disambiguation after maxAttempts re-rolls.
func NewRegistry(palette []string, maxAttempts int) *Registry {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	if maxAttempts <= 0 {
		maxAttempts = 32
	}
	return &Registry{
		users:       make(map[string]string),
		palette:     palette,
		maxAttempts: maxAttempts,
	}
}

// Register assigns a session for the requested username and returns the
// assigned username and color. A colliding username gets a random
// zero-padded suffix in 001..998 appended; collisions re-roll the suffix up to the
// configured cap, after which the registration fails. Uniqueness is
// best-effort, not cryptographic.
func (r *Registry) Register(requested string) (username, color string, err error) {
	if requested == "" {
		return "", "", ErrEmptyUsername
	}
	username = requested
	for attempt := 0; ; attempt++ {
		if _, taken := r.users[username]; !taken {
			break
		}
		if attempt >= r.maxAttempts {
			return "", "", fmt.Errorf("%w: %q after %d attempts", ErrUsernameExhausted, requested, r.maxAttempts)
		}
		username = fmt.Sprintf("%s%03d", requested, rand.Intn(998)+1)
	}
	color = r.palette[rand.Intn(len(r.palette))]
	r.users[username] = color
	return username, color, nil
}

// Unregister removes the session for username. Removing an absent username
// is a no-op.
func (r *Registry) Unregister(username string) {
	delete(r.users, username)
}

// Users returns a snapshot of username → color for all active sessions.
func (r *Registry) Users() map[string]string {
	snapshot := make(map[string]string, len(r.users))
	for name, color := range r.users {
		snapshot[name] = color
	}
	return snapshot
}

// Len returns the number of active sessions.
func (r *Registry) Len() int { return len(r.users) }
