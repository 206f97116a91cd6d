// Package document holds the single shared document: its in-memory text and
// the on-disk file the text mirrors.
package document

import (
	"fmt"
	"os"
	"sync"
)

// Store is the authoritative copy of the shared document. The in-memory text
// and the backing file are kept byte-for-byte equal: a mutation either
// updates both or neither.
//
// All mutations happen on the server's single dispatch goroutine, so the
// mutex exists only to make Read safe from other goroutines (metrics,
// health checks, tests).
type Store struct {
	mu   sync.RWMutex
	path string
	text string
}

// Open loads the document at path, creating an empty file if none exists.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("document: create %s: %w", path, err)
		}
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("document: open %s: %w", path, err)
	}
	return &Store{path: path, text: string(data)}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Read returns the most recently committed text.
func (s *Store) Read() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// Len returns the committed text length in bytes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.text)
}

// Replace overwrites the document with text, rewriting the backing file in
// the same step. On a write failure neither the file nor the in-memory text
// is considered committed and the previous text remains readable.
func (s *Store) Replace(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("document: write %s: %w", s.path, err)
	}
	s.text = text
	return nil
}

// Clear empties the document and its backing file.
func (s *Store) Clear() error {
	return s.Replace("")
}
