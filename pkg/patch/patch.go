// Package patch wraps the diff-match-patch primitives used to keep document
// replicas in sync: compute a patch set between two texts, move it across the
// wire in its canonical text form, and apply it to a (possibly diverged) base.
package patch

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Set is an ordered sequence of diff hunks transforming one text into
// another. Applying a Set to the exact text it was computed from reproduces
// the target text; applying it to a diverged base succeeds per hunk wherever
// the surrounding context still matches.
type Set struct {
	patches []diffmatchpatch.Patch
}

// Len returns the number of hunks in the set.
func (s Set) Len() int { return len(s.patches) }

// Codec computes, serializes and applies patch sets. The zero value is not
// usable; construct with NewCodec. A Codec is safe for concurrent use as long
// as its tuning fields are not mutated after construction.
type Codec struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewCodec returns a Codec with the library's default matching thresholds.
func NewCodec() *Codec {
	return &Codec{dmp: diffmatchpatch.New()}
}

// Make computes the patch set that transforms old into new. It is
// deterministic and never fails for valid UTF-8 input.
func (c *Codec) Make(old, new string) Set {
	return Set{patches: c.dmp.PatchMake(old, new)}
}

// Text serializes the set to its canonical text form, the inverse of
// FromText. An empty set serializes to the empty string.
func (c *Codec) Text(s Set) string {
	return c.dmp.PatchToText(s.patches)
}

// FromText parses a patch set previously produced by Text.
func (c *Codec) FromText(text string) (Set, error) {
	patches, err := c.dmp.PatchFromText(text)
	if err != nil {
		return Set{}, fmt.Errorf("patch: parse: %w", err)
	}
	return Set{patches: patches}, nil
}

// Apply applies the set to base. Each hunk is matched contextually: a hunk
// whose context no longer appears in base is skipped and reported false in
// the returned flags. Partial application is an accepted outcome, not an
// error.
func (c *Codec) Apply(s Set, base string) (string, []bool) {
	return c.dmp.PatchApply(s.patches, base)
}
