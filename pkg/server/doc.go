// Package server implements the coedit synchronization engine: connection
// and session lifecycle, the shared-document state machine, and the
// diff/patch broadcast protocol that keeps every connected client's view
// consistent with the server's authoritative copy.
//
// # Architecture
//
//   - Server: HTTP/WebSocket front end with upgrade, health, metrics and
//     graceful shutdown
//   - hub: the single dispatch goroutine owning all shared state (live
//     connection set, session registry, document store)
//   - client: per-connection record; its read pump is pure I/O glue
//   - Registry: username/color table with collision disambiguation
//
// # Concurrency model
//
// Each connection runs one read pump goroutine that reads raw envelopes and
// posts them to the hub. The hub goroutine is the only place the document,
// the registry and the live set are touched, so dispatch needs no locks and
// messages are totally ordered by arrival at the hub channel: every
// broadcast caused by one message is fully sent before the next message is
// dispatched. The hub's channel select is the multiplex wait; nothing
// performed after it may block unboundedly (reads are size-capped, writes
// carry deadlines, file writes are local).
//
// # Merge policy
//
// On editor_change the server diffs its own current text against the
// sender's full buffer and applies the resulting patch set to its current
// text, rather than adopting the sender's buffer verbatim. Edits that
// arrived in between survive wherever hunk contexts do not overlap; hunks
// whose context no longer matches are dropped silently. Concurrent edits to
// the same region can therefore diverge. That weakness is part of the
// protocol's observable behavior and is kept as is.
package server
