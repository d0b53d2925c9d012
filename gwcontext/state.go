// Package gwcontext holds the per-connection state variable and
// operation registry described by the connection data model: the
// monotonic NotInitialised -> {InitError|Initialised} transition (I1),
// and the OperationId -> (LiveQueryId, OperationName) registry with its
// atomicity requirements (I2, I3).
package gwcontext

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// UserInfo is the authenticated identity attached to a connection once
// connection_init succeeds. Role drives allow-list checks; UserID and
// SessionVariables are forwarded to the planner/executors verbatim.
type UserInfo struct {
	Role             string
	UserID           string
	SessionVariables map[string]string
}

// Phase names the connection's place in the I1 state machine.
type Phase int

const (
	PhaseNotInitialised Phase = iota
	PhaseInitError
	PhaseInitialised
)

// ConnState is the immutable snapshot held by the atomic cell; a new
// value is swapped in exactly once, at connection_init time, never
// mutated in place.
type ConnState struct {
	Phase Phase

	// NotInitialised fields
	Headers   http.Header
	IPAddress string

	// InitError fields
	InitErrorMessage string

	// Initialised fields
	UserInfo          UserInfo
	TokenExpiry       *time.Time
	ForwardedHeaders  http.Header
}

// NewNotInitialised builds the initial state recorded at handshake time.
func NewNotInitialised(headers http.Header, ipAddress string) *ConnState {
	return &ConnState{
		Phase:     PhaseNotInitialised,
		Headers:   headers,
		IPAddress: ipAddress,
	}
}

// Cell is an atomic, single-writer/many-reader holder for ConnState,
// matching the concurrency model's requirement that the state variable
// be "read by many tasks, written only during connection_init".
type Cell struct {
	v atomic.Pointer[ConnState]
}

// NewCell creates a cell seeded with the NotInitialised state.
func NewCell(initial *ConnState) *Cell {
	c := &Cell{}
	c.v.Store(initial)
	return c
}

// Load returns the current state. Safe for concurrent use.
func (c *Cell) Load() *ConnState {
	return c.v.Load()
}

// TryTransitionFromNotInitialised swaps in a new state iff the current
// phase is still NotInitialised, enforcing the monotonic I1 invariant
// (NotInitialised -> exactly one of InitError or Initialised, and never
// back). Returns false if the connection had already left that phase.
func (c *Cell) TryTransitionFromNotInitialised(next *ConnState) bool {
	for {
		cur := c.v.Load()
		if cur.Phase != PhaseNotInitialised {
			return false
		}
		if c.v.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// RegistryEntry is what the operation registry stores for a live
// subscription: its poller handle and the optional name the client
// supplied in the request body. Async-only subscriptions have no
// LiveQueryId (they register with the poller's async-action queue, not
// AddLiveQuery), so IsAsyncOnly tells the caller which removal path to
// use. A source-backed subscription with companion async actions (the
// restart-wrapper case) additionally arms an async-action queue entry
// of its own alongside the live query; HasAsyncAction tells the caller
// it must also call RemoveAsyncAction(opID) to avoid leaking it, since
// that entry is keyed on the same opID as this registry row.
type RegistryEntry struct {
	LiveQueryID    string
	OperationName  string
	IsAsyncOnly    bool
	HasAsyncAction bool
}

// OperationRegistry is the per-connection map of OperationId to
// RegistryEntry. Every compound operation (check-then-insert on start,
// lookup-then-delete on stop/close) is exposed as a single atomic
// method so callers never split it across two lock acquisitions — this
// is what invariant I3 (uniqueness) and I2 (registry <-> poller
// symmetry) actually rest on.
type OperationRegistry struct {
	mu      sync.Mutex
	entries map[string]RegistryEntry
}

// NewOperationRegistry returns an empty registry.
func NewOperationRegistry() *OperationRegistry {
	return &OperationRegistry{entries: map[string]RegistryEntry{}}
}

// Has reports whether opID currently has a live entry.
func (r *OperationRegistry) Has(opID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[opID]
	return ok
}

// TryInsert inserts entry under opID iff no entry currently exists.
// Returns false (and does not clobber the existing entry) if opID is
// already live — the caller must reject the duplicate start per I3.
func (r *OperationRegistry) TryInsert(opID string, entry RegistryEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[opID]; exists {
		return false
	}
	r.entries[opID] = entry
	return true
}

// Remove deletes opID and reports the entry that was removed, if any.
func (r *OperationRegistry) Remove(opID string) (RegistryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[opID]
	if ok {
		delete(r.entries, opID)
	}
	return entry, ok
}

// ReplaceIfPresent swaps the entry stored under opID for a new one,
// but only if opID is still registered — used by the live-query
// restart wrapper so a race with a concurrent stop doesn't resurrect a
// removed operation (the caller must then tear down the replacement
// handle itself).
func (r *OperationRegistry) ReplaceIfPresent(opID string, entry RegistryEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[opID]; !ok {
		return false
	}
	r.entries[opID] = entry
	return true
}

// DrainAll empties the registry and returns every entry that was in it,
// for use by the close path which must remove every surviving live
// query from the poller (I2).
func (r *OperationRegistry) DrainAll() map[string]RegistryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.entries
	r.entries = map[string]RegistryEntry{}
	return drained
}

// Len reports the number of live entries, used for close-time logging
// ("closed" events must show the pre-removal count).
func (r *OperationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
