package refimpl

import (
	"context"
	"fmt"
	"sync"
)

// AsyncActionFunc produces the current logged result for one async
// action id — the reference stand-in for whatever action-log store a
// real deployment polls (§4.5 "Async-only" / "Source-backed" with
// companion actions).
type AsyncActionFunc func(ctx context.Context) (interface{}, error)

// AsyncActionStore is the reference implementation of an
// ActionLogFetcher: a registry of per-id fetchers, aggregated by id
// into the action-log map the poller hands to subscribers.
type AsyncActionStore struct {
	mu      sync.RWMutex
	actions map[string]AsyncActionFunc
}

// NewAsyncActionStore returns an empty store.
func NewAsyncActionStore() *AsyncActionStore {
	return &AsyncActionStore{actions: map[string]AsyncActionFunc{}}
}

// Register adds or replaces the fetcher for an async action id.
func (s *AsyncActionStore) Register(actionID string, fn AsyncActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[actionID] = fn
}

// Fetch implements ActionLogFetcher: it resolves every requested action
// id independently, failing the whole fetch if any one of them errors
// so a partial action log is never handed to a subscriber.
func (s *AsyncActionStore) Fetch(ctx context.Context, actionIDs []string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]interface{}, len(actionIDs))
	for _, id := range actionIDs {
		fn, ok := s.actions[id]
		if !ok {
			return nil, fmt.Errorf("async action store: no fetcher registered for action %q", id)
		}
		result, err := fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("async action %q: %w", id, err)
		}
		out[id] = result
	}
	return out, nil
}
