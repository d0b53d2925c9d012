package wsconn_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaygate/gqlgw/collab"
)

// fakePoller is a deterministic stand-in for collab.Poller: it never
// pushes on its own (no ticker), so tests control exactly when a
// subscriber sees a change, and it records every add/remove so close
// and stop cleanup (invariant I2) can be asserted directly instead of
// through timing.
type fakePoller struct {
	mu           sync.Mutex
	nextID       int
	live         map[string]collab.OnChangeFunc
	async        map[string]struct{}
	removedLive  []string
	removedAsync []string
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		live:  map[string]collab.OnChangeFunc{},
		async: map[string]struct{}{},
	}
}

func (p *fakePoller) AddLiveQuery(ctx context.Context, meta collab.SubscriberMetadata, source, planHash, opName, requestID string, plan *collab.Plan, onChange collab.OnChangeFunc) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("lq-%d", p.nextID)
	p.live[id] = onChange
	return id, nil
}

func (p *fakePoller) RemoveLiveQuery(liveQueryID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[liveQueryID]; !ok {
		return fmt.Errorf("fakePoller: unknown live query %q", liveQueryID)
	}
	delete(p.live, liveQueryID)
	p.removedLive = append(p.removedLive, liveQueryID)
	return nil
}

func (p *fakePoller) AddAsyncAction(opID string, actionIDs []string, onResult collab.AsyncResultFunc, onError collab.AsyncErrorFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.async[opID] = struct{}{}
	return nil
}

func (p *fakePoller) RemoveAsyncAction(opID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.async[opID]; !ok {
		return fmt.Errorf("fakePoller: unknown async action operation %q", opID)
	}
	delete(p.async, opID)
	p.removedAsync = append(p.removedAsync, opID)
	return nil
}

func (p *fakePoller) FetchAsyncActionLog(ctx context.Context, actionIDs []string) (map[string]interface{}, error) {
	return nil, nil
}

func (p *fakePoller) counts() (live, async int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live), len(p.async)
}
