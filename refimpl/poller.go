package refimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaygate/gqlgw/collab"
	"github.com/relaygate/gqlgw/dispatch"
	"github.com/relaygate/gqlgw/logger"
	"github.com/relaygate/gqlgw/utils/backoff"
)

// ActionLogFetcher fetches the current response for a set of async
// action ids, the reference stand-in for whatever queue or store a
// real deployment's actions are backed by.
type ActionLogFetcher func(ctx context.Context, actionIDs []string) (map[string]interface{}, error)

// Poller is the in-memory reference implementation of collab.Poller:
// it re-runs a subscription's plan through the dispatch engine on a
// fixed interval and pushes onChange only when the serialized result
// changes, and polls registered async actions the same way.
type Poller struct {
	Engine    *dispatch.Engine
	ActionLog ActionLogFetcher
	Interval  time.Duration
	Log       *logger.LogWrapper

	mu           sync.Mutex
	liveQueries  map[string]context.CancelFunc
	asyncActions map[string]context.CancelFunc
}

// NewPoller returns a poller that re-evaluates every interval.
func NewPoller(engine *dispatch.Engine, actionLog ActionLogFetcher, interval time.Duration, log *logger.LogWrapper) *Poller {
	return &Poller{
		Engine:       engine,
		ActionLog:    actionLog,
		Interval:     interval,
		Log:          log,
		liveQueries:  map[string]context.CancelFunc{},
		asyncActions: map[string]context.CancelFunc{},
	}
}

// AddLiveQuery implements collab.Poller.
func (p *Poller) AddLiveQuery(ctx context.Context, meta collab.SubscriberMetadata, source, planHash, opName, requestID string, plan *collab.Plan, onChange collab.OnChangeFunc) (string, error) {
	id := uuid.NewString()
	lctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.liveQueries[id] = cancel
	p.mu.Unlock()

	stepReq := collab.StepRequest{RequestID: requestID, User: meta.User}
	go p.runLiveQuery(lctx, id, plan, stepReq, onChange)

	return id, nil
}

// RemoveLiveQuery implements collab.Poller.
func (p *Poller) RemoveLiveQuery(liveQueryID string) error {
	p.mu.Lock()
	cancel, ok := p.liveQueries[liveQueryID]
	if ok {
		delete(p.liveQueries, liveQueryID)
	}
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("poller: unknown live query %q", liveQueryID)
	}
	cancel()
	return nil
}

func (p *Poller) runLiveQuery(ctx context.Context, id string, plan *collab.Plan, stepReq collab.StepRequest, onChange collab.OnChangeFunc) {
	b := backoff.NewBackoff(&backoff.Options{Min: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2})
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	var lastPayload string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			result, err := p.Engine.ExecuteQuery(ctx, plan, "", stepReq)
			if err != nil {
				if p.Log != nil {
					p.Log.WithError(err).Errorf("live query %q poll failed", id)
				}
				onChange(collab.ChangePayload{Err: err, Elapsed: time.Since(start)})
				sleepCtx(ctx, b.Duration())
				continue
			}
			b.Reset()

			if len(result.Errors) > 0 {
				onChange(collab.ChangePayload{Err: result.Errors[0], Elapsed: time.Since(start)})
				continue
			}

			raw, _ := json.Marshal(result.Data)
			if string(raw) == lastPayload {
				continue
			}
			lastPayload = string(raw)
			onChange(collab.ChangePayload{Data: result.Data, Elapsed: time.Since(start)})
		}
	}
}

// AddAsyncAction implements collab.Poller.
func (p *Poller) AddAsyncAction(opID string, actionIDs []string, onResult collab.AsyncResultFunc, onError collab.AsyncErrorFunc) error {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.asyncActions[opID] = cancel
	p.mu.Unlock()

	go p.runAsyncAction(ctx, opID, actionIDs, onResult, onError)
	return nil
}

// RemoveAsyncAction implements collab.Poller.
func (p *Poller) RemoveAsyncAction(opID string) error {
	p.mu.Lock()
	cancel, ok := p.asyncActions[opID]
	if ok {
		delete(p.asyncActions, opID)
	}
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("poller: unknown async action operation %q", opID)
	}
	cancel()
	return nil
}

func (p *Poller) runAsyncAction(ctx context.Context, opID string, actionIDs []string, onResult collab.AsyncResultFunc, onError collab.AsyncErrorFunc) {
	b := backoff.NewBackoff(&backoff.Options{Min: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2})
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	var lastPayload string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			actionLog, err := p.ActionLog(ctx, actionIDs)
			if err != nil {
				if p.Log != nil {
					p.Log.WithError(err).Errorf("async action operation %q fetch failed", opID)
				}
				onError(err)
				sleepCtx(ctx, b.Duration())
				continue
			}
			b.Reset()

			raw, _ := json.Marshal(actionLog)
			if string(raw) == lastPayload {
				continue
			}
			lastPayload = string(raw)
			onResult(actionLog, time.Since(start))
		}
	}
}

// FetchAsyncActionLog implements collab.Poller.
func (p *Poller) FetchAsyncActionLog(ctx context.Context, actionIDs []string) (map[string]interface{}, error) {
	if len(actionIDs) == 0 || p.ActionLog == nil {
		return nil, nil
	}
	return p.ActionLog(ctx, actionIDs)
}

// sleepCtx sleeps for d or until ctx is canceled, whichever comes
// first, so a canceled poll loop never blocks shutdown on a backoff.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
