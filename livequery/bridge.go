// Package livequery implements the live-query bridge (§4.5 Subscription
// plan, §4.6 stop, §9 cyclic-state note): registering and tearing down
// poller subscriptions, and rebuilding a source-backed subscription
// when its companion async actions produce a new result.
package livequery

import (
	"context"
	"fmt"
	"time"

	"github.com/relaygate/gqlgw/collab"
	"github.com/relaygate/gqlgw/logger"
)

// Bridge wraps a collab.Poller with the higher-level start/restart
// behavior the dispatch engine's subscription handling needs.
type Bridge struct {
	Poller collab.Poller
	Log    *logger.LogWrapper
}

// AsyncOnlyResult is delivered to a client for an async-action-only
// subscription: the current action log map plus elapsed time.
type AsyncOnlyResult struct {
	ActionLog map[string]interface{}
	Elapsed   time.Duration
}

// StartAsyncOnly registers actionIDs with the poller's async-action
// queue under opID (§4.5 "Async-only"). Callers must have already
// checked len(actionIDs) > 0 — an empty set completes immediately and
// never reaches the poller.
func (b *Bridge) StartAsyncOnly(opID string, actionIDs []string, onResult func(AsyncOnlyResult), onErr func(error)) error {
	return b.Poller.AddAsyncAction(opID, actionIDs,
		func(actionLog map[string]interface{}, elapsed time.Duration) {
			onResult(AsyncOnlyResult{ActionLog: actionLog, Elapsed: elapsed})
		},
		func(err error) {
			if b.Log != nil {
				b.Log.WithError(err).Errorf("async action operation %q failed", opID)
			}
			onErr(err)
		},
	)
}

// StartSourceBacked implements the §4.5 "Source-backed" subscription
// path: it synchronously fetches any companion async-action log,
// builds the backend plan from it, registers with the poller, and — if
// async actions are present — additionally arms a restart wrapper so a
// new action result tears down and rebuilds the live query. onRestart
// is invoked with the replacement LiveQueryId whenever that happens, so
// the caller can keep its operation registry entry in sync (I2).
func (b *Bridge) StartSourceBacked(
	ctx context.Context,
	meta collab.SubscriberMetadata,
	plan *collab.Plan,
	planHash, opName, requestID string,
	onChange collab.OnChangeFunc,
	onRestart func(newLiveQueryID string),
) (string, error) {
	actionLog, err := b.fetchActionLog(ctx, plan.AsyncActionIDs)
	if err != nil {
		return "", fmt.Errorf("fetching async action log: %w", err)
	}

	backendPlan := plan
	if plan.BuildBackendPlan != nil {
		backendPlan = plan.BuildBackendPlan(actionLog)
	}

	liveQueryID, err := b.Poller.AddLiveQuery(ctx, meta, plan.Source, planHash, opName, requestID, backendPlan, onChange)
	if err != nil {
		return "", err
	}

	if len(plan.AsyncActionIDs) > 0 {
		currentID := liveQueryID
		// Keyed on meta.OperationID (the client's operation id), the same
		// key wsconn's close/stop paths use for every other removal —
		// never opName, which isn't unique per connection and doesn't
		// match what the caller can tear down by.
		err := b.Poller.AddAsyncAction(meta.OperationID, plan.AsyncActionIDs,
			func(newLog map[string]interface{}, _ time.Duration) {
				b.restart(ctx, meta, plan, planHash, opName, requestID, newLog, onChange, &currentID, onRestart)
			},
			func(err error) {
				if b.Log != nil {
					b.Log.WithError(err).Errorf("async action driving subscription %q failed", opName)
				}
			},
		)
		if err != nil {
			// Best effort: the live query is already registered; log
			// and continue rather than tearing down a working subscription.
			if b.Log != nil {
				b.Log.WithError(err).Errorf("failed to arm restart wrapper for subscription %q", opName)
			}
		}
	}

	return liveQueryID, nil
}

// restart tears down the previous live query and installs a new one
// built from the latest action log, per the §4.5 restart-wrapper rule.
func (b *Bridge) restart(
	ctx context.Context,
	meta collab.SubscriberMetadata,
	plan *collab.Plan,
	planHash, opName, requestID string,
	actionLog map[string]interface{},
	onChange collab.OnChangeFunc,
	currentID *string,
	onRestart func(newLiveQueryID string),
) {
	if err := b.Poller.RemoveLiveQuery(*currentID); err != nil && b.Log != nil {
		b.Log.WithError(err).Errorf("failed to remove live query %q during restart", *currentID)
	}

	backendPlan := plan
	if plan.BuildBackendPlan != nil {
		backendPlan = plan.BuildBackendPlan(actionLog)
	}

	newID, err := b.Poller.AddLiveQuery(ctx, meta, plan.Source, planHash, opName, requestID, backendPlan, onChange)
	if err != nil {
		if b.Log != nil {
			b.Log.WithError(err).Errorf("failed to rebuild subscription %q after action result", opName)
		}
		return
	}

	*currentID = newID
	onRestart(newID)
}

func (b *Bridge) fetchActionLog(ctx context.Context, actionIDs []string) (map[string]interface{}, error) {
	if len(actionIDs) == 0 {
		return nil, nil
	}
	return b.Poller.FetchAsyncActionLog(ctx, actionIDs)
}

// Stop removes a live query from the poller (§4.6).
func (b *Bridge) Stop(liveQueryID string) error {
	return b.Poller.RemoveLiveQuery(liveQueryID)
}
