package wsconn

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/relaygate/gqlgw/collab"
	"github.com/relaygate/gqlgw/dispatch"
	"github.com/relaygate/gqlgw/gwcontext"
	"github.com/relaygate/gqlgw/livequery"
	"github.com/relaygate/gqlgw/protocol"
	"github.com/relaygate/gqlgw/utils"
)

// handleStart implements §4.5 start, in the precondition order the
// spec lists. Each precondition failure reports the documented payload
// and, unless noted otherwise, completes the operation.
func (c *Connection) handleStart(msg *protocol.OperationMessage) {
	id := msg.ID
	if id == "" {
		c.sendMessage(protocol.OperationMessage{
			Type:    protocol.MsgError,
			Payload: protocol.FormatError(c.cfg.ErrorStyle, "message contains no id"),
		})
		return
	}

	// 1. Duplicate operation id (I3): reject outright, no insert, no complete.
	if c.registry.Has(id) {
		c.sendMessage(protocol.OperationMessage{
			ID:      id,
			Type:    protocol.MsgError,
			Payload: protocol.FormatError(c.cfg.ErrorStyle, fmt.Sprintf("an operation already exists with this id: %s", id)),
		})
		return
	}

	state := c.state.Load()

	// 2. connection_init previously failed.
	if state.Phase == gwcontext.PhaseInitError {
		c.errorAndComplete(id, fmt.Sprintf("cannot start as connection_init failed with: %s", state.InitErrorMessage))
		return
	}

	// 3. start received before connection_init.
	if state.Phase == gwcontext.PhaseNotInitialised {
		c.errorAndComplete(id, "start received before the connection is initialised")
		return
	}

	var payload protocol.StartPayload
	if err := utils.ReMarshal(msg.Payload, &payload); err != nil {
		c.errorAndComplete(id, fmt.Sprintf("failed to parse start payload: %s", err))
		return
	}

	req := collab.Request{
		Query:         payload.Query,
		Variables:     payload.Variables,
		OperationName: payload.OperationName,
	}

	// 4. allow-list check (pre-exec error, §7).
	if c.cfg.QueryStore != nil && !c.cfg.QueryStore.IsAllowed(state.UserInfo.Role, payload.OperationName, payload.Query) {
		c.errorAndComplete(id, fmt.Sprintf("operation %q is not allow-listed for this role", payload.OperationName))
		return
	}

	schema, _ := c.cfg.SchemaCache.Get()

	// 5. planning (pre-exec error, §7).
	planHash, plan, err := c.cfg.Planner.Plan(c.ctx, state.UserInfo, schema, req)
	if err != nil {
		c.errorAndComplete(id, fmt.Sprintf("failed to plan operation: %s", err))
		return
	}

	requestID := uuid.NewString()
	stepReq := collab.StepRequest{
		RequestID:        requestID,
		User:             state.UserInfo,
		ForwardedHeaders: state.ForwardedHeaders,
		Variables:        payload.Variables,
	}

	switch plan.Kind {
	case collab.PlanKindQuery:
		c.runQuery(id, plan, planHash, state.UserInfo, stepReq)
	case collab.PlanKindMutation:
		c.runMutation(id, plan, stepReq)
	case collab.PlanKindSubscription:
		c.runSubscription(id, payload.OperationName, plan, planHash, requestID, state.UserInfo)
	default:
		c.errorAndComplete(id, "planner produced an unrecognized plan kind")
	}
}

// errorAndComplete emits error{id} followed by complete{id} — the
// default shape for every precondition failure except the duplicate-id
// case, which returns before calling this.
func (c *Connection) errorAndComplete(id, message string) {
	c.sendMessage(protocol.OperationMessage{
		ID:      id,
		Type:    protocol.MsgError,
		Payload: protocol.FormatError(c.cfg.ErrorStyle, message),
	})
	c.sendMessage(protocol.OperationMessage{ID: id, Type: protocol.MsgComplete})
}

func (c *Connection) runQuery(id string, plan *collab.Plan, planHash string, user gwcontext.UserInfo, stepReq collab.StepRequest) {
	cacheKey := ""
	if plan.Cache != nil || c.cfg.Engine.Cache != nil {
		cacheKey = planHashCacheKey(planHash, user)
	}

	result, err := c.cfg.Engine.ExecuteQuery(c.ctx, plan, cacheKey, stepReq)
	if err != nil {
		c.errorAndComplete(id, fmt.Sprintf("query execution failed: %s", err))
		return
	}

	c.emitDataAndComplete(id, result)
}

func (c *Connection) runMutation(id string, plan *collab.Plan, stepReq collab.StepRequest) {
	result, err := c.cfg.Engine.ExecuteMutation(c.ctx, plan, stepReq)
	if err != nil {
		c.errorAndComplete(id, fmt.Sprintf("mutation execution failed: %s", err))
		return
	}

	c.emitDataAndComplete(id, result)
}

func (c *Connection) emitDataAndComplete(id string, result *dispatch.Result) {
	c.sendMessage(protocol.OperationMessage{
		ID:   id,
		Type: protocol.MsgData,
		Payload: protocol.ExecutionResult{
			Data:   result.Data,
			Errors: errorsToFormatted(result.Errors),
		},
	})
	c.sendMessage(protocol.OperationMessage{ID: id, Type: protocol.MsgComplete})
}

func (c *Connection) runSubscription(id, opName string, plan *collab.Plan, planHash, requestID string, user gwcontext.UserInfo) {
	if plan.IsAsyncOnly() {
		if len(plan.AsyncActionIDs) == 0 {
			c.sendMessage(protocol.OperationMessage{ID: id, Type: protocol.MsgComplete})
			return
		}

		if !c.registry.TryInsert(id, gwcontext.RegistryEntry{OperationName: opName, IsAsyncOnly: true}) {
			c.sendMessage(protocol.OperationMessage{
				ID:      id,
				Type:    protocol.MsgError,
				Payload: protocol.FormatError(c.cfg.ErrorStyle, fmt.Sprintf("an operation already exists with this id: %s", id)),
			})
			return
		}

		err := c.cfg.LiveQuery.StartAsyncOnly(id, plan.AsyncActionIDs,
			func(res livequery.AsyncOnlyResult) {
				c.sendMessage(protocol.OperationMessage{
					ID:   id,
					Type: protocol.MsgData,
					Payload: protocol.ExecutionResult{
						Data:       res.ActionLog,
						Extensions: map[string]interface{}{"elapsedMs": res.Elapsed.Milliseconds()},
					},
				})
			},
			func(err error) {
				c.sendMessage(protocol.OperationMessage{
					ID:      id,
					Type:    protocol.MsgError,
					Payload: protocol.FormatError(c.cfg.ErrorStyle, err.Error()),
				})
			},
		)
		if err != nil {
			c.registry.Remove(id)
			c.errorAndComplete(id, fmt.Sprintf("failed to register async action subscription: %s", err))
		}
		return
	}

	meta := collab.SubscriberMetadata{ConnectionID: c.id, OperationID: id, User: user}
	hasAsyncAction := len(plan.AsyncActionIDs) > 0

	onChange := func(payload collab.ChangePayload) {
		if payload.Err != nil {
			if payload.Terminal {
				c.sendMessage(protocol.OperationMessage{
					ID:      id,
					Type:    protocol.MsgError,
					Payload: protocol.FormatError(c.cfg.ErrorStyle, payload.Err.Error()),
				})
				return
			}
			c.sendMessage(protocol.OperationMessage{
				ID:   id,
				Type: protocol.MsgData,
				Payload: protocol.ExecutionResult{
					Errors: utils.GQLErrors(payload.Err),
				},
			})
			return
		}

		c.sendMessage(protocol.OperationMessage{
			ID:   id,
			Type: protocol.MsgData,
			Payload: protocol.ExecutionResult{
				Data:       payload.Data,
				Extensions: map[string]interface{}{"elapsedMs": payload.Elapsed.Milliseconds()},
			},
		})
	}

	onRestart := func(newLiveQueryID string) {
		entry := gwcontext.RegistryEntry{LiveQueryID: newLiveQueryID, OperationName: opName, HasAsyncAction: hasAsyncAction}
		if !c.registry.ReplaceIfPresent(id, entry) {
			_ = c.cfg.LiveQuery.Stop(newLiveQueryID)
		}
	}

	liveQueryID, err := c.cfg.LiveQuery.StartSourceBacked(c.ctx, meta, plan, planHash, opName, requestID, onChange, onRestart)
	if err != nil {
		c.errorAndComplete(id, fmt.Sprintf("failed to register subscription: %s", err))
		return
	}

	entry := gwcontext.RegistryEntry{LiveQueryID: liveQueryID, OperationName: opName, HasAsyncAction: hasAsyncAction}
	if !c.registry.TryInsert(id, entry) {
		_ = c.cfg.LiveQuery.Stop(liveQueryID)
		if hasAsyncAction {
			_ = c.cfg.Poller.RemoveAsyncAction(id)
		}
		c.sendMessage(protocol.OperationMessage{
			ID:      id,
			Type:    protocol.MsgError,
			Payload: protocol.FormatError(c.cfg.ErrorStyle, fmt.Sprintf("an operation already exists with this id: %s", id)),
		})
	}
}

// planHashCacheKey is a small indirection so dispatch.CacheKey's
// signature stays in package dispatch while wsconn only depends on
// gwcontext.UserInfo's shape.
func planHashCacheKey(planHash string, user gwcontext.UserInfo) string {
	return dispatch.CacheKey(planHash, user.Role, user.SessionVariables)
}

// errorsToFormatted adapts a []error slice to gqlerrors.FormattedErrors
// for the wire, or nil when there is nothing to report.
func errorsToFormatted(errs []error) gqlerrors.FormattedErrors {
	if len(errs) == 0 {
		return nil
	}
	return utils.GQLErrors(errs)
}
