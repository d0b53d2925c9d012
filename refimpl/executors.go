package refimpl

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaygate/gqlgw/collab"
)

// SQLExecutor is the in-memory reference implementation of
// collab.SQLExecutor. Rows are seeded by GeneratedSQL key rather than
// computed by an actual relational engine — GeneratedSQL here stands
// in for whatever a real planner compiles a field down to.
type SQLExecutor struct {
	mu   sync.RWMutex
	rows map[string]interface{}
}

// NewSQLExecutor returns an empty executor.
func NewSQLExecutor() *SQLExecutor {
	return &SQLExecutor{rows: map[string]interface{}{}}
}

// Seed registers the value RunStep should return for a given
// GeneratedSQL key.
func (e *SQLExecutor) Seed(generatedSQL string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows[generatedSQL] = value
}

// RunStep implements collab.SQLExecutor.
func (e *SQLExecutor) RunStep(ctx context.Context, step collab.Step, req collab.StepRequest) (collab.StepResult, error) {
	db, ok := step.(*collab.DBStep)
	if !ok {
		return collab.StepResult{}, fmt.Errorf("sql executor: unsupported step kind for field %q", step.FieldName())
	}

	e.mu.RLock()
	value, ok := e.rows[db.GeneratedSQL]
	e.mu.RUnlock()
	if !ok {
		return collab.StepResult{}, fmt.Errorf("sql executor: no seeded result for %q", db.GeneratedSQL)
	}
	return collab.StepResult{Data: value}, nil
}

// RunTransaction implements collab.SQLExecutor's mutation coalescing by
// running every step in order against the same in-memory store; a real
// executor would wrap these in one SQL transaction.
func (e *SQLExecutor) RunTransaction(ctx context.Context, steps []collab.Step, req collab.StepRequest) (map[string]collab.StepResult, error) {
	out := make(map[string]collab.StepResult, len(steps))
	for _, step := range steps {
		res, err := e.RunStep(ctx, step, req)
		if err != nil {
			return nil, err
		}
		out[step.FieldName()] = res
	}
	return out, nil
}

// ActionFunc is a registered action handler.
type ActionFunc func(ctx context.Context, req collab.StepRequest) (interface{}, error)

// ActionExecutor is the in-memory reference implementation of
// collab.ActionExecutor: a registry of Go functions standing in for
// whatever webhook or RPC a real action step would call.
type ActionExecutor struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

// NewActionExecutor returns an empty executor.
func NewActionExecutor() *ActionExecutor {
	return &ActionExecutor{actions: map[string]ActionFunc{}}
}

// Register adds or replaces the handler for an action name.
func (e *ActionExecutor) Register(name string, fn ActionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[name] = fn
}

// Run implements collab.ActionExecutor.
func (e *ActionExecutor) Run(ctx context.Context, step collab.Step, req collab.StepRequest) (collab.StepResult, error) {
	as, ok := step.(*collab.ActionStep)
	if !ok {
		return collab.StepResult{}, fmt.Errorf("action executor: unsupported step kind for field %q", step.FieldName())
	}

	e.mu.RLock()
	fn, ok := e.actions[as.ActionName]
	e.mu.RUnlock()
	if !ok {
		return collab.StepResult{}, fmt.Errorf("action executor: no handler registered for action %q", as.ActionName)
	}

	data, err := fn(ctx, req)
	if err != nil {
		return collab.StepResult{Errors: []error{err}}, nil
	}
	return collab.StepResult{Data: data}, nil
}
