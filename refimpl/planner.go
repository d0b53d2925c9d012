package refimpl

import (
	"context"
	"fmt"
	"sync"

	"github.com/graphql-go/graphql"
	"github.com/relaygate/gqlgw/collab"
	"github.com/relaygate/gqlgw/gwcontext"
)

// OperationSpec is how the reference Planner is configured: a
// registered plan shape for one operation name. Real planners compile
// this from the parsed query and schema; parsing the query text is out
// of scope here (see collab.Planner doc), so the reference
// implementation looks the shape up by name instead.
type OperationSpec struct {
	Kind   collab.PlanKind
	Fields []collab.Step // order is significant: it becomes Plan.FieldOrder

	Cache          *collab.CacheDirective // query-only
	Source         string                 // subscription-only
	AsyncActionIDs []string               // subscription-only

	// FoldActionLog rebuilds the subscription's steps given the latest
	// async-action log, implementing the plan's BuildBackendPlan hook
	// (§9 "subscription plans as callbacks"). Nil means the backend plan
	// never changes in response to action results.
	FoldActionLog func(actionLog map[string]interface{}) []collab.Step
}

// Planner is the in-memory reference implementation of collab.Planner:
// a registry of operation name to OperationSpec.
type Planner struct {
	mu  sync.RWMutex
	ops map[string]OperationSpec
}

// NewPlanner returns an empty planner.
func NewPlanner() *Planner {
	return &Planner{ops: map[string]OperationSpec{}}
}

// Register adds or replaces the plan shape for an operation name.
func (p *Planner) Register(opName string, spec OperationSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops[opName] = spec
}

// Plan implements collab.Planner.
func (p *Planner) Plan(ctx context.Context, user gwcontext.UserInfo, schema *graphql.Schema, req collab.Request) (string, *collab.Plan, error) {
	p.mu.RLock()
	spec, ok := p.ops[req.OperationName]
	p.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("no plan registered for operation %q", req.OperationName)
	}

	plan := buildPlan(spec, spec.Fields)
	planHash := req.OperationName

	if spec.Kind == collab.PlanKindSubscription && spec.FoldActionLog != nil {
		plan.BuildBackendPlan = func(actionLog map[string]interface{}) *collab.Plan {
			return buildPlan(spec, spec.FoldActionLog(actionLog))
		}
	}

	return planHash, plan, nil
}

func buildPlan(spec OperationSpec, fields []collab.Step) *collab.Plan {
	fieldOrder := make([]string, len(fields))
	steps := make(map[string]collab.Step, len(fields))
	for i, step := range fields {
		fieldOrder[i] = step.FieldName()
		steps[step.FieldName()] = step
	}

	return &collab.Plan{
		Kind:           spec.Kind,
		FieldOrder:     fieldOrder,
		Steps:          steps,
		Cache:          spec.Cache,
		Source:         spec.Source,
		AsyncActionIDs: spec.AsyncActionIDs,
	}
}
