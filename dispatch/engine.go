// Package dispatch implements the dispatch engine (§4.5): it takes an
// execution plan produced by the external planner and routes each
// field's step to {cached response, DB step, remote-schema step,
// action step, raw step}, assembling one combined, field-ordered
// response.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/relaygate/gqlgw/collab"
	"github.com/relaygate/gqlgw/logger"
	"github.com/relaygate/gqlgw/metadata"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Engine wires the backend executors to the plan's step kinds; runStep
// picks the executor with a type switch on the concrete step type (§9
// dynamic-dispatch design note).
type Engine struct {
	SQL        collab.SQLExecutor
	Action     collab.ActionExecutor
	Remote     collab.RemoteSchemaExecutor
	RemoteJoin collab.RemoteJoinProcessor // optional; nil skips post-processing
	Cache      *Cache
	Tracer     trace.Tracer
	Log        *logger.LogWrapper
}

// Result is the outcome of executing a Query or Mutation plan: an
// ordered, field-keyed response object plus any per-field errors to
// surface alongside it (GraphQL partial-success semantics).
type Result struct {
	Data      *OrderedObject
	Errors    []error
	FromCache bool
}

// runStep dispatches a single step to its executor by its concrete
// step type, wrapping the call in a trace span so ioTime is a real
// measured duration, and
// threading the result through the remote-join processor when the step
// carries remote joins.
func (e *Engine) runStep(ctx context.Context, step collab.Step, req collab.StepRequest) (collab.StepResult, time.Duration, error) {
	start := time.Now()

	ctx = metadata.NewWithContext(ctx)
	metadata.Set(ctx, "requestId", req.RequestID)
	metadata.Set(ctx, "fieldName", step.FieldName())

	ctx, span := e.Tracer.Start(ctx, "dispatch.step."+step.FieldName(),
		trace.WithAttributes(
			attribute.String("gql.request_id", req.RequestID),
			attribute.String("gql.field", step.FieldName()),
		))
	defer span.End()

	var (
		res collab.StepResult
		err error
	)

	switch s := step.(type) {
	case *collab.DBStep:
		res, err = e.SQL.RunStep(ctx, s, req)
		if err == nil && s.RemoteJoins && e.RemoteJoin != nil {
			res, err = e.RemoteJoin.Process(ctx, res, req)
		}

	case *collab.RemoteSchemaStep:
		res, err = e.Remote.Forward(ctx, s, req)

	case *collab.ActionStep:
		res, err = e.Action.Run(ctx, s, req)
		if err == nil && s.RemoteJoins && e.RemoteJoin != nil {
			res, err = e.RemoteJoin.Process(ctx, res, req)
		}

	case *collab.RawStep:
		res = collab.StepResult{Data: s.JSON}

	default:
		err = fmt.Errorf("dispatch: unrecognized step kind for field %q", step.FieldName())
	}

	return res, time.Since(start), err
}

// executeSteps runs every step in plan.FieldOrder, possibly in
// parallel, and assembles the field-ordered response. Per-field errors
// are collected, not fatal — an error on one field never aborts the
// others (failure isolation, §1).
func (e *Engine) executeSteps(ctx context.Context, plan *collab.Plan, req collab.StepRequest) (*OrderedObject, []error) {
	results := make([]collab.StepResult, len(plan.FieldOrder))
	errs := make([]error, len(plan.FieldOrder))

	g, gctx := errgroup.WithContext(ctx)
	for i, field := range plan.FieldOrder {
		i, field := i, field
		step := plan.Steps[field]
		g.Go(func() error {
			res, _, err := e.runStep(gctx, step, req)
			results[i] = res
			errs[i] = err
			return nil // per-field errors never cancel the group
		})
	}
	_ = g.Wait()

	values := make(map[string]interface{}, len(plan.FieldOrder))
	var fieldErrs []error
	for i, field := range plan.FieldOrder {
		if errs[i] != nil {
			fieldErrs = append(fieldErrs, fmt.Errorf("field %q: %w", field, errs[i]))
			continue
		}
		values[field] = results[i].Data
		for _, ferr := range results[i].Errors {
			fieldErrs = append(fieldErrs, fmt.Errorf("field %q: %w", field, ferr))
		}
	}

	return NewOrderedObject(plan.FieldOrder, values), fieldErrs
}

// ExecuteQuery implements the Query plan shape of §4.5: cache lookup on
// miss, step evaluation, cache store, field-ordered assembly.
func (e *Engine) ExecuteQuery(ctx context.Context, plan *collab.Plan, cacheKey string, req collab.StepRequest) (*Result, error) {
	if e.Cache != nil {
		if cached, ok := e.Cache.Get(cacheKey); ok {
			obj, _ := cached.(*OrderedObject)
			return &Result{Data: obj, FromCache: true}, nil
		}
	}

	obj, errs := e.executeSteps(ctx, plan, req)

	if e.Cache != nil && plan.Cache != nil && len(errs) == 0 {
		e.Cache.Set(cacheKey, obj, plan.Cache.TTL)
	}

	return &Result{Data: obj, Errors: errs}, nil
}

// ExecuteMutation implements the Mutation plan shape of §4.5: if every
// step is a DB step targeting the same source, coalesce into one
// transaction; otherwise fall back to per-step execution exactly as in
// Query. Mutations are never cached.
func (e *Engine) ExecuteMutation(ctx context.Context, plan *collab.Plan, req collab.StepRequest) (*Result, error) {
	if source, ok := singleSource(plan); ok {
		steps := make([]collab.Step, len(plan.FieldOrder))
		for i, field := range plan.FieldOrder {
			steps[i] = plan.Steps[field]
		}

		resultsByField, err := e.SQL.RunTransaction(ctx, steps, req)
		if err != nil {
			return nil, fmt.Errorf("mutation transaction on source %q: %w", source, err)
		}

		values := make(map[string]interface{}, len(plan.FieldOrder))
		var errs []error
		for _, field := range plan.FieldOrder {
			res := resultsByField[field]
			values[field] = res.Data
			for _, ferr := range res.Errors {
				errs = append(errs, fmt.Errorf("field %q: %w", field, ferr))
			}
		}

		return &Result{Data: NewOrderedObject(plan.FieldOrder, values), Errors: errs}, nil
	}

	obj, errs := e.executeSteps(ctx, plan, req)
	return &Result{Data: obj, Errors: errs}, nil
}

// singleSource reports the common source name if every step in plan is
// a *collab.DBStep targeting the same relational source.
func singleSource(plan *collab.Plan) (string, bool) {
	if len(plan.FieldOrder) == 0 {
		return "", false
	}

	var source string
	for i, field := range plan.FieldOrder {
		dbStep, ok := plan.Steps[field].(*collab.DBStep)
		if !ok {
			return "", false
		}
		if i == 0 {
			source = dbStep.Source
		} else if dbStep.Source != source {
			return "", false
		}
	}

	return source, true
}
