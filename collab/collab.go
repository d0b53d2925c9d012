// Package collab declares the interfaces to every external collaborator
// the transport core depends on but does not own: the query collection
// / allow-list store, the schema cache, the execution planner, the
// backend executors, the live-query poller, and the authenticator. The
// transport speaks only these interfaces; refimpl provides in-memory
// implementations that make the module runnable end to end.
package collab

import (
	"context"
	"net/http"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/relaygate/gqlgw/gwcontext"
)

// Request is a parsed GraphQL operation request as handed to the
// planner. The transport never inspects Query beyond forwarding it —
// parsing is the planner's concern.
type Request struct {
	Query         string
	Variables     map[string]interface{}
	OperationName string
}

// QueryStore is the ordered query-collection / allow-list store.
// IsAllowed performs the allow-list / named-query check described in
// §1: reject a start whose operation isn't in an allow-listed
// collection (or whose query text doesn't match the stored text for a
// named operation).
type QueryStore interface {
	IsAllowed(userRole, opName, queryText string) bool
}

// SchemaCache is the opaque schema accessor; Get returns the current
// schema and a monotonically increasing version stamp, used by the
// planner and by cache keys that should invalidate on schema reload.
type SchemaCache interface {
	Get() (schema *graphql.Schema, version uint64)
}

// PlanKind tags which of the three plan shapes a Plan is.
type PlanKind int

const (
	PlanKindQuery PlanKind = iota
	PlanKindMutation
	PlanKindSubscription
)

// StepKind tags which backend a Step targets. The dispatch engine does
// not read it: it picks the executor with a type switch on the concrete
// step type.
type StepKind int

const (
	StepKindDB StepKind = iota
	StepKindRemoteSchema
	StepKindAction
	StepKindRaw
)

// Step is one field of an execution plan. Concrete variants are
// DBStep, RemoteSchemaStep, ActionStep, and RawStep (see steps.go).
type Step interface {
	Kind() StepKind
	FieldName() string
}

// CacheDirective optionally accompanies a Query plan, naming a TTL for
// the result once computed.
type CacheDirective struct {
	TTL time.Duration
}

// Plan is the planner's output: an ordered set of steps (the order
// given by FieldOrder, since map iteration order isn't stable) plus
// plan metadata.
type Plan struct {
	Kind       PlanKind
	FieldOrder []string
	Steps      map[string]Step

	// Subscription-only.
	AsyncActionIDs []string // async-action field IDs referenced by this plan
	Source         string   // backend source name the live query binds to, if source-backed
	// BuildBackendPlan produces the backend-facing live-query plan given
	// the current async-action log map, per the §9 "subscription plans
	// as callbacks" design note. Nil means the plan itself is used as
	// the backend plan.
	BuildBackendPlan func(actionLog map[string]interface{}) *Plan

	// Query-only.
	Cache *CacheDirective
}

// IsAsyncOnly reports whether a subscription plan consists entirely of
// async-action fields with no source-backed steps (§4.5). A plan with
// no steps and no action ids counts as async-only with an empty set.
func (p *Plan) IsAsyncOnly() bool {
	return p.Kind == PlanKindSubscription && len(p.Steps) == 0
}

// Planner turns a parsed request into an execution plan, keyed by a
// stable hash so the poller can multiplex identical subscriptions
// across clients.
type Planner interface {
	Plan(ctx context.Context, user gwcontext.UserInfo, schema *graphql.Schema, req Request) (planHash string, plan *Plan, err error)
}

// StepRequest carries everything an executor needs to run one step.
type StepRequest struct {
	RequestID        string
	FieldName        string
	User             gwcontext.UserInfo
	ForwardedHeaders http.Header
	Variables        map[string]interface{}
}

// StepResult is what an executor returns for one field.
type StepResult struct {
	Data   interface{}
	Errors []error
}

// SQLExecutor runs a DB-backed step against a relational source.
type SQLExecutor interface {
	RunStep(ctx context.Context, step Step, req StepRequest) (StepResult, error)
	// RunTransaction coalesces several DB steps targeting the same
	// source into a single transaction, per the mutation optimisation
	// in §4.5.
	RunTransaction(ctx context.Context, steps []Step, req StepRequest) (map[string]StepResult, error)
}

// ActionExecutor runs an action-backed step.
type ActionExecutor interface {
	Run(ctx context.Context, step Step, req StepRequest) (StepResult, error)
}

// RemoteSchemaExecutor forwards a step to a remote GraphQL endpoint and
// extracts the requested field from its response.
type RemoteSchemaExecutor interface {
	Forward(ctx context.Context, step Step, req StepRequest) (StepResult, error)
}

// SubscriberMetadata identifies who is subscribing, forwarded to the
// poller so it can group identical subscriptions.
type SubscriberMetadata struct {
	ConnectionID string
	OperationID  string
	User         gwcontext.UserInfo
}

// ChangePayload is what the poller hands back through OnChange on every
// push: either a successful result or a failure. Terminal distinguishes
// a poller-level failure (the subscription itself cannot continue) from
// a per-poll failure (this one push errored but the subscription stays
// live) — see §7 "the on-change callback distinguishes terminal from
// per-poll failures".
type ChangePayload struct {
	Data     interface{}
	Err      error
	Terminal bool
	Elapsed  time.Duration
}

// OnChangeFunc is invoked by the poller on every push for a live query.
type OnChangeFunc func(ChangePayload)

// AsyncResultFunc/AsyncErrorFunc are invoked by the poller's async-action
// queue when an action log updates or fails terminally.
type AsyncResultFunc func(actionLog map[string]interface{}, elapsed time.Duration)
type AsyncErrorFunc func(err error)

// Poller is the live-query poller: owns long-poll subscriptions keyed
// by opaque LiveQueryId handles.
type Poller interface {
	AddLiveQuery(ctx context.Context, meta SubscriberMetadata, source string, planHash string, opName string, requestID string, plan *Plan, onChange OnChangeFunc) (liveQueryID string, err error)
	RemoveLiveQuery(liveQueryID string) error
	AddAsyncAction(opID string, actionIDs []string, onResult AsyncResultFunc, onError AsyncErrorFunc) error
	// RemoveAsyncAction unregisters the async-action queue entry added
	// by AddAsyncAction, for async-only subscriptions and for the
	// companion entry of a source-backed subscription, torn down by
	// stop/terminate/close.
	RemoveAsyncAction(opID string) error
	// FetchAsyncActionLog synchronously fetches the current response
	// for a set of action ids, used before a source-backed subscription
	// registers so its first backend plan reflects whatever the
	// companion actions have already produced (§4.5).
	FetchAsyncActionLog(ctx context.Context, actionIDs []string) (map[string]interface{}, error)
}

// RemoteJoinProcessor stitches data from remote schemas into a primary
// response when a DB or action step's result carries remote joins
// (§4.5, glossary "Remote joins").
type RemoteJoinProcessor interface {
	Process(ctx context.Context, result StepResult, req StepRequest) (StepResult, error)
}

// Authenticator resolves request headers into a UserInfo, and
// optionally a token expiry instant that drives the expiry-close task.
type Authenticator interface {
	Resolve(ctx context.Context, headers http.Header) (gwcontext.UserInfo, *time.Time, error)
}
