package collab

import "encoding/json"

// DBStep dispatches to the matching backend transport for a relational
// source (§4.5 "DB step").
type DBStep struct {
	Field        string
	Source       string
	GeneratedSQL string
	RemoteJoins  bool
}

func (s *DBStep) Kind() StepKind    { return StepKindDB }
func (s *DBStep) FieldName() string { return s.Field }

// RemoteSchemaStep forwards to a remote GraphQL endpoint and extracts
// only the requested field path from its response (§4.5 "Remote-schema
// step").
type RemoteSchemaStep struct {
	Field      string
	Endpoint   string
	ResultPath []string
}

func (s *RemoteSchemaStep) Kind() StepKind    { return StepKindRemoteSchema }
func (s *RemoteSchemaStep) FieldName() string { return s.Field }

// ActionStep runs the action executor, optionally attaching remote
// joins to its result (§4.5 "Action step").
type ActionStep struct {
	Field       string
	ActionName  string
	RemoteJoins bool
}

func (s *ActionStep) Kind() StepKind    { return StepKindAction }
func (s *ActionStep) FieldName() string { return s.Field }

// RawStep uses the literal JSON embedded in the plan (§4.5 "Raw step").
type RawStep struct {
	Field string
	JSON  json.RawMessage
}

func (s *RawStep) Kind() StepKind    { return StepKindRaw }
func (s *RawStep) FieldName() string { return s.Field }
