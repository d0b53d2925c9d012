// Package utils holds small generic helpers shared across the
// transport core. The GraphQL parsing helpers the teacher carried here
// are gone — parsing the query text is the external planner's job, not
// this module's (see collab.Planner) — but the marshalling helpers
// survive, generalized to the error shapes this module actually emits.
package utils

import (
	"encoding/json"

	"github.com/graphql-go/graphql/gqlerrors"
)

// ReMarshal converts one type to another via a JSON round-trip, used to
// turn a loosely-typed message payload (interface{}, as decoded from
// the wire) into a concrete struct.
func ReMarshal(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// GQLErrors normalizes any of the common error shapes callers pass
// around into gqlerrors.FormattedErrors, the type the wire codec's
// ExecutionResult expects.
func GQLErrors(in interface{}) gqlerrors.FormattedErrors {
	switch v := in.(type) {
	case gqlerrors.FormattedErrors:
		return v
	case []gqlerrors.FormattedError:
		return v
	case []error:
		errs := gqlerrors.FormattedErrors{}
		for _, err := range v {
			errs = append(errs, gqlerrors.FormatError(err))
		}
		return errs
	case error:
		return gqlerrors.FormattedErrors{gqlerrors.FormatError(v)}
	}

	return gqlerrors.FormattedErrors{}
}
