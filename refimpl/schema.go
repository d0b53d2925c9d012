package refimpl

import (
	"sync/atomic"

	"github.com/graphql-go/graphql"
)

// SchemaCache is the in-memory reference implementation of
// collab.SchemaCache. The schema it holds is opaque to this module —
// nothing here parses or executes against it, it is only carried
// through to the external Planner — so PlaceholderSchema below is
// enough to make the stack runnable without a real schema builder.
type SchemaCache struct {
	schema  atomic.Pointer[graphql.Schema]
	version atomic.Uint64
}

// NewSchemaCache seeds a cache with schema at version 1.
func NewSchemaCache(schema *graphql.Schema) *SchemaCache {
	c := &SchemaCache{}
	c.schema.Store(schema)
	c.version.Store(1)
	return c
}

// Get implements collab.SchemaCache.
func (c *SchemaCache) Get() (*graphql.Schema, uint64) {
	return c.schema.Load(), c.version.Load()
}

// Reload swaps in a new schema and bumps the version stamp, so any
// cache key derived from it invalidates.
func (c *SchemaCache) Reload(schema *graphql.Schema) {
	c.schema.Store(schema)
	c.version.Add(1)
}

// PlaceholderSchema builds the minimal valid graphql.Schema this module
// needs to exercise SchemaCache end to end: a Query root with a single
// health-check field. Parsing/executing real operations against it is
// out of scope (the external Planner owns that).
func PlaceholderSchema() (*graphql.Schema, error) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"health": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return "ok", nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
	if err != nil {
		return nil, err
	}
	return &schema, nil
}
