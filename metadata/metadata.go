// Package metadata carries small amounts of per-request, ad hoc
// key/value data alongside a context.Context, for the spans and log
// fields the dispatch engine and backend executors want to attach
// without growing collab.StepRequest's shape for every new one.
package metadata

import "context"

type metadataKey struct{}

// New creates a context carrying an empty metadata map.
func New() context.Context {
	return context.WithValue(context.Background(), metadataKey{}, map[string]interface{}{})
}

// NewWithContext attaches a fresh metadata map to ctx (or to
// context.Background() if ctx is nil), replacing any map already there.
func NewWithContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, metadataKey{}, map[string]interface{}{})
}

func getMetadata(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(metadataKey{}).(map[string]interface{})
	return m
}

// Set stores value under key in ctx's metadata map, returning false if
// ctx carries no metadata map (i.e. wasn't built with New/NewWithContext).
func Set(ctx context.Context, key string, value interface{}) bool {
	if key == "" {
		return false
	}
	meta := getMetadata(ctx)
	if meta == nil {
		return false
	}
	meta[key] = value
	return true
}

// Read reads a value previously stored with Set.
func Read(ctx context.Context, key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}
	meta := getMetadata(ctx)
	if meta == nil {
		return nil, false
	}
	val, ok := meta[key]
	return val, ok
}

// ReadString reads a string value previously stored with Set.
func ReadString(ctx context.Context, key string) (string, bool) {
	value, ok := Read(ctx, key)
	if !ok {
		return "", false
	}
	v, ok := value.(string)
	return v, ok
}
