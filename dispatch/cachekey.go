package dispatch

import (
	"sort"
	"strings"
)

// CacheKey builds the deterministic cache key described by §4.5:
// (parsedRequest, userRole, sessionVarsProjectedToRequestUsage). planHash
// stands in for "parsedRequest" — it already uniquely identifies the
// parameterised query.
func CacheKey(planHash, userRole string, sessionVars map[string]string) string {
	var b strings.Builder
	b.WriteString(planHash)
	b.WriteByte('|')
	b.WriteString(userRole)

	keys := make([]string, 0, len(sessionVars))
	for k := range sessionVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(sessionVars[k])
	}

	return b.String()
}
