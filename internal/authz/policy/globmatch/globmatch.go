// Package globmatch implements the single-wildcard glob match used by the
// rate-limit conditions, ported unchanged from internal/api/rbac.matchGlob
// so both packages share one algorithm.
package globmatch

import "strings"

// Match reports whether s matches pattern, where pattern may contain at
// most one '*' wildcard. A pattern with no '*' requires an exact match; a
// pattern ending in '*' requires a prefix match; a pattern with '*' in the
// middle requires both the prefix before it and the suffix after it to
// match.
func Match(pattern, s string) bool {
	idx := strings.Index(pattern, "*")
	if idx < 0 {
		return pattern == s
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	return strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix) && len(s) >= len(prefix)+len(suffix)
}
