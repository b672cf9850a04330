package security

import (
	"path"
	"strings"
)

// MatchGlob reports whether p matches pattern. Both use forward slashes.
//
// Forms are tried in order: exact match, "*" or "**" (everything), a
// single "*" used as prefix, suffix or middle wildcard ("foo*", "*foo",
// "foo*bar"), "**" spanning directories ("**/x", "dir/**", "a/**/b"), and
// finally path.Match for anything else.
func MatchGlob(pattern, p string) bool {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "":
		return false
	case pattern == p:
		return true
	case pattern == "*" || pattern == "**":
		return true
	}

	if strings.Contains(pattern, "**") {
		return matchDoubleStar(pattern, p)
	}
	if strings.Count(pattern, "*") == 1 && !strings.ContainsAny(pattern, "?[") {
		prefix, suffix, _ := strings.Cut(pattern, "*")
		return len(p) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(p, prefix) &&
			strings.HasSuffix(p, suffix)
	}

	ok, err := path.Match(pattern, p)
	return err == nil && ok
}

func matchDoubleStar(pattern, p string) bool {
	before, after, _ := strings.Cut(pattern, "**")
	before = strings.TrimSuffix(before, "/")
	after = strings.TrimPrefix(after, "/")

	switch {
	case before == "":
		return matchAnySuffix(after, p)
	case after == "":
		return p == before || strings.HasPrefix(p, before+"/")
	default:
		if !strings.HasPrefix(p, before+"/") {
			return false
		}
		return matchAnySuffix(after, strings.TrimPrefix(p, before+"/"))
	}
}

// matchAnySuffix matches pattern against p and against every suffix of p
// that starts after a slash.
func matchAnySuffix(pattern, p string) bool {
	if pattern == "" {
		return true
	}
	for {
		if MatchGlob(pattern, p) {
			return true
		}
		i := strings.IndexByte(p, '/')
		if i < 0 {
			return false
		}
		p = p[i+1:]
	}
}

// isGlob reports whether entry contains wildcard characters.
func isGlob(entry string) bool {
	return strings.ContainsAny(entry, "*?[")
}
