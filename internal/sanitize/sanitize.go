// Package sanitize turns untrusted identifiers into safe file name
// components and checks paths derived from user input.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength bounds a sanitized identifier.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of "_" plus an 8-char hash.
	HashSuffixLength = 9

	// DefaultIdentifier replaces identifiers that sanitize to nothing.
	DefaultIdentifier = "unnamed"
)

// Identifier lowercases s and keeps only [a-z0-9_-], collapsing runs of
// replaced characters into one underscore. Results longer than
// MaxIdentifierLength are truncated and suffixed with a hash of the full
// value so distinct plan ids keep distinct report names.
//
//	"plan/Login Fix" -> "plan_login_fix"
//	"fix-1.2"        -> "fix-1_2"
//	"" or "!!!"      -> "unnamed"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_-")
	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxIdentifierLength {
		out = truncateWithHash(out)
	}
	return out
}

// truncateWithHash returns <prefix>_<8-char-hash> within MaxIdentifierLength.
func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	prefix := strings.TrimRight(s[:MaxIdentifierLength-HashSuffixLength], "_-")
	return prefix + suffix
}
