// Package classify maps raw tool and engine error messages onto a fixed
// failure taxonomy.
//
// Classification is a pure function of the message: it is lower-cased and
// trimmed, then matched against an ordered rule table. The first matching
// rule wins; messages that match nothing classify as Unknown.
package classify

import (
	"regexp"
	"strings"
)

// Classification is a failure category.
type Classification string

const (
	AlreadyApplied Classification = "already_applied"
	AnchorMismatch Classification = "anchor_mismatch"
	LintError      Classification = "lint_error"
	TypeError      Classification = "type_error"
	Timeout        Classification = "timeout"
	RetryExceeded  Classification = "retry_exceeded"
	FileNotFound   Classification = "file_not_found"
	PermissionErr  Classification = "permission_error"
	SearchNotFound Classification = "search_not_found"
	MultiMatch     Classification = "multiple_matches"
	ASTParseError  Classification = "ast_parse_error"
	SyntaxError    Classification = "syntax_error"
	Unknown        Classification = "unknown"
)

// All lists every classification in rule order, Unknown last.
var All = []Classification{
	AlreadyApplied, AnchorMismatch, LintError, TypeError, Timeout, RetryExceeded,
	FileNotFound, PermissionErr, SearchNotFound, MultiMatch, ASTParseError,
	SyntaxError, Unknown,
}

// Valid reports whether c is a defined classification.
func (c Classification) Valid() bool {
	for _, known := range All {
		if c == known {
			return true
		}
	}
	return false
}

// Severity is the report severity attached to a classification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// SeverityOf returns the severity for a classification.
func SeverityOf(c Classification) Severity {
	switch c {
	case AlreadyApplied:
		return SeverityInfo
	case LintError:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// rule matches when any of its phrases is a substring of the message or
// any of its patterns matches.
type rule struct {
	class    Classification
	phrases  []string
	patterns []*regexp.Regexp
}

// rules is evaluated in order; the first match wins.
var rules = []rule{
	{
		class:   AlreadyApplied,
		phrases: []string{"identical", "content is the same", "no changes needed", "already applied", "resulted in no changes"},
	},
	{
		class:   AnchorMismatch,
		phrases: []string{"no match for patch hunk", "anchor not found", "could not find anchor"},
	},
	{
		class:    LintError,
		phrases:  []string{"eslint", "lint"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`\d+:\d+.*\b(warning|error)\b`)},
	},
	{
		class:   TypeError,
		phrases: []string{"typescript error", "cannot find name", "does not exist on type", "not assignable"},
	},
	{
		class:   Timeout,
		phrases: []string{"timed out", "timeout"},
	},
	{
		class:   RetryExceeded,
		phrases: []string{"max retries", "retries exceeded", "retry limit"},
	},
	{
		class:   FileNotFound,
		phrases: []string{"file not found", "no such file", "enoent", "file does not exist"},
	},
	{
		class:   PermissionErr,
		phrases: []string{"permission denied", "access denied", "eacces", "eperm"},
	},
	{
		class:   PermissionErr,
		phrases: []string{"security error", "blocked by security policy", "not allowed by task scope"},
	},
	{
		class:    SearchNotFound,
		phrases:  []string{"no match found"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`search.*not found`)},
	},
	{
		class:   MultiMatch,
		phrases: []string{"multiple matches", "ambiguous match"},
	},
	{
		class:   ASTParseError,
		phrases: []string{"ast parse error"},
	},
	{
		class:   SyntaxError,
		phrases: []string{"syntax error", "unexpected token"},
	},
}

// Classify returns the classification of msg.
func Classify(msg string) Classification {
	m := strings.ToLower(strings.TrimSpace(msg))
	if m == "" {
		return Unknown
	}
	for _, r := range rules {
		if r.matches(m) {
			return r.class
		}
	}
	return Unknown
}

func (r rule) matches(m string) bool {
	for _, p := range r.phrases {
		if strings.Contains(m, p) {
			return true
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(m) {
			return true
		}
	}
	return false
}
