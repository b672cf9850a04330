package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Classification
	}{
		{"No match for patch hunk", AnchorMismatch},
		{"permission denied: access denied", PermissionErr},
		{"Operation resulted in no changes", AlreadyApplied},
		{"Files are IDENTICAL", AlreadyApplied},
		{"could not find anchor 'foo'", AnchorMismatch},
		{`all patch strategies failed: anchor not found: "x" (operation "op-1")`, AnchorMismatch},
		{"src/app.ts:12:4 error Unexpected any", LintError},
		{"ESLint found problems", LintError},
		{"Cannot find name 'foo'", TypeError},
		{"Type 'string' is not assignable to type 'number'", TypeError},
		{"request timed out after 30s", Timeout},
		{"max retries reached", RetryExceeded},
		{"ENOENT: no such file or directory", FileNotFound},
		{"file does not exist", FileNotFound},
		{"EACCES: write failed", PermissionErr},
		{"security error: secret detected", PermissionErr},
		{"path not allowed by task scope: .env", PermissionErr},
		{"search text not found in file", SearchNotFound},
		{"no match found", SearchNotFound},
		{"found multiple matches for search", MultiMatch},
		{"AST parse error at line 3", ASTParseError},
		{"SyntaxError: Unexpected token '}'", SyntaxError},
		{"something odd happened", Unknown},
		{"   ", Unknown},
		{"", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.msg))
		})
	}
}

func TestClassify_FirstRuleWins(t *testing.T) {
	// Mentions both a lint failure and a timeout; lint comes first.
	assert.Equal(t, LintError, Classify("eslint timed out"))
	// Already-applied phrasing beats everything else.
	assert.Equal(t, AlreadyApplied, Classify("anchor not found but content is the same"))
}

func TestSeverityOf(t *testing.T) {
	assert.Equal(t, SeverityInfo, SeverityOf(AlreadyApplied))
	assert.Equal(t, SeverityWarning, SeverityOf(LintError))
	for _, c := range []Classification{Timeout, RetryExceeded, PermissionErr, Unknown} {
		assert.Equal(t, SeverityError, SeverityOf(c))
	}
}

func TestValid(t *testing.T) {
	for _, c := range All {
		assert.True(t, c.Valid())
	}
	assert.False(t, Classification("bogus").Valid())
}
