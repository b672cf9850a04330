package analysis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/secrets"
	"github.com/fyrsmithlabs/patchd/internal/security"
)

// HeuristicModel is the model name reported by the heuristic analyzer.
const HeuristicModel = "heuristic"

var debugRe = regexp.MustCompile(`\bconsole\.(?:log|debug|trace)\s*\(|\bdebugger\s*;?`)

// Heuristic is the local analyzer.
type Heuristic struct {
	scrubber *secrets.Scrubber
}

// NewHeuristic returns a heuristic analyzer using the default secret rules.
func NewHeuristic() *Heuristic {
	return &Heuristic{scrubber: secrets.Default()}
}

// Analyze implements Analyzer.
func (h *Heuristic) Analyze(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issues []Issue
	for i, line := range strings.Split(req.Code, "\n") {
		for _, v := range security.CheckViolations(line) {
			issues = append(issues, Issue{Line: i + 1, Severity: SeverityWarning, Rule: "dangerous-pattern", Message: "Code " + v})
		}
		if debugRe.MatchString(line) {
			issues = append(issues, Issue{Line: i + 1, Severity: SeverityInfo, Rule: "debug-statement", Message: "Debug statement left in code"})
		}
	}

	scrubbed := h.scrubber.Scrub(req.Code)
	for _, f := range scrubbed.Findings {
		issues = append(issues, Issue{
			Line:     f.Line,
			Severity: SeverityError,
			Rule:     f.RuleID,
			Message:  "Possible hard-coded secret",
		})
	}

	if line, msg := unbalanced(req.Code); msg != "" {
		issues = append(issues, Issue{Line: line, Severity: SeverityError, Rule: "unbalanced-brackets", Message: msg})
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Line < issues[j].Line })

	analysis := Analysis{
		Issues:      issues,
		Suggestions: suggestionsFor(issues),
	}
	if analysis.Issues == nil {
		analysis.Issues = []Issue{}
	}
	if scrubbed.Redacted() {
		analysis.FixedCode = scrubbed.Text
	}
	return &Response{
		Analysis: analysis,
		Metadata: Metadata{
			Model:          HeuristicModel,
			Provider:       config.ProviderNone,
			ProcessingTime: time.Since(start).Milliseconds(),
		},
	}, nil
}

var ruleSuggestions = map[string]string{
	"dangerous-pattern":   "Replace dynamic code execution, process spawning and wildcard binds with safer alternatives.",
	"debug-statement":     "Remove debug statements before committing.",
	"unbalanced-brackets": "Check the snippet for a missing or extra bracket.",
}

const secretSuggestion = "Move secrets to environment variables or a secret manager."

func suggestionsFor(issues []Issue) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, is := range issues {
		s, ok := ruleSuggestions[is.Rule]
		if !ok {
			s = secretSuggestion
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// unbalanced reports the first bracket mismatch outside string literals
// and comments. Template literal interpolation is treated as string.
func unbalanced(code string) (int, string) {
	type open struct {
		ch   byte
		line int
	}
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	var stack []open
	line := 1
	var quote byte
	lineComment, blockComment := false, false

	for i := 0; i < len(code); i++ {
		c := code[i]
		if c == '\n' {
			line++
			lineComment = false
			continue
		}
		switch {
		case lineComment:
			continue
		case blockComment:
			if c == '*' && i+1 < len(code) && code[i+1] == '/' {
				blockComment = false
				i++
			}
			continue
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'', '`':
			quote = c
		case '/':
			if i+1 < len(code) && code[i+1] == '/' {
				lineComment = true
			} else if i+1 < len(code) && code[i+1] == '*' {
				blockComment = true
				i++
			}
		case '(', '[', '{':
			stack = append(stack, open{c, line})
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1].ch != pairs[c] {
				return line, fmt.Sprintf("Unexpected %q", c)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return top.line, fmt.Sprintf("Unclosed %q", top.ch)
	}
	return 0, ""
}
