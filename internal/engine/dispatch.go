package engine

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/anchor"
	"github.com/fyrsmithlabs/patchd/internal/aststub"
	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/plan"
)

// strategyFailure says why a strategy could not apply an operation. The
// class is known where the failure happens, so it is never derived from
// detail, which may quote user text.
type strategyFailure struct {
	class  classify.Classification
	detail string
}

func failure(class classify.Classification, format string, args ...any) *strategyFailure {
	return &strategyFailure{class: class, detail: fmt.Sprintf(format, args...)}
}

// dispatch applies op to content with the strategy for its type. A
// non-nil failure means the strategy could not apply the operation.
func dispatch(content string, op plan.Operation) (string, []string, *strategyFailure) {
	switch o := op.(type) {
	case *plan.Anchor:
		return applyAnchor(content, o)
	case *plan.AstStub:
		return applyAST(content, o)
	case *plan.SearchReplace:
		return applySearchReplace(content, o)
	}
	return "", nil, failure(classify.Unknown, "unsupported operation type %q", op.Kind())
}

func applyAnchor(content string, op *plan.Anchor) (string, []string, *strategyFailure) {
	n := anchor.Count(content, op.Anchor)
	if n == 0 {
		return "", nil, failure(classify.AnchorMismatch, "anchor not found: %q", firstLine(op.Anchor))
	}
	patched, ok := anchor.Apply(content, op)
	if !ok {
		return "", nil, failure(classify.AnchorMismatch, "anchor offset %d out of range", op.OffsetValue())
	}
	var warnings []string
	if n > 1 {
		warnings = append(warnings, fmt.Sprintf("anchor occurs %d times; used the first occurrence", n))
	}
	return patched, warnings, nil
}

func applyAST(content string, op *plan.AstStub) (string, []string, *strategyFailure) {
	name, _, _ := strings.Cut(op.Selector, ":")
	switch name {
	case aststub.SelectorAddImport, aststub.SelectorInsertUseEffect, aststub.SelectorInsertToolbar:
	default:
		return "", nil, failure(classify.ASTParseError, "unsupported ast selector %q", op.Selector)
	}
	patched, ok := aststub.Apply(content, op)
	if !ok {
		return "", nil, failure(classify.ASTParseError, "ast parse error: no edit point for selector %q", op.Selector)
	}
	return patched, nil, nil
}

// applySearchReplace replaces one occurrence of the search text: the one
// whose line is nearest LineHint, or the first when no hint is given.
func applySearchReplace(content string, op *plan.SearchReplace) (string, []string, *strategyFailure) {
	if op.Search == "" {
		return "", nil, failure(classify.SearchNotFound, "search text not found: empty search")
	}
	offsets := occurrences(content, op.Search)
	if len(offsets) == 0 {
		return "", nil, failure(classify.SearchNotFound, "search text not found: %q", firstLine(op.Search))
	}

	at := offsets[0]
	var warnings []string
	if len(offsets) > 1 {
		if op.LineHint > 0 {
			at = nearestLine(content, offsets, op.LineHint)
		} else {
			warnings = append(warnings, fmt.Sprintf("search text occurs %d times; replaced the first occurrence (set lineHint to choose)", len(offsets)))
		}
	}
	return content[:at] + op.Replace + content[at+len(op.Search):], warnings, nil
}

// occurrences returns the offsets of non-overlapping matches of s.
func occurrences(content, s string) []int {
	var out []int
	for i := 0; ; {
		j := strings.Index(content[i:], s)
		if j < 0 {
			return out
		}
		out = append(out, i+j)
		i += j + len(s)
	}
}

// nearestLine returns the offset whose 1-based line is closest to line;
// ties go to the earlier occurrence.
func nearestLine(content string, offsets []int, line int) int {
	best, bestDist := offsets[0], -1
	for _, off := range offsets {
		l := strings.Count(content[:off], "\n") + 1
		d := l - line
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = off, d
		}
	}
	return best
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
