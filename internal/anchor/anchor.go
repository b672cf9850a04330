// Package anchor locates literal anchors in source text and inserts
// content relative to them.
//
// Anchors are matched as exact substrings. Regex metacharacters in an
// anchor carry no special meaning. All offsets are byte offsets into the
// content string.
package anchor

import (
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/plan"
)

// FindAfterAnchor returns the index immediately after the first occurrence
// of anchor, or false when the anchor is absent.
func FindAfterAnchor(content, anchor string) (int, bool) {
	idx, ok := find(content, anchor)
	if !ok {
		return 0, false
	}
	return idx + len(anchor), true
}

// FindBeforeAnchor returns the index of the first occurrence of anchor, or
// false when the anchor is absent.
func FindBeforeAnchor(content, anchor string) (int, bool) {
	return find(content, anchor)
}

func find(content, anchor string) (int, bool) {
	if anchor == "" {
		return 0, false
	}
	idx := strings.Index(content, anchor)
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// InsertAt inserts text at position. Content is returned unchanged when
// position is outside [0, len(content)].
func InsertAt(content string, position int, text string) string {
	if position < 0 || position > len(content) {
		return content
	}
	return content[:position] + text + content[position:]
}

// Apply applies an anchor operation. It returns false when the anchor is
// absent or the offset moves the insertion point out of bounds.
func Apply(content string, op *plan.Anchor) (string, bool) {
	var (
		pos int
		ok  bool
	)
	switch op.Position {
	case plan.PositionBefore:
		pos, ok = FindBeforeAnchor(content, op.Anchor)
	case plan.PositionAfter:
		pos, ok = FindAfterAnchor(content, op.Anchor)
	}
	if !ok {
		return "", false
	}

	pos += op.OffsetValue()
	if pos < 0 || pos > len(content) {
		return "", false
	}
	return InsertAt(content, pos, op.Insert), true
}

// Count returns the number of non-overlapping occurrences of anchor.
func Count(content, anchor string) int {
	if anchor == "" {
		return 0
	}
	return strings.Count(content, anchor)
}
