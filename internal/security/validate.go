package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/plan"
)

// ErrUnsafePath indicates an operation targets an absolute or escaping path.
var ErrUnsafePath = errors.New("unsafe file path")

// ValidateOperation checks a single operation before it is applied: its
// shape, that its path is relative and stays inside the working tree, and
// that the path itself is free of dangerous patterns.
func ValidateOperation(op plan.Operation) error {
	if op == nil {
		return fmt.Errorf("%w: operation is required", plan.ErrInvalidOperation)
	}
	if err := plan.ValidateShape(op); err != nil {
		return err
	}

	p := op.Common().FilePath
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "..") || filepath.IsAbs(p) {
		return fmt.Errorf("%w: %s must be relative to the working tree", ErrUnsafePath, p)
	}
	if clean := filepath.ToSlash(filepath.Clean(p)); clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %s escapes the working tree", ErrUnsafePath, p)
	}
	if v := CheckViolations(p); len(v) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrUnsafePath, p, strings.Join(v, ", "))
	}
	return nil
}

// InsertedText returns the text an operation would add to a file.
func InsertedText(op plan.Operation) string {
	switch o := op.(type) {
	case *plan.SearchReplace:
		return o.Replace
	case *plan.Anchor:
		return o.Insert
	case *plan.AstStub:
		return o.Content
	}
	return ""
}
