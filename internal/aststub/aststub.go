// Package aststub implements heuristic structural edits for JavaScript and
// TypeScript sources.
//
// No parser is involved. Each stub locates its target with regular
// expressions and brace balancing, checks whether the construct it would
// add is already present, and only then edits the text, so every stub is
// idempotent. A real parser can replace any stub as long as it keeps the
// same contract: content in, content or failure out.
//
// Supported selectors:
//
//	addImport:<name>:<module>     ensure a named import
//	insertUseEffect[:<Component>] insert an effect into a component body
//	insertJSXInToolbar            insert a JSX element into a toolbar container
package aststub

import (
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/anchor"
	"github.com/fyrsmithlabs/patchd/internal/plan"
)

// Selector prefixes.
const (
	SelectorAddImport       = "addImport"
	SelectorInsertUseEffect = "insertUseEffect"
	SelectorInsertToolbar   = "insertJSXInToolbar"
)

// Apply runs the stub named by op.Selector. It returns false for
// unrecognised selectors and when the stub cannot locate its target.
func Apply(content string, op *plan.AstStub) (string, bool) {
	name, arg, _ := strings.Cut(strings.TrimSpace(op.Selector), ":")

	switch name {
	case SelectorAddImport:
		named, module, ok := strings.Cut(arg, ":")
		if !ok {
			return "", false
		}
		return AddImport(content, named, module)
	case SelectorInsertUseEffect:
		return InsertUseEffect(content, arg, op.Content)
	case SelectorInsertToolbar:
		return InsertJSXInToolbar(content, op.Content)
	default:
		return "", false
	}
}

// AddImport ensures content imports named from module.
func AddImport(content, named, module string) (string, bool) {
	named = strings.TrimSpace(named)
	module = strings.TrimSpace(module)
	if named == "" || module == "" {
		return "", false
	}
	return anchor.EnsureImport(content, named, module), true
}
