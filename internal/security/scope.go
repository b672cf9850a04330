package security

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/plan"
)

// ScopeMessage is the error text of every scope rejection.
const ScopeMessage = "path not allowed by task scope"

// Guard evaluates operations against a scope rooted at a base directory.
type Guard struct {
	scope   plan.Scope
	baseDir string
}

// NewGuard returns a Guard for scope. Relative operation paths resolve
// against baseDir, or the working directory when baseDir is empty.
func NewGuard(scope plan.Scope, baseDir string) *Guard {
	return &Guard{scope: scope, baseDir: resolveBase(baseDir)}
}

// BaseDir returns the directory relative paths resolve against.
func (g *Guard) BaseDir() string { return g.baseDir }

// Resolve returns the absolute path of an operation's file.
func (g *Guard) Resolve(filePath string) string {
	return resolve(g.baseDir, filePath)
}

// CheckPath returns nil when filePath may be edited. Deny entries are
// checked first and always win.
func (g *Guard) CheckPath(filePath string) error {
	abs := g.Resolve(filePath)
	rel, inside := g.relative(abs)

	for _, entry := range g.scope.DenyPaths {
		if g.matches(entry, abs, rel, inside) {
			return fmt.Errorf("%s: %s matches deny entry %q", ScopeMessage, filePath, entry)
		}
	}

	if len(g.scope.AllowPaths) == 0 {
		return nil
	}
	for _, entry := range g.scope.AllowPaths {
		if g.matches(entry, abs, rel, inside) {
			return nil
		}
	}
	return fmt.Errorf("%s: %s is outside the allowed paths", ScopeMessage, filePath)
}

// CheckOperation returns nil when op's kind passes the allowOps filter.
func (g *Guard) CheckOperation(op plan.Operation) error {
	if g.scope.AllowsKind(op) {
		return nil
	}
	return fmt.Errorf("operation type %s not allowed by task scope", op.Kind())
}

// relative returns abs relative to the base directory when it lies inside it.
func (g *Guard) relative(abs string) (string, bool) {
	rel, err := filepath.Rel(g.baseDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// matches applies a scope entry. Glob entries match the base-relative path
// of files inside the base directory and the absolute path otherwise.
// Plain entries are directory or file prefixes.
func (g *Guard) matches(entry, abs, rel string, inside bool) bool {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return false
	}
	if isGlob(entry) {
		pattern := filepath.ToSlash(entry)
		if inside {
			return MatchGlob(pattern, rel)
		}
		return MatchGlob(pattern, filepath.ToSlash(abs))
	}
	return strings.HasPrefix(dirForm(abs), dirForm(resolve(g.baseDir, entry)))
}
