// Package security hardens task envelopes and evaluates operations against
// them.
//
// Hardening only ever adds restrictions: the baseline deny list is always
// part of the result, retry and time limits are clamped, and empty allow
// lists are replaced by conservative defaults. Evaluation applies deny
// entries before allow entries, so a path present in both is denied.
package security

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/google/uuid"
)

// Scope limits applied by Harden.
const (
	MaxRetriesLimit    = 5
	TimeBudgetLimitSec = 600
)

// DefaultAllowOps are the operation kinds permitted when an envelope names
// none. AST stubs must be enabled explicitly.
var DefaultAllowOps = []string{string(plan.KindSearchReplace), string(plan.KindAnchor)}

// DefaultDenyPaths is the baseline deny list merged into every envelope.
var DefaultDenyPaths = []string{
	// System directories
	"/etc/", "/usr/", "/bin/", "/sbin/", "/boot/", "/proc/", "/sys/", "/dev/",

	// Secrets and environment files
	"**/.env", "**/.env.*", "**/*.pem", "**/*.key", "**/id_rsa*", "**/.ssh/**",

	// Lockfiles
	"**/package-lock.json", "**/yarn.lock", "**/pnpm-lock.yaml", "**/go.sum", "**/Cargo.lock",

	// Build output and dependencies
	"**/dist/**", "**/build/**", "**/node_modules/**", "**/.next/**", "**/coverage/**",

	// Version control metadata
	"**/.git/**", "**/.svn/**", "**/.hg/**",

	// IDE files
	"**/.idea/**", "**/.vscode/**",

	// OS and temporary files
	"**/.DS_Store", "**/Thumbs.db", "**/*.swp", "**/*.tmp",
}

// Harden returns a copy of env with conservative constraints applied.
// A nil env yields a fresh envelope. custom entries are added to the deny
// list. When baseDir is empty the working directory is used.
func Harden(env *plan.TaskEnvelope, baseDir string, custom ...string) *plan.TaskEnvelope {
	baseDir = resolveBase(baseDir)

	out := env.Clone()
	if out == nil {
		out = &plan.TaskEnvelope{}
	}
	if strings.TrimSpace(out.ID) == "" {
		out.ID = uuid.NewString()
	}

	s := &out.Scope
	s.DenyPaths = normalizeEntries(union(DefaultDenyPaths, s.DenyPaths, custom), baseDir)
	if len(s.AllowPaths) == 0 {
		s.AllowPaths = []string{baseDir}
	}
	s.AllowPaths = normalizeEntries(s.AllowPaths, baseDir)
	if len(s.AllowOps) == 0 {
		s.AllowOps = append([]string(nil), DefaultAllowOps...)
	}
	s.MaxRetries = clamp(s.MaxRetries, 0, MaxRetriesLimit)
	s.TimeBudgetSec = clamp(s.TimeBudgetSec, 0, TimeBudgetLimitSec)
	return out
}

// Conservative builds the default envelope used when a caller supplies
// none: the working tree only, no AST stubs, pre-apply validation on.
func Conservative(baseDir string, p *plan.PatchPlan) *plan.TaskEnvelope {
	env := &plan.TaskEnvelope{
		Plan: p,
		Scope: plan.Scope{
			MaxRetries:    2,
			TimeBudgetSec: 120,
		},
		Options: plan.Options{
			ValidateBeforeApply: true,
		},
	}
	return Harden(env, baseDir)
}

func resolveBase(baseDir string) string {
	if strings.TrimSpace(baseDir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return string(filepath.Separator)
		}
		baseDir = wd
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return filepath.Clean(baseDir)
	}
	return abs
}

// normalizeEntries converts plain entries to absolute, trailing-slash form.
// Glob entries are kept as written.
func normalizeEntries(entries []string, baseDir string) []string {
	out := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !isGlob(e) {
			e = dirForm(resolve(baseDir, e))
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

func union(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// resolve makes p absolute relative to baseDir.
func resolve(baseDir, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

// dirForm returns p with forward slashes and exactly one trailing slash.
func dirForm(p string) string {
	return strings.TrimRight(filepath.ToSlash(p), "/") + "/"
}
