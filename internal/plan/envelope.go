package plan

import "strings"

// Scope restricts which files and operation types a plan may touch.
// Deny entries always take precedence over allow entries. An empty
// AllowPaths or AllowOps list allows everything at this level; hardening
// replaces those defaults with conservative ones.
type Scope struct {
	AllowPaths    []string `json:"allowPaths"`
	DenyPaths     []string `json:"denyPaths"`
	AllowOps      []string `json:"allowOps"`
	MaxRetries    int      `json:"maxRetries" validate:"gte=0"`
	TimeBudgetSec int      `json:"timeBudgetSec" validate:"gte=0"`
}

// AllowsKind reports whether op passes the AllowOps filter. Entries may
// name either the operation kind ("anchor") or its strategy tag ("fuzzy").
func (s Scope) AllowsKind(op Operation) bool {
	if len(s.AllowOps) == 0 {
		return true
	}
	kind := string(op.Kind())
	strategy := string(op.Common().Strategy)
	for _, entry := range s.AllowOps {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == kind || e == strategy {
			return true
		}
	}
	return false
}

// Options toggles execution behaviour.
type Options struct {
	// ContinueOnError keeps executing after an operation fails. When false,
	// remaining operations are reported as skipped.
	ContinueOnError bool `json:"continueOnError"`
	// CreateBackups writes <file>.bak with the original content before writing.
	CreateBackups bool `json:"createBackups"`
	// ValidateBeforeApply runs operation validation and secret detection first.
	ValidateBeforeApply bool `json:"validateBeforeApply"`
	// RunLinting and RunTypeChecking are forwarded to external supervisors.
	RunLinting      bool `json:"runLinting"`
	RunTypeChecking bool `json:"runTypeChecking"`
}

// TaskEnvelope wraps a plan with the scope it is allowed to run under.
type TaskEnvelope struct {
	ID       string         `json:"id"`
	Scope    Scope          `json:"scope"`
	Plan     *PatchPlan     `json:"plan,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Options  Options        `json:"options"`
}

// Clone returns a copy of the envelope whose slices can be modified
// without affecting e. The plan pointer is shared.
func (e *TaskEnvelope) Clone() *TaskEnvelope {
	if e == nil {
		return nil
	}
	c := *e
	c.Scope.AllowPaths = append([]string(nil), e.Scope.AllowPaths...)
	c.Scope.DenyPaths = append([]string(nil), e.Scope.DenyPaths...)
	c.Scope.AllowOps = append([]string(nil), e.Scope.AllowOps...)
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
