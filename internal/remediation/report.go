package remediation

import (
	"regexp"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/google/uuid"
)

var lineColRe = regexp.MustCompile(`(?:line\s+(\d+)|:(\d+):(\d+))`)

// hints are the human-readable suggestions attached to each report.
var hints = map[classify.Classification][]string{
	classify.AlreadyApplied: {"The change is already present; no action is needed."},
	classify.AnchorMismatch: {
		"Verify the anchor text exists verbatim in the target file.",
		"Use a shorter, more distinctive anchor.",
	},
	classify.LintError:     {"Run the linter with --fix or adjust the inserted code style."},
	classify.TypeError:     {"Check imports and types referenced by the inserted code."},
	classify.Timeout:       {"Split the plan into smaller plans or raise the caller's time budget."},
	classify.RetryExceeded: {"Review the failure history before retrying again."},
	classify.FileNotFound:  {"Check the file path is relative to the project root and the file exists."},
	classify.PermissionErr: {"Check the task scope allows this path and operation type."},
	classify.SearchNotFound: {
		"Re-read the file; the search text may have changed.",
		"Switch to an anchor operation when exact text is unstable.",
	},
	classify.MultiMatch:    {"Add a lineHint or extend the search text to make it unique."},
	classify.ASTParseError: {"Fix the source syntax before applying structural edits."},
	classify.SyntaxError:   {"Check the inserted code for unbalanced brackets or quotes."},
	classify.Unknown:       {"Inspect the raw error message."},
}

// NewReport builds an ErrorReport for a failed result. op may be nil.
func NewReport(res plan.PatchResult, op plan.Operation, taskID string) *ErrorReport {
	class := res.Classification
	if class == "" || !class.Valid() {
		class = classify.Classify(res.Error)
	}

	r := &ErrorReport{
		ID:             uuid.NewString(),
		FilePath:       res.FilePath,
		Classification: class,
		Severity:       classify.SeverityOf(class),
		Message:        res.Error,
		Suggestions:    append([]string(nil), hints[class]...),
		Timestamp:      time.Now().UTC(),
		OperationID:    res.OperationID,
		TaskID:         taskID,
		Details: ErrorDetails{
			Strategy:      res.Strategy,
			OperationType: res.Kind,
		},
	}

	switch o := op.(type) {
	case *plan.Anchor:
		r.Details.Anchor = o.Anchor
	case *plan.SearchReplace:
		r.Details.SearchPattern = o.Search
		r.Details.Line = o.LineHint
	case *plan.AstStub:
		r.Details.Selector = o.Selector
	}

	if m := lineColRe.FindStringSubmatch(res.Error); m != nil {
		if m[1] != "" {
			r.Details.Line, _ = strconv.Atoi(m[1])
		} else {
			r.Details.Line, _ = strconv.Atoi(m[2])
			r.Details.Column, _ = strconv.Atoi(m[3])
		}
	}
	return r
}
