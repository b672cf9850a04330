package plan

import (
	"time"

	"github.com/fyrsmithlabs/patchd/internal/classify"
)

// Outcome is the result of applying one operation, or of a whole plan.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
	OutcomeSkipped Outcome = "skipped"
)

// PatchResult is the outcome of a single operation.
type PatchResult struct {
	OperationID     string                  `json:"operationId"`
	FilePath        string                  `json:"filePath"`
	Kind            Kind                    `json:"type"`
	Strategy        Strategy                `json:"strategy"`
	Status          Outcome                 `json:"status"`
	Classification  classify.Classification `json:"classification,omitempty"`
	OriginalHash    string                  `json:"originalHash,omitempty"`
	PatchedHash     string                  `json:"patchedHash,omitempty"`
	Error           string                  `json:"error,omitempty"`
	Warnings        []string                `json:"warnings,omitempty"`
	Diff            string                  `json:"diff,omitempty"`
	ExecutionTimeMs int64                   `json:"executionTimeMs"`
}

// Summary counts per-operation outcomes.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Partial   int `json:"partial"`
	Skipped   int `json:"skipped"`
}

// PatchPlanResult aggregates the results of a plan.
type PatchPlanResult struct {
	PlanID      string        `json:"planId"`
	Status      Outcome       `json:"status"`
	Results     []PatchResult `json:"results"`
	Summary     Summary       `json:"summary"`
	TotalTimeMs int64         `json:"totalTimeMs"`
}

// Aggregate builds a PatchPlanResult. The plan succeeds when no operation
// failed, fails when no operation succeeded, and is partial otherwise.
func Aggregate(planID string, results []PatchResult, elapsed time.Duration) *PatchPlanResult {
	if results == nil {
		results = []PatchResult{}
	}

	var s Summary
	s.Total = len(results)
	for _, r := range results {
		switch r.Status {
		case OutcomeSuccess:
			s.Succeeded++
		case OutcomeFailure:
			s.Failed++
		case OutcomePartial:
			s.Partial++
		case OutcomeSkipped:
			s.Skipped++
		}
	}

	status := OutcomePartial
	switch {
	case s.Failed == 0:
		status = OutcomeSuccess
	case s.Succeeded == 0:
		status = OutcomeFailure
	}

	return &PatchPlanResult{
		PlanID:      planID,
		Status:      status,
		Results:     results,
		Summary:     s,
		TotalTimeMs: elapsed.Milliseconds(),
	}
}

// Failed returns the results whose status is failure.
func (r *PatchPlanResult) Failed() []PatchResult {
	var out []PatchResult
	for _, res := range r.Results {
		if res.Status == OutcomeFailure {
			out = append(out, res)
		}
	}
	return out
}
