package remediation

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/plan"
)

// ErrorDetails holds structured context extracted from a failure.
type ErrorDetails struct {
	Line          int           `json:"line,omitempty"`
	Column        int           `json:"column,omitempty"`
	Anchor        string        `json:"anchor,omitempty"`
	SearchPattern string        `json:"searchPattern,omitempty"`
	Selector      string        `json:"selector,omitempty"`
	Strategy      plan.Strategy `json:"strategy,omitempty"`
	OperationType plan.Kind     `json:"operationType,omitempty"`
}

// ErrorReport describes one classified failure.
type ErrorReport struct {
	// ID is the unique identifier for this report.
	ID string `json:"id"`

	// FilePath is the file the failing operation targeted.
	FilePath string `json:"filePath"`

	// Classification is the failure category.
	Classification classify.Classification `json:"classification"`

	// Severity derives from the classification.
	Severity classify.Severity `json:"severity"`

	// Message is the raw failure message.
	Message string `json:"message"`

	// Details carries structured context such as line, anchor or search text.
	Details ErrorDetails `json:"details"`

	// Suggestions are human-readable hints.
	Suggestions []string `json:"suggestions,omitempty"`

	// Timestamp is when the failure was observed.
	Timestamp time.Time `json:"timestamp"`

	// OperationID and TaskID identify where the failure came from.
	OperationID string `json:"operationId,omitempty"`
	TaskID      string `json:"taskId,omitempty"`
}

// SuggestedOperation is a proposed replacement for a failed operation.
// Operation is nil for suggestions that need no edit.
type SuggestedOperation struct {
	Operation      plan.Operation `json:"operation"`
	Explanation    string         `json:"explanation"`
	Confidence     float64        `json:"confidence"`
	AutoApplicable bool           `json:"autoApplicable"`
	SideEffects    []string       `json:"sideEffects,omitempty"`
	Prerequisites  []string       `json:"prerequisites,omitempty"`
}

// UnmarshalJSON decodes the polymorphic operation field.
func (s *SuggestedOperation) UnmarshalJSON(data []byte) error {
	type alias SuggestedOperation
	aux := struct {
		Operation json.RawMessage `json:"operation"`
		*alias
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.Operation = nil
	raw := bytes.TrimSpace(aux.Operation)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	op, err := plan.DecodeOperation(raw)
	if err != nil {
		return err
	}
	s.Operation = op
	return nil
}

// RemediationPlan is the ranked set of suggestions for a set of errors.
type RemediationPlan struct {
	ID                   string               `json:"id"`
	TaskID               string               `json:"taskId,omitempty"`
	Errors               []ErrorReport        `json:"errors"`
	Suggestions          []SuggestedOperation `json:"suggestedOperations"`
	Confidence           float64              `json:"confidence"`
	Description          string               `json:"description"`
	Strategy             plan.Strategy        `json:"strategy,omitempty"`
	RequiresConfirmation bool                 `json:"requiresConfirmation"`
	CreatedAt            time.Time            `json:"createdAt"`
}

// Best returns the highest-confidence suggestion, if any.
func (p *RemediationPlan) Best() (SuggestedOperation, bool) {
	if len(p.Suggestions) == 0 {
		return SuggestedOperation{}, false
	}
	best := p.Suggestions[0]
	for _, s := range p.Suggestions[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	return best, true
}
