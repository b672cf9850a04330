package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOperation is returned when an operation's type or strategy is not recognised.
var ErrUnknownOperation = errors.New("unknown operation type")

// Operations is an ordered operation list with a polymorphic JSON codec.
type Operations []Operation

// UnmarshalJSON decodes each element into its concrete variant.
func (ops *Operations) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*ops = nil
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("operations must be an array: %w", err)
	}

	out := make(Operations, 0, len(raws))
	for i, raw := range raws {
		op, err := DecodeOperation(raw)
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		out = append(out, op)
	}
	*ops = out
	return nil
}

// DecodeOperation decodes a single JSON operation.
func DecodeOperation(data []byte) (Operation, error) {
	var header struct {
		Type     string   `json:"type"`
		Strategy Strategy `json:"strategy"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(header.Type)))
	if kind == "" {
		k, ok := kindFor(header.Strategy)
		if !ok {
			return nil, fmt.Errorf("%w: strategy %q", ErrUnknownOperation, header.Strategy)
		}
		kind = k
	}

	var op Operation
	switch kind {
	case KindSearchReplace:
		op = &SearchReplace{}
	case KindAnchor:
		op = &Anchor{}
	case KindAST:
		op = &AstStub{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, header.Type)
	}

	if err := json.Unmarshal(data, op); err != nil {
		return nil, err
	}

	fillStrategy(op)
	return op, nil
}

// fillStrategy sets the strategy tag from the kind when the input omitted it.
func fillStrategy(op Operation) {
	switch o := op.(type) {
	case *SearchReplace:
		if o.Strategy == "" {
			o.Strategy = StrategyStrict
		}
	case *Anchor:
		if o.Strategy == "" {
			o.Strategy = StrategyFuzzy
		}
	case *AstStub:
		if o.Strategy == "" {
			o.Strategy = StrategyAST
		}
	}
}

// ParsePlan decodes and shape-validates a plan.
func ParsePlan(data []byte) (*PatchPlan, error) {
	var p PatchPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
