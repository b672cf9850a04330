package plan

import (
	"encoding/json"
	"strings"
)

// Kind identifies an operation variant.
type Kind string

const (
	// KindSearchReplace is a literal search-and-replace edit.
	KindSearchReplace Kind = "search_replace"
	// KindAnchor inserts text relative to a literal anchor.
	KindAnchor Kind = "anchor"
	// KindAST is a heuristic structural edit.
	KindAST Kind = "ast"
)

// Strategy is the strategy tag carried by every operation.
type Strategy string

const (
	// StrategyStrict applies exact search-replace edits.
	StrategyStrict Strategy = "strict"
	// StrategyFuzzy applies anchor-relative inserts.
	StrategyFuzzy Strategy = "fuzzy"
	// StrategyAST applies heuristic structural stubs.
	StrategyAST Strategy = "ast"
)

// UnmarshalJSON accepts strategy tags in any case ("STRICT", "Fuzzy").
func (s *Strategy) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Strategy(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

// Known reports whether s is one of the defined strategies.
func (s Strategy) Known() bool {
	switch s {
	case StrategyStrict, StrategyFuzzy, StrategyAST:
		return true
	}
	return false
}

// Opposite returns the strategy a failed operation would be retried with.
func (s Strategy) Opposite() Strategy {
	if s == StrategyStrict {
		return StrategyFuzzy
	}
	return StrategyStrict
}

// StrategyFor returns the default strategy tag for an operation kind.
func StrategyFor(k Kind) Strategy {
	switch k {
	case KindAnchor:
		return StrategyFuzzy
	case KindAST:
		return StrategyAST
	default:
		return StrategyStrict
	}
}

// kindFor returns the operation kind implied by a strategy tag.
func kindFor(s Strategy) (Kind, bool) {
	switch s {
	case StrategyStrict:
		return KindSearchReplace, true
	case StrategyFuzzy:
		return KindAnchor, true
	case StrategyAST:
		return KindAST, true
	}
	return "", false
}

// Position selects where anchor content is inserted.
type Position string

const (
	PositionBefore Position = "before"
	PositionAfter  Position = "after"
)

// AstOp is the standard operation field of an AST stub.
type AstOp string

const (
	AstReplace      AstOp = "replace"
	AstInsertBefore AstOp = "insert_before"
	AstInsertAfter  AstOp = "insert_after"
	AstRemove       AstOp = "remove"
)

// Base holds the fields shared by every operation variant.
type Base struct {
	ID       string   `json:"id" validate:"required"`
	Strategy Strategy `json:"strategy"`
	FilePath string   `json:"filePath" validate:"required"`
}

// Common returns the shared operation fields.
func (b Base) Common() Base { return b }

// Operation is one edit in a plan. The set of implementations is closed:
// *SearchReplace, *Anchor and *AstStub.
type Operation interface {
	Common() Base
	Kind() Kind
	sealed()
}

// SearchReplace replaces a literal search string.
type SearchReplace struct {
	Base
	Search   string `json:"search" validate:"required"`
	Replace  string `json:"replace"`
	LineHint int    `json:"lineHint,omitempty" validate:"gte=0"`
}

// Kind implements Operation.
func (*SearchReplace) Kind() Kind { return KindSearchReplace }
func (*SearchReplace) sealed()    {}

// MarshalJSON emits the operation with its type discriminator.
func (o SearchReplace) MarshalJSON() ([]byte, error) {
	type alias SearchReplace
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindSearchReplace, alias(o)})
}

// Anchor inserts text before or after the first occurrence of an anchor.
type Anchor struct {
	Base
	Anchor   string   `json:"anchor" validate:"required"`
	Insert   string   `json:"insert"`
	Position Position `json:"position" validate:"required,oneof=before after"`
	Offset   *int     `json:"offset,omitempty"`
}

// Kind implements Operation.
func (*Anchor) Kind() Kind { return KindAnchor }
func (*Anchor) sealed()    {}

// MarshalJSON emits the operation with its type discriminator.
func (o Anchor) MarshalJSON() ([]byte, error) {
	type alias Anchor
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindAnchor, alias(o)})
}

// OffsetValue returns the offset, or zero when none is set.
func (o *Anchor) OffsetValue() int {
	if o.Offset == nil {
		return 0
	}
	return *o.Offset
}

// AstStub is a heuristic structural edit. Selector encodes the stub, e.g.
// "addImport:useEffect:react".
type AstStub struct {
	Base
	Selector  string `json:"selector" validate:"required"`
	Operation AstOp  `json:"operation" validate:"required,oneof=replace insert_before insert_after remove"`
	Content   string `json:"content,omitempty"`
}

// Kind implements Operation.
func (*AstStub) Kind() Kind { return KindAST }
func (*AstStub) sealed()    {}

// MarshalJSON emits the operation with its type discriminator.
func (o AstStub) MarshalJSON() ([]byte, error) {
	type alias AstStub
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindAST, alias(o)})
}

// Clone returns a deep copy of op.
func Clone(op Operation) Operation {
	switch o := op.(type) {
	case *SearchReplace:
		c := *o
		return &c
	case *Anchor:
		c := *o
		if o.Offset != nil {
			v := *o.Offset
			c.Offset = &v
		}
		return &c
	case *AstStub:
		c := *o
		return &c
	}
	return nil
}

// Metadata describes a plan.
type Metadata struct {
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	Version     string `json:"version,omitempty"`
}

// PatchPlan is an ordered list of operations.
type PatchPlan struct {
	ID         string     `json:"id" validate:"required"`
	Operations Operations `json:"operations"`
	Metadata   *Metadata  `json:"metadata,omitempty"`
}
