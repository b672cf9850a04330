package remediation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/patchd/internal/remediation"

// Confidence scores used by the suggestion rules.
const (
	ConfidenceNoop         = 1.0
	ConfidenceFirstLine    = 0.7
	ConfidenceLineHint     = 0.6
	ConfidenceSearchPrefix = 0.6
	ConfidenceFuzzySwitch  = 0.5
	ConfidenceHalfAnchor   = 0.5
	ConfidenceHalfSearch   = 0.4
	ConfidenceGeneric      = 0.3

	// ConfidenceFloor is the plan confidence when there are no suggestions.
	ConfidenceFloor = 0.1
)

// minHalvableLen is the length above which halving an anchor is suggested.
const minHalvableLen = 10

// Config configures the planner.
type Config struct {
	// AutoFix enables auto-applicable suggestions.
	AutoFix bool

	// Whitelist lists the classifications whose suggestions may be auto-applied.
	Whitelist []classify.Classification

	// AutoApplyThreshold is the minimum confidence for auto-apply (default: 0.8).
	AutoApplyThreshold float64

	// ConfirmThreshold is the plan confidence below which confirmation is required (default: 0.8).
	ConfirmThreshold float64
}

// DefaultConfig returns the planner defaults: auto-fix off.
func DefaultConfig() *Config {
	return &Config{
		Whitelist:          []classify.Classification{classify.AlreadyApplied},
		AutoApplyThreshold: 0.8,
		ConfirmThreshold:   0.8,
	}
}

// Planner generates remediation plans.
type Planner struct {
	logger *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	plansCounter metric.Int64Counter

	mu  sync.RWMutex
	cfg Config
}

// NewPlanner creates a planner. A nil cfg uses DefaultConfig.
func NewPlanner(cfg *Config, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	p.SetConfig(cfg)
	p.initMetrics()
	return p
}

func (p *Planner) initMetrics() {
	var err error
	p.plansCounter, err = p.meter.Int64Counter(
		"patchd.remediation.plans_total",
		metric.WithDescription("Total number of remediation plans generated"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		p.logger.Warn("failed to create plans counter", zap.Error(err))
	}
}

// SetConfig replaces the planner configuration. Zero thresholds take
// their defaults.
func (p *Planner) SetConfig(cfg *Config) {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	c.Whitelist = append([]classify.Classification(nil), cfg.Whitelist...)
	if c.AutoApplyThreshold <= 0 {
		c.AutoApplyThreshold = def.AutoApplyThreshold
	}
	if c.ConfirmThreshold <= 0 {
		c.ConfirmThreshold = def.ConfirmThreshold
	}

	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
}

func (p *Planner) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Plan builds a remediation plan for report. op is the operation that
// failed and may be nil.
func (p *Planner) Plan(ctx context.Context, report *ErrorReport, op plan.Operation) *RemediationPlan {
	ctx, span := p.tracer.Start(ctx, "remediation.plan")
	defer span.End()

	cfg := p.config()
	suggestions := Suggest(report.Classification, op)

	auto := cfg.AutoFix && whitelisted(cfg.Whitelist, report.Classification)
	for i := range suggestions {
		suggestions[i].AutoApplicable = auto && suggestions[i].Confidence >= cfg.AutoApplyThreshold
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})

	confidence := ConfidenceFloor
	if len(suggestions) > 0 {
		confidence = suggestions[0].Confidence
	}

	var strategy plan.Strategy
	switch {
	case len(suggestions) > 0 && suggestions[0].Operation != nil:
		strategy = suggestions[0].Operation.Common().Strategy
	case op != nil:
		strategy = op.Common().Strategy
	}

	rp := &RemediationPlan{
		ID:                   uuid.NewString(),
		TaskID:               report.TaskID,
		Errors:               []ErrorReport{*report},
		Suggestions:          suggestions,
		Confidence:           confidence,
		Description:          describePlan(report, len(suggestions)),
		Strategy:             strategy,
		RequiresConfirmation: confidence < cfg.ConfirmThreshold,
		CreatedAt:            time.Now().UTC(),
	}

	span.SetAttributes(
		attribute.String("classification", string(report.Classification)),
		attribute.Int("suggestions", len(suggestions)),
		attribute.Float64("confidence", confidence),
	)
	if p.plansCounter != nil {
		p.plansCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("classification", string(report.Classification)),
		))
	}
	p.logger.Debug("remediation plan generated",
		zap.String("plan_id", rp.ID),
		zap.String("classification", string(report.Classification)),
		zap.Int("suggestions", len(suggestions)),
		zap.Float64("confidence", confidence),
	)
	return rp
}

func describePlan(r *ErrorReport, n int) string {
	if n == 0 {
		return fmt.Sprintf("No suggestions for %s in %s", r.Classification, r.FilePath)
	}
	return fmt.Sprintf("%d suggestion(s) for %s in %s", n, r.Classification, r.FilePath)
}

func whitelisted(list []classify.Classification, c classify.Classification) bool {
	for _, w := range list {
		if w == c {
			return true
		}
	}
	return false
}

// Suggest returns the suggestions for a classification, unranked.
func Suggest(c classify.Classification, op plan.Operation) []SuggestedOperation {
	switch c {
	case classify.AlreadyApplied:
		return []SuggestedOperation{{
			Explanation: "The change is already applied; no operation is needed.",
			Confidence:  ConfidenceNoop,
		}}
	case classify.AnchorMismatch:
		return anchorMismatch(op)
	case classify.SearchNotFound:
		return searchNotFound(op)
	case classify.MultiMatch:
		return multipleMatches(op)
	default:
		return []SuggestedOperation{opposite(op)}
	}
}

func anchorMismatch(op plan.Operation) []SuggestedOperation {
	switch o := op.(type) {
	case *plan.Anchor:
		var out []SuggestedOperation

		if first := firstLine(o.Anchor); first != "" {
			c := plan.Clone(o).(*plan.Anchor)
			c.Anchor = first
			off := o.OffsetValue() + 1
			c.Offset = &off
			out = append(out, SuggestedOperation{
				Operation:   c,
				Explanation: "Shorten the anchor to its first line and shift the insertion point by one.",
				Confidence:  ConfidenceFirstLine,
				SideEffects: []string{"insertion point moves one byte past the anchor"},
			})
		}

		if o.Strategy != plan.StrategyFuzzy {
			c := plan.Clone(o).(*plan.Anchor)
			c.Strategy = plan.StrategyFuzzy
			out = append(out, SuggestedOperation{
				Operation:   c,
				Explanation: "Retry with the fuzzy strategy.",
				Confidence:  ConfidenceFuzzySwitch,
			})
		}

		if half, ok := halve(o.Anchor); ok {
			c := plan.Clone(o).(*plan.Anchor)
			c.Anchor = half
			out = append(out, SuggestedOperation{
				Operation:   c,
				Explanation: "Use the first half of the anchor.",
				Confidence:  ConfidenceHalfAnchor,
				SideEffects: []string{"a shorter anchor may match an earlier location"},
			})
		}
		return out

	case *plan.SearchReplace:
		return []SuggestedOperation{fuzzySwitch(o)}

	default:
		return []SuggestedOperation{opposite(op)}
	}
}

func searchNotFound(op plan.Operation) []SuggestedOperation {
	o, ok := op.(*plan.SearchReplace)
	if !ok {
		return []SuggestedOperation{opposite(op)}
	}

	var out []SuggestedOperation
	if first := firstLine(o.Search); first != "" && first != o.Search {
		c := plan.Clone(o).(*plan.SearchReplace)
		c.Search = first
		out = append(out, SuggestedOperation{
			Operation:   c,
			Explanation: "Search for the first line only.",
			Confidence:  ConfidenceSearchPrefix,
			SideEffects: []string{"only the first line of the original search text is replaced"},
		})
	}

	out = append(out, fuzzySwitch(o))

	if half, ok := halve(o.Search); ok {
		c := plan.Clone(o).(*plan.SearchReplace)
		c.Search = half
		out = append(out, SuggestedOperation{
			Operation:   c,
			Explanation: "Search for the first half of the text.",
			Confidence:  ConfidenceHalfSearch,
			SideEffects: []string{"the unmatched remainder of the search text is kept"},
		})
	}
	return out
}

func multipleMatches(op plan.Operation) []SuggestedOperation {
	o, ok := op.(*plan.SearchReplace)
	if !ok {
		return []SuggestedOperation{opposite(op)}
	}
	c := plan.Clone(o).(*plan.SearchReplace)
	if c.LineHint <= 0 {
		c.LineHint = 1
	}
	return []SuggestedOperation{{
		Operation:     c,
		Explanation:   "Add a lineHint so the occurrence nearest that line is replaced.",
		Confidence:    ConfidenceLineHint,
		Prerequisites: []string{"set lineHint to the line of the intended occurrence"},
	}}
}

// fuzzySwitch turns a search-replace into an anchor insert after the first
// line of its search text.
func fuzzySwitch(o *plan.SearchReplace) SuggestedOperation {
	return SuggestedOperation{
		Operation:   toAnchor(o, firstLine(o.Search)),
		Explanation: "Switch to the fuzzy strategy and insert after the first line of the search text.",
		Confidence:  ConfidenceFuzzySwitch,
		SideEffects: []string{"inserts the replacement instead of replacing the search text"},
	}
}

// opposite retries an operation with the other text strategy.
func opposite(op plan.Operation) SuggestedOperation {
	s := SuggestedOperation{
		Explanation: "Retry with a different strategy.",
		Confidence:  ConfidenceGeneric,
	}
	switch o := op.(type) {
	case *plan.SearchReplace:
		s.Operation = toAnchor(o, o.Search)
		s.Explanation = "Retry with the fuzzy strategy."
		s.SideEffects = []string{"inserts the replacement instead of replacing the search text"}
	case *plan.Anchor:
		s.Operation = toSearchReplace(o)
		s.Explanation = "Retry with the strict strategy."
	}
	return s
}

func toAnchor(o *plan.SearchReplace, anchorText string) *plan.Anchor {
	return &plan.Anchor{
		Base: plan.Base{
			ID:       o.ID,
			Strategy: plan.StrategyFuzzy,
			FilePath: o.FilePath,
		},
		Anchor:   anchorText,
		Insert:   o.Replace,
		Position: plan.PositionAfter,
	}
}

func toSearchReplace(o *plan.Anchor) *plan.SearchReplace {
	replace := o.Anchor + o.Insert
	if o.Position == plan.PositionBefore {
		replace = o.Insert + o.Anchor
	}
	return &plan.SearchReplace{
		Base: plan.Base{
			ID:       o.ID,
			Strategy: plan.StrategyStrict,
			FilePath: o.FilePath,
		},
		Search:  o.Anchor,
		Replace: replace,
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimRight(line, "\r")
}

// halve returns the first half of s, by runes, when s is long enough.
func halve(s string) (string, bool) {
	r := []rune(s)
	if len(r) <= minHalvableLen {
		return "", false
	}
	return string(r[:len(r)/2]), true
}
