// Package registry persists recurring patch failures and the de-duplicated
// operations suggested for them.
//
// The registry is a single JSON document. It is created empty on first use,
// merged into on every failure, trimmed to a size bound and rewritten
// atomically (temp file plus rename) on each update. A corrupt file is
// moved aside to a timestamped backup and replaced by an empty registry
// instead of failing the caller.
//
// FileStore serialises updates within one process only. Separate processes
// sharing a registry file are last-writer-wins.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/plan"
)

// CurrentVersion is the schema version written by this package.
const CurrentVersion = 1

// DefaultMaxObservations bounds the observation list.
const DefaultMaxObservations = 500

// Observation is a recorded failure pattern for one file.
type Observation struct {
	FilePath       string                  `json:"filePath"`
	Classification classify.Classification `json:"classification"`
	Message        string                  `json:"message"`
	TriedAnchors   []string                `json:"triedAnchors,omitempty"`
	Candidates     []string                `json:"candidates,omitempty"`
	FirstSeen      time.Time               `json:"firstSeen"`
	LastSeen       time.Time               `json:"lastSeen"`
	Count          int                     `json:"count"`
}

// Registry is the persisted document.
type Registry struct {
	Version      int             `json:"version"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Observations []Observation   `json:"observations"`
	SuggestedOps plan.Operations `json:"suggestedOps"`
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		Version:      CurrentVersion,
		Observations: []Observation{},
		SuggestedOps: plan.Operations{},
	}
}

// normalize fills nil collections after decoding older documents.
func (r *Registry) normalize() {
	if r.Version == 0 {
		r.Version = CurrentVersion
	}
	if r.Observations == nil {
		r.Observations = []Observation{}
	}
	if r.SuggestedOps == nil {
		r.SuggestedOps = plan.Operations{}
	}
}

// Merge records obs. An existing observation with the same file,
// classification and message has its count incremented, its time window
// widened and its anchor and candidate sets extended; otherwise obs is
// appended.
func (r *Registry) Merge(obs Observation) {
	now := time.Now().UTC()
	if obs.LastSeen.IsZero() {
		obs.LastSeen = now
	}
	if obs.FirstSeen.IsZero() {
		obs.FirstSeen = obs.LastSeen
	}

	for i := range r.Observations {
		o := &r.Observations[i]
		if o.FilePath != obs.FilePath || o.Classification != obs.Classification || o.Message != obs.Message {
			continue
		}
		o.Count++
		if obs.LastSeen.After(o.LastSeen) {
			o.LastSeen = obs.LastSeen
		}
		if obs.FirstSeen.Before(o.FirstSeen) {
			o.FirstSeen = obs.FirstSeen
		}
		o.TriedAnchors = appendUnique(o.TriedAnchors, obs.TriedAnchors...)
		o.Candidates = appendUnique(o.Candidates, obs.Candidates...)
		return
	}

	if obs.Count < 1 {
		obs.Count = 1
	}
	obs.TriedAnchors = appendUnique(nil, obs.TriedAnchors...)
	obs.Candidates = appendUnique(nil, obs.Candidates...)
	r.Observations = append(r.Observations, obs)
}

// AddSuggestedOp appends op unless an equivalent operation is already
// recorded. It reports whether op was added.
func (r *Registry) AddSuggestedOp(op plan.Operation) bool {
	if op == nil {
		return false
	}
	key := opKey(op)
	for _, existing := range r.SuggestedOps {
		if opKey(existing) == key {
			return false
		}
	}
	r.SuggestedOps = append(r.SuggestedOps, plan.Clone(op))
	return true
}

// Find returns the observations recorded for filePath.
func (r *Registry) Find(filePath string) []Observation {
	var out []Observation
	for _, o := range r.Observations {
		if o.FilePath == filePath {
			out = append(out, o)
		}
	}
	return out
}

// opKey identifies an operation by file, kind and kind-specific fields.
// The operation id and strategy tag are not part of the key.
func opKey(op plan.Operation) string {
	b := op.Common()
	var fields []string
	switch o := op.(type) {
	case *plan.SearchReplace:
		fields = []string{o.Search, o.Replace, fmt.Sprint(o.LineHint)}
	case *plan.Anchor:
		fields = []string{o.Anchor, o.Insert, string(o.Position), fmt.Sprint(o.OffsetValue())}
	case *plan.AstStub:
		fields = []string{o.Selector, string(o.Operation), o.Content}
	}
	return b.FilePath + "\x00" + string(op.Kind()) + "\x00" + strings.Join(fields, "\x00")
}

// LimitSize keeps the max most recently seen observations. A registry
// already within bound is returned unchanged; otherwise a copy is returned
// whose observations are ordered by lastSeen ascending. A non-positive max
// uses DefaultMaxObservations.
func LimitSize(r *Registry, max int) *Registry {
	if max <= 0 {
		max = DefaultMaxObservations
	}
	if r == nil || len(r.Observations) <= max {
		return r
	}

	obs := append([]Observation(nil), r.Observations...)
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].LastSeen.Before(obs[j].LastSeen)
	})

	out := *r
	out.Observations = obs[len(obs)-max:]
	return &out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
