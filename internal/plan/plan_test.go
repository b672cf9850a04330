package plan

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOperation(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantKind     Kind
		wantStrategy Strategy
		wantErr      error
	}{
		{
			name:         "explicit type",
			raw:          `{"id":"o1","type":"search_replace","filePath":"a.ts","search":"a","replace":"b"}`,
			wantKind:     KindSearchReplace,
			wantStrategy: StrategyStrict,
		},
		{
			name:         "type is case-insensitive",
			raw:          `{"id":"o1","type":" Anchor ","filePath":"a.ts","anchor":"x","insert":"y","position":"after"}`,
			wantKind:     KindAnchor,
			wantStrategy: StrategyFuzzy,
		},
		{
			name:         "strict strategy implies search_replace",
			raw:          `{"id":"o1","strategy":"strict","filePath":"a.ts","search":"a","replace":"b"}`,
			wantKind:     KindSearchReplace,
			wantStrategy: StrategyStrict,
		},
		{
			name:         "fuzzy strategy implies anchor",
			raw:          `{"id":"o1","strategy":"fuzzy","filePath":"a.ts","anchor":"x","insert":"y","position":"before"}`,
			wantKind:     KindAnchor,
			wantStrategy: StrategyFuzzy,
		},
		{
			name:         "ast strategy implies ast",
			raw:          `{"id":"o1","strategy":"ast","filePath":"a.tsx","selector":"addImport:useState:react","operation":"insert_after"}`,
			wantKind:     KindAST,
			wantStrategy: StrategyAST,
		},
		{
			name:    "unknown type",
			raw:     `{"id":"o1","type":"rename","filePath":"a.ts"}`,
			wantErr: ErrUnknownOperation,
		},
		{
			name:    "no type and unknown strategy",
			raw:     `{"id":"o1","strategy":"magic","filePath":"a.ts"}`,
			wantErr: ErrUnknownOperation,
		},
		{
			name:    "no type and no strategy",
			raw:     `{"id":"o1","filePath":"a.ts"}`,
			wantErr: ErrUnknownOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := DecodeOperation([]byte(tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, op)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, op.Kind())
			assert.Equal(t, tt.wantStrategy, op.Common().Strategy)
			assert.Equal(t, "o1", op.Common().ID)
		})
	}
}

func TestDecodeOperation_MalformedJSON(t *testing.T) {
	_, err := DecodeOperation([]byte(`{"id":`))
	assert.Error(t, err)
}

func TestOperations_UnmarshalJSON(t *testing.T) {
	t.Run("null list", func(t *testing.T) {
		var p PatchPlan
		require.NoError(t, json.Unmarshal([]byte(`{"id":"p1","operations":null}`), &p))
		assert.Nil(t, p.Operations)
		assert.NoError(t, p.Validate())
	})

	t.Run("missing list", func(t *testing.T) {
		p, err := ParsePlan([]byte(`{"id":"p1"}`))
		require.NoError(t, err)
		assert.Empty(t, p.Operations)
	})

	t.Run("not an array", func(t *testing.T) {
		var ops Operations
		assert.Error(t, json.Unmarshal([]byte(`{"id":"o1"}`), &ops))
	})

	t.Run("error names the element", func(t *testing.T) {
		var ops Operations
		err := json.Unmarshal([]byte(`[{"id":"o1","type":"search_replace","filePath":"a","search":"a","replace":"b"},{"id":"o2","type":"nope"}]`), &ops)
		assert.ErrorIs(t, err, ErrUnknownOperation)
		assert.ErrorContains(t, err, "operation 1")
	})

	t.Run("order is kept", func(t *testing.T) {
		var ops Operations
		require.NoError(t, json.Unmarshal([]byte(`[
			{"id":"o1","strategy":"fuzzy","filePath":"a","anchor":"x","insert":"y","position":"after"},
			{"id":"o2","strategy":"strict","filePath":"a","search":"a","replace":"b"}]`), &ops))
		require.Len(t, ops, 2)
		assert.Equal(t, "o1", ops[0].Common().ID)
		assert.Equal(t, KindSearchReplace, ops[1].Kind())
	})
}

func TestParsePlan_Invalid(t *testing.T) {
	_, err := ParsePlan([]byte(`{"operations":[]}`))
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = ParsePlan([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestAggregate(t *testing.T) {
	results := func(statuses ...Outcome) []PatchResult {
		out := make([]PatchResult, 0, len(statuses))
		for _, s := range statuses {
			out = append(out, PatchResult{Status: s})
		}
		return out
	}

	tests := []struct {
		name    string
		results []PatchResult
		want    Outcome
		summary Summary
	}{
		{"empty", nil, OutcomeSuccess, Summary{}},
		{"all succeeded", results(OutcomeSuccess, OutcomeSuccess), OutcomeSuccess, Summary{Total: 2, Succeeded: 2}},
		{"all skipped", results(OutcomeSkipped, OutcomeSkipped), OutcomeSuccess, Summary{Total: 2, Skipped: 2}},
		{"success and skip", results(OutcomeSuccess, OutcomeSkipped), OutcomeSuccess, Summary{Total: 2, Succeeded: 1, Skipped: 1}},
		{"all failed", results(OutcomeFailure, OutcomeFailure), OutcomeFailure, Summary{Total: 2, Failed: 2}},
		{"failed and skipped", results(OutcomeFailure, OutcomeSkipped), OutcomeFailure, Summary{Total: 2, Failed: 1, Skipped: 1}},
		{"mixed", results(OutcomeSuccess, OutcomeFailure, OutcomeSkipped), OutcomePartial, Summary{Total: 3, Succeeded: 1, Failed: 1, Skipped: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("p1", tt.results, 1500*time.Millisecond)
			assert.Equal(t, "p1", got.PlanID)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.summary, got.Summary)
			assert.Equal(t, int64(1500), got.TotalTimeMs)
			assert.NotNil(t, got.Results)
		})
	}
}

func TestPatchPlanResult_Failed(t *testing.T) {
	r := Aggregate("p1", []PatchResult{
		{OperationID: "a", Status: OutcomeSuccess},
		{OperationID: "b", Status: OutcomeFailure},
	}, 0)
	failed := r.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].OperationID)
}
