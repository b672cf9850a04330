package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	r := New()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r.Merge(Observation{
		FilePath:       "src/app.ts",
		Classification: classify.AnchorMismatch,
		Message:        "anchor not found",
		TriedAnchors:   []string{"function a()"},
		LastSeen:       t0,
	})
	r.Merge(Observation{
		FilePath:       "src/app.ts",
		Classification: classify.AnchorMismatch,
		Message:        "anchor not found",
		TriedAnchors:   []string{"function a()", "function b()"},
		Candidates:     []string{"// c"},
		LastSeen:       t0.Add(time.Hour),
	})
	r.Merge(Observation{
		FilePath:       "src/app.ts",
		Classification: classify.SearchNotFound,
		Message:        "search text not found",
		LastSeen:       t0,
	})

	require.Len(t, r.Observations, 2)
	o := r.Observations[0]
	assert.Equal(t, 2, o.Count)
	assert.Equal(t, t0, o.FirstSeen)
	assert.Equal(t, t0.Add(time.Hour), o.LastSeen)
	assert.Equal(t, []string{"function a()", "function b()"}, o.TriedAnchors)
	assert.Equal(t, []string{"// c"}, o.Candidates)
	assert.Equal(t, 1, r.Observations[1].Count)
	assert.Len(t, r.Find("src/app.ts"), 2)
	assert.Empty(t, r.Find("other.ts"))
}

func TestAddSuggestedOp_Dedup(t *testing.T) {
	r := New()
	a := &plan.Anchor{
		Base:     plan.Base{ID: "1", Strategy: plan.StrategyFuzzy, FilePath: "a.ts"},
		Anchor:   "x",
		Insert:   "y",
		Position: plan.PositionAfter,
	}
	sameFields := plan.Clone(a).(*plan.Anchor)
	sameFields.ID = "2"
	otherInsert := plan.Clone(a).(*plan.Anchor)
	otherInsert.Insert = "z"
	sr := &plan.SearchReplace{Base: plan.Base{ID: "1", Strategy: plan.StrategyStrict, FilePath: "a.ts"}, Search: "x", Replace: "y"}

	assert.True(t, r.AddSuggestedOp(a))
	assert.False(t, r.AddSuggestedOp(sameFields))
	assert.True(t, r.AddSuggestedOp(otherInsert))
	assert.True(t, r.AddSuggestedOp(sr))
	assert.False(t, r.AddSuggestedOp(nil))
	assert.Len(t, r.SuggestedOps, 3)
}

func TestLimitSize(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New()
	// Insert out of order.
	for _, h := range []int{5, 1, 9, 3, 7, 2} {
		r.Observations = append(r.Observations, Observation{
			FilePath: fmt.Sprintf("f%d.ts", h),
			LastSeen: base.Add(time.Duration(h) * time.Hour),
			Count:    1,
		})
	}

	t.Run("within bound is untouched", func(t *testing.T) {
		got := LimitSize(r, 10)
		assert.Same(t, r, got)
	})

	t.Run("keeps the most recent", func(t *testing.T) {
		got := LimitSize(r, 3)
		require.Len(t, got.Observations, 3)
		assert.Equal(t, "f5.ts", got.Observations[0].FilePath)
		assert.Equal(t, "f7.ts", got.Observations[1].FilePath)
		assert.Equal(t, "f9.ts", got.Observations[2].FilePath)
		assert.Len(t, r.Observations, 6, "input is not modified")
	})

	t.Run("never exceeds bound", func(t *testing.T) {
		for n := 1; n <= 6; n++ {
			assert.LessOrEqual(t, len(LimitSize(r, n).Observations), n)
		}
	})

	t.Run("default bound", func(t *testing.T) {
		assert.Same(t, r, LimitSize(r, 0))
	})
}

func TestFileStore_ReadMissing(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "reg", "registry.json"), 0, nil)
	require.NoError(t, err)

	r, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, r.Version)
	assert.Empty(t, r.Observations)
}

func TestFileStore_UpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.json")
	s, err := NewFileStore(path, 2, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Update(ctx, func(r *Registry) error {
			r.Merge(Observation{
				FilePath:       fmt.Sprintf("f%d.ts", i),
				Classification: classify.Unknown,
				Message:        "boom",
				LastSeen:       time.Now().Add(time.Duration(i) * time.Second),
			})
			r.AddSuggestedOp(&plan.SearchReplace{
				Base:   plan.Base{ID: "s", Strategy: plan.StrategyStrict, FilePath: "f.ts"},
				Search: "a",
			})
			return nil
		})
		require.NoError(t, err)
	}

	r, err := s.Read(ctx)
	require.NoError(t, err)
	require.Len(t, r.Observations, 2)
	assert.Equal(t, "f1.ts", r.Observations[0].FilePath)
	assert.Equal(t, "f2.ts", r.Observations[1].FilePath)
	require.Len(t, r.SuggestedOps, 1)
	assert.IsType(t, &plan.SearchReplace{}, r.SuggestedOps[0])
	assert.False(t, r.UpdatedAt.IsZero())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStore_UpdateError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	s, err := NewFileStore(path, 0, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Update(context.Background(), func(*Registry) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, path)
}

func TestFileStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	tl := logging.NewTestLogger()
	s, err := NewFileStore(path, 0, tl.Underlying())
	require.NoError(t, err)

	r, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, r.Observations)

	backups, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
	assert.Equal(t, 1, tl.FilterMessage("registry corrupted, starting fresh").Len())
}

func TestFileStore_ConcurrentUpdates(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "registry.json"), 0, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(context.Background(), func(r *Registry) error {
				r.Merge(Observation{FilePath: "a.ts", Classification: classify.Timeout, Message: "timed out"})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	r, err := s.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Observations, 1)
	assert.Equal(t, 10, r.Observations[0].Count)
}
