package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/fyrsmithlabs/patchd/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type fixture struct {
	dir    string
	engine *Engine
	logs   *logging.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tl := logging.NewTestLogger()
	e := New(tl.Underlying())
	e.detectSecrets = func(string) ([]security.SecretFinding, error) { return nil, nil }
	return &fixture{dir: t.TempDir(), engine: e, logs: tl}
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) run(p *plan.PatchPlan, env *plan.TaskEnvelope, dryRun bool) *plan.PatchPlanResult {
	if env != nil {
		env = security.Harden(env, f.dir)
	}
	return f.engine.Execute(context.Background(), p, env, RunOptions{DryRun: dryRun, BaseDir: f.dir})
}

func sr(id, file, search, replace string) *plan.SearchReplace {
	return &plan.SearchReplace{
		Base:    plan.Base{ID: id, Strategy: plan.StrategyStrict, FilePath: file},
		Search:  search,
		Replace: replace,
	}
}

func anchorOp(id, file, anchorText, insert string, pos plan.Position) *plan.Anchor {
	return &plan.Anchor{
		Base:     plan.Base{ID: id, Strategy: plan.StrategyFuzzy, FilePath: file},
		Anchor:   anchorText,
		Insert:   insert,
		Position: pos,
	}
}

func planOf(ops ...plan.Operation) *plan.PatchPlan {
	return &plan.PatchPlan{ID: "plan-1", Operations: ops}
}

func TestExecute_SearchReplace(t *testing.T) {
	f := newFixture(t)
	f.write(t, "src/app.ts", "const a = 1;\nconst b = 2;\n")

	out := f.run(planOf(sr("op-1", "src/app.ts", "const b = 2;", "const b = 3;")), nil, false)

	require.Len(t, out.Results, 1)
	res := out.Results[0]
	assert.Equal(t, plan.OutcomeSuccess, out.Status)
	assert.Equal(t, plan.OutcomeSuccess, res.Status)
	assert.Empty(t, res.Classification)
	assert.NotEqual(t, res.OriginalHash, res.PatchedHash)
	assert.Equal(t, "const a = 1;\nconst b = 3;\n", f.read(t, "src/app.ts"))
	assert.Contains(t, res.Diff, "-const b = 2;\n+const b = 3;\n")
	assert.Equal(t, plan.Summary{Total: 1, Succeeded: 1}, out.Summary)

	info, err := os.Stat(filepath.Join(f.dir, "src/app.ts"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestExecute_IdenticalReplaceIsAlreadyApplied(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.ts", "x = 1\n")

	out := f.run(planOf(sr("op-1", "a.ts", "x = 1", "x = 1")), nil, false)

	res := out.Results[0]
	assert.Equal(t, plan.OutcomeSkipped, res.Status)
	assert.Equal(t, classify.AlreadyApplied, res.Classification)
	assert.Contains(t, res.Error, MsgNoChanges)
	assert.Equal(t, res.OriginalHash, res.PatchedHash)
	assert.Equal(t, plan.OutcomeSuccess, out.Status, "skips are not failures")
}

func TestExecute_AnchorEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.write(t, "test.js", "function test() { return 42; }")

	out := f.run(planOf(anchorOp("op-1", "test.js", "function test()", " // c", plan.PositionAfter)), nil, false)

	require.Equal(t, plan.OutcomeSuccess, out.Status, out.Results[0].Error)
	assert.Equal(t, "function test() // c { return 42; }", f.read(t, "test.js"))
}

func TestExecute_AnchorMissing(t *testing.T) {
	f := newFixture(t)
	f.write(t, "test.js", "function test() {}")

	out := f.run(planOf(anchorOp("op-7", "test.js", "function other()", "x", plan.PositionBefore)), nil, false)

	res := out.Results[0]
	assert.Equal(t, plan.OutcomeFailure, res.Status)
	assert.Equal(t, classify.AnchorMismatch, res.Classification)
	assert.True(t, strings.HasPrefix(res.Error, MsgStrategiesFailed+": anchor not found"))
	assert.Contains(t, res.Error, `(operation "op-7")`)
	assert.Equal(t, "function test() {}", f.read(t, "test.js"))
	f.logs.AssertLogged(t, zapcore.WarnLevel, "operation applied")
}

func TestExecute_MissingFile(t *testing.T) {
	f := newFixture(t)
	out := f.run(planOf(sr("op-1", "nope.ts", "a", "b")), nil, false)

	res := out.Results[0]
	assert.Equal(t, plan.OutcomeFailure, res.Status)
	assert.Equal(t, classify.FileNotFound, res.Classification)
	assert.Contains(t, res.Error, MsgFileNotExist)
	assert.Equal(t, plan.OutcomeFailure, out.Status)
}

// User-controlled text in ids, paths and search strings can contain
// taxonomy keywords; the failure kind must come from where it happened.
func TestExecute_ClassificationIgnoresUserText(t *testing.T) {
	f := newFixture(t)
	f.write(t, "src/app.ts", "const x = 1;\n")

	tests := []struct {
		name string
		op   plan.Operation
		want classify.Classification
	}{
		{"lint keyword in id", sr("fix-lint-warning", "src/app.ts", "const y", "const z"), classify.SearchNotFound},
		{"timeout keyword in path", sr("op-1", "src/timeout.ts", "a", "b"), classify.FileNotFound},
		{"already-applied keyword in search", sr("op-2", "src/app.ts", "identical()", "same()"), classify.SearchNotFound},
		{"type error keyword in anchor", anchorOp("type-error-fix", "src/app.ts", "eslint timeout", "x", plan.PositionAfter), classify.AnchorMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.run(planOf(tt.op), nil, true).Results[0]
			assert.Equal(t, plan.OutcomeFailure, res.Status)
			assert.Equal(t, tt.want, res.Classification, res.Error)
		})
	}
	assert.Equal(t, "const x = 1;\n", f.read(t, "src/app.ts"))
}

func TestExecute_DenyBeatsAllow(t *testing.T) {
	f := newFixture(t)
	f.write(t, "secret/keys.ts", "k = 1\n")

	env := &plan.TaskEnvelope{Scope: plan.Scope{
		AllowPaths: []string{f.dir},
		DenyPaths:  []string{"secret/"},
	}}
	out := f.run(planOf(sr("op-1", "secret/keys.ts", "k = 1", "k = 2")), env, false)

	res := out.Results[0]
	assert.Equal(t, plan.OutcomeSkipped, res.Status)
	assert.Equal(t, classify.PermissionErr, res.Classification)
	assert.Contains(t, res.Error, security.ScopeMessage)
	assert.Equal(t, "k = 1\n", f.read(t, "secret/keys.ts"))
}

func TestExecute_BaselineDenyList(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".env", "TOKEN=a\n")

	out := f.run(planOf(sr("op-1", ".env", "a", "b")), &plan.TaskEnvelope{}, false)
	assert.Equal(t, plan.OutcomeSkipped, out.Results[0].Status)
}

func TestExecute_AllowOps(t *testing.T) {
	f := newFixture(t)
	f.write(t, "App.tsx", "import React from 'react';\n")
	op := &plan.AstStub{
		Base:      plan.Base{ID: "op-1", Strategy: plan.StrategyAST, FilePath: "App.tsx"},
		Selector:  "addImport:useState:react",
		Operation: plan.AstInsertAfter,
	}

	out := f.run(planOf(op), nil, false)
	res := out.Results[0]
	assert.Equal(t, plan.OutcomeSkipped, res.Status)
	assert.Equal(t, "operation type ast not allowed by task scope", res.Error)

	env := &plan.TaskEnvelope{Scope: plan.Scope{AllowOps: []string{"ast"}}}
	out = f.run(planOf(op), env, false)
	require.Equal(t, plan.OutcomeSuccess, out.Results[0].Status, out.Results[0].Error)
	assert.Equal(t, "import React, { useState } from 'react';\n", f.read(t, "App.tsx"))

	out = f.run(planOf(op), env, false)
	assert.Equal(t, classify.AlreadyApplied, out.Results[0].Classification)
}

func TestExecute_UnsupportedSelector(t *testing.T) {
	f := newFixture(t)
	f.write(t, "App.tsx", "x\n")
	op := &plan.AstStub{
		Base:      plan.Base{ID: "op-9", Strategy: plan.StrategyAST, FilePath: "App.tsx"},
		Selector:  "renameSymbol:a:b",
		Operation: plan.AstReplace,
	}
	env := &plan.TaskEnvelope{Scope: plan.Scope{AllowOps: []string{"ast"}}}

	res := f.run(planOf(op), env, false).Results[0]
	assert.Equal(t, plan.OutcomeFailure, res.Status)
	assert.Equal(t, classify.ASTParseError, res.Classification)
	assert.Equal(t, MsgStrategiesFailed+`: unsupported ast selector "renameSymbol:a:b" (operation "op-9")`, res.Error)
}

func TestExecute_ContinueOnError(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.ts", "one\n")
	p := planOf(
		sr("op-1", "a.ts", "missing", "x"),
		sr("op-2", "a.ts", "one", "two"),
	)

	t.Run("stops by default", func(t *testing.T) {
		out := f.run(p, &plan.TaskEnvelope{}, false)
		assert.Equal(t, plan.OutcomeFailure, out.Status)
		assert.Equal(t, plan.OutcomeSkipped, out.Results[1].Status)
		assert.Equal(t, MsgSkippedAfterFail, out.Results[1].Error)
		assert.Equal(t, "op-2", out.Results[1].OperationID)
		assert.Equal(t, "one\n", f.read(t, "a.ts"))
	})

	t.Run("continues when asked", func(t *testing.T) {
		env := &plan.TaskEnvelope{Options: plan.Options{ContinueOnError: true}}
		out := f.run(p, env, false)
		assert.Equal(t, plan.OutcomePartial, out.Status)
		assert.Equal(t, classify.SearchNotFound, out.Results[0].Classification)
		assert.Equal(t, plan.OutcomeSuccess, out.Results[1].Status)
		assert.Equal(t, "two\n", f.read(t, "a.ts"))
	})
}

func TestExecute_DryRun(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.ts", "one\n")

	out := f.run(planOf(sr("op-1", "a.ts", "one", "two")), nil, true)

	assert.Equal(t, plan.OutcomeSuccess, out.Results[0].Status)
	assert.NotEmpty(t, out.Results[0].Diff)
	assert.Equal(t, "one\n", f.read(t, "a.ts"))
}

func TestExecute_Backups(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.ts", "one\n")
	env := &plan.TaskEnvelope{Options: plan.Options{CreateBackups: true}}

	out := f.run(planOf(sr("op-1", "a.ts", "one", "two"), sr("op-2", "a.ts", "two", "three")), env, false)

	require.Equal(t, plan.OutcomeSuccess, out.Status)
	assert.Equal(t, "three\n", f.read(t, "a.ts"))
	assert.Equal(t, "one\n", f.read(t, "a.ts.bak"), "backup keeps the content before the first write")
}

func TestExecute_LineHint(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.ts", "x()\ny()\nx()\nz()\nx()\n")

	op := sr("op-1", "a.ts", "x()", "w()")
	op.LineHint = 4
	out := f.run(planOf(op), nil, false)
	require.Equal(t, plan.OutcomeSuccess, out.Status)
	assert.Equal(t, "x()\ny()\nw()\nz()\nx()\n", f.read(t, "a.ts"))
	assert.Empty(t, out.Results[0].Warnings)

	out = f.run(planOf(sr("op-2", "a.ts", "x()", "v()")), nil, false)
	assert.Equal(t, "v()\ny()\nw()\nz()\nx()\n", f.read(t, "a.ts"))
	require.Len(t, out.Results[0].Warnings, 1)
	assert.Contains(t, out.Results[0].Warnings[0], "occurs 2 times")
}

func TestExecute_DangerousInsertWarns(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.js", "start();\n")

	out := f.run(planOf(sr("op-1", "a.js", "start();", "eval(input);")), nil, false)

	res := out.Results[0]
	assert.Equal(t, plan.OutcomeSuccess, res.Status)
	assert.NotEmpty(t, res.Warnings)
}

func TestExecute_ValidateBeforeApply(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.ts", "key = ''\n")

	t.Run("secrets", func(t *testing.T) {
		f.engine.detectSecrets = func(string) ([]security.SecretFinding, error) {
			return []security.SecretFinding{{RuleID: "generic-api-key", Line: 1}}, nil
		}
		defer func() { f.engine.detectSecrets = func(string) ([]security.SecretFinding, error) { return nil, nil } }()

		res := f.run(planOf(sr("op-1", "a.ts", "key = ''", "key = 'abc'")), nil, false).Results[0]
		assert.Equal(t, plan.OutcomeFailure, res.Status)
		assert.Equal(t, classify.PermissionErr, res.Classification)
		assert.Contains(t, res.Error, "security error: inserted content contains secrets (generic-api-key)")
		assert.Equal(t, "key = ''\n", f.read(t, "a.ts"))
	})

	t.Run("detector unavailable", func(t *testing.T) {
		f.engine.detectSecrets = func(string) ([]security.SecretFinding, error) { return nil, errors.New("boom") }
		defer func() { f.engine.detectSecrets = func(string) ([]security.SecretFinding, error) { return nil, nil } }()

		res := f.run(planOf(sr("op-1", "a.ts", "key = ''", "key = 'x'")), nil, true).Results[0]
		assert.Equal(t, plan.OutcomeSuccess, res.Status)
		assert.Contains(t, res.Warnings, "secret detection unavailable: boom")
	})

	t.Run("escaping path", func(t *testing.T) {
		env := &plan.TaskEnvelope{
			Scope:   plan.Scope{AllowPaths: []string{"/"}},
			Options: plan.Options{ValidateBeforeApply: true},
		}
		res := f.run(planOf(sr("op-1", "../outside.ts", "a", "b")), env, false).Results[0]
		assert.Equal(t, plan.OutcomeFailure, res.Status)
		assert.Contains(t, res.Error, "security error")
	})
}

func TestExecute_NullOperation(t *testing.T) {
	f := newFixture(t)
	out := f.run(planOf(plan.Operation(nil)), nil, false)
	assert.Equal(t, plan.OutcomeFailure, out.Results[0].Status)
}

func TestUnifiedDiff(t *testing.T) {
	assert.Empty(t, UnifiedDiff("a.ts", "same\n", "same\n"))

	got := UnifiedDiff("a.ts", "a\nb\nc\n", "a\nB\nc\n")
	assert.Equal(t, "--- a/a.ts\n+++ b/a.ts\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n", got)

	long := strings.Repeat("line\n", 20)
	d := UnifiedDiff("b.ts", long, "first\n"+long+"last\n")
	assert.Equal(t, 2, strings.Count(d, "@@ -"), "distant changes form separate hunks")
	assert.Contains(t, d, "@@ -1,3 +1,4 @@\n+first\n")
	assert.Contains(t, d, "@@ -18,3 +19,4 @@\n line\n line\n line\n+last\n")
}
