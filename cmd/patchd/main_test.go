package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/fyrsmithlabs/patchd/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCmd executes the root command in dir with a config path that does
// not exist, so the user's config never leaks into tests.
func runCmd(t *testing.T, dir, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--dir", dir, "--config", filepath.Join(dir, "none.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

const renamePlan = `{"id":"rename","operations":[
  {"id":"op-1","type":"search_replace","filePath":"app.go","search":"oldName","replace":"newName"}]}`

const missingAnchorPlan = `{"id":"insert","operations":[
  {"id":"op-1","type":"anchor","filePath":"app.go","anchor":"func absent()","insert":"// note","position":"before"}]}`

func TestVersion(t *testing.T) {
	out, err := runCmd(t, t.TempDir(), "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "patchd by Fyrsmith Labs")
}

func TestApply_FromStdin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.go"), "package app\n\nfunc oldName() {}\n")

	out, err := runCmd(t, dir, renamePlan, "apply")
	require.NoError(t, err)
	assert.Equal(t, "package app\n\nfunc newName() {}\n", readFile(t, filepath.Join(dir, "app.go")))

	var resp struct {
		Result plan.PatchPlanResult `json:"result"`
		DryRun bool                 `json:"dryRun"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, plan.OutcomeSuccess, resp.Result.Status)
	require.Len(t, resp.Result.Results, 1)
	assert.Contains(t, resp.Result.Results[0].Diff, "+func newName() {}")
	assert.False(t, resp.DryRun)
}

func TestApply_DryRunFromFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.go"), "func oldName() {}\n")
	planPath := filepath.Join(dir, "plan.json")
	writeFile(t, planPath, renamePlan)

	out, err := runCmd(t, dir, "", "apply", "--dry-run", "-q", planPath)
	require.NoError(t, err)
	assert.Equal(t, "success\n", out)
	assert.Equal(t, "func oldName() {}\n", readFile(t, filepath.Join(dir, "app.go")))
}

func TestApply_FailureExitsNonZeroAndRecords(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.go"), "package app\n")

	out, err := runCmd(t, dir, missingAnchorPlan, "apply")
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.code)
	assert.Contains(t, out, `"reportPath"`)

	reports, err := filepath.Glob(filepath.Join(dir, ".patchd", "reports", "*-insert.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	out, err = runCmd(t, dir, "", "registry", "show", "--file", "app.go")
	require.NoError(t, err)
	var obs []registry.Observation
	require.NoError(t, json.Unmarshal([]byte(out), &obs))
	require.Len(t, obs, 1)
	assert.Contains(t, obs[0].TriedAnchors, "func absent()")
}

func TestApply_InvalidPlan(t *testing.T) {
	_, err := runCmd(t, t.TempDir(), `{"operations":[]}`, "apply")
	assert.ErrorIs(t, err, plan.ErrInvalidPlan)

	_, err = runCmd(t, t.TempDir(), "  \n", "apply")
	assert.ErrorContains(t, err, "no plan on stdin")

	_, err = runCmd(t, t.TempDir(), "", "apply", "../plan.json")
	assert.Error(t, err)
}

func TestApply_Envelope(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "envelope.yaml", "scope:\n  denyPaths:\n    - app.go\n"},
		{"toml", "envelope.toml", "[scope]\ndenyPaths = [\"app.go\"]\n"},
		{"json", "envelope.json", `{"scope":{"denyPaths":["app.go"]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "app.go"), "func oldName() {}\n")
			envPath := filepath.Join(dir, tt.file)
			writeFile(t, envPath, tt.content)

			out, err := runCmd(t, dir, renamePlan, "apply", "--envelope", envPath)
			require.NoError(t, err, "skipped operations are not failures")
			assert.Contains(t, out, `"status": "skipped"`)
			assert.Equal(t, "func oldName() {}\n", readFile(t, filepath.Join(dir, "app.go")))
		})
	}
}

func TestReadEnvelope(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "env.toml")
	writeFile(t, path, "id = \"task-1\"\n[scope]\nallowOps = [\"anchor\"]\nmaxRetries = 3\n[options]\ncreateBackups = true\n")
	env, err := readEnvelope(path)
	require.NoError(t, err)
	assert.Equal(t, "task-1", env.ID)
	assert.Equal(t, []string{"anchor"}, env.Scope.AllowOps)
	assert.Equal(t, 3, env.Scope.MaxRetries)
	assert.True(t, env.Options.CreateBackups)

	path = filepath.Join(dir, "env.ini")
	writeFile(t, path, "id=x")
	_, err = readEnvelope(path)
	assert.ErrorContains(t, err, "unsupported envelope format")

	path = filepath.Join(dir, "bad.yaml")
	writeFile(t, path, "scope:\n  maxRetries: -2\n")
	_, err = readEnvelope(path)
	assert.ErrorIs(t, err, plan.ErrInvalidEnvelope)

	path = filepath.Join(dir, "broken.toml")
	writeFile(t, path, "[scope\n")
	_, err = readEnvelope(path)
	assert.ErrorIs(t, err, plan.ErrInvalidEnvelope)
}

func TestRegistryTrim(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.go"), "package app\n")
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		p := strings.ReplaceAll(missingAnchorPlan, "app.go", name)
		writeFile(t, filepath.Join(dir, name), "package app\n")
		_, err := runCmd(t, dir, p, "apply")
		require.Error(t, err)
	}

	out, err := runCmd(t, dir, "", "registry", "trim", "--max", "2")
	require.NoError(t, err)
	assert.Equal(t, "kept 2 of 3 observations\n", out)

	out, err = runCmd(t, dir, "", "registry", "show")
	require.NoError(t, err)
	var reg registry.Registry
	require.NoError(t, json.Unmarshal([]byte(out), &reg))
	assert.Len(t, reg.Observations, 2)

	_, err = runCmd(t, dir, "", "registry", "trim", "--max", "0")
	assert.ErrorContains(t, err, "--max must be > 0")
}
