package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cabintrainer/internal/scenario"
)

const scenarios = "../../examples/scenarios"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunPrintsReport(t *testing.T) {
	out, err := execute(t, "run", "--scenario", filepath.Join(scenarios, "seatbelt.yaml"), "--strict")
	require.NoError(t, err)
	assert.Contains(t, out, ": completed after")
	assert.Contains(t, out, "seatbelt: 3/3 steps")
}

func TestRunJSONWhileServing(t *testing.T) {
	out, err := execute(t, "run", "-s", filepath.Join(scenarios, "airsack.yaml"), "--serve", "127.0.0.1:0", "--json")
	require.NoError(t, err)

	var r scenario.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.True(t, r.Completed)
	assert.Equal(t, "airsack", r.Procedures[0].Procedure)
}

func TestRunRecordsHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "progress.db")
	_, err := execute(t, "run", "-s", filepath.Join(scenarios, "exit_doors.yaml"), "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "history", "--db", db)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "completed")
	session := strings.Fields(lines[0])[0]

	out, err = execute(t, "history", "--db", db, "--session", session)
	require.NoError(t, err)
	assert.Contains(t, out, `"kind":"zone.reached"`)
	assert.Contains(t, out, `"kind":"steps.completed"`)
}

func TestRunStrictFailsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idle.yaml")
	src, err := os.ReadFile(filepath.Join(scenarios, "seatbelt.yaml"))
	require.NoError(t, err)
	idle := strings.SplitN(string(src), "script:", 2)[0] + "script:\n  - {do: wait, seconds: 0.1}\n"
	require.NoError(t, os.WriteFile(path, []byte(idle), 0o600))

	_, err = execute(t, "run", "-s", path, "--strict")
	assert.ErrorIs(t, err, errIncomplete)
}

func TestValidateExamples(t *testing.T) {
	files, err := filepath.Glob(filepath.Join(scenarios, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	args := []string{"validate"}
	for _, f := range files {
		args = append(args, "-s", f)
	}
	out, err := execute(t, args...)
	require.NoError(t, err)
	assert.Equal(t, len(files), strings.Count(out, ": ok"))
}

func TestValidateReportsDegraded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: broken
objects:
  - {id: loose, mass: 1}
tethers:
  - {id: leash, object: loose}
`), 0o600))

	out, err := execute(t, "validate", "-s", path)
	assert.ErrorIs(t, err, errDegraded)
	assert.Contains(t, out, "1 degraded")
	assert.Contains(t, out, "leash:")
}

func TestValidateRequiresScenario(t *testing.T) {
	_, err := execute(t, "validate")
	assert.Error(t, err)
}
