package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/engine"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"validate", "evaluate", "attestations", "batch", "serve", "mcp", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q", name)
	}
}

func TestEvaluateCommand_Flags(t *testing.T) {
	for _, name := range []string{"persona", "interactive", "attest", "format", "subject-id", "until"} {
		assert.NotNil(t, evaluateCmd.Flags().Lookup(name), "evaluate should have --%s", name)
	}
	assert.Equal(t, "text", evaluateCmd.Flags().Lookup("format").DefValue)
}

func TestParseAttestFlags(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"pairs", []string{"smoker=yes", " ldl = 130 "}, map[string]string{"smoker": "yes", "ldl": "130"}, false},
		{"last wins", []string{"smoker=yes", "smoker=no"}, map[string]string{"smoker": "no"}, false},
		{"value with equals", []string{"note=a=b"}, map[string]string{"note": "a=b"}, false},
		{"missing equals", []string{"smoker"}, nil, true},
		{"missing id", []string{"=yes"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAttestFlags(tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 3, exitCode(&domain.NeedsAttestationError{}))
	assert.Equal(t, 2, exitCode(fmt.Errorf("%w for x", engine.ErrIneligible)))
	assert.Equal(t, 2, exitCode(domain.NewInsufficientDataError([]string{"ldl"}, errors.New("ldl missing"))))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestExpandSubjects(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml", "c.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("subject: {id: x}"), 0o644))
	}

	got, err := expandSubjects([]string{filepath.Join(dir, "*.yaml"), filepath.Join(dir, "missing.yaml")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "missing.yaml"),
	}, got)

	_, err = expandSubjects([]string{"[bad"})
	assert.Error(t, err)
}

// writeConfig points the CLI at the test guidelines and a temporary SQLite store.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	guidelines, err := filepath.Abs(filepath.Join("..", "..", "internal", "guideline", "testdata"))
	require.NoError(t, err)

	path := filepath.Join(dir, "concord.yaml")
	content := fmt.Sprintf(`data_dir: %s
log:
  level: error
guidelines:
  dir: %s
attestation:
  store: sqlite
  sqlite_path: %s
`, dir, guidelines, filepath.Join(dir, "attestations.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func resetFlags() {
	cfgFile = ""
	verbose = false
	evalPersona = ""
	evalInteractive = false
	evalAttest = nil
	evalFormat = "text"
	evalSubjectID = ""
	evalUntilYear = 0
	listSubject = ""
	listGuideline = ""
	listLimit = 50
	listOffset = 0
	batchFormat = "text"
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func subjectPath(name string) string {
	return filepath.Join("..", "..", "internal", "engine", "testdata", name)
}

func TestValidateCommand(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "validate", "statin", "invalid")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGuidelineValidation)
	assert.Contains(t, out, "statin: ok (statin-primary-prevention")
	assert.Contains(t, out, "invalid: invalid")
	assert.Contains(t, out, `invalid type "vaccinate"`)

	_, err = execute(t, "--config", cfgPath, "validate", "statin")
	assert.NoError(t, err)
}

func TestEvaluateCommand_EndToEnd(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "evaluate", "statin", subjectPath("subject.yaml"))
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
	assert.Contains(t, out, "Awaiting attestation")
	assert.Contains(t, out, "smoker: Do you currently smoke tobacco?")

	out, err = execute(t, "--config", cfgPath, "evaluate", "statin", subjectPath("subject.yaml"),
		"--attest", "smoker=no", "--attest", "diabetic=no", "--format", "json")
	require.NoError(t, err)
	var rep map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "recommendations_evaluated", rep["state"])

	out, err = execute(t, "--config", cfgPath, "evaluate", "statin", subjectPath("subject.yaml"))
	require.NoError(t, err, "stored attestations are replayed")
	assert.Contains(t, out, "statin_high_risk")

	out, err = execute(t, "--config", cfgPath, "attestations", "list",
		"--subject", "patient-0107", "--guideline", "statin-primary-prevention")
	require.NoError(t, err)
	assert.Contains(t, out, "smoker")
	assert.Contains(t, out, "diabetic")
	assert.Contains(t, out, "2 of 2 attestations")
}

func TestEvaluateCommand_BadFlags(t *testing.T) {
	cfgPath := writeConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"format", []string{"--format", "xml"}},
		{"persona", []string{"--persona", "robot"}},
		{"attest", []string{"--attest", "smoker"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfgPath, "evaluate", "statin", subjectPath("subject.yaml")}, tt.args...)
			_, err := execute(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestAttestationsExportImport(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := execute(t, "--config", cfgPath, "evaluate", "statin", subjectPath("subject.yaml"),
		"--attest", "smoker=yes", "--attest", "diabetic=no")
	require.NoError(t, err)

	exportPath := filepath.Join(t.TempDir(), "export.json")
	out, err := execute(t, "--config", cfgPath, "attestations", "export", exportPath)
	require.NoError(t, err)
	assert.Contains(t, out, exportPath)

	out, err = execute(t, "--config", cfgPath, "attestations", "import", exportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 0 attestations, skipped 2")

	_, err = execute(t, "--config", cfgPath, "attestations", "list", "--subject", "patient-0107")
	assert.Error(t, err, "--subject needs --guideline")
}

func TestBatchCommand(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "batch", "statin",
		subjectPath("subject.yaml"), subjectPath("young.yaml"), subjectPath("missing-labs.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "needs_attestation")
	assert.Contains(t, out, "ineligible")
	assert.Contains(t, out, "3 subjects: ineligible=1 insufficient=1 needs_attestation=1")
}
