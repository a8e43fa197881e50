package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeRunnerScript(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake runner script is POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-runner.sh")
	script := `#!/bin/sh
cat >/dev/null
cat > "$1/result.json" <<'EOF'
{"schemaVersion":1,"runType":"testCase","status":"passed","startTime":"2026-08-01T00:00:00Z","endTime":"2026-08-01T00:00:01Z"}
EOF
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func workspace(t *testing.T, runnerPath string) string {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "suites"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "plans"), 0o755))
	caseDir := filepath.Join(base, "cases", "ping")
	require.NoError(t, os.MkdirAll(caseDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(caseDir, "testcase.json"),
		[]byte(`{"schemaVersion":1,"id":"ping","version":"1.0.0","name":"Ping","category":"c","parameters":[]}`), 0o644))

	cfg := "casesRoot: cases\nsuitesRoot: suites\nplansRoot: plans\nrunsRoot: runs\nrunnerPath: " + runnerPath + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(base, "pvtx.yaml"), []byte(cfg), 0o644))
	return base
}

func TestListCasesPrintsDiscoveredIdentities(t *testing.T) {
	base := workspace(t, fakeRunnerScript(t))

	cmd := rootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(base, "pvtx.yaml"), "list", "--kind", "cases"})

	stdout := captureStdout(t, func() {
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, stdout, "ping@1.0.0")
}

func TestRunCaseCmdReportsPassed(t *testing.T) {
	base := workspace(t, fakeRunnerScript(t))

	cmd := rootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(base, "pvtx.yaml"), "run-case", "ping@1.0.0"})

	stdout := captureStdout(t, func() {
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, stdout, "passed")
}

// captureStdout redirects os.Stdout for the duration of fn, since the CLI
// writes results with fmt.Println rather than through cobra's out writer.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = orig

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	return buf.String()
}
