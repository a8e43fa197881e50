package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iverson-lu/pvtx/internal/runstate"
	"github.com/iverson-lu/pvtx/internal/scheduler"
)

func writeCase(t *testing.T, root, id string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := `{"schemaVersion":1,"id":"` + id + `","version":"1.0.0","name":"` + id + `","category":"c","parameters":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "testcase.json"), []byte(doc), 0o644))
}

func fakeRunnerAlwaysPasses(t *testing.T) string {
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

func writeConfig(t *testing.T, dir, runnerPath string) string {
	t.Helper()
	cfg := "casesRoot: cases\nsuitesRoot: suites\nplansRoot: plans\nrunsRoot: runs\nrunnerPath: " + runnerPath + "\nlogLevel: debug\n"
	path := filepath.Join(dir, "pvtx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestBootstrapDiscoversAndRunsACase(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "suites"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "plans"), 0o755))
	writeCase(t, filepath.Join(base, "cases"), "ping")

	configPath := writeConfig(t, base, fakeRunnerAlwaysPasses(t))

	eng, err := Bootstrap(configPath, nil)
	require.NoError(t, err)
	defer eng.Logger.Sync() //nolint:errcheck

	assert.Len(t, eng.Catalog().Cases, 1)

	res, err := eng.Run(context.Background(), scheduler.RunRequest{TestCase: "ping@1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, runstate.Passed, res.Status)
}

func TestBootstrapMissingConfigFileUsesDefaults(t *testing.T) {
	base := t.TempDir()
	eng, err := Bootstrap(filepath.Join(base, "pvtx.yaml"), nil)
	require.NoError(t, err)
	defer eng.Logger.Sync() //nolint:errcheck

	assert.Empty(t, eng.Catalog().Cases, "a fresh workspace with no case folders discovers nothing, not an error")
}

func TestRediscoverPicksUpNewCase(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "cases"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "suites"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "plans"), 0o755))

	configPath := writeConfig(t, base, fakeRunnerAlwaysPasses(t))
	eng, err := Bootstrap(configPath, nil)
	require.NoError(t, err)
	defer eng.Logger.Sync() //nolint:errcheck
	require.Empty(t, eng.Catalog().Cases)

	writeCase(t, filepath.Join(base, "cases"), "newcomer")
	report, err := eng.Rediscover()
	require.NoError(t, err)
	assert.False(t, report.HasErrors())
	assert.Len(t, eng.Catalog().Cases, 1)
}

func TestWatchAndRediscoverPicksUpNewCaseThenStopsOnCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fsnotify watch semantics differ on windows")
	}
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "cases"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "suites"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "plans"), 0o755))

	configPath := writeConfig(t, base, fakeRunnerAlwaysPasses(t))
	eng, err := Bootstrap(configPath, nil)
	require.NoError(t, err)
	defer eng.Logger.Sync() //nolint:errcheck
	require.Empty(t, eng.Catalog().Cases)

	ctx, cancel := context.WithCancel(context.Background())
	errs := eng.WatchAndRediscover(ctx)

	writeCase(t, filepath.Join(base, "cases"), "watched")

	require.Eventually(t, func() bool {
		return len(eng.Catalog().Cases) == 1
	}, 2*time.Second, 20*time.Millisecond, "a new case folder must be picked up without an explicit Rediscover call")

	cancel()
	_, stillOpen := <-errs
	assert.False(t, stillOpen, "the error channel must close once the watch is cancelled")
}
