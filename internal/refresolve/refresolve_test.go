package refresolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iverson-lu/pvtx/internal/discovery"
)

func writeCase(t *testing.T, casesRoot, folder, id, version string) string {
	t.Helper()
	dir := filepath.Join(casesRoot, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := `{"schemaVersion":1,"id":"` + id + `","version":"` + version + `","name":"n","category":"c","parameters":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, discovery.TestCaseManifestName), []byte(doc), 0o644))
	return dir
}

func TestResolveCaseByIdentity(t *testing.T) {
	casesRoot := t.TempDir()
	writeCase(t, casesRoot, "cpu", "CpuStress", "1.0.0")
	cat, _, err := discovery.Discover(discovery.Roots{CasesRoot: casesRoot})
	require.NoError(t, err)

	entry, err := ResolveCase(cat, casesRoot, "CpuStress@1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "CpuStress", entry.Descriptor.ID)
}

func TestResolveCaseByRelativePath(t *testing.T) {
	casesRoot := t.TempDir()
	writeCase(t, casesRoot, "cpu", "CpuStress", "1.0.0")
	cat, _, err := discovery.Discover(discovery.Roots{CasesRoot: casesRoot})
	require.NoError(t, err)

	suitesRoot := t.TempDir()
	suiteFolder := filepath.Join(suitesRoot, "smoke")
	require.NoError(t, os.MkdirAll(suiteFolder, 0o755))

	rel, err := filepath.Rel(suiteFolder, filepath.Join(casesRoot, "cpu"))
	require.NoError(t, err)

	entry, err := ResolveCase(cat, suiteFolder, rel)
	require.NoError(t, err)
	assert.Equal(t, "CpuStress", entry.Descriptor.ID)
}

func TestResolveCaseEscapeIsRejected(t *testing.T) {
	casesRoot := t.TempDir()
	writeCase(t, casesRoot, "cpu", "CpuStress", "1.0.0")
	cat, _, err := discovery.Discover(discovery.Roots{CasesRoot: casesRoot})
	require.NoError(t, err)

	outside := t.TempDir()
	outsideCase := filepath.Join(outside, "evil")
	require.NoError(t, os.MkdirAll(outsideCase, 0o755))

	suiteFolder := filepath.Join(casesRoot, "cpu")
	rel, err := filepath.Rel(suiteFolder, outsideCase)
	require.NoError(t, err)

	_, err = ResolveCase(cat, suiteFolder, rel)
	require.Error(t, err)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, OutOfRoot, invalid.Reason)
}

func TestResolveCaseNotFoundSuggestsClosestIdentity(t *testing.T) {
	casesRoot := t.TempDir()
	writeCase(t, casesRoot, "cpu", "CpuStress", "1.0.0")
	cat, _, err := discovery.Discover(discovery.Roots{CasesRoot: casesRoot})
	require.NoError(t, err)

	_, err = ResolveCase(cat, casesRoot, "CpuStrss@1.0.0")
	require.Error(t, err)
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, NotFound, invalid.Reason)
	assert.Equal(t, "CpuStress@1.0.0", invalid.Suggestion)
}
