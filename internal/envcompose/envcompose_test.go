package envcompose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeLayersOverride(t *testing.T) {
	osEnv := []string{"PATH=/usr/bin", "MODE=dev"}
	plan := map[string]string{"MODE": "plan-mode"}
	suite := map[string]string{"MODE": "suite-mode", "SUITE_VAR": "1"}
	run := map[string]string{"SUITE_VAR": "override"}

	m, err := Compose(osEnv, plan, suite, run)
	require.NoError(t, err)

	v, ok := m.Get("MODE")
	require.True(t, ok)
	assert.Equal(t, "suite-mode", v, "suite layer overrides plan layer")

	v, ok = m.Get("SUITE_VAR")
	require.True(t, ok)
	assert.Equal(t, "override", v, "run overrides win last")

	v, ok = m.Get("PATH")
	require.True(t, ok)
	assert.Equal(t, "/usr/bin", v)
}

func TestCaseInsensitiveLookup(t *testing.T) {
	m := New()
	require.NoError(t, m.Set("Api_Token", "secret-value", true))

	v, ok := m.Get("API_TOKEN")
	require.True(t, ok)
	assert.Equal(t, "secret-value", v)

	assert.True(t, m.IsSecret("api_token"))
}

func TestEmptyKeyRejected(t *testing.T) {
	m := New()
	err := m.Set("", "x", false)
	require.Error(t, err)
}

func TestRedactedHidesSecrets(t *testing.T) {
	m := New()
	require.NoError(t, m.Set("TOKEN", "abc123", true))
	require.NoError(t, m.Set("PLAIN", "visible", false))

	red := m.Redacted()
	assert.Equal(t, "***", red["TOKEN"])
	assert.Equal(t, "visible", red["PLAIN"])

	snap := m.Snapshot()
	assert.Equal(t, "abc123", snap["TOKEN"], "unredacted snapshot still carries the raw value for the runner")
}
