package privilege

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iverson-lu/pvtx/internal/manifest"
)

func TestCheckUserNeverBlocks(t *testing.T) {
	d, err := Check(manifest.PrivilegeUser, "c", "1.0.0")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Warn)
}

func TestCheckAdminRequiredFailsWhenNotElevated(t *testing.T) {
	if IsElevated() {
		t.Skip("test process is elevated; cannot exercise the failure path")
	}
	_, err := Check(manifest.PrivilegeAdminRequired, "c", "1.0.0")
	require.Error(t, err)
	var reqErr *RequiredError
	require.ErrorAs(t, err, &reqErr)
}

func TestCheckAdminPreferredWarnsWhenNotElevated(t *testing.T) {
	if IsElevated() {
		t.Skip("test process is elevated; cannot exercise the warning path")
	}
	d, err := Check(manifest.PrivilegeAdminPreferred, "c", "1.0.0")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.NotEmpty(t, d.Warn)
}
