package runid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAcrossCalls(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(now)
	require.NoError(t, err)
	b, err := New(now)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "same timestamp must still yield distinct ids")
}

func TestNewOrdersLexicallyWithTime(t *testing.T) {
	earlier := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	a, err := New(earlier)
	require.NoError(t, err)
	b, err := New(later)
	require.NoError(t, err)
	assert.Less(t, a, b)
}

func TestChildRetainsParentPrefix(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	parent, err := New(now)
	require.NoError(t, err)
	child, err := Child(parent, now)
	require.NoError(t, err)
	assert.Contains(t, child, parent+".")
}
