package secretscrub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrubRedactsRegisteredSecret(t *testing.T) {
	tr := New()
	tr.Register("abc123")

	doc := []byte(`{"Token":"abc123","Other":"fine"}`)
	clean, leaks := tr.Scrub(doc)

	require.Len(t, leaks, 1)
	assert.NotContains(t, string(clean), "abc123")
	assert.Contains(t, string(clean), `"Token":"***"`)
	assert.Contains(t, string(clean), "fine")
}

func TestScrubLeaksReportFingerprintNotValue(t *testing.T) {
	tr := New()
	tr.Register("super-secret")
	_, leaks := tr.Scrub([]byte("super-secret"))
	require.Len(t, leaks, 1)
	assert.NotContains(t, leaks[0].Hash, "super-secret")
	assert.Len(t, leaks[0].Hash, 16, "8-byte hex fingerprint")
}

func TestContainsAnyDoesNotMutate(t *testing.T) {
	tr := New()
	tr.Register("xyz")
	data := []byte("prefix xyz suffix")
	assert.True(t, tr.ContainsAny(data))
	assert.Equal(t, "prefix xyz suffix", string(data))
}

func TestEmptySecretNeverRegistered(t *testing.T) {
	tr := New()
	tr.Register("")
	assert.False(t, tr.ContainsAny([]byte("")))
	assert.Equal(t, "", tr.RedactedString(""))
}

func TestRedactedStringExactMatch(t *testing.T) {
	tr := New()
	tr.Register("s3cr3t")
	assert.Equal(t, "***", tr.RedactedString("s3cr3t"))
	assert.Equal(t, "plain", tr.RedactedString("plain"))
}
