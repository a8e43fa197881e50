package valuetype

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestIntBothSurfacesAgree(t *testing.T) {
	c := Constraints{Bounds: Bounds{Min: f64(0), HasMin: true, Max: f64(10), HasMax: true}}

	fromJSON, err := ParseJSON(Int, float64(5), c)
	require.NoError(t, err)

	fromString, err := ParseString(Int, "5", c)
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromString)
	assert.Equal(t, int32(5), fromJSON.IntVal)
}

func TestIntOutOfBounds(t *testing.T) {
	c := Constraints{Bounds: Bounds{Max: f64(10), HasMax: true}}
	_, err := ParseString(Int, "11", c)
	require.Error(t, err)
}

func TestIntRejectsFraction(t *testing.T) {
	_, err := ParseJSON(Int, float64(5.5), Constraints{})
	require.Error(t, err)
}

func TestBooleanLooseFormsOnStringSurface(t *testing.T) {
	for _, raw := range []string{"true", "TRUE", "1"} {
		v, err := ParseString(Boolean, raw, Constraints{})
		require.NoError(t, err, raw)
		assert.True(t, v.BoolVal)
	}
	for _, raw := range []string{"false", "FALSE", "0"} {
		v, err := ParseString(Boolean, raw, Constraints{})
		require.NoError(t, err, raw)
		assert.False(t, v.BoolVal)
	}
	_, err := ParseString(Boolean, "yes", Constraints{})
	require.Error(t, err)
}

func TestBooleanJSONSurfaceStrict(t *testing.T) {
	v, err := ParseJSON(Boolean, true, Constraints{})
	require.NoError(t, err)
	assert.True(t, v.BoolVal)

	_, err = ParseJSON(Boolean, "true", Constraints{})
	require.Error(t, err, "JSON surface should not loosely coerce strings")
}

func TestEnumCaseSensitive(t *testing.T) {
	c := Constraints{EnumValues: []string{"Low", "High"}}
	_, err := ParseString(Enum, "low", c)
	require.Error(t, err)

	v, err := ParseString(Enum, "Low", c)
	require.NoError(t, err)
	assert.Equal(t, "Low", v.StringVal)
}

func TestStringPattern(t *testing.T) {
	c := Constraints{Pattern: `^[0-9]+$`}
	_, err := ParseString(String, "abc", c)
	require.Error(t, err)

	v, err := ParseString(String, "123", c)
	require.NoError(t, err)
	assert.Equal(t, "123", v.StringVal)
}

func TestJSONTypePreservesFragmentVerbatim(t *testing.T) {
	v, err := ParseString(JSON, `{"a":1,"b":[1,2,3]}`, Constraints{})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(v.JSONVal, &decoded))
	assert.Equal(t, float64(1), decoded["a"])
}

func TestPathFileFolderAreAdvisoryStrings(t *testing.T) {
	for _, ty := range []Type{Path, File, Folder} {
		v, err := ParseString(ty, "/does/not/exist", Constraints{})
		require.NoError(t, err)
		assert.Equal(t, "/does/not/exist", v.StringVal)
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	_, err := ParseString(Type("int[]"), "1", Constraints{})
	require.Error(t, err)
}
