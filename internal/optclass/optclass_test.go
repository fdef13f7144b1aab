package optclass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableIsSorted(t *testing.T) {
	assert.True(t, VerifySorted(), "option table must be lexicographically sorted for binary search")
	assert.True(t, VerifySortedMSVC(), "MSVC option table must be lexicographically sorted for binary search")
}

func TestClassifyExact(t *testing.T) {
	opt, value, matched := Classify("-c")
	require.NotNil(t, opt)
	assert.False(t, matched)
	assert.Empty(t, value)
}

func TestClassifyConcat(t *testing.T) {
	opt, value, matched := Classify("-Ifoo/bar")
	require.NotNil(t, opt)
	assert.True(t, matched)
	assert.Equal(t, "foo/bar", value)
	assert.True(t, Is(opt, TakesPath))
	assert.True(t, Is(opt, AffectsCPP))
}

func TestClassifyUnknown(t *testing.T) {
	opt, _, matched := Classify("-this-is-not-an-option")
	assert.Nil(t, opt)
	assert.False(t, matched)
}

func TestTooHardFlags(t *testing.T) {
	opt, _, _ := Classify("-E")
	assert.True(t, Is(opt, TooHard))

	opt, _, _ = Classify("-Xpreprocessor")
	assert.True(t, Is(opt, TooHardDirect))
	assert.False(t, Is(opt, TooHard))
}

func TestClassifyMSVCConcat(t *testing.T) {
	opt, value, matched := ClassifyMSVC("/Dfoo=1")
	require.NotNil(t, opt)
	assert.True(t, matched)
	assert.Equal(t, "foo=1", value)
}
