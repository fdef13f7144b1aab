package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeAdminFlag(t *testing.T) {
	assert.True(t, looksLikeAdminFlag("--show-stats"))
	assert.True(t, looksLikeAdminFlag("-h"))
	assert.True(t, looksLikeAdminFlag("help"))
	assert.False(t, looksLikeAdminFlag("gcc"))
	assert.False(t, looksLikeAdminFlag("clang++"))
}

func TestParseConfigLines(t *testing.T) {
	kv := parseConfigLines("base_dir = /tmp/proj\n# a comment\n\nmax_size=5G\n")
	assert.Equal(t, "/tmp/proj", kv["base_dir"])
	assert.Equal(t, "5G", kv["max_size"])
	assert.Len(t, kv, 2)
}

func TestIgnoreOptionsSet(t *testing.T) {
	set := ignoreOptionsSet("-Wall, -Wextra ,")
	assert.True(t, set["-Wall"])
	assert.True(t, set["-Wextra"])
	assert.Len(t, set, 2)
}

func TestCanonicalizeIfNotSelfRejectsSelf(t *testing.T) {
	_, err := canonicalizeIfNotSelf("/usr/bin/ccache", "/usr/bin/ccache")
	assert.Error(t, err)
}

func TestCanonicalizeIfNotSelfAcceptsOther(t *testing.T) {
	path, err := canonicalizeIfNotSelf("/usr/bin/nonexistent-gcc-xyz", "/usr/bin/ccache")
	assert.NoError(t, err)
	assert.Equal(t, "/usr/bin/nonexistent-gcc-xyz", path)
}
