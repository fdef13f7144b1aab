package ccconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesPrecedenceLowToHigh(t *testing.T) {
	loader := func(path string) (map[string]string, error) {
		switch path {
		case "system":
			return map[string]string{"max_size": "1000", "direct_mode": "true"}, nil
		case "user":
			return map[string]string{"max_size": "2000"}, nil
		}
		return nil, nil
	}

	cfg, err := Load("system", "user", loader,
		[]string{"CCACHE_MAX_SIZE=3000"},
		[]string{"max_size=4000"})
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), cfg.MaxSize, "argv override must win over everything else")
}

func TestEnvNegationDisablesBoolean(t *testing.T) {
	cfg, err := Load("", "", nil, []string{"CCACHE_NODIRECT_MODE=1"}, nil)
	require.NoError(t, err)
	assert.False(t, cfg.DirectMode)
}

func TestUnknownKeysIgnored(t *testing.T) {
	cfg, err := Load("", "", nil, nil, []string{"totally_unknown_key=x"})
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestMalformedOverrideRejected(t *testing.T) {
	_, err := Load("", "", nil, nil, []string{"no-equals-sign"})
	assert.Error(t, err)
}

func TestDefaultsAreSane(t *testing.T) {
	d := Defaults()
	assert.True(t, d.DirectMode)
	assert.True(t, d.DependMode)
	assert.Equal(t, "zstd", d.Compression)
}
