package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearStratumEnv(t *testing.T) {
	t.Helper()
	for _, name := range envKeys {
		val, had := os.LookupEnv(name)
		os.Unsetenv(name)
		if had {
			t.Cleanup(func() { os.Setenv(name, val) })
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearStratumEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.LLMProvider)
	assert.Equal(t, 3000, cfg.Port)
	assert.False(t, cfg.AuthEnabled())
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearStratumEnv(t)
	os.Setenv("API_KEY", "secret")
	os.Setenv("LLM_PROVIDER", "hosted")
	defer os.Unsetenv("API_KEY")
	defer os.Unsetenv("LLM_PROVIDER")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "hosted", cfg.LLMProvider)
	assert.True(t, cfg.AuthEnabled())
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	clearStratumEnv(t)
	os.Setenv("LLM_PROVIDER", "bogus")
	defer os.Unsetenv("LLM_PROVIDER")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadIgnoresUnrelatedEnvVars(t *testing.T) {
	clearStratumEnv(t)
	os.Setenv("PATH_TO_NOWHERE", "should not leak in")
	defer os.Unsetenv("PATH_TO_NOWHERE")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.LLMProvider)
}
