package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides_LLM(t *testing.T) {
	t.Run("GEMINI_API_KEY sets provider", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := &Config{LLM: LLMConfig{Provider: "replay"}}
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("GEMINI_API_KEY wins over GOOGLE_API_KEY", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "google-key")
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := &Config{}
		require.NoError(t, cfg.applyEnvOverrides())
		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
	})

	t.Run("VIZGUARD_MODEL", func(t *testing.T) {
		t.Setenv("VIZGUARD_MODEL", "gemini-pro")

		cfg := &Config{}
		require.NoError(t, cfg.applyEnvOverrides())
		assert.Equal(t, "gemini-pro", cfg.LLM.Model)
	})
}

func TestEnvOverrides_Pipeline(t *testing.T) {
	t.Run("numeric and duration knobs", func(t *testing.T) {
		t.Setenv("VIZGUARD_MAX_ATTEMPTS", "4")
		t.Setenv("VIZGUARD_REQUIRED_PROPOSALS", "1")
		t.Setenv("VIZGUARD_EXECUTION_TIMEOUT", "5s")
		t.Setenv("VIZGUARD_RULESET", "v1")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, 4, cfg.Pipeline.MaxAttempts)
		assert.Equal(t, 1, cfg.Pipeline.RequiredProposals)
		assert.Equal(t, 5*time.Second, cfg.Pipeline.GetExecutionTimeout())
		assert.Equal(t, "v1", cfg.Pipeline.SecurityRuleSet)
	})

	t.Run("malformed integer is an error", func(t *testing.T) {
		t.Setenv("VIZGUARD_MAX_ATTEMPTS", "three")

		cfg := DefaultConfig()
		err := cfg.applyEnvOverrides()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "VIZGUARD_MAX_ATTEMPTS")
	})
}
