package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STORE", "memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.InDelta(t, 0.30, cfg.RecommendMinScore, 1e-6)
	assert.Equal(t, 5, cfg.RecommendTopK)
	assert.InDelta(t, 0.70, cfg.ExactMinScore, 1e-6)
	assert.Equal(t, 10, cfg.ExactTopK)
	assert.Equal(t, 30*time.Minute, cfg.HumanIdleTimeout)
	assert.Equal(t, "@every 5m", cfg.SweeperSchedule)
	assert.Equal(t, 45*time.Second, cfg.CompletionTimeout)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("RECOMMEND_MIN_SCORE", "0.25")
	t.Setenv("HUMAN_IDLE_TIMEOUT", "1h")
	t.Setenv("COMPLETION_PROVIDER", "echo")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.RecommendMinScore, 1e-6)
	assert.Equal(t, time.Hour, cfg.HumanIdleTimeout)
	assert.Equal(t, "echo", cfg.CompletionProvider)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("HUMAN_IDLE_TIMEOUT", "soon")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	} {
		assert.Equal(t, want, (&Config{LogLevel: in}).SlogLevel(), in)
	}
}
