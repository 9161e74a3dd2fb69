package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, 60.0, cfg.TickRateHz)
	require.Equal(t, "info", cfg.LogLevel)
	require.False(t, cfg.HasWarnings())
}

func TestLoadFromReaderParsesOptions(t *testing.T) {
	data := "tick-rate-hz 30\nlog.level debug\nfatal-on-error true\n"
	cfg, err := LoadFromReader(strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 30.0, cfg.TickRateHz)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.GetBool("fatal-on-error"))
}

func TestLoadFromReaderWarnsOnUnknownOption(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("not-a-real-option value\n"))
	require.NoError(t, err)
	require.True(t, cfg.HasWarnings())
}

func TestLoadFromReaderIgnoresCommentsAndBlankLines(t *testing.T) {
	data := "# a comment\n\ntick-rate-hz 45\n"
	cfg, err := LoadFromReader(strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 45.0, cfg.TickRateHz)
}
