package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSchemaResolvePrecedence(t *testing.T) {
	schema := DefaultSchema()
	cfg := NewConfig()

	require.Equal(t, "info", schema.Resolve(cfg, "log.level"))

	cfg.SetGlobalOption("log.level", "debug")
	require.Equal(t, "debug", schema.Resolve(cfg, "log.level"))
}

func TestValidateConfigFlagsUnknownAndMistypedOptions(t *testing.T) {
	schema := DefaultSchema()
	cfg := NewConfig()
	cfg.SetGlobalOption("verbose", "not-a-bool")
	cfg.SetGlobalOption("unknown-option", "x")

	issues := ValidateConfig(cfg, schema)
	require.Len(t, issues, 2)
}

func TestConfigTypedGetters(t *testing.T) {
	cfg := NewConfig()
	cfg.SetGlobalOption("snapshot.interval", "10")
	cfg.SetGlobalOption("verbose", "yes")

	require.Equal(t, 10, cfg.GetInt("snapshot.interval"))
	require.True(t, cfg.GetBool("verbose"))
	require.Equal(t, "fallback", cfg.GetStringDefault("missing", "fallback"))
}
