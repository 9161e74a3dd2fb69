// Package config loads btree's process-level configuration: default tick
// rate, log level/destination, snapshot policy, and descriptor search paths.
// It deliberately knows nothing about behavior trees themselves — internal/bt
// only ever sees the resolved scalar values, never a *Config.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config represents btree's resolved process configuration, plus a small set
// of typed conveniences used directly by cmd/btree.
type Config struct {
	// Global holds every option as parsed from the config file, keyed by its
	// dotted option name (e.g. "log.level").
	Global map[string]string
	// Warnings accumulates non-fatal issues found while loading (unknown
	// options, type mismatches).
	Warnings []string

	// TickRateHz is the default scheduler tick frequency for `btree run`.
	TickRateHz float64
	// LogLevel is the default slog level name: debug, info, warn, error.
	LogLevel string
	// LogFile is the default log destination path, or "" for stderr.
	LogFile string
	// SnapshotInterval is the default number of ticks between automatic
	// snapshots (0 disables periodic snapshotting).
	SnapshotInterval int
	// DescriptorPaths are directories searched for a tree descriptor file
	// when one isn't given explicitly on the command line.
	DescriptorPaths []string
}

// NewConfig creates a configuration populated with schema defaults.
func NewConfig() *Config {
	schema := DefaultSchema()
	c := &Config{
		Global:   make(map[string]string),
		Warnings: make([]string, 0),
	}
	c.applyDefaults(schema)
	return c
}

func (c *Config) applyDefaults(schema *ConfigSchema) {
	c.TickRateHz = 60
	c.LogLevel = "info"
	c.LogFile = ""
	c.SnapshotInterval = 0
	c.DescriptorPaths = []string{"./trees"}
	for _, opt := range schema.GlobalOptions() {
		if opt.Default != "" {
			c.Global[opt.Key] = opt.Default
		}
	}
}

// Load loads configuration from the default config file path, falling back
// to schema defaults if the file does not exist.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from the specified file path.
// The file uses a dnsmasq-style format: optionName remainingLineIsTheValue.
//
// SECURITY: this function rejects symlinks to prevent symlink attacks that
// could read sensitive files through symlink traversal.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader loads configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := NewConfig()
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		optionName := parts[0]
		var value string
		if len(parts) > 1 {
			value = strings.TrimSpace(parts[1])
		}
		cfg.Global[optionName] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	for _, issue := range ValidateConfig(cfg, DefaultSchema()) {
		cfg.addWarning("%s", issue)
	}
	cfg.resolveTypedFields()

	return cfg, nil
}

// resolveTypedFields copies parsed Global options into the typed
// convenience fields, applying schema defaults for anything absent.
func (c *Config) resolveTypedFields() {
	schema := DefaultSchema()
	if v := schema.Resolve(c, "tick-rate-hz"); v != "" {
		if f, err := parseFloat(v); err == nil {
			c.TickRateHz = f
		}
	}
	if v := schema.Resolve(c, "log.level"); v != "" {
		c.LogLevel = v
	}
	if v := schema.Resolve(c, "log.file"); v != "" {
		c.LogFile = v
	}
	if v := schema.Resolve(c, "snapshot.interval"); v != "" {
		c.SnapshotInterval = c.GetInt("snapshot.interval")
	}
	if v := schema.Resolve(c, "descriptor.paths"); v != "" {
		c.DescriptorPaths = strings.Split(v, string(os.PathListSeparator))
	}
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	return f, err
}

func (c *Config) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("[config] " + msg)
}

// GetGlobalOption returns a global configuration option.
func (c *Config) GetGlobalOption(name string) (string, bool) {
	value, exists := c.Global[name]
	return value, exists
}

// SetGlobalOption sets a global configuration option.
func (c *Config) SetGlobalOption(name, value string) {
	c.Global[name] = value
}

// GetWarnings returns any warnings generated during config loading.
func (c *Config) GetWarnings() []string {
	return c.Warnings
}

// HasWarnings returns true if there are any warnings.
func (c *Config) HasWarnings() bool {
	return len(c.Warnings) > 0
}

// parseBool parses a boolean value from string.
// Accepts: true, false, 1, 0, yes, no, on, off (case-insensitive).
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}
