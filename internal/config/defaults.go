package config

import (
	"github.com/leapstack-labs/flowsql/internal/resolver"
	"github.com/leapstack-labs/flowsql/internal/state"
	"github.com/leapstack-labs/flowsql/internal/sqlgen"
)

// Default configuration values.
const (
	DefaultDialect     = "ansi"
	DefaultMode        = string(sqlgen.ModeView)
	DefaultAliasPrefix = resolver.DefaultAliasPrefix
	DefaultStatePath   = state.DefaultPath
	DefaultOutput      = "auto" // TTY: text, otherwise markdown
	DefaultParallelism = 4
)

// OutputFormats are the accepted values of output.
var OutputFormats = []string{"auto", "text", "markdown", "json"}

func defaults() map[string]any {
	return map[string]any{
		"dialect":      DefaultDialect,
		"mode":         DefaultMode,
		"alias_prefix": DefaultAliasPrefix,
		"state_path":   DefaultStatePath,
		"output":       DefaultOutput,
		"verbose":      false,
		"parallelism":  DefaultParallelism,
		"out_dir":      "",
	}
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	return &Config{
		Dialect:     DefaultDialect,
		Mode:        DefaultMode,
		AliasPrefix: DefaultAliasPrefix,
		StatePath:   DefaultStatePath,
		Output:      DefaultOutput,
		Parallelism: DefaultParallelism,
	}
}
