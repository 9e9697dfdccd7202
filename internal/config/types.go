// Package config loads flowsql project configuration.
//
// Configuration is layered with koanf. Later layers win:
//
//  1. built-in defaults
//  2. flowsql.yaml (or flowsql.yml), found by searching upward from the
//     working directory
//  3. FLOWSQL_ environment variables (FLOWSQL_DIALECT, FLOWSQL_DIALECT_PARAMS__SCHEMA)
//  4. command-line flags that were explicitly set
package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/flowsql/internal/sqlgen"
	"github.com/leapstack-labs/flowsql/pkg/dialect"
)

// Config holds all project configuration options.
type Config struct {
	Dialect       string         `koanf:"dialect"`
	Mode          string         `koanf:"mode"`
	AliasPrefix   string         `koanf:"alias_prefix"`
	StatePath     string         `koanf:"state_path"`
	Output        string         `koanf:"output"`
	Verbose       bool           `koanf:"verbose"`
	Parallelism   int            `koanf:"parallelism"`
	OutDir        string         `koanf:"out_dir"`
	DialectParams map[string]any `koanf:"dialect_params"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// Validate checks the values that commands cannot work around.
func (c *Config) Validate() error {
	if _, err := dialect.Lookup(c.Dialect); err != nil {
		return &ValidationError{Field: "dialect", Value: c.Dialect, Message: "available: " + strings.Join(dialect.List(), ", ")}
	}
	if _, err := sqlgen.ParseMode(c.Mode); err != nil {
		return &ValidationError{Field: "mode", Value: c.Mode, Message: "must be view or cte"}
	}
	if !slices.Contains(OutputFormats, c.Output) {
		return &ValidationError{Field: "output", Value: c.Output, Message: "must be one of " + strings.Join(OutputFormats, ", ")}
	}
	if c.Parallelism < 0 {
		return &ValidationError{Field: "parallelism", Value: c.Parallelism, Message: "must not be negative"}
	}
	if c.AliasPrefix == "" || strings.ContainsAny(c.AliasPrefix, ` "'`+"`") {
		return &ValidationError{Field: "alias_prefix", Value: fmt.Sprintf("%q", c.AliasPrefix), Message: "must be a non-empty identifier prefix"}
	}
	if _, err := c.Params(); err != nil {
		return &ValidationError{Field: "dialect_params", Value: c.DialectParams, Message: err.Error()}
	}
	return nil
}

// Params decodes dialect_params.
func (c *Config) Params() (dialect.Params, error) {
	var p dialect.Params
	if len(c.DialectParams) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(c.DialectParams); err != nil {
		return p, err
	}
	return p, nil
}

// SQLDialect returns the configured dialect with dialect_params applied.
func (c *Config) SQLDialect() (*dialect.Dialect, error) {
	d, err := dialect.Lookup(c.Dialect)
	if err != nil {
		return nil, err
	}
	p, err := c.Params()
	if err != nil {
		return nil, fmt.Errorf("invalid dialect_params: %w", err)
	}
	return d.WithParams(p), nil
}

// SQLMode returns the configured composition mode.
func (c *Config) SQLMode() (sqlgen.Mode, error) {
	return sqlgen.ParseMode(c.Mode)
}
