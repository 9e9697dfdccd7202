// Package kinds decodes the settings tree of each node kind into typed options.
//
// The resolver and the SQL generators read node settings only through this
// package, so both always agree on what a node is configured to do.
package kinds

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/flowsql/pkg/settings"
)

// ModelKey is the block most node settings live under.
const ModelKey = "model"

var (
	// ErrMissingSetting is returned when a required setting is absent or empty.
	ErrMissingSetting = errors.New("missing setting")
	// ErrInvalidSetting is returned when a setting holds a value the kind cannot use.
	ErrInvalidSetting = errors.New("invalid setting")
)

// Model returns the block holding a node's options: the "model" child when
// there is one, otherwise the tree itself.
func Model(cfg *settings.Config) *settings.Config {
	if m := cfg.Child(ModelKey); m != nil {
		return m
	}
	return cfg
}

func missing(path ...string) error {
	return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(path, "/"))
}

func invalid(key, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidSetting, key, fmt.Sprintf(format, args...))
}

// requireText returns a non-empty string setting.
func requireText(cfg *settings.Config, key string) (string, error) {
	if s, ok := cfg.Text(key); ok {
		return s, nil
	}
	return "", missing(key)
}

// requireArray returns the values of an array-encoded child block, failing
// only when the block does not exist.
func requireArray(cfg *settings.Config, key string) ([]string, []string, error) {
	block := cfg.Child(key)
	if block == nil {
		return nil, nil, missing(key)
	}
	values, skipped := settings.ArrayValues(block)
	return values, prefixed(key, skipped), nil
}

func optionalArray(cfg *settings.Config, key string) ([]string, []string) {
	values, skipped := settings.ArrayValues(cfg.Child(key))
	return values, prefixed(key, skipped)
}

func prefixed(key string, skipped []string) []string {
	if len(skipped) == 0 {
		return nil
	}
	out := make([]string, len(skipped))
	for i, s := range skipped {
		out[i] = key + "/" + s
	}
	return out
}

// normalize lowercases s and strips spaces, dashes and underscores so that
// "Replace both", "REPLACE_BOTH" and "replaceBoth" compare equal.
func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}
