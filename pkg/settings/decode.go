package settings

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// rawConfig is the on-disk shape of a block. "entry" and "config" may each be
// a single object or a list.
type rawConfig struct {
	Key    string    `yaml:"key"`
	Entry  yaml.Node `yaml:"entry"`
	Config yaml.Node `yaml:"config"`
}

type rawConfigJSON struct {
	Key    string          `json:"key"`
	Entry  json.RawMessage `json:"entry"`
	Config json.RawMessage `json:"config"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw rawConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.Key = raw.Key

	entries, err := decodeYAMLOneOrMany[Entry](&raw.Entry)
	if err != nil {
		return fmt.Errorf("block %q: entry: %w", raw.Key, err)
	}
	c.Entries = entries

	children, err := decodeYAMLOneOrMany[*Config](&raw.Config)
	if err != nil {
		return fmt.Errorf("block %q: config: %w", raw.Key, err)
	}
	c.Children = children
	return nil
}

func decodeYAMLOneOrMany[T any](node *yaml.Node) ([]T, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
		var out []T
		if err := node.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	case yaml.MappingNode:
		var one T
		if err := node.Decode(&one); err != nil {
			return nil, err
		}
		return []T{one}, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("line %d: expected object or list", node.Line)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw rawConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Key = raw.Key

	entries, err := decodeJSONOneOrMany[Entry](raw.Entry)
	if err != nil {
		return fmt.Errorf("block %q: entry: %w", raw.Key, err)
	}
	c.Entries = entries

	children, err := decodeJSONOneOrMany[*Config](raw.Config)
	if err != nil {
		return fmt.Errorf("block %q: config: %w", raw.Key, err)
	}
	c.Children = children
	return nil
}

func decodeJSONOneOrMany[T any](data json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	case '{':
		var one T
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, err
		}
		return []T{one}, nil
	}
	return nil, fmt.Errorf("expected object or list, got %q", string(trimmed[:1]))
}

// MarshalJSON implements json.Marshaler, always writing lists.
func (c *Config) MarshalJSON() ([]byte, error) {
	type out struct {
		Key    string    `json:"key"`
		Entry  []Entry   `json:"entry,omitempty"`
		Config []*Config `json:"config,omitempty"`
	}
	return json.Marshal(out{Key: c.Key, Entry: c.Entries, Config: c.Children})
}

// New returns an empty block named key.
func New(key string) *Config {
	return &Config{Key: key}
}

// Set adds a string entry and returns c for chaining.
func (c *Config) Set(key, value string) *Config {
	c.Entries = append(c.Entries, Entry{Key: key, Type: TypeString, Value: value})
	return c
}

// SetBool adds a boolean entry and returns c for chaining.
func (c *Config) SetBool(key string, value bool) *Config {
	c.Entries = append(c.Entries, Entry{Key: key, Type: TypeBoolean, Value: strconv.FormatBool(value)})
	return c
}

// SetInt adds an integer entry and returns c for chaining.
func (c *Config) SetInt(key string, value int) *Config {
	c.Entries = append(c.Entries, Entry{Key: key, Type: TypeInt, Value: strconv.Itoa(value)})
	return c
}

// SetNull adds an explicit null entry and returns c for chaining.
func (c *Config) SetNull(key string) *Config {
	c.Entries = append(c.Entries, Entry{Key: key, Type: TypeNull, IsNull: true})
	return c
}

// Add appends child blocks and returns c for chaining.
func (c *Config) Add(children ...*Config) *Config {
	c.Children = append(c.Children, children...)
	return c
}
