// Package loader reads workflow declaration files.
//
// A declaration file lists nodes and connections in YAML or JSON:
//
//	name: orders
//	nodes:
//	  - id: 1
//	    kind: csv_reader
//	    settings: {key: model, entry: [...], config: [...]}
//	connections:
//	  - {source: 1, dest: 2, dest_port: 0}
//
// A node names its type with either "kind" (a short kind name) or "factory"
// (the factory name the workflow tool wrote). Problems with the file itself
// are returned as errors; problems with the graph it describes are left to
// the resolver.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/flowsql/pkg/core"
	"github.com/leapstack-labs/flowsql/pkg/settings"
)

// Format is the encoding of a declaration file.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported workflow format")

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// DecodeError reports a malformed declaration file.
type DecodeError struct {
	File    string
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

func (e *DecodeError) Unwrap() error { return e.Err }

type workflowFile struct {
	Name        string           `yaml:"name" json:"name"`
	Nodes       []nodeFile       `yaml:"nodes" json:"nodes"`
	Connections []connectionFile `yaml:"connections" json:"connections"`
}

type nodeFile struct {
	ID       *int             `yaml:"id" json:"id"`
	Kind     string           `yaml:"kind" json:"kind"`
	Factory  string           `yaml:"factory" json:"factory"`
	Name     string           `yaml:"name" json:"name"`
	Settings *settings.Config `yaml:"settings" json:"settings"`
}

type connectionFile struct {
	Source     *int `yaml:"source" json:"source"`
	Dest       *int `yaml:"dest" json:"dest"`
	SourcePort *int `yaml:"source_port" json:"source_port"`
	DestPort   *int `yaml:"dest_port" json:"dest_port"`
}

// LoadFile reads and decodes the declaration file at path. A workflow without
// a name is named after the file.
func LoadFile(path string) (*core.Workflow, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	wf, err := Decode(data, format)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.File = path
		}
		return nil, err
	}
	if wf.Name == "" {
		wf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return wf, nil
}

// Decode parses a declaration. Unknown fields are rejected.
func Decode(data []byte, format Format) (*core.Workflow, error) {
	var raw workflowFile
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, &DecodeError{Message: fmt.Sprintf("invalid YAML: %v", err), Err: err}
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, &DecodeError{Message: fmt.Sprintf("invalid JSON: %v", err), Err: err}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return raw.workflow()
}

func (f *workflowFile) workflow() (*core.Workflow, error) {
	wf := &core.Workflow{
		Name:        f.Name,
		Nodes:       make([]core.NodeDecl, 0, len(f.Nodes)),
		Connections: make([]core.Connection, 0, len(f.Connections)),
	}

	for i, n := range f.Nodes {
		if n.ID == nil {
			return nil, &DecodeError{Message: fmt.Sprintf("nodes[%d]: missing id", i)}
		}
		if *n.ID < 0 {
			return nil, &DecodeError{Message: fmt.Sprintf("nodes[%d]: negative id %d", i, *n.ID)}
		}
		factory := n.Factory
		if factory == "" {
			factory = n.Kind
		}
		if factory == "" {
			return nil, &DecodeError{Message: fmt.Sprintf("node %d: declares neither kind nor factory", *n.ID)}
		}
		kind, _ := core.ParseKind(factory)
		if n.Kind != "" {
			kind, _ = core.ParseKind(n.Kind)
		}
		wf.Nodes = append(wf.Nodes, core.NodeDecl{
			ID:       core.NodeID(*n.ID),
			Kind:     kind,
			Factory:  factory,
			Name:     n.Name,
			Settings: n.Settings,
		})
	}

	for i, c := range f.Connections {
		if c.Source == nil || c.Dest == nil {
			return nil, &DecodeError{Message: fmt.Sprintf("connections[%d]: source and dest are required", i)}
		}
		for _, v := range []*int{c.Source, c.Dest, c.SourcePort, c.DestPort} {
			if v != nil && *v < 0 {
				return nil, &DecodeError{Message: fmt.Sprintf("connections[%d]: negative value %d", i, *v)}
			}
		}
		wf.Connections = append(wf.Connections, core.Connection{
			Source:     core.NodeID(*c.Source),
			Dest:       core.NodeID(*c.Dest),
			SourcePort: c.SourcePort,
			DestPort:   c.DestPort,
		})
	}
	return wf, nil
}

// Discover expands paths into declaration files. Directories are walked
// recursively for .yaml, .yml and .json files; files are returned as given.
// The result is sorted and free of duplicates.
func Discover(paths ...string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			add(filepath.Clean(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if _, err := FormatFromPath(path); err == nil {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}
	sort.Strings(out)
	return out, nil
}
