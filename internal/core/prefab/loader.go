package prefab

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document describes prefabs in JSON or YAML. Component types are named
// "package:Local" (or just "Local" when unambiguous); field values are
// decoded through the component's codecs.
type Document struct {
	Prefabs []Spec `json:"prefabs" yaml:"prefabs"`
}

type Spec struct {
	Name       string          `json:"name" yaml:"name"`
	Parent     string          `json:"parent,omitempty" yaml:"parent,omitempty"`
	Components []ComponentSpec `json:"components" yaml:"components"`
}

type ComponentSpec struct {
	Type   string         `json:"type" yaml:"type"`
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// LoadJSON decodes a document from JSON.
func LoadJSON(r io.Reader) (*Document, error) {
	var d Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode prefab document: %w", err)
	}
	return &d, nil
}

// LoadYAML decodes a document from YAML.
func LoadYAML(r io.Reader) (*Document, error) {
	var d Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return &d, nil
		}
		return nil, fmt.Errorf("decode prefab document: %w", err)
	}
	return &d, nil
}

// LoadFile picks the decoder from the file extension.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(f)
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return nil, fmt.Errorf("prefab document %s: unsupported extension", path)
	}
}

// Apply defines every prefab of the document in order and returns the names
// defined. It stops at the first failure; prefabs defined before it stay.
func (d *Document) Apply(s *Store) ([]string, error) {
	defined := make([]string, 0, len(d.Prefabs))
	for _, spec := range d.Prefabs {
		prototypes := make([]any, 0, len(spec.Components))
		for _, cs := range spec.Components {
			meta, err := s.components.Resolve(cs.Type)
			if err != nil {
				return defined, fmt.Errorf("prefab %q: %w", spec.Name, err)
			}
			var fields any
			if cs.Fields != nil {
				fields = cs.Fields
			}
			v, err := meta.Decode(fields)
			if err != nil {
				return defined, fmt.Errorf("prefab %q: %w", spec.Name, err)
			}
			prototypes = append(prototypes, v)
		}
		if err := s.Define(spec.Name, prototypes, spec.Parent); err != nil {
			return defined, err
		}
		defined = append(defined, spec.Name)
	}
	return defined, nil
}
