package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a mapping table.
type File struct {
	Version     int         `yaml:"version" json:"version"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Mappings    []EntryFile `yaml:"mappings" json:"mappings"`
}

type EntryFile struct {
	Panel     string           `yaml:"panel" json:"panel"`
	Element   string           `yaml:"element" json:"element"`
	Variable  string           `yaml:"variable" json:"variable"`
	Unit      string           `yaml:"unit,omitempty" json:"unit,omitempty"`
	Direction string           `yaml:"direction" json:"direction"`
	Event     string           `yaml:"event,omitempty" json:"event,omitempty"`
	Transform *TransformConfig `yaml:"transform,omitempty" json:"transform,omitempty"`
}

type Loader struct {
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load reads a mapping file. Relative paths are resolved against the search
// paths first, then the working directory.
func (l *Loader) Load(path string) ([]Entry, error) {
	data, foundPath, err := l.read(path)
	if err != nil {
		return nil, err
	}

	entries, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", foundPath, err)
	}
	return entries, nil
}

// Parse validates and decodes a YAML or JSON mapping document.
func (l *Loader) Parse(data []byte) ([]Entry, error) {
	// Schema validation runs on the generic form so YAML and JSON share one schema.
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("empty mapping document")
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize document: %w", err)
	}
	if err := l.validator.ValidateJSON(normalized); err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode mapping: %w", err)
	}

	return file.Entries()
}

func (l *Loader) read(path string) ([]byte, string, error) {
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		candidates = candidates[:0]
		for _, searchPath := range l.searchPaths {
			candidates = append(candidates, filepath.Join(searchPath, path))
		}
		candidates = append(candidates, path)
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return data, candidate, nil
		}
	}

	return nil, "", fmt.Errorf("mapping not found: %s (searched in: %v)", path, l.searchPaths)
}

// Entries converts the file form into table entries. Transform errors are
// reported as configuration errors of the offending entry.
func (f *File) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, len(f.Mappings))

	for i, m := range f.Mappings {
		element := types.PanelElement{
			Panel:   types.PanelID(m.Panel),
			Element: types.ElementID(m.Element),
		}

		var transform Transform = Identity{}
		if m.Transform != nil {
			t, err := NewTransform(*m.Transform)
			if err != nil {
				return nil, &types.ConfigurationError{Index: i, Element: element, Reason: err.Error()}
			}
			transform = t
		}

		entries = append(entries, Entry{
			Index:     i,
			Element:   element,
			Variable:  types.VariableID{Name: strings.TrimSpace(m.Variable), Unit: m.Unit},
			Direction: types.Direction(m.Direction),
			Transform: transform,
			Event:     m.Event,
		})
	}

	return entries, nil
}
