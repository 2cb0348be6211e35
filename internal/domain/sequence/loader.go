package sequence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads, normalizes, and validates a single Spec from a YAML file.
func LoadFromFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		return nil, fmt.Errorf("read sequence file %s: %w", path, err)
	}

	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse sequence file %s: %w", path, err)
	}

	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate sequence file %s: %w", path, err)
	}

	return &s, nil
}

// LoadFromDirectory reads all .yaml/.yml files from a directory and returns
// the specs they define. A missing directory returns an empty slice, not an
// error, so a fresh install with no sequences still starts.
func LoadFromDirectory(dir string) ([]Spec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sequence directory %s: %w", dir, err)
	}

	var specs []Spec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		s, err := LoadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		specs = append(specs, *s)
	}

	return specs, nil
}
