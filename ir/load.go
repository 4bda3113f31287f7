package ir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a workflow IR file, dispatching to YAML or JSON by
// extension (.yaml/.yml vs everything else).
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path supplied by the CLI operator
	if err != nil {
		return nil, fmt.Errorf("ir: read %s: %w", path, err)
	}

	var wf Workflow
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("ir: parse yaml %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("ir: parse json %s: %w", path, err)
		}
	}
	return &wf, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
