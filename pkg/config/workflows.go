// Package config loads workflow definitions from YAML or JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/automata/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrNoDefinitions = errors.New("no workflow definitions found")

// Definition is one workflow read from a file.
type Definition struct {
	Source   string
	Workflow *models.Workflow
}

var extensions = []string{".yaml", ".yml", ".json"}

// LoadWorkflows reads every definition under path. path is a file or a directory whose
// .yaml, .yml and .json files are read in name order. A file holds one workflow per YAML
// document, or a list under a top-level "workflows" key. Keys use the API field names, e.g.
// trigger_type and error_handling; unknown keys are rejected.
func LoadWorkflows(path string) ([]Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	files := []string{path}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}

		files = files[:0]

		for _, entry := range entries {
			if entry.IsDir() || !slices.Contains(extensions, strings.ToLower(filepath.Ext(entry.Name()))) {
				continue
			}

			files = append(files, filepath.Join(path, entry.Name()))
		}
	}

	var defs []Definition

	for _, file := range files {
		loaded, err := LoadFile(file)
		if err != nil {
			return nil, err
		}

		defs = append(defs, loaded...)
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDefinitions, path)
	}

	return defs, nil
}

// LoadFile reads the definitions of one file.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	workflows, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	defs := make([]Definition, 0, len(workflows))
	for i, wf := range workflows {
		source := path
		if len(workflows) > 1 {
			source = fmt.Sprintf("%s#%d", path, i)
		}

		defs = append(defs, Definition{Source: source, Workflow: wf})
	}

	return defs, nil
}

// Parse decodes the workflows of a YAML or JSON document stream.
func Parse(data []byte) ([]*models.Workflow, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	var workflows []*models.Workflow

	for i := 0; ; i++ {
		var doc any

		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to parse document %d: %w", i, err)
		}

		if doc == nil {
			continue
		}

		items := []any{doc}

		if m, ok := doc.(map[string]any); ok {
			if list, found := m["workflows"]; found {
				seq, ok := list.([]any)
				if !ok {
					return nil, fmt.Errorf("document %d: workflows must be a list", i)
				}

				items = seq
			}
		}

		for j, item := range items {
			wf, err := decodeWorkflow(item)
			if err != nil {
				return nil, fmt.Errorf("document %d, workflow %d: %w", i, j, err)
			}

			workflows = append(workflows, wf)
		}
	}

	return workflows, nil
}

// decodeWorkflow goes through JSON so the model's json tags and raw trigger/node data apply.
func decodeWorkflow(item any) (*models.Workflow, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	var wf models.Workflow
	if err := decoder.Decode(&wf); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	return &wf, nil
}
