// Package registry provides the named-workflow store: saved workflow IR
// files addressable by name, with reserved-name enforcement on save.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spinje/pflow/internal/ir"
)

// reservedNames may not be used as saved workflow names; they collide with
// tooling keywords or reserved node types.
var reservedNames = map[string]bool{
	"null": true, "undefined": true, "none": true, "test": true,
	"settings": true, "registry": true, "workflow": true, "mcp": true,
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// WorkflowStore loads and saves named workflows in a directory. Files are
// JSON or YAML, either a raw IR or an IR wrapped under a top-level "ir"
// key alongside metadata.
type WorkflowStore struct {
	dir string
}

// NewWorkflowStore creates a store rooted at dir.
func NewWorkflowStore(dir string) *WorkflowStore {
	return &WorkflowStore{dir: dir}
}

// Path returns the file path for a saved workflow name, trying the
// supported extensions in order.
func (s *WorkflowStore) Path(name string) (string, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		p := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("workflow %q not found in %s: %w", name, s.dir, os.ErrNotExist)
}

// Load returns the workflow saved under name along with its resolved file
// path (used for sub-workflow cycle detection).
func (s *WorkflowStore) Load(name string) (*ir.Workflow, string, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, "", err
	}
	wf, err := LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return wf, path, nil
}

// Save writes the workflow as JSON under name, rejecting reserved and
// malformed names.
func (s *WorkflowStore) Save(name string, wf *ir.Workflow) (string, error) {
	if reservedNames[strings.ToLower(name)] {
		return "", fmt.Errorf("workflow name %q is reserved", name)
	}
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("workflow name %q is invalid: must match %s", name, namePattern)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create workflows dir: %w", err)
	}
	data, err := json.MarshalIndent(wf.Normalized(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode workflow: %w", err)
	}
	path := filepath.Join(s.dir, name+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write workflow: %w", err)
	}
	return path, nil
}

// List returns the names of all saved workflows.
func (s *WorkflowStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		switch ext {
		case ".json", ".yaml", ".yml":
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	return names, nil
}

// LoadFile reads a workflow IR from a JSON or YAML file. A document with a
// top-level "ir" key has its IR extracted; metadata around it is ignored.
func LoadFile(path string) (*ir.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse workflow YAML %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse workflow JSON %s: %w", path, err)
		}
	}

	return FromDocument(doc, path)
}

// FromDocument extracts a workflow from its parsed document form, handling
// the metadata-wrapped shape.
func FromDocument(doc map[string]any, path string) (*ir.Workflow, error) {
	if inner, ok := doc["ir"].(map[string]any); ok {
		doc = inner
	}
	if _, ok := doc["nodes"]; !ok {
		return nil, fmt.Errorf("workflow %s: missing 'nodes'", path)
	}
	wf, err := ir.FromMap(doc)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return wf, nil
}
