package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flowpilot/flowpilot/common/models"
)

// ErrExists is wrapped when creating a workflow whose file already exists.
var ErrExists = fmt.Errorf("workflow already exists")

// ErrNotFound is wrapped when a workflow file is absent.
var ErrNotFound = fmt.Errorf("workflow not found")

// Store manages workflow documents as YAML files under one directory. The
// file name (minus extension) must equal the inner name.
type Store struct {
	dir string
}

// NewStore creates a workflow file store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the on-disk path for a workflow name, preferring an existing
// .yaml or .yml file.
func (s *Store) Path(name string) string {
	yamlPath := filepath.Join(s.dir, name+".yaml")
	ymlPath := filepath.Join(s.dir, name+".yml")
	if _, err := os.Stat(ymlPath); err == nil {
		if _, err := os.Stat(yamlPath); err != nil {
			return ymlPath
		}
	}
	return yamlPath
}

// Exists reports whether a workflow file is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// List returns all workflow names, sorted, optionally filtered by substring.
func (s *Store) List(search string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		if search != "" && !strings.Contains(name, search) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load parses the named workflow and verifies its inner name matches.
func (s *Store) Load(name string) (*models.Workflow, error) {
	path := s.Path(name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	wf, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	if wf.Name != name {
		return nil, fmt.Errorf("workflow file %s declares name %q", filepath.Base(path), wf.Name)
	}
	return wf, nil
}

// Raw returns the raw document bytes.
func (s *Store) Raw(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	return data, nil
}

// Create validates content and writes a new workflow file. The declared name
// must equal the given name and the file must not already exist.
func (s *Store) Create(name string, content []byte) (*models.Workflow, error) {
	wf, err := Parse(content)
	if err != nil {
		return nil, err
	}
	if wf.Name != name {
		return nil, fmt.Errorf("document name %q does not match %q", wf.Name, name)
	}
	if s.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workflows directory: %w", err)
	}
	if err := os.WriteFile(s.Path(name), content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write workflow: %w", err)
	}
	return wf, nil
}

// Update validates content and replaces an existing workflow file.
func (s *Store) Update(name string, content []byte) (*models.Workflow, error) {
	wf, err := Parse(content)
	if err != nil {
		return nil, err
	}
	if wf.Name != name {
		return nil, fmt.Errorf("document name %q does not match %q", wf.Name, name)
	}
	if !s.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.WriteFile(s.Path(name), content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write workflow: %w", err)
	}
	return wf, nil
}

// Delete removes a workflow file.
func (s *Store) Delete(name string) error {
	path := s.Path(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}
