package hierarchy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"accounting/internal/model"
)

// Static is an in-memory Directory. It backs local development (loaded from a
// JSON file) and tests.
type Static struct {
	mu       sync.RWMutex
	parents  map[string]string
	children map[string][]string
	roles    map[string]map[string]model.ProjectRole
}

func NewStatic() *Static {
	return &Static{
		parents:  make(map[string]string),
		children: make(map[string][]string),
		roles:    make(map[string]map[string]model.ProjectRole),
	}
}

type staticFile struct {
	Projects []struct {
		ID      string                       `json:"id"`
		Parent  string                       `json:"parent"`
		Members map[string]model.ProjectRole `json:"members"`
	} `json:"projects"`
}

// LoadStatic reads a directory from a JSON file. Parents must be listed
// before their children.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hierarchy file: %w", err)
	}
	var f staticFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode hierarchy file: %w", err)
	}

	s := NewStatic()
	for _, p := range f.Projects {
		if err := s.AddProject(p.ID, p.Parent); err != nil {
			return nil, err
		}
		for username, role := range p.Members {
			s.SetRole(p.ID, username, role)
		}
	}
	return s, nil
}

// AddProject registers a project. An empty parent makes it a root.
func (s *Static) AddProject(id, parent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parents[id]; ok {
		return fmt.Errorf("hierarchy: project %q registered twice", id)
	}
	if parent != "" {
		if _, ok := s.parents[parent]; !ok {
			return fmt.Errorf("%w: parent %q of %q", ErrUnknownProject, parent, id)
		}
		s.children[parent] = append(s.children[parent], id)
	}
	s.parents[id] = parent
	return nil
}

func (s *Static) SetRole(projectID, username string, role model.ProjectRole) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roles[projectID] == nil {
		s.roles[projectID] = make(map[string]model.ProjectRole)
	}
	s.roles[projectID][username] = role
}

func (s *Static) Ancestors(_ context.Context, projectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.parents[projectID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProject, projectID)
	}

	var path []string
	for id := projectID; id != ""; id = s.parents[id] {
		path = append(path, id)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

func (s *Static) Subprojects(_ context.Context, projectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.parents[projectID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProject, projectID)
	}

	var out []string
	queue := append([]string(nil), s.children[projectID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		queue = append(queue, s.children[id]...)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Static) MemberRole(_ context.Context, projectID, username string) (model.ProjectRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.parents[projectID]; !ok {
		return model.ProjectRoleNone, fmt.Errorf("%w: %q", ErrUnknownProject, projectID)
	}
	return s.roles[projectID][username], nil
}
