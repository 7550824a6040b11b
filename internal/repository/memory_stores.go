package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/models"
)

type MemoryProjectStore struct {
	mu       sync.RWMutex
	projects map[string]models.Project
}

func NewMemoryProjectStore() *MemoryProjectStore {
	return &MemoryProjectStore{projects: make(map[string]models.Project)}
}

func (s *MemoryProjectStore) Create(ctx context.Context, project models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[project.Name]; ok {
		return &lifecycle.Error{Kind: lifecycle.KindDuplicate, Message: "project " + project.Name + " already exists"}
	}
	s.projects[project.Name] = project
	return nil
}

func (s *MemoryProjectStore) Get(ctx context.Context, name string) (models.Project, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[name]
	return p, ok, nil
}

func (s *MemoryProjectStore) List(ctx context.Context) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type MemoryAuditStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []models.AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(ctx context.Context, entry models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) ForTask(ctx context.Context, taskID string) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.AuditEntry{}
	for _, e := range s.entries {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	// Creation and mutation events are delivered on separate subscribers.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
