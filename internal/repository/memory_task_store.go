package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/lock"
	"github.com/TWRT/task-lifecycle/internal/models"
)

// MemoryTaskStore keeps tasks in process. Writes to one task serialize on a
// per-task mutex; the map itself is guarded separately and only briefly.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]models.Task
	keys  *lock.KeyedMutex
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]models.Task),
		keys:  lock.NewKeyedMutex(),
	}
}

func (s *MemoryTaskStore) Resolve(ctx context.Context, ref models.TaskRef) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []models.Task
	for _, t := range s.tasks {
		if t.Sheet != ref.Sheet || t.Number != ref.Number {
			continue
		}
		if ref.Project != "" && t.Project != ref.Project {
			continue
		}
		hits = append(hits, t)
	}
	return pickResolved(ref, hits)
}

func (s *MemoryTaskStore) Get(ctx context.Context, id string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, &lifecycle.Error{Kind: lifecycle.KindNotFound, Message: "task " + id + " not found"}
	}
	return t.Clone(), nil
}

func (s *MemoryTaskStore) CompareAndSwap(ctx context.Context, expectedVersion int, next models.Task) (bool, error) {
	if next.Version != expectedVersion+1 {
		return false, fmt.Errorf("compare and swap: next version %d does not follow %d", next.Version, expectedVersion)
	}

	swapped := false
	err := s.keys.With(next.ID, func() error {
		s.mu.RLock()
		cur, ok := s.tasks[next.ID]
		s.mu.RUnlock()
		if !ok {
			return &lifecycle.Error{Kind: lifecycle.KindNotFound, Message: "task " + next.ID + " not found"}
		}
		if cur.Version != expectedVersion {
			return nil
		}

		s.mu.Lock()
		s.tasks[next.ID] = next.Clone()
		s.mu.Unlock()
		swapped = true
		return nil
	})
	return swapped, err
}

func (s *MemoryTaskStore) Insert(ctx context.Context, task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("insert task: id %s already exists", task.ID)
	}
	for _, t := range s.tasks {
		if t.Project == task.Project && t.Sheet == task.Sheet && t.Number == task.Number {
			return &lifecycle.Error{
				Kind:    lifecycle.KindDuplicate,
				Message: "number " + strconv.Itoa(task.Number) + " already used in " + task.Project + "/" + task.Sheet,
			}
		}
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryTaskStore) List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if matches(t, filter) {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *MemoryTaskStore) Numbers(ctx context.Context, project, sheet string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nums []int
	for _, t := range s.tasks {
		if t.Project == project && t.Sheet == sheet {
			nums = append(nums, t.Number)
		}
	}
	slices.Sort(nums)
	return nums, nil
}

func matches(t models.Task, f models.TaskFilter) bool {
	switch {
	case f.Project != "" && t.Project != f.Project:
		return false
	case f.Sheet != "" && t.Sheet != f.Sheet:
		return false
	case f.Category != "" && t.Category != f.Category:
		return false
	case f.InProgress && t.OwnerOperator == "":
		return false
	}
	return true
}

func sortTasks(tasks []models.Task) {
	slices.SortFunc(tasks, func(a, b models.Task) int {
		return cmp.Or(
			cmp.Compare(a.Project, b.Project),
			cmp.Compare(a.Phase, b.Phase),
			cmp.Compare(a.Sheet, b.Sheet),
			cmp.Compare(a.Number, b.Number),
		)
	})
}

func pickResolved(ref models.TaskRef, hits []models.Task) (models.Task, error) {
	switch len(hits) {
	case 0:
		return models.Task{}, lifecycle.NotFound(ref)
	case 1:
		return hits[0].Clone(), nil
	}
	return models.Task{}, &lifecycle.Error{
		Kind:    lifecycle.KindAmbiguous,
		Message: fmt.Sprintf("task %s/%d exists in %d projects; specify the project", ref.Sheet, ref.Number, len(hits)),
	}
}
