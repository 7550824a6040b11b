package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWRT/task-lifecycle/internal/models"
)

var fixedTime = time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

// stubStore holds a single task and lets tests inject failures or a
// competing write between read and swap.
type stubStore struct {
	task       models.Task
	resolveErr error
	casErr     error
	beforeCAS  func(s *stubStore)
	swaps      int
}

func (s *stubStore) Resolve(ctx context.Context, ref models.TaskRef) (models.Task, error) {
	if s.resolveErr != nil {
		return models.Task{}, s.resolveErr
	}
	return s.task.Clone(), nil
}

func (s *stubStore) Get(ctx context.Context, id string) (models.Task, error) {
	return s.task.Clone(), nil
}

func (s *stubStore) CompareAndSwap(ctx context.Context, expectedVersion int, next models.Task) (bool, error) {
	if s.beforeCAS != nil {
		s.beforeCAS(s)
	}
	if s.casErr != nil {
		return false, s.casErr
	}
	if s.task.Version != expectedVersion {
		return false, nil
	}
	s.task = next.Clone()
	s.swaps++
	return true, nil
}

func newStub() *stubStore {
	return &stubStore{task: models.Task{ID: "t1", Sheet: "Backlog", Number: 1, Version: 3}}
}

var stubRef = models.TaskRef{Sheet: "Backlog", Number: 1}

func rename(name string) Mutation {
	return func(t *models.Task) (bool, error) {
		t.Name = name
		return true, nil
	}
}

func TestApply_Commits(t *testing.T) {
	store := newStub()
	g := NewVersionGuard(store, func() time.Time { return fixedTime }, nil)

	c, err := g.Apply(context.Background(), stubRef, 3, rename("new"))
	require.NoError(t, err)
	assert.True(t, c.Changed)
	assert.Equal(t, 3, c.Before.Version)
	assert.Equal(t, 4, c.After.Version)
	assert.Equal(t, fixedTime, c.After.UpdatedAt)
	assert.Equal(t, "new", store.task.Name)
}

func TestApply_StaleVersion(t *testing.T) {
	store := newStub()
	g := NewVersionGuard(store, nil, nil)

	_, err := g.Apply(context.Background(), stubRef, 2, rename("new"))
	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindVersionConflict, le.Kind)
	assert.Equal(t, 3, le.Current.Version)
	assert.Zero(t, store.swaps)
}

func TestApply_LostRaceReportsWinner(t *testing.T) {
	store := newStub()
	store.beforeCAS = func(s *stubStore) {
		s.beforeCAS = nil
		s.task.Version = 4
		s.task.OwnerOperator = "winner"
	}
	g := NewVersionGuard(store, nil, nil)

	_, err := g.Apply(context.Background(), stubRef, 3, rename("loser"))
	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindVersionConflict, le.Kind)
	assert.Equal(t, "winner", le.Owner)
	assert.Equal(t, 4, le.Current.Version)
	assert.Empty(t, store.task.Name)
}

func TestApply_NoOpSkipsWrite(t *testing.T) {
	store := newStub()
	g := NewVersionGuard(store, nil, nil)

	c, err := g.Apply(context.Background(), stubRef, 3, func(*models.Task) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.False(t, c.Changed)
	assert.Equal(t, 3, c.After.Version)
	assert.Zero(t, store.swaps)
}

func TestApply_MutationErrorSkipsWrite(t *testing.T) {
	store := newStub()
	g := NewVersionGuard(store, nil, nil)
	boom := &Error{Kind: KindNotOwner}

	_, err := g.Apply(context.Background(), stubRef, 3, func(*models.Task) (bool, error) { return false, boom })
	assert.Same(t, boom, err)
	assert.Zero(t, store.swaps)
}

func TestApply_InvariantViolation(t *testing.T) {
	store := newStub()
	g := NewVersionGuard(store, nil, nil)

	_, err := g.Apply(context.Background(), stubRef, 3, func(t *models.Task) (bool, error) {
		t.IsCompleted = true
		t.CompletionPercent = 50
		return true, nil
	})
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.Zero(t, store.swaps)
}

func TestApply_StoreUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		store func() *stubStore
		ctx   func() context.Context
	}{
		{"resolve fails", func() *stubStore { s := newStub(); s.resolveErr = errors.New("disk gone"); return s }, context.Background},
		{"swap fails", func() *stubStore { s := newStub(); s.casErr = errors.New("locked"); return s }, context.Background},
		{"context canceled", newStub, func() context.Context {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewVersionGuard(tt.store(), nil, nil)
			_, err := g.Apply(tt.ctx(), stubRef, 3, rename("x"))
			assert.Equal(t, KindStoreUnavailable, KindOf(err))
			assert.True(t, err.(*Error).Retryable())
		})
	}
}

func TestCheckInvariants(t *testing.T) {
	ok := models.Task{Version: 1, CompletionPercent: 40}
	assert.NoError(t, CheckInvariants(ok))

	bad := []models.Task{
		{Version: 1, CompletionPercent: 101},
		{Version: 1, CompletionPercent: -1},
		{Version: 1, IsCompleted: true, CompletionPercent: 90},
		{Version: 1, IsCompleted: true, CompletionPercent: 100, OwnerOperator: "alice"},
		{Version: 0},
	}
	for _, task := range bad {
		assert.ErrorIs(t, CheckInvariants(task), ErrCorrupted, "%+v", task)
	}
}
