package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TWRT/task-lifecycle/internal/models"
)

// ErrCorrupted marks a stored record that violates the task invariants.
// It is never retryable and is not reported as a lifecycle Error.
var ErrCorrupted = errors.New("task record corrupted")

// Store is the authoritative task store. CompareAndSwap must persist next only
// when the stored version still equals expectedVersion, atomically, and
// report false without error when it does not.
type Store interface {
	Resolve(ctx context.Context, ref models.TaskRef) (models.Task, error)
	Get(ctx context.Context, id string) (models.Task, error)
	CompareAndSwap(ctx context.Context, expectedVersion int, next models.Task) (bool, error)
}

// Mutation edits a private copy of the current record. Returning false leaves
// the record and its version untouched.
type Mutation func(next *models.Task) (changed bool, err error)

// Commit is the outcome of an accepted Apply. Changed is false for no-ops, in
// which case After equals Before.
type Commit struct {
	Before  models.Task
	After   models.Task
	Changed bool
}

// VersionGuard turns a Mutation into a single compare-and-swap write.
type VersionGuard struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewVersionGuard(store Store, now func() time.Time, logger *slog.Logger) *VersionGuard {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionGuard{
		store:  store,
		now:    now,
		logger: logger.With("component", "version_guard"),
	}
}

func (g *VersionGuard) Read(ctx context.Context, ref models.TaskRef) (models.Task, error) {
	if err := ctx.Err(); err != nil {
		return models.Task{}, Unavailable(err)
	}
	task, err := g.store.Resolve(ctx, ref)
	if err != nil {
		return models.Task{}, storeError(err)
	}
	return task, nil
}

// Apply reads the current record, rejects stale versions, runs mutate and
// commits the result with version+1.
func (g *VersionGuard) Apply(ctx context.Context, ref models.TaskRef, expectedVersion int, mutate Mutation) (Commit, error) {
	current, err := g.Read(ctx, ref)
	if err != nil {
		return Commit{}, err
	}
	if current.Version != expectedVersion {
		g.logger.Info("stale write rejected",
			"task_id", current.ID, "expected_version", expectedVersion, "current_version", current.Version)
		return Commit{}, withCurrent(KindVersionConflict, current,
			"expected version %d, current is %d", expectedVersion, current.Version)
	}

	next := current.Clone()
	changed, err := mutate(&next)
	if err != nil {
		return Commit{}, err
	}
	if !changed {
		return Commit{Before: current, After: current}, nil
	}

	next.ID = current.ID
	next.Version = current.Version + 1
	next.UpdatedAt = g.now().UTC()
	if err := CheckInvariants(next); err != nil {
		return Commit{}, err
	}

	if err := ctx.Err(); err != nil {
		return Commit{}, Unavailable(err)
	}
	ok, err := g.store.CompareAndSwap(ctx, expectedVersion, next)
	if err != nil {
		return Commit{}, storeError(err)
	}
	if !ok {
		// Lost the race after the read; report whoever won.
		latest, err := g.store.Get(ctx, current.ID)
		if err != nil {
			return Commit{}, storeError(err)
		}
		g.logger.Info("concurrent write lost",
			"task_id", current.ID, "expected_version", expectedVersion, "current_version", latest.Version)
		return Commit{}, withCurrent(KindVersionConflict, latest,
			"expected version %d, current is %d", expectedVersion, latest.Version)
	}
	return Commit{Before: current, After: next, Changed: true}, nil
}

// CheckInvariants validates a record before it is written or after it is read.
func CheckInvariants(t models.Task) error {
	switch {
	case t.CompletionPercent < 0 || t.CompletionPercent > 100:
		return fmt.Errorf("%w: completion %d out of range", ErrCorrupted, t.CompletionPercent)
	case t.IsCompleted && t.CompletionPercent != 100:
		return fmt.Errorf("%w: completed at %d%%", ErrCorrupted, t.CompletionPercent)
	case t.IsCompleted && t.OwnerOperator != "":
		return fmt.Errorf("%w: completed task owned by %q", ErrCorrupted, t.OwnerOperator)
	case t.Version < 1:
		return fmt.Errorf("%w: version %d", ErrCorrupted, t.Version)
	}
	return nil
}

func storeError(err error) error {
	var le *Error
	if errors.As(err, &le) || errors.Is(err, ErrCorrupted) {
		return err
	}
	return Unavailable(err)
}
