package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/models"
)

const taskColumns = `id, project, sheet, number, name, phase, category, classification, priority,
	estimated_duration_days, completion_percent, is_completed, progress_report, collaborators,
	owner_operator, claimed_at, previous_owner, completed_by, completed_at, version, created_at, updated_at`

// TaskRepository is the SQLite-backed authoritative store. Conditional writes
// rely on UPDATE ... WHERE version = ?, which SQLite applies atomically.
type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Resolve(ctx context.Context, ref models.TaskRef) (models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE sheet = ? AND number = ?`
	args := []any{ref.Sheet, ref.Number}
	if ref.Project != "" {
		query += ` AND project = ?`
		args = append(args, ref.Project)
	}
	// Two rows are enough to detect ambiguity.
	query += ` LIMIT 2`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.Task{}, lifecycle.Unavailable(fmt.Errorf("resolve task: %w", err))
	}
	defer rows.Close()

	var hits []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return models.Task{}, err
		}
		hits = append(hits, t)
	}
	if err := rows.Err(); err != nil {
		return models.Task{}, lifecycle.Unavailable(fmt.Errorf("resolve task: %w", err))
	}
	return pickResolved(ref, hits)
}

func (r *TaskRepository) Get(ctx context.Context, id string) (models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, &lifecycle.Error{Kind: lifecycle.KindNotFound, Message: "task " + id + " not found"}
	}
	if err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func (r *TaskRepository) CompareAndSwap(ctx context.Context, expectedVersion int, next models.Task) (bool, error) {
	if next.Version != expectedVersion+1 {
		return false, fmt.Errorf("compare and swap: next version %d does not follow %d", next.Version, expectedVersion)
	}
	collaborators, err := encodeCollaborators(next.Collaborators)
	if err != nil {
		return false, err
	}

	query := `
	UPDATE tasks SET
		name = ?, phase = ?, category = ?, classification = ?, priority = ?,
		estimated_duration_days = ?, completion_percent = ?, is_completed = ?,
		progress_report = ?, collaborators = ?, owner_operator = ?, claimed_at = ?,
		previous_owner = ?, completed_by = ?, completed_at = ?, version = ?, updated_at = ?
	WHERE id = ? AND version = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		next.Name,
		next.Phase,
		next.Category,
		next.Classification,
		string(next.Priority),
		nullableInt(next.EstimatedDurationDays),
		next.CompletionPercent,
		next.IsCompleted,
		next.ProgressReport,
		collaborators,
		next.OwnerOperator,
		nullableTime(next.ClaimedAt),
		next.PreviousOwner,
		next.CompletedBy,
		nullableTime(next.CompletedAt),
		next.Version,
		formatTime(next.UpdatedAt),
		next.ID,
		expectedVersion,
	)
	if err != nil {
		return false, lifecycle.Unavailable(fmt.Errorf("update task: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, lifecycle.Unavailable(fmt.Errorf("update task: %w", err))
	}
	return affected == 1, nil
}

func (r *TaskRepository) Insert(ctx context.Context, task models.Task) error {
	collaborators, err := encodeCollaborators(task.Collaborators)
	if err != nil {
		return err
	}

	query := `INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		task.ID,
		task.Project,
		task.Sheet,
		task.Number,
		task.Name,
		task.Phase,
		task.Category,
		task.Classification,
		string(task.Priority),
		nullableInt(task.EstimatedDurationDays),
		task.CompletionPercent,
		task.IsCompleted,
		task.ProgressReport,
		collaborators,
		task.OwnerOperator,
		nullableTime(task.ClaimedAt),
		task.PreviousOwner,
		task.CompletedBy,
		nullableTime(task.CompletedAt),
		task.Version,
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
			return &lifecycle.Error{
				Kind:    lifecycle.KindDuplicate,
				Message: fmt.Sprintf("number %d already used in %s/%s", task.Number, task.Project, task.Sheet),
			}
		}
		return lifecycle.Unavailable(fmt.Errorf("insert task: %w", err))
	}
	return nil
}

func (r *TaskRepository) List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`
	var args []any
	if filter.Project != "" {
		query += ` AND project = ?`
		args = append(args, filter.Project)
	}
	if filter.Sheet != "" {
		query += ` AND sheet = ?`
		args = append(args, filter.Sheet)
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.InProgress {
		query += ` AND owner_operator <> ''`
	}
	query += ` ORDER BY project, phase, sheet, number`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lifecycle.Unavailable(fmt.Errorf("list tasks: %w", err))
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Unavailable(fmt.Errorf("list tasks: %w", err))
	}
	return tasks, nil
}

func (r *TaskRepository) Numbers(ctx context.Context, project, sheet string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT number FROM tasks WHERE project = ? AND sheet = ? ORDER BY number`, project, sheet)
	if err != nil {
		return nil, lifecycle.Unavailable(fmt.Errorf("list numbers: %w", err))
	}
	defer rows.Close()

	var nums []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, lifecycle.Unavailable(fmt.Errorf("scan number: %w", err))
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		t                       models.Task
		priority, collaborators string
		duration                sql.NullInt64
		claimedAt, completedAt  sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(
		&t.ID,
		&t.Project,
		&t.Sheet,
		&t.Number,
		&t.Name,
		&t.Phase,
		&t.Category,
		&t.Classification,
		&priority,
		&duration,
		&t.CompletionPercent,
		&t.IsCompleted,
		&t.ProgressReport,
		&collaborators,
		&t.OwnerOperator,
		&claimedAt,
		&t.PreviousOwner,
		&t.CompletedBy,
		&completedAt,
		&t.Version,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, err
	}
	if err != nil {
		return models.Task{}, lifecycle.Unavailable(fmt.Errorf("scan task: %w", err))
	}

	t.Priority = models.Priority(priority)
	if duration.Valid {
		d := int(duration.Int64)
		t.EstimatedDurationDays = &d
	}
	if err := json.Unmarshal([]byte(collaborators), &t.Collaborators); err != nil {
		return models.Task{}, fmt.Errorf("%w: task %s collaborators: %v", lifecycle.ErrCorrupted, t.ID, err)
	}
	if t.ClaimedAt, err = parseNullableTime(claimedAt); err != nil {
		return models.Task{}, fmt.Errorf("%w: task %s claimed_at: %v", lifecycle.ErrCorrupted, t.ID, err)
	}
	if t.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return models.Task{}, fmt.Errorf("%w: task %s completed_at: %v", lifecycle.ErrCorrupted, t.ID, err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return models.Task{}, fmt.Errorf("%w: task %s created_at: %v", lifecycle.ErrCorrupted, t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return models.Task{}, fmt.Errorf("%w: task %s updated_at: %v", lifecycle.ErrCorrupted, t.ID, err)
	}
	if err := lifecycle.CheckInvariants(t); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func encodeCollaborators(c []string) (string, error) {
	if c == nil {
		c = []string{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode collaborators: %w", err)
	}
	return string(b), nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
