package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/models"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry models.AuditEntry) error {
	query := `
	INSERT INTO audit_log (action, actor, task_id, version, before_json, after_json, at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TaskID,
		entry.Version,
		nullableJSON(entry.Before),
		nullableJSON(entry.After),
		formatTime(entry.At),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) ForTask(ctx context.Context, taskID string) ([]models.AuditEntry, error) {
	query := `
	SELECT id, action, actor, task_id, version, before_json, after_json, at
	FROM audit_log WHERE task_id = ? ORDER BY version, id
	`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, lifecycle.Unavailable(fmt.Errorf("list audit entries: %w", err))
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var (
			e             models.AuditEntry
			before, after sql.NullString
			at            string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.TaskID, &e.Version, &before, &after, &at); err != nil {
			return nil, lifecycle.Unavailable(fmt.Errorf("scan audit entry: %w", err))
		}
		if before.Valid {
			e.Before = []byte(before.String)
		}
		if after.Valid {
			e.After = []byte(after.String)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
