package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/models"
)

type ProjectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, project models.Project) error {
	query := `INSERT INTO projects (name, uuid, created_at) VALUES (?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, project.Name, project.UUID, formatTime(project.CreatedAt))
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return &lifecycle.Error{Kind: lifecycle.KindDuplicate, Message: "project " + project.Name + " already exists"}
		}
		return lifecycle.Unavailable(fmt.Errorf("create project: %w", err))
	}
	return nil
}

func (r *ProjectRepository) Get(ctx context.Context, name string) (models.Project, bool, error) {
	var (
		p         models.Project
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, `SELECT name, uuid, created_at FROM projects WHERE name = ?`, name).
		Scan(&p.Name, &p.UUID, &createdAt)
	if err == sql.ErrNoRows {
		return models.Project{}, false, nil
	}
	if err != nil {
		return models.Project{}, false, lifecycle.Unavailable(fmt.Errorf("get project: %w", err))
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return p, true, nil
}

func (r *ProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, uuid, created_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, lifecycle.Unavailable(fmt.Errorf("list projects: %w", err))
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var (
			p         models.Project
			createdAt string
		)
		if err := rows.Scan(&p.Name, &p.UUID, &createdAt); err != nil {
			return nil, lifecycle.Unavailable(fmt.Errorf("scan project: %w", err))
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
