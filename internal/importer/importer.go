// Package importer authors tasks in bulk from a YAML sheet export.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/models"
	"github.com/TWRT/task-lifecycle/internal/service"
)

// File is the on-disk import format.
type File struct {
	Project string `yaml:"project"`
	Tasks   []Task `yaml:"tasks"`
}

type Task struct {
	Sheet          string `yaml:"sheet"`
	Number         int    `yaml:"number"`
	Name           string `yaml:"name"`
	Phase          string `yaml:"phase"`
	Category       string `yaml:"category"`
	Classification string `yaml:"classification"`
	Priority       string `yaml:"priority"`
	// Duration is a day count or "undefined".
	Duration string `yaml:"duration"`
}

// Author is the slice of the task service the importer needs.
type Author interface {
	EnsureProject(ctx context.Context, name string) (models.Project, error)
	CreateTask(ctx context.Context, actor string, in service.NewTask) (models.Task, error)
}

type Skipped struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type Result struct {
	Project string        `json:"project"`
	Created []models.Task `json:"created"`
	Skipped []Skipped     `json:"skipped"`
}

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read import file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse import file: %w", err)
	}
	f.Project = strings.TrimSpace(f.Project)
	if f.Project == "" {
		return File{}, fmt.Errorf("parse import file: project is required")
	}
	return f, nil
}

// Import creates the project when missing and authors every task. Rows that
// fail validation or collide with an existing number are skipped and
// reported; infrastructure errors abort the run.
func Import(ctx context.Context, author Author, actor string, f File, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "importer", "project", f.Project)

	if _, err := author.EnsureProject(ctx, f.Project); err != nil {
		return Result{}, fmt.Errorf("ensure project %s: %w", f.Project, err)
	}

	res := Result{Project: f.Project, Created: []models.Task{}, Skipped: []Skipped{}}
	for i, row := range f.Tasks {
		skip := func(reason string) {
			logger.Warn("import row skipped", "index", i, "name", row.Name, "reason", reason)
			res.Skipped = append(res.Skipped, Skipped{Index: i, Name: row.Name, Reason: reason})
		}

		duration, err := lifecycle.ParseDuration(row.Duration)
		if err != nil {
			skip(err.Error())
			continue
		}
		task, err := author.CreateTask(ctx, actor, service.NewTask{
			Project:               f.Project,
			Sheet:                 row.Sheet,
			Number:                row.Number,
			Name:                  row.Name,
			Phase:                 row.Phase,
			Category:              row.Category,
			Classification:        row.Classification,
			Priority:              row.Priority,
			EstimatedDurationDays: duration,
		})
		if err != nil {
			switch lifecycle.KindOf(err) {
			case lifecycle.KindInvalidInput, lifecycle.KindDuplicate:
				skip(err.Error())
				continue
			}
			return res, fmt.Errorf("import row %d: %w", i, err)
		}
		res.Created = append(res.Created, task)
	}
	logger.Info("import finished", "created", len(res.Created), "skipped", len(res.Skipped))
	return res, nil
}
