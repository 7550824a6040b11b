package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/TWRT/task-lifecycle/internal/alerts"
	"github.com/TWRT/task-lifecycle/internal/events"
	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/models"
)

const (
	DefaultSheet = "Backlog"
	DefaultPhase = "Aberta"

	// autoNumberAttempts bounds retries when two authors race for the same
	// free number.
	autoNumberAttempts = 3

	alertsReadTimeout = 10 * time.Second
)

type TaskStore interface {
	lifecycle.Store
	Insert(ctx context.Context, task models.Task) error
	List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	Numbers(ctx context.Context, project, sheet string) ([]int, error)
}

type ProjectStore interface {
	Create(ctx context.Context, project models.Project) error
	Get(ctx context.Context, name string) (models.Project, bool, error)
	List(ctx context.Context) ([]models.Project, error)
}

type AuditStore interface {
	Append(ctx context.Context, entry models.AuditEntry) error
	ForTask(ctx context.Context, taskID string) ([]models.AuditEntry, error)
}

type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
	// Bus receives creation and mutation events. When nil the service
	// creates and owns one.
	Bus               *events.Bus
	AuditEnabled      bool
	DefaultReopenDays int
}

// MutationResult is what every accepted write hands back: the new record plus
// fresh badge counts for its project.
type MutationResult struct {
	Task   models.Task   `json:"task"`
	Alerts alerts.Counts `json:"alerts"`
}

type NewTask struct {
	Project               string
	Sheet                 string
	Number                int
	Name                  string
	Phase                 string
	Category              string
	Classification        string
	Priority              string
	EstimatedDurationDays *int
}

type TaskService struct {
	tasks    TaskStore
	projects ProjectStore
	audit    AuditStore

	machine *lifecycle.Machine
	bus     *events.Bus
	ownsBus bool

	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
	alertsOnce singleflight.Group
	reopenDays int
}

func NewTaskService(tasks TaskStore, projects ProjectStore, audit AuditStore, opts Options) *TaskService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultReopenDays < 1 {
		opts.DefaultReopenDays = 30
	}

	s := &TaskService{
		tasks:      tasks,
		projects:   projects,
		audit:      audit,
		machine:    lifecycle.NewMachine(tasks, opts.Now, opts.Logger),
		bus:        opts.Bus,
		now:        opts.Now,
		logger:     opts.Logger.With("component", "task_service"),
		tracer:     otel.Tracer("github.com/TWRT/task-lifecycle/internal/service"),
		reopenDays: opts.DefaultReopenDays,
	}
	if s.bus == nil {
		s.bus = events.NewBus(0, opts.Logger)
		s.ownsBus = true
	}

	s.machine.OnCommit(func(action, actor string, c lifecycle.Commit) {
		before := c.Before
		s.bus.Publish(events.Event{
			Type:      events.EventTaskMutated,
			Timestamp: s.now().UTC(),
			Action:    action,
			Actor:     actor,
			Before:    &before,
			After:     c.After,
		})
	})
	if opts.AuditEnabled && audit != nil {
		s.subscribeAudit()
	}
	return s
}

// Close flushes pending events when the service owns its bus.
func (s *TaskService) Close() {
	if s.ownsBus {
		s.bus.Close()
	}
}

func (s *TaskService) DefaultReopenDays() int {
	return s.reopenDays
}

func (s *TaskService) CreateProject(ctx context.Context, name string) (models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Project{}, &lifecycle.Error{Kind: lifecycle.KindInvalidInput, Message: "project name is required"}
	}
	p := models.Project{
		Name:      name,
		UUID:      models.ProjectUUID(name),
		CreatedAt: s.now().UTC(),
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return models.Project{}, err
	}
	s.logger.Info("project created", "project", name, "uuid", p.UUID)
	return p, nil
}

// EnsureProject returns the named project, creating it when missing.
func (s *TaskService) EnsureProject(ctx context.Context, name string) (models.Project, error) {
	p, found, err := s.projects.Get(ctx, strings.TrimSpace(name))
	if err != nil {
		return models.Project{}, err
	}
	if found {
		return p, nil
	}
	p, err = s.CreateProject(ctx, name)
	if lifecycle.IsKind(err, lifecycle.KindDuplicate) {
		p, _, err = s.projects.Get(ctx, strings.TrimSpace(name))
	}
	return p, err
}

func (s *TaskService) ListProjects(ctx context.Context) ([]models.Project, error) {
	return s.projects.List(ctx)
}

// CreateTask authors a new task at version 1. An explicit number that is
// already taken fails with Duplicate and a suggested replacement; an omitted
// number takes the lowest free one.
func (s *TaskService) CreateTask(ctx context.Context, actor string, in NewTask) (models.Task, error) {
	ctx, span := s.tracer.Start(ctx, "task.create", trace.WithAttributes(
		attribute.String("task.project", in.Project),
		attribute.String("actor", actor),
	))
	defer span.End()

	task, err := s.createTask(ctx, actor, in)
	if err != nil {
		s.recordFailure(span, "task.create", err)
		return models.Task{}, err
	}
	span.SetAttributes(attribute.String("task.id", task.ID), attribute.Int("task.number", task.Number))
	return task, nil
}

func (s *TaskService) createTask(ctx context.Context, actor string, in NewTask) (models.Task, error) {
	if !lifecycle.ValidIdentity(actor) {
		return models.Task{}, &lifecycle.Error{Kind: lifecycle.KindIdentityMissing, Message: "operator identity is required"}
	}
	task, err := s.draft(in)
	if err != nil {
		return models.Task{}, err
	}

	_, found, err := s.projects.Get(ctx, task.Project)
	if err != nil {
		return models.Task{}, err
	}
	if !found {
		return models.Task{}, &lifecycle.Error{Kind: lifecycle.KindNotFound, Message: "project " + task.Project + " not found"}
	}

	auto := in.Number == 0
	for attempt := 1; ; attempt++ {
		numbers, err := s.tasks.Numbers(ctx, task.Project, task.Sheet)
		if err != nil {
			return models.Task{}, err
		}
		if auto {
			task.Number = lowestFree(numbers)
		} else if slices.Contains(numbers, task.Number) {
			return models.Task{}, duplicateNumber(task, numbers)
		}

		err = s.tasks.Insert(ctx, task)
		if err == nil {
			break
		}
		if !lifecycle.IsKind(err, lifecycle.KindDuplicate) {
			return models.Task{}, err
		}
		if !auto || attempt == autoNumberAttempts {
			numbers, _ = s.tasks.Numbers(ctx, task.Project, task.Sheet)
			return models.Task{}, duplicateNumber(task, numbers)
		}
	}

	s.logger.Info("task created",
		"task_id", task.ID, "project", task.Project, "sheet", task.Sheet, "number", task.Number, "actor", actor)
	s.bus.Publish(events.Event{
		Type:      events.EventTaskCreated,
		Timestamp: task.CreatedAt,
		Action:    "create",
		Actor:     strings.TrimSpace(actor),
		After:     task,
	})
	return task, nil
}

func (s *TaskService) draft(in NewTask) (models.Task, error) {
	invalid := func(format string, args ...any) error {
		return &lifecycle.Error{Kind: lifecycle.KindInvalidInput, Message: fmt.Sprintf(format, args...)}
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Task{}, invalid("task name is required")
	}
	project := strings.TrimSpace(in.Project)
	if project == "" {
		return models.Task{}, invalid("project is required")
	}
	if in.Number < 0 {
		return models.Task{}, invalid("task number must be positive, got %d", in.Number)
	}
	priority := models.PriorityLow
	if strings.TrimSpace(in.Priority) != "" {
		p, ok := models.ParsePriority(in.Priority)
		if !ok {
			return models.Task{}, invalid("unknown priority %q", in.Priority)
		}
		priority = p
	}
	if in.EstimatedDurationDays != nil && *in.EstimatedDurationDays < 1 {
		return models.Task{}, invalid("duration must be at least 1 day, got %d", *in.EstimatedDurationDays)
	}

	now := s.now().UTC()
	task := models.Task{
		ID:             uuid.NewString(),
		Project:        project,
		Sheet:          cmp.Or(strings.TrimSpace(in.Sheet), DefaultSheet),
		Number:         in.Number,
		Name:           name,
		Phase:          cmp.Or(strings.TrimSpace(in.Phase), DefaultPhase),
		Category:       strings.TrimSpace(in.Category),
		Classification: strings.TrimSpace(in.Classification),
		Priority:       priority,
		Collaborators:  []string{},
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.EstimatedDurationDays != nil {
		task.EstimatedDurationDays = models.Days(*in.EstimatedDurationDays)
	}
	return task, nil
}

func (s *TaskService) Task(ctx context.Context, ref models.TaskRef) (models.Task, error) {
	return s.machine.Read(ctx, ref)
}

func (s *TaskService) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	return s.tasks.List(ctx, filter)
}

// InProgress lists tasks that currently have an owner.
func (s *TaskService) InProgress(ctx context.Context, project string) ([]models.Task, error) {
	return s.tasks.List(ctx, models.TaskFilter{Project: project, InProgress: true})
}

func (s *TaskService) Claim(ctx context.Context, req lifecycle.ClaimRequest) (MutationResult, error) {
	return s.mutate(ctx, "task.claim", req.Ref, req.Operator, func(ctx context.Context) (models.Task, error) {
		return s.machine.Claim(ctx, req)
	})
}

func (s *TaskService) UpdateProgress(ctx context.Context, req lifecycle.ProgressRequest) (MutationResult, error) {
	return s.mutate(ctx, "task.update_progress", req.Ref, req.Operator, func(ctx context.Context) (models.Task, error) {
		return s.machine.UpdateProgress(ctx, req)
	})
}

func (s *TaskService) OverrideProgress(ctx context.Context, req lifecycle.ProgressRequest) (MutationResult, error) {
	return s.mutate(ctx, "task.override_progress", req.Ref, req.Operator, func(ctx context.Context) (models.Task, error) {
		return s.machine.OverrideProgress(ctx, req)
	})
}

func (s *TaskService) Complete(ctx context.Context, req lifecycle.CompleteRequest) (MutationResult, error) {
	return s.mutate(ctx, "task.complete", req.Ref, req.Operator, func(ctx context.Context) (models.Task, error) {
		return s.machine.Complete(ctx, req)
	})
}

func (s *TaskService) Reopen(ctx context.Context, req lifecycle.ReopenRequest) (MutationResult, error) {
	return s.mutate(ctx, "task.reopen", req.Ref, req.Actor, func(ctx context.Context) (models.Task, error) {
		return s.machine.Reopen(ctx, req)
	})
}

func (s *TaskService) EditField(ctx context.Context, req lifecycle.EditRequest) (MutationResult, error) {
	return s.mutate(ctx, "task.edit_field", req.Ref, req.Actor, func(ctx context.Context) (models.Task, error) {
		return s.machine.EditField(ctx, req)
	})
}

func (s *TaskService) mutate(ctx context.Context, name string, ref models.TaskRef, actor string, fn func(context.Context) (models.Task, error)) (MutationResult, error) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("task.project", ref.Project),
		attribute.String("task.sheet", ref.Sheet),
		attribute.Int("task.number", ref.Number),
		attribute.String("actor", actor),
	))
	defer span.End()

	task, err := fn(ctx)
	if err != nil {
		s.recordFailure(span, name, err)
		return MutationResult{}, err
	}
	span.SetAttributes(attribute.String("task.id", task.ID), attribute.Int("task.version", task.Version))

	counts, err := s.alertCounts(ctx, task.Project)
	if err != nil {
		// The write is already committed.
		s.logger.Error("alert recompute failed", "project", task.Project, "error", err)
	}
	return MutationResult{Task: task, Alerts: counts}, nil
}

// recordFailure keeps expected rejections off the error path: only store
// trouble and corrupted records mark the span as failed.
func (s *TaskService) recordFailure(span trace.Span, name string, err error) {
	kind := lifecycle.KindOf(err)
	span.SetAttributes(attribute.String("error.kind", string(kind)))
	if kind != "" && kind != lifecycle.KindStoreUnavailable {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("task operation failed", "operation", name, "error", err)
}

// Alerts recomputes the badge buckets for project. Concurrent callers for the
// same project share one store read, which runs detached from any single
// caller's cancellation.
func (s *TaskService) Alerts(ctx context.Context, project string) (alerts.Report, error) {
	ch := s.alertsOnce.DoChan("alerts:"+project, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertsReadTimeout)
		defer cancel()
		return s.classify(shared, project)
	})
	select {
	case <-ctx.Done():
		return alerts.Report{}, lifecycle.Unavailable(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return alerts.Report{}, res.Err
		}
		return res.Val.(alerts.Report), nil
	}
}

// alertCounts reads the tasks afresh so the counts always include the write
// that just committed.
func (s *TaskService) alertCounts(ctx context.Context, project string) (alerts.Counts, error) {
	report, err := s.classify(ctx, project)
	if err != nil {
		return alerts.Counts{}, err
	}
	return report.Counts(), nil
}

func (s *TaskService) classify(ctx context.Context, project string) (alerts.Report, error) {
	tasks, err := s.tasks.List(ctx, models.TaskFilter{Project: project})
	if err != nil {
		return alerts.Report{}, err
	}
	return alerts.Classify(tasks), nil
}

func (s *TaskService) Dashboard(ctx context.Context, project, category string) (alerts.Summary, error) {
	tasks, err := s.tasks.List(ctx, models.TaskFilter{Project: project})
	if err != nil {
		return alerts.Summary{}, err
	}
	return alerts.Summarize(tasks, category), nil
}

func lowestFree(numbers []int) int {
	next := 1
	for _, n := range numbers {
		if n == next {
			next++
		} else if n > next {
			break
		}
	}
	return next
}

func duplicateNumber(task models.Task, numbers []int) *lifecycle.Error {
	suggested := 1
	if len(numbers) > 0 {
		suggested = slices.Max(numbers) + 1
	}
	return &lifecycle.Error{
		Kind:      lifecycle.KindDuplicate,
		Message:   fmt.Sprintf("number %d already used in %s/%s", task.Number, task.Project, task.Sheet),
		Suggested: suggested,
	}
}
