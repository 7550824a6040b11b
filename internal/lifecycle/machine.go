// Package lifecycle owns the task state machine: Open, InProgress and
// Completed, with Reopen leading back to Open or InProgress. Every transition
// is a single version-checked write against the authoritative store.
package lifecycle

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/TWRT/task-lifecycle/internal/models"
)

type ClaimRequest struct {
	Ref             models.TaskRef
	Operator        string
	ExpectedVersion int
}

type ProgressRequest struct {
	Ref      models.TaskRef
	Operator string
	// Role is consulted only by OverrideProgress.
	Role            Role
	Update          ProgressUpdate
	ExpectedVersion int
}

type CompleteRequest struct {
	Ref             models.TaskRef
	Operator        string
	ExpectedVersion int
}

type ReopenRequest struct {
	Ref             models.TaskRef
	Actor           string
	Role            Role
	NewDeadlineDays int
	ClearOwner      bool
	ExpectedVersion int
}

type EditRequest struct {
	Ref             models.TaskRef
	Actor           string
	Role            Role
	Field           string
	Value           string
	ExpectedVersion int
}

// Field names accepted by EditField.
const (
	FieldName           = "name"
	FieldDuration       = "duration"
	FieldPriority       = "priority"
	FieldPhase          = "phase"
	FieldCategory       = "category"
	FieldClassification = "classification"
)

var editableFields = map[string]string{
	"name":                    FieldName,
	"duration":                FieldDuration,
	"estimated_duration_days": FieldDuration,
	"priority":                FieldPriority,
	"phase":                   FieldPhase,
	"category":                FieldCategory,
	"classification":          FieldClassification,
}

// DurationUndefined is the textual no-deadline sentinel.
const DurationUndefined = "undefined"

// Action names reported to commit observers.
const (
	ActionClaim            = "claim"
	ActionUpdateProgress   = "update_progress"
	ActionOverrideProgress = "override_progress"
	ActionComplete         = "complete"
	ActionReopen           = "reopen"
	ActionEditField        = "edit_field"
)

// CommitFunc observes every accepted, state-changing write.
type CommitFunc func(action, actor string, c Commit)

type Machine struct {
	guard    *VersionGuard
	owners   OwnershipLock
	progress *ProgressTracker
	now      func() time.Time
	logger   *slog.Logger
	onCommit CommitFunc
}

func NewMachine(store Store, now func() time.Time, logger *slog.Logger) *Machine {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		guard:    NewVersionGuard(store, now, logger),
		progress: NewProgressTracker(logger),
		now:      now,
		logger:   logger.With("component", "lifecycle"),
	}
}

// OnCommit registers fn as the commit observer. Call it before the machine
// serves requests.
func (m *Machine) OnCommit(fn CommitFunc) {
	m.onCommit = fn
}

func (m *Machine) apply(ctx context.Context, action, actor string, ref models.TaskRef, version int, mutate Mutation) (models.Task, error) {
	c, err := m.guard.Apply(ctx, ref, version, mutate)
	if err != nil {
		return models.Task{}, err
	}
	if c.Changed && m.onCommit != nil {
		m.onCommit(action, actor, c)
	}
	return c.After, nil
}

// Owns answers the OwnershipLock question against the current record.
func (m *Machine) Owns(ctx context.Context, ref models.TaskRef, operator string) (bool, error) {
	task, err := m.guard.Read(ctx, ref)
	if err != nil {
		return false, err
	}
	return m.owners.Holds(task, operator), nil
}

func (m *Machine) Read(ctx context.Context, ref models.TaskRef) (models.Task, error) {
	return m.guard.Read(ctx, ref)
}

func (m *Machine) Claim(ctx context.Context, req ClaimRequest) (models.Task, error) {
	if err := requireIdentity(req.Operator); err != nil {
		return models.Task{}, err
	}
	if err := validateRef(req.Ref); err != nil {
		return models.Task{}, err
	}
	return m.apply(ctx, ActionClaim, req.Operator, req.Ref, req.ExpectedVersion, func(t *models.Task) (bool, error) {
		return m.owners.Claim(t, req.Operator, m.now())
	})
}

func (m *Machine) UpdateProgress(ctx context.Context, req ProgressRequest) (models.Task, error) {
	return m.updateProgress(ctx, req, false)
}

// OverrideProgress is the supervisor capability: it skips the owner check
// but is otherwise identical to UpdateProgress. Callers without a supervising
// role get NotAuthorized.
func (m *Machine) OverrideProgress(ctx context.Context, req ProgressRequest) (models.Task, error) {
	return m.updateProgress(ctx, req, true)
}

func (m *Machine) updateProgress(ctx context.Context, req ProgressRequest, override bool) (models.Task, error) {
	if err := requireIdentity(req.Operator); err != nil {
		return models.Task{}, err
	}
	action := ActionUpdateProgress
	if override {
		action = ActionOverrideProgress
		if err := requireSupervisor(req.Operator, req.Role, "override progress"); err != nil {
			return models.Task{}, err
		}
	}
	if err := validateRef(req.Ref); err != nil {
		return models.Task{}, err
	}
	return m.apply(ctx, action, req.Operator, req.Ref, req.ExpectedVersion, func(t *models.Task) (bool, error) {
		if t.IsCompleted {
			return false, withCurrent(KindInvalidTransition, *t, "task is completed; reopen it first")
		}
		if override {
			if t.OwnerOperator != "" && !m.owners.Holds(*t, req.Operator) {
				m.logger.Warn("progress owner check overridden",
					"task_id", t.ID, "actor", req.Operator, "owner", t.OwnerOperator)
			}
		} else if err := m.owners.CheckWriter(*t, req.Operator); err != nil {
			return false, err
		}
		m.progress.Apply(t, req.Update)
		// An empty update still counts as an attributed report.
		return true, nil
	})
}

func (m *Machine) Complete(ctx context.Context, req CompleteRequest) (models.Task, error) {
	if err := requireIdentity(req.Operator); err != nil {
		return models.Task{}, err
	}
	if err := validateRef(req.Ref); err != nil {
		return models.Task{}, err
	}
	return m.apply(ctx, ActionComplete, req.Operator, req.Ref, req.ExpectedVersion, func(t *models.Task) (bool, error) {
		if t.IsCompleted {
			return false, withCurrent(KindInvalidTransition, *t, "task is already completed")
		}
		at := m.now().UTC()
		m.owners.Release(t)
		t.IsCompleted = true
		t.CompletionPercent = 100
		t.CompletedBy = strings.TrimSpace(req.Operator)
		t.CompletedAt = &at
		return true, nil
	})
}

func (m *Machine) Reopen(ctx context.Context, req ReopenRequest) (models.Task, error) {
	if err := requireIdentity(req.Actor); err != nil {
		return models.Task{}, err
	}
	if err := requireSupervisor(req.Actor, req.Role, "reopen tasks"); err != nil {
		return models.Task{}, err
	}
	if err := validateRef(req.Ref); err != nil {
		return models.Task{}, err
	}
	if req.NewDeadlineDays < 1 {
		return models.Task{}, invalidInput("new deadline must be at least 1 day, got %d", req.NewDeadlineDays)
	}
	return m.apply(ctx, ActionReopen, req.Actor, req.Ref, req.ExpectedVersion, func(t *models.Task) (bool, error) {
		if !t.IsCompleted {
			return false, withCurrent(KindInvalidTransition, *t, "only completed tasks can be reopened")
		}
		t.IsCompleted = false
		t.EstimatedDurationDays = models.Days(req.NewDeadlineDays)
		if t.CompletionPercent >= 100 {
			t.CompletionPercent = 0
		}
		t.CompletedBy = ""
		t.CompletedAt = nil
		m.owners.Restore(t, req.ClearOwner, m.now())
		return true, nil
	})
}

func (m *Machine) EditField(ctx context.Context, req EditRequest) (models.Task, error) {
	if err := requireIdentity(req.Actor); err != nil {
		return models.Task{}, err
	}
	if err := requireSupervisor(req.Actor, req.Role, "edit task fields"); err != nil {
		return models.Task{}, err
	}
	field, ok := editableFields[strings.ToLower(strings.TrimSpace(req.Field))]
	if !ok {
		m.logger.Warn("edit of non-editable field refused", "field", req.Field, "actor", req.Actor)
		return models.Task{}, &Error{Kind: KindFieldNotEditable, Message: "field " + strconv.Quote(req.Field) + " is not editable"}
	}
	if err := validateRef(req.Ref); err != nil {
		return models.Task{}, err
	}
	apply, err := fieldSetter(field, req.Value)
	if err != nil {
		return models.Task{}, err
	}
	return m.apply(ctx, ActionEditField, req.Actor, req.Ref, req.ExpectedVersion, func(t *models.Task) (bool, error) {
		apply(t)
		return true, nil
	})
}

// fieldSetter validates value up front so that a bad edit never reaches the
// store.
func fieldSetter(field, value string) (func(*models.Task), error) {
	value = strings.TrimSpace(value)
	switch field {
	case FieldName:
		if value == "" {
			return nil, invalidInput("name must not be empty")
		}
		return func(t *models.Task) { t.Name = value }, nil
	case FieldDuration:
		days, err := ParseDuration(value)
		if err != nil {
			return nil, err
		}
		return func(t *models.Task) { t.EstimatedDurationDays = days }, nil
	case FieldPriority:
		p, ok := models.ParsePriority(value)
		if !ok {
			return nil, invalidInput("unknown priority %q", value)
		}
		return func(t *models.Task) { t.Priority = p }, nil
	case FieldPhase:
		return func(t *models.Task) { t.Phase = value }, nil
	case FieldCategory:
		return func(t *models.Task) { t.Category = value }, nil
	case FieldClassification:
		return func(t *models.Task) { t.Classification = value }, nil
	}
	return nil, &Error{Kind: KindFieldNotEditable, Message: "field " + strconv.Quote(field) + " is not editable"}
}

// ParseDuration reads a day count. Empty input and "undefined" mean no
// deadline; anything else must be an integer of at least 1.
func ParseDuration(value string) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, DurationUndefined) {
		return nil, nil
	}
	days, err := strconv.Atoi(value)
	if err != nil {
		return nil, invalidInput("duration %q is not a whole number of days", value)
	}
	if days < 1 {
		return nil, invalidInput("duration must be at least 1 day, got %d", days)
	}
	return &days, nil
}

// ValidIdentity rejects empty and "system" actors.
func ValidIdentity(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && !strings.EqualFold(id, "system")
}

func requireIdentity(id string) error {
	if !ValidIdentity(id) {
		return &Error{Kind: KindIdentityMissing, Message: "operator identity is required"}
	}
	return nil
}

func validateRef(ref models.TaskRef) error {
	if strings.TrimSpace(ref.Sheet) == "" {
		return invalidInput("sheet is required")
	}
	if ref.Number < 1 {
		return invalidInput("task number must be positive, got %d", ref.Number)
	}
	return nil
}
