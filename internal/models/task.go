package models

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// ParsePriority matches case-insensitively against the four known priorities.
func ParsePriority(s string) (Priority, bool) {
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow} {
		if strings.EqualFold(strings.TrimSpace(s), string(p)) {
			return p, true
		}
	}
	return "", false
}

type State string

const (
	StateOpen       State = "open"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// TaskRef addresses a task the way the dashboard does: by sheet and number,
// optionally scoped to a project.
type TaskRef struct {
	Project string `json:"project,omitempty"`
	Sheet   string `json:"sheet"`
	Number  int    `json:"number"`
}

type Task struct {
	ID      string `json:"id"`
	Number  int    `json:"number"`
	Sheet   string `json:"sheet"`
	Project string `json:"project"`

	Name           string   `json:"name"`
	Phase          string   `json:"phase"`
	Category       string   `json:"category"`
	Classification string   `json:"classification"`
	Priority       Priority `json:"priority"`
	// EstimatedDurationDays is nil when the task has no deadline.
	EstimatedDurationDays *int `json:"estimated_duration_days"`

	CompletionPercent int        `json:"completion_percent"`
	IsCompleted       bool       `json:"is_completed"`
	ProgressReport    string     `json:"progress_report"`
	Collaborators     []string   `json:"collaborators"`
	OwnerOperator     string     `json:"owner_operator,omitempty"`
	ClaimedAt         *time.Time `json:"claimed_at,omitempty"`
	PreviousOwner     string     `json:"previous_owner,omitempty"`
	CompletedBy       string     `json:"completed_by,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t Task) Ref() TaskRef {
	return TaskRef{Project: t.Project, Sheet: t.Sheet, Number: t.Number}
}

func (t Task) State() State {
	switch {
	case t.IsCompleted:
		return StateCompleted
	case t.OwnerOperator != "":
		return StateInProgress
	default:
		return StateOpen
	}
}

// HasDeadline reports whether the duration sentinel is unset.
func (t Task) HasDeadline() bool {
	return t.EstimatedDurationDays != nil
}

// Clone returns a copy that shares no pointers or slices with t.
func (t Task) Clone() Task {
	c := t
	if t.EstimatedDurationDays != nil {
		d := *t.EstimatedDurationDays
		c.EstimatedDurationDays = &d
	}
	if t.Collaborators != nil {
		c.Collaborators = append([]string(nil), t.Collaborators...)
	}
	if t.ClaimedAt != nil {
		at := *t.ClaimedAt
		c.ClaimedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return c
}

type TaskFilter struct {
	Project    string
	Sheet      string
	Category   string
	InProgress bool
}

// Days is a convenience for building duration pointers.
func Days(n int) *int {
	return &n
}
