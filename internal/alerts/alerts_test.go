package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWRT/task-lifecycle/internal/models"
)

func task(id string, priority models.Priority, days *int) models.Task {
	return models.Task{ID: id, Project: "Plant", Sheet: "Backlog", Priority: priority, EstimatedDurationDays: days, Version: 1}
}

func ids(tasks []models.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestClassify_CriticalWithoutDeadline(t *testing.T) {
	report := Classify([]models.Task{task("t1", models.PriorityCritical, nil)})

	assert.Equal(t, []string{"t1"}, ids(report.Critical))
	assert.Empty(t, report.DueSoon)
	assert.Empty(t, report.Overdue)
	assert.Equal(t, 1, report.Total)
}

func TestClassify_Buckets(t *testing.T) {
	tasks := []models.Task{
		task("due-today", models.PriorityLow, models.Days(0)),
		task("due-2", models.PriorityLow, models.Days(2)),
		task("due-3", models.PriorityMedium, models.Days(3)),
		task("due-6", models.PriorityHigh, models.Days(6)),
		task("due-7", models.PriorityHigh, models.Days(7)),
		task("late", models.PriorityLow, models.Days(-4)),
		task("crit-soon", models.PriorityCritical, models.Days(1)),
	}
	report := Classify(tasks)

	assert.Equal(t, []string{"crit-soon"}, ids(report.Critical))
	assert.Equal(t, []string{"due-today", "due-2", "late", "crit-soon"}, ids(report.DueSoon))
	assert.Equal(t, []string{"due-today", "due-2", "due-3", "due-6", "late", "crit-soon"}, ids(report.Overdue))
	// union: every task except due-7
	assert.Equal(t, 6, report.Total)
}

func TestClassify_SkipsCompletedAndDuplicates(t *testing.T) {
	done := task("done", models.PriorityCritical, models.Days(1))
	done.IsCompleted = true
	done.CompletionPercent = 100
	crit := task("crit", models.PriorityCritical, nil)

	report := Classify([]models.Task{done, crit, crit})

	assert.Equal(t, []string{"crit"}, ids(report.Critical))
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, Counts{Critical: 1, Total: 1}, report.Counts())
}

func TestClassify_KeysWithoutID(t *testing.T) {
	a := models.Task{Project: "P", Sheet: "S", Number: 1, Priority: models.PriorityCritical}
	b := models.Task{Project: "P", Sheet: "S", Number: 2, Priority: models.PriorityCritical}

	report := Classify([]models.Task{a, b, a})
	assert.Len(t, report.Critical, 2)
	assert.Equal(t, 2, report.Total)
}

func TestClassify_Empty(t *testing.T) {
	report := Classify(nil)
	require.NotNil(t, report.Critical)
	require.NotNil(t, report.DueSoon)
	require.NotNil(t, report.Overdue)
	assert.Zero(t, report.Total)
}

func TestSummarize(t *testing.T) {
	done := task("done", models.PriorityHigh, models.Days(1))
	done.IsCompleted = true
	done.CompletionPercent = 100
	done.Phase = "Closing"
	done.Category = "Ops"

	open := task("open", models.PriorityCritical, models.Days(4))
	open.Phase = "Execution"
	open.Category = "Safety"

	other := task("other", models.PriorityLow, nil)
	other.Phase = "Execution"
	other.Category = "Safety"

	s := Summarize([]models.Task{done, open, other}, "")
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 33.3, s.PercentCompleted)
	assert.Equal(t, 1, s.OpenCritical)
	assert.Equal(t, 1, s.Overdue)
	assert.Equal(t, map[string]int{"Closing": 1, "Execution": 2}, s.ByPhase)
	assert.Equal(t, map[string]int{"High": 1, "Critical": 1, "Low": 1}, s.ByPriority)

	ops := Summarize([]models.Task{done, open, other}, "Ops")
	assert.Equal(t, 1, ops.Total)
	assert.Equal(t, 100.0, ops.PercentCompleted)
	assert.Zero(t, ops.Overdue)

	empty := Summarize(nil, "")
	assert.Zero(t, empty.PercentCompleted)
}
