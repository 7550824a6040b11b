// Package alerts derives badge and dashboard figures from a task collection.
// Nothing here is stored; every call recomputes from its input.
package alerts

import (
	"math"
	"strconv"

	"github.com/TWRT/task-lifecycle/internal/models"
)

const (
	// DueSoonDays is the inclusive remaining-duration bound for dueSoon.
	DueSoonDays = 2
	// OverdueDays is the exclusive bound for overdue: anything under a week
	// left counts, not only negative remainders.
	OverdueDays = 7
)

type Report struct {
	Critical []models.Task `json:"critical"`
	DueSoon  []models.Task `json:"due_soon"`
	Overdue  []models.Task `json:"overdue"`
	Total    int           `json:"total"`
}

// Counts is the badge form of a Report.
type Counts struct {
	Critical int `json:"critical"`
	DueSoon  int `json:"due_soon"`
	Overdue  int `json:"overdue"`
	Total    int `json:"total"`
}

func (r Report) Counts() Counts {
	return Counts{
		Critical: len(r.Critical),
		DueSoon:  len(r.DueSoon),
		Overdue:  len(r.Overdue),
		Total:    r.Total,
	}
}

// Classify buckets every open task. A task appears at most once per bucket
// and Total counts each alerted task once.
func Classify(tasks []models.Task) Report {
	report := Report{
		Critical: []models.Task{},
		DueSoon:  []models.Task{},
		Overdue:  []models.Task{},
	}
	seen := make(map[string]struct{}, len(tasks))
	alerted := make(map[string]struct{})

	for _, t := range tasks {
		if t.IsCompleted {
			continue
		}
		key := taskKey(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		hit := false
		if t.Priority == models.PriorityCritical {
			report.Critical = append(report.Critical, t)
			hit = true
		}
		if t.HasDeadline() {
			days := *t.EstimatedDurationDays
			if days <= DueSoonDays {
				report.DueSoon = append(report.DueSoon, t)
				hit = true
			}
			if days < OverdueDays {
				report.Overdue = append(report.Overdue, t)
				hit = true
			}
		}
		if hit {
			alerted[key] = struct{}{}
		}
	}
	report.Total = len(alerted)
	return report
}

func taskKey(t models.Task) string {
	if t.ID != "" {
		return t.ID
	}
	return t.Project + "\x00" + t.Sheet + "\x00" + strconv.Itoa(t.Number)
}

type Summary struct {
	Total            int            `json:"total"`
	PercentCompleted float64        `json:"percent_completed"`
	OpenCritical     int            `json:"open_critical"`
	Overdue          int            `json:"overdue"`
	ByPriority       map[string]int `json:"by_priority"`
	ByPhase          map[string]int `json:"by_phase"`
	ByCategory       map[string]int `json:"by_category"`
}

// Summarize computes dashboard metrics, optionally restricted to one
// category. Completion counts only explicitly completed tasks.
func Summarize(tasks []models.Task, category string) Summary {
	s := Summary{
		ByPriority: map[string]int{},
		ByPhase:    map[string]int{},
		ByCategory: map[string]int{},
	}
	completed := 0
	for _, t := range tasks {
		if category != "" && t.Category != category {
			continue
		}
		s.Total++
		s.ByPriority[string(t.Priority)]++
		s.ByPhase[t.Phase]++
		s.ByCategory[t.Category]++
		if t.IsCompleted {
			completed++
			continue
		}
		if t.Priority == models.PriorityCritical {
			s.OpenCritical++
		}
		if t.HasDeadline() && *t.EstimatedDurationDays < OverdueDays {
			s.Overdue++
		}
	}
	if s.Total > 0 {
		s.PercentCompleted = math.Round(float64(completed)/float64(s.Total)*1000) / 10
	}
	return s
}
