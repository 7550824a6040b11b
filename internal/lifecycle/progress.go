package lifecycle

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/TWRT/task-lifecycle/internal/models"
)

// ProgressUpdate carries the only three fields an owner may report. Nil
// leaves a field unchanged; an empty, non-nil Collaborators clears the list.
type ProgressUpdate struct {
	Percent       *int
	Report        *string
	Collaborators []string
}

type ProgressTracker struct {
	logger *slog.Logger
}

func NewProgressTracker(logger *slog.Logger) *ProgressTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressTracker{logger: logger.With("component", "progress_tracker")}
}

// Clamp forces percent into [0,100], logging any correction.
func (p *ProgressTracker) Clamp(taskID string, percent int) int {
	clamped := min(max(percent, 0), 100)
	if clamped != percent {
		p.logger.Warn("recoverable correction: completion percent clamped",
			"task_id", taskID, "raw", percent, "stored", clamped)
	}
	return clamped
}

// Apply writes the update onto t. It never touches IsCompleted: reaching
// 100% is a report, completing is a separate transition.
func (p *ProgressTracker) Apply(t *models.Task, upd ProgressUpdate) bool {
	changed := false
	if upd.Percent != nil {
		t.CompletionPercent = p.Clamp(t.ID, *upd.Percent)
		changed = true
	}
	if upd.Report != nil {
		t.ProgressReport = strings.TrimSpace(*upd.Report)
		changed = true
	}
	if upd.Collaborators != nil {
		t.Collaborators = NormalizeCollaborators(upd.Collaborators)
		changed = true
	}
	return changed
}

// NormalizeCollaborators trims, splits comma lists and drops blanks and
// duplicates while preserving order.
func NormalizeCollaborators(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, item := range in {
		for _, name := range strings.Split(item, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// ParsePercent reads dashboard-style percent input: "45", "45%", "72.6" or a
// fraction such as "0.45". It does not clamp.
func ParsePercent(raw string) (int, error) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, fmt.Errorf("empty percent")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-numeric percent %q", raw)
	}
	if strings.Contains(s, ".") && v > 0 && v <= 1 {
		v *= 100
	}
	v = math.Max(math.Min(v, 1e9), -1e9)
	return int(math.Round(v)), nil
}
