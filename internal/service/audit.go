package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TWRT/task-lifecycle/internal/events"
	"github.com/TWRT/task-lifecycle/internal/models"
)

const auditWriteTimeout = 5 * time.Second

func (s *TaskService) subscribeAudit() {
	s.bus.Subscribe(events.EventTaskCreated, s.recordAudit)
	s.bus.Subscribe(events.EventTaskMutated, s.recordAudit)
}

func (s *TaskService) recordAudit(e events.Event) {
	entry := models.AuditEntry{
		Action:  e.Action,
		Actor:   e.Actor,
		TaskID:  e.After.ID,
		Version: e.After.Version,
		At:      e.Timestamp,
	}
	if e.Before != nil {
		b, err := json.Marshal(e.Before)
		if err != nil {
			s.logger.Error("encode audit snapshot", "task_id", e.After.ID, "error", err)
			return
		}
		entry.Before = b
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		s.logger.Error("encode audit snapshot", "task_id", e.After.ID, "error", err)
		return
	}
	entry.After = after

	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			"task_id", entry.TaskID, "action", entry.Action, "version", entry.Version, "error", err)
	}
}

// AuditTrail lists the recorded writes for one task, oldest first.
func (s *TaskService) AuditTrail(ctx context.Context, taskID string) ([]models.AuditEntry, error) {
	if s.audit == nil {
		return []models.AuditEntry{}, nil
	}
	return s.audit.ForTask(ctx, taskID)
}
