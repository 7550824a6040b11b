package handlers

import (
	"net/http"

	"github.com/TWRT/task-lifecycle/internal/service"
)

// ReportHandler serves the read-only views: alert badges, dashboard metrics
// and the audit trail.
type ReportHandler struct {
	taskService *service.TaskService
}

func NewReportHandler(taskService *service.TaskService) *ReportHandler {
	return &ReportHandler{
		taskService: taskService,
	}
}

func (h *ReportHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	report, err := h.taskService.Alerts(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"critical": report.Critical,
		"due_soon": report.DueSoon,
		"overdue":  report.Overdue,
		"counts":   report.Counts(),
	})
}

func (h *ReportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	summary, err := h.taskService.Dashboard(r.Context(), query.Get("project"), query.Get("category"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"summary": summary,
	})
}

func (h *ReportHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "query parameter id is required")
		return
	}
	entries, err := h.taskService.AuditTrail(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": entries,
	})
}
