package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/models"
	"github.com/TWRT/task-lifecycle/internal/service"
)

type taskRefBody struct {
	Project string `json:"project"`
	Sheet   string `json:"sheet"`
	Number  int    `json:"number"`
	Version int    `json:"version"`
}

func (b taskRefBody) ref() models.TaskRef {
	return models.TaskRef{Project: b.Project, Sheet: b.Sheet, Number: b.Number}
}

type ProgressRequestBody struct {
	taskRefBody
	// Percent accepts a number or a dashboard string such as "45%".
	Percent json.RawMessage `json:"percent"`
	Report  *string         `json:"report"`
	// Collaborators accepts a list or a comma separated string.
	Collaborators json.RawMessage `json:"collaborators"`
}

type ReopenRequestBody struct {
	taskRefBody
	DeadlineDays *int `json:"deadline_days"`
	ClearOwner   bool `json:"clear_owner"`
}

type EditRequestBody struct {
	taskRefBody
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type TaskHandler struct {
	taskService *service.TaskService
	logger      *slog.Logger
}

func NewTaskHandler(taskService *service.TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		taskService: taskService,
		logger:      logger.With("component", "task_handler"),
	}
}

func (h *TaskHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var body taskRefBody
	if !readBody(w, r, &body) {
		return
	}
	result, err := h.taskService.Claim(r.Context(), lifecycle.ClaimRequest{
		Ref:             body.ref(),
		Operator:        operator(r),
		ExpectedVersion: body.Version,
	})
	h.respond(w, result, err)
}

func (h *TaskHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	req, ok := h.progressRequest(w, r)
	if !ok {
		return
	}
	result, err := h.taskService.UpdateProgress(r.Context(), req)
	h.respond(w, result, err)
}

func (h *TaskHandler) OverrideProgress(w http.ResponseWriter, r *http.Request) {
	req, ok := h.progressRequest(w, r)
	if !ok {
		return
	}
	result, err := h.taskService.OverrideProgress(r.Context(), req)
	h.respond(w, result, err)
}

func (h *TaskHandler) progressRequest(w http.ResponseWriter, r *http.Request) (lifecycle.ProgressRequest, bool) {
	var body ProgressRequestBody
	if !readBody(w, r, &body) {
		return lifecycle.ProgressRequest{}, false
	}
	collaborators, err := decodeCollaborators(body.Collaborators)
	if err != nil {
		badRequest(w, "collaborators must be a string or a list of strings")
		return lifecycle.ProgressRequest{}, false
	}
	return lifecycle.ProgressRequest{
		Ref:      body.ref(),
		Operator: operator(r),
		Role:     role(r),
		Update: lifecycle.ProgressUpdate{
			Percent:       h.decodePercent(body.Percent, body.ref()),
			Report:        body.Report,
			Collaborators: collaborators,
		},
		ExpectedVersion: body.Version,
	}, true
}

// decodePercent coerces whatever the dashboard sent into an integer. Input
// that does not parse becomes 0 and is logged, never rejected.
func (h *TaskHandler) decodePercent(raw json.RawMessage, ref models.TaskRef) *int {
	text := rawText(raw)
	if text == "" {
		return nil
	}
	pct, err := lifecycle.ParsePercent(text)
	if err != nil {
		h.logger.Warn("recoverable correction: non-numeric percent coerced",
			"sheet", ref.Sheet, "number", ref.Number, "raw", text, "stored", 0)
		pct = 0
	}
	return &pct
}

func decodeCollaborators(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []string{single}, nil
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var body taskRefBody
	if !readBody(w, r, &body) {
		return
	}
	result, err := h.taskService.Complete(r.Context(), lifecycle.CompleteRequest{
		Ref:             body.ref(),
		Operator:        operator(r),
		ExpectedVersion: body.Version,
	})
	h.respond(w, result, err)
}

func (h *TaskHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	var body ReopenRequestBody
	if !readBody(w, r, &body) {
		return
	}
	days := h.taskService.DefaultReopenDays()
	if body.DeadlineDays != nil {
		days = *body.DeadlineDays
	}
	result, err := h.taskService.Reopen(r.Context(), lifecycle.ReopenRequest{
		Ref:             body.ref(),
		Actor:           operator(r),
		Role:            role(r),
		NewDeadlineDays: days,
		ClearOwner:      body.ClearOwner,
		ExpectedVersion: body.Version,
	})
	h.respond(w, result, err)
}

func (h *TaskHandler) EditField(w http.ResponseWriter, r *http.Request) {
	var body EditRequestBody
	if !readBody(w, r, &body) {
		return
	}
	result, err := h.taskService.EditField(r.Context(), lifecycle.EditRequest{
		Ref:             body.ref(),
		Actor:           operator(r),
		Role:            role(r),
		Field:           body.Field,
		Value:           rawText(body.Value),
		ExpectedVersion: body.Version,
	})
	h.respond(w, result, err)
}

func (h *TaskHandler) InProgress(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.taskService.InProgress(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tasks":   tasks,
	})
}

func (h *TaskHandler) respond(w http.ResponseWriter, result service.MutationResult, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"task":    result.Task,
		"alerts":  result.Alerts,
	})
}
