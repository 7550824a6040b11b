package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/TWRT/task-lifecycle/internal/lifecycle"
	"github.com/TWRT/task-lifecycle/internal/models"
	"github.com/TWRT/task-lifecycle/internal/service"
)

type CreateProjectRequestBody struct {
	Name string `json:"name"`
}

type CreateTaskRequestBody struct {
	Sheet          string `json:"sheet"`
	Number         int    `json:"number"`
	Name           string `json:"name"`
	Phase          string `json:"phase"`
	Category       string `json:"category"`
	Classification string `json:"classification"`
	Priority       string `json:"priority"`
	// Duration is a day count or "undefined"; absent means undefined.
	Duration json.RawMessage `json:"duration"`
}

type ProjectHandler struct {
	taskService *service.TaskService
}

func NewProjectHandler(taskService *service.TaskService) *ProjectHandler {
	return &ProjectHandler{
		taskService: taskService,
	}
}

func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var body CreateProjectRequestBody
	if !readBody(w, r, &body) {
		return
	}
	project, err := h.taskService.CreateProject(r.Context(), body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"project": project,
	})
}

func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.taskService.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"projects": projects,
	})
}

func (h *ProjectHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	var body CreateTaskRequestBody
	if !readBody(w, r, &body) {
		return
	}
	duration, err := lifecycle.ParseDuration(rawText(body.Duration))
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := h.taskService.CreateTask(r.Context(), operator(r), service.NewTask{
		Project:               r.PathValue("project"),
		Sheet:                 body.Sheet,
		Number:                body.Number,
		Name:                  body.Name,
		Phase:                 body.Phase,
		Category:              body.Category,
		Classification:        body.Classification,
		Priority:              body.Priority,
		EstimatedDurationDays: duration,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"task":    task,
	})
}

func (h *ProjectHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tasks, err := h.taskService.ListTasks(r.Context(), models.TaskFilter{
		Project:  r.PathValue("project"),
		Sheet:    query.Get("sheet"),
		Category: query.Get("category"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tasks":   tasks,
	})
}

func requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if !lifecycle.ValidIdentity(operator(r)) {
		writeError(w, &lifecycle.Error{Kind: lifecycle.KindIdentityMissing, Message: "operator identity is required"})
		return false
	}
	return true
}
