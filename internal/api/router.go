package api

import (
	"log/slog"
	"net/http"

	"github.com/TWRT/task-lifecycle/internal/api/handlers"
	"github.com/TWRT/task-lifecycle/internal/service"
)

func SetupRouter(taskService *service.TaskService, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	projectHandler := handlers.NewProjectHandler(taskService)
	taskHandler := handlers.NewTaskHandler(taskService, logger)
	reportHandler := handlers.NewReportHandler(taskService)

	mux.HandleFunc("POST /projects", projectHandler.CreateProject)
	mux.HandleFunc("GET /projects", projectHandler.ListProjects)
	mux.HandleFunc("POST /projects/{project}/tasks", projectHandler.CreateTask)
	mux.HandleFunc("GET /projects/{project}/tasks", projectHandler.ListTasks)

	mux.HandleFunc("GET /tasks/in-progress", taskHandler.InProgress)
	mux.HandleFunc("POST /tasks/claim", taskHandler.Claim)
	mux.HandleFunc("POST /tasks/progress", taskHandler.UpdateProgress)
	mux.HandleFunc("POST /tasks/complete", taskHandler.Complete)
	mux.HandleFunc("POST /tasks/reopen", taskHandler.Reopen)
	mux.HandleFunc("POST /tasks/edit", taskHandler.EditField)
	mux.HandleFunc("POST /supervisor/tasks/progress", taskHandler.OverrideProgress)

	mux.HandleFunc("GET /alerts", reportHandler.Alerts)
	mux.HandleFunc("GET /dashboard", reportHandler.Dashboard)
	mux.HandleFunc("GET /tasks/audit", reportHandler.AuditTrail)

	return mux
}
