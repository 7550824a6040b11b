package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TWRT/task-lifecycle/internal/api"
	"github.com/TWRT/task-lifecycle/internal/config"
	"github.com/TWRT/task-lifecycle/internal/events"
	"github.com/TWRT/task-lifecycle/internal/importer"
	"github.com/TWRT/task-lifecycle/internal/repository"
	"github.com/TWRT/task-lifecycle/internal/service"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "taskcore",
		Short:         "Task lifecycle service: claims, progress, completion and alerts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(importCmd(&configPath))
	rootCmd.AddCommand(alertsCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			server := &http.Server{
				Addr:              a.cfg.Addr,
				Handler:           api.SetupRouter(a.service, a.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server listening", "addr", a.cfg.Addr, "store", a.cfg.Store, "version", Version)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("Error trying to start server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func importCmd(configPath *string) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Author tasks in bulk from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := importer.LoadFile(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := importer.Import(cmd.Context(), a.service, actor, f, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d created, %d skipped\n", res.Project, len(res.Created), len(res.Skipped))
			for _, s := range res.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "  row %d (%s): %s\n", s.Index, s.Name, s.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "importer", "Operator identity recorded as the author")

	return cmd
}

func alertsCmd(configPath *string) *cobra.Command {
	var (
		project string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Print alert badge counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.service.Alerts(cmd.Context(), project)
			if err != nil {
				return err
			}
			counts := report.Counts()
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(counts)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "critical: %d\ndue soon: %d\noverdue:  %d\ntotal:    %d\n",
				counts.Critical, counts.DueSoon, counts.Overdue, counts.Total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Restrict to one project")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	service *service.TaskService
	bus     *events.Bus
	closers []func() error
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	var (
		tasks    service.TaskStore
		projects service.ProjectStore
		audit    service.AuditStore
	)
	switch cfg.Store {
	case config.StoreMemory:
		tasks = repository.NewMemoryTaskStore()
		projects = repository.NewMemoryProjectStore()
		audit = repository.NewMemoryAuditStore()
	default:
		db, err := repository.InitDB(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		tasks = repository.NewTaskRepository(db)
		projects = repository.NewProjectRepository(db)
		audit = repository.NewAuditRepository(db)
	}

	a.bus = events.NewBus(cfg.EventBuffer, logger)
	a.service = service.NewTaskService(tasks, projects, audit, service.Options{
		Logger:            logger,
		Bus:               a.bus,
		AuditEnabled:      cfg.AuditEnabled,
		DefaultReopenDays: cfg.DefaultReopenDays,
	})
	return a, nil
}

// Close drains pending audit writes before the database goes away.
func (a *app) Close() {
	a.bus.Close()
	a.service.Close()
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Error("close", "error", err)
		}
	}
}
