package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/beanledger/beanledger/internal/platform/httpx"
	"github.com/beanledger/beanledger/internal/square"
)

// QueueDefault is the queue every beanledger task runs on.
const QueueDefault = "default"

// Catalog import schedules: hourly on the hour, daily at 03:30 UTC.
const (
	hourlyImportSpec = "0 * * * *"
	dailyImportSpec  = "30 3 * * *"
)

// Worker runs the Asynq consumer and the cron scheduler that feeds it.
// Both schedules are always registered; the job itself decides whether
// the stored sync settings want a given trigger.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *slog.Logger
}

// WorkerConfig collects the dependencies the worker needs.
type WorkerConfig struct {
	RedisOpts     asynq.RedisClientOpt
	Logger        *slog.Logger
	CatalogImport *CatalogImportJob
}

// NewWorker wires the catalog import job to its schedules.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.CatalogImport == nil {
		return nil, errors.New("jobs: catalog import job is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{QueueDefault: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSquareCatalogImport, cfg.CatalogImport.Handle)

	scheduler := asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
	schedules := []struct {
		spec    string
		trigger string
	}{
		{hourlyImportSpec, square.TriggerHourly},
		{dailyImportSpec, square.TriggerDaily},
	}
	for _, s := range schedules {
		task, err := NewCatalogImportTask(s.trigger)
		if err != nil {
			return nil, err
		}
		if _, err := scheduler.Register(s.spec, task, asynq.MaxRetry(3)); err != nil {
			return nil, fmt.Errorf("jobs: register %s import: %w", s.trigger, err)
		}
	}

	return &Worker{server: server, scheduler: scheduler, mux: mux, logger: logger}, nil
}

// Run blocks until the context is cancelled or the server fails.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("jobs: start scheduler: %w", err)
	}
	w.logger.Info("worker started",
		slog.String("queue", QueueDefault),
		slog.String("hourly", hourlyImportSpec),
		slog.String("daily", dailyImportSpec))

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.scheduler.Shutdown()
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		w.scheduler.Shutdown()
		return err
	}
}

// Handler reports queue health over HTTP.
type Handler struct {
	inspector *asynq.Inspector
	logger    *slog.Logger
}

// NewHandler constructs the jobs HTTP handler.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue inspection failed")
		return
	}
	health := queueHealth{Queue: QueueDefault}
	if info != nil {
		health.Queue = info.Queue
		health.Pending = info.Pending
		health.Active = info.Active
	}
	httpx.JSON(w, http.StatusOK, health)
}
