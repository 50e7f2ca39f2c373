package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/beanledger/beanledger/internal/jobs"
	"github.com/beanledger/beanledger/internal/shared"
	"github.com/beanledger/beanledger/internal/square"
)

const (
	// TaskSquareCatalogImport refreshes local products from the Square catalog.
	TaskSquareCatalogImport = "square:catalog_import"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CatalogImportPayload names the schedule that fired the import.
type CatalogImportPayload struct {
	Trigger string `json:"trigger"`
}

// CatalogImporter runs one full catalog import.
type CatalogImporter interface {
	Run(ctx context.Context, trigger string, actor shared.Actor) (square.ImportResult, error)
}

// SyncSettings exposes the stored Square configuration.
type SyncSettings interface {
	Get(ctx context.Context) (square.Settings, error)
}

// CatalogImportJob runs scheduled catalog imports. Every schedule fires
// unconditionally; the job decides at run time whether the stored
// settings want this trigger, so operators can change the frequency
// without touching the scheduler.
type CatalogImportJob struct {
	Importer CatalogImporter
	Settings SyncSettings
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewCatalogImportJob constructs the job handler.
func NewCatalogImportJob(importer CatalogImporter, settings SyncSettings, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogImportJob {
	return &CatalogImportJob{
		Importer: importer,
		Settings: settings,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewCatalogImportTask creates an Asynq task for a scheduled catalog import.
func NewCatalogImportTask(trigger string) (*asynq.Task, error) {
	switch trigger {
	case square.TriggerHourly, square.TriggerDaily:
	default:
		return nil, fmt.Errorf("catalog import: unknown trigger %q", trigger)
	}
	body, err := json.Marshal(CatalogImportPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSquareCatalogImport, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes one scheduled catalog import.
func (j *CatalogImportJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Importer == nil || j.Settings == nil {
		return errors.New("catalog import: dependencies not configured")
	}
	var payload CatalogImportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	frequency, ok := frequencyForTrigger(payload.Trigger)
	if !ok {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskSquareCatalogImport)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.String("trigger", payload.Trigger))

	settings, err := j.Settings.Get(ctx)
	if err != nil {
		resultErr = err
		logger.Error("load settings", slog.Any("error", err))
		return resultErr
	}
	if reason, skip := skipReason(settings, frequency); skip {
		j.metrics().AddSkip(TaskSquareCatalogImport, reason)
		logger.Info("skipping scheduled import", slog.String("reason", reason))
		return nil
	}

	start := j.now()
	result, err := j.Importer.Run(ctx, payload.Trigger, shared.SystemActor("scheduled-sync"))
	if errors.Is(err, square.ErrNotConnected) {
		// Settings may rotate between the gate and the run.
		j.metrics().AddSkip(TaskSquareCatalogImport, "not_connected")
		logger.Warn("skipping scheduled import", slog.String("reason", "not_connected"))
		return nil
	}
	if err != nil {
		resultErr = err
		logger.Error("catalog import failed", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed scheduled import",
		slog.Int("imported", result.Imported),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func frequencyForTrigger(trigger string) (string, bool) {
	switch trigger {
	case square.TriggerHourly:
		return square.FrequencyHourly, true
	case square.TriggerDaily:
		return square.FrequencyDaily, true
	default:
		return "", false
	}
}

func skipReason(settings square.Settings, frequency string) (string, bool) {
	switch {
	case !settings.Connected():
		return "not_connected", true
	case !settings.AutoSyncEnabled:
		return "auto_sync_disabled", true
	case settings.SyncFrequency != frequency:
		return "frequency_mismatch", true
	}
	return "", false
}

func (j *CatalogImportJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CatalogImportJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSquareCatalogImport))
	}
	return slog.Default().With(slog.String("job", TaskSquareCatalogImport))
}

func (j *CatalogImportJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
