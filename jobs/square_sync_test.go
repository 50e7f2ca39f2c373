package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/beanledger/beanledger/internal/shared"
	"github.com/beanledger/beanledger/internal/square"
)

type fakeImporter struct {
	triggers []string
	actors   []shared.Actor
	result   square.ImportResult
	err      error
}

func (f *fakeImporter) Run(ctx context.Context, trigger string, actor shared.Actor) (square.ImportResult, error) {
	f.triggers = append(f.triggers, trigger)
	f.actors = append(f.actors, actor)
	return f.result, f.err
}

type fakeSyncSettings struct {
	settings square.Settings
	err      error
}

func (f *fakeSyncSettings) Get(ctx context.Context) (square.Settings, error) {
	return f.settings, f.err
}

func syncedSettings(frequency string) square.Settings {
	return square.Settings{
		AccessToken:     "sq-token",
		Environment:     square.EnvironmentSandbox,
		AutoSyncEnabled: true,
		SyncFrequency:   frequency,
	}
}

func importTask(t *testing.T, trigger string) *asynq.Task {
	t.Helper()
	task, err := NewCatalogImportTask(trigger)
	require.NoError(t, err)
	return task
}

func TestCatalogImportRunsOnMatchingSchedule(t *testing.T) {
	importer := &fakeImporter{result: square.ImportResult{Imported: 4, Updated: 2}}
	job := NewCatalogImportJob(importer, &fakeSyncSettings{settings: syncedSettings(square.FrequencyHourly)}, nil, nil)

	err := job.Handle(context.Background(), importTask(t, square.TriggerHourly))
	require.NoError(t, err)

	require.Equal(t, []string{square.TriggerHourly}, importer.triggers)
	require.Len(t, importer.actors, 1)
	actorType, actorID := importer.actors[0].Ref()
	require.Equal(t, shared.ActorSystem, actorType)
	require.Equal(t, "scheduled-sync", actorID)
}

func TestCatalogImportSkipsWhenAutoSyncDisabled(t *testing.T) {
	settings := syncedSettings(square.FrequencyHourly)
	settings.AutoSyncEnabled = false
	importer := &fakeImporter{}
	job := NewCatalogImportJob(importer, &fakeSyncSettings{settings: settings}, nil, nil)

	err := job.Handle(context.Background(), importTask(t, square.TriggerHourly))
	require.NoError(t, err)
	require.Empty(t, importer.triggers)
}

func TestCatalogImportSkipsMismatchedSchedule(t *testing.T) {
	importer := &fakeImporter{}
	job := NewCatalogImportJob(importer, &fakeSyncSettings{settings: syncedSettings(square.FrequencyHourly)}, nil, nil)

	err := job.Handle(context.Background(), importTask(t, square.TriggerDaily))
	require.NoError(t, err)
	require.Empty(t, importer.triggers)
}

func TestCatalogImportSkipsRealtimeFrequency(t *testing.T) {
	importer := &fakeImporter{}
	job := NewCatalogImportJob(importer, &fakeSyncSettings{settings: syncedSettings(square.FrequencyRealtime)}, nil, nil)

	require.NoError(t, job.Handle(context.Background(), importTask(t, square.TriggerHourly)))
	require.NoError(t, job.Handle(context.Background(), importTask(t, square.TriggerDaily)))
	require.Empty(t, importer.triggers)
}

func TestCatalogImportSkipsWhenDisconnected(t *testing.T) {
	settings := syncedSettings(square.FrequencyDaily)
	settings.AccessToken = ""
	importer := &fakeImporter{}
	job := NewCatalogImportJob(importer, &fakeSyncSettings{settings: settings}, nil, nil)

	err := job.Handle(context.Background(), importTask(t, square.TriggerDaily))
	require.NoError(t, err)
	require.Empty(t, importer.triggers)
}

func TestCatalogImportTreatsLateDisconnectAsSkip(t *testing.T) {
	importer := &fakeImporter{err: square.ErrNotConnected}
	job := NewCatalogImportJob(importer, &fakeSyncSettings{settings: syncedSettings(square.FrequencyHourly)}, nil, nil)

	err := job.Handle(context.Background(), importTask(t, square.TriggerHourly))
	require.NoError(t, err)
	require.Len(t, importer.triggers, 1)
}

func TestCatalogImportSurfacesImporterErrors(t *testing.T) {
	boom := errors.New("catalog search: connection reset")
	importer := &fakeImporter{err: boom}
	job := NewCatalogImportJob(importer, &fakeSyncSettings{settings: syncedSettings(square.FrequencyHourly)}, nil, nil)

	err := job.Handle(context.Background(), importTask(t, square.TriggerHourly))
	require.ErrorIs(t, err, boom)
}

func TestCatalogImportSurfacesSettingsErrors(t *testing.T) {
	boom := errors.New("settings store down")
	importer := &fakeImporter{}
	job := NewCatalogImportJob(importer, &fakeSyncSettings{err: boom}, nil, nil)

	err := job.Handle(context.Background(), importTask(t, square.TriggerHourly))
	require.ErrorIs(t, err, boom)
	require.Empty(t, importer.triggers)
}

func TestCatalogImportRejectsMalformedPayload(t *testing.T) {
	job := NewCatalogImportJob(&fakeImporter{}, &fakeSyncSettings{settings: syncedSettings(square.FrequencyHourly)}, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskSquareCatalogImport, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestCatalogImportRejectsUnknownTrigger(t *testing.T) {
	_, err := NewCatalogImportTask("weekly")
	require.Error(t, err)

	body, err := json.Marshal(CatalogImportPayload{Trigger: "weekly"})
	require.NoError(t, err)
	job := NewCatalogImportJob(&fakeImporter{}, &fakeSyncSettings{settings: syncedSettings(square.FrequencyHourly)}, nil, nil)
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskSquareCatalogImport, body)), asynq.SkipRetry)
}

func TestNewCatalogImportTaskPayload(t *testing.T) {
	task := importTask(t, square.TriggerDaily)
	require.Equal(t, TaskSquareCatalogImport, task.Type())

	var payload CatalogImportPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, square.TriggerDaily, payload.Trigger)
}
