package square

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beanledger/beanledger/internal/shared"
)

// Repository persists mappings, webhook logs, settings and sync runs.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const mappingColumns = "id, product_id, product_name, square_item_id, square_item_name, square_variation_id, status, last_synced_at, created_at, updated_at"

func (r *Repository) InsertMapping(ctx context.Context, input MappingInput, productName string) (Mapping, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO product_square_mappings (product_id, product_name, square_item_id, square_item_name, square_variation_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+mappingColumns,
		input.ProductID, productName, input.SquareItemID, input.SquareItemName, input.SquareVariationID, shared.StatusActive,
	)
	mapping, err := scanMapping(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Mapping{}, ErrMappingExists
		}
		return Mapping{}, fmt.Errorf("insert mapping: %w", err)
	}
	return mapping, nil
}

func (r *Repository) GetMapping(ctx context.Context, id int64) (Mapping, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+mappingColumns+` FROM product_square_mappings WHERE id = $1`, id)
	return scanMapping(row)
}

// ListMappings returns mappings ordered by product name. Disabled rows
// are included only on request.
func (r *Repository) ListMappings(ctx context.Context, includeDisabled bool) ([]Mapping, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+mappingColumns+`
		FROM product_square_mappings
		WHERE $1 OR status = 'active'
		ORDER BY product_name ASC, id ASC`,
		includeDisabled,
	)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]Mapping, 0)
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, mapping)
	}
	return mappings, rows.Err()
}

func (r *Repository) SetMappingStatus(ctx context.Context, id int64, status shared.Status) (Mapping, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE product_square_mappings
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+mappingColumns,
		id, status,
	)
	return scanMapping(row)
}

// ActiveMappingByVariation resolves the consuming mapping for a sold
// variation. When several products share a variation the oldest active
// link wins, so consumption stays deterministic.
func (r *Repository) ActiveMappingByVariation(ctx context.Context, variationID string) (Mapping, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+mappingColumns+`
		FROM product_square_mappings
		WHERE square_variation_id = $1 AND status = 'active'
		ORDER BY id ASC
		LIMIT 1`,
		variationID,
	)
	return scanMapping(row)
}

func (r *Repository) TouchMappingsSynced(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE product_square_mappings
		SET last_synced_at = $2, updated_at = NOW()
		WHERE id = ANY($1)`,
		ids, at,
	)
	if err != nil {
		return fmt.Errorf("touch mappings: %w", err)
	}
	return nil
}

const logColumns = "id, event_id, event_type, status, success, error_message, detail, payload, items_processed, items_updated, received_at, processed_at, actor_type, actor_id"

// ClaimEvent inserts a processing row for the event id. A duplicate
// event id means another delivery already claimed it; the caller acks
// without reprocessing.
func (r *Repository) ClaimEvent(ctx context.Context, log WebhookLog) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO square_webhook_logs (event_id, event_type, status, payload, received_at, actor_type, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.EventID, log.EventType, LogStatusProcessing, log.Payload, log.ReceivedAt, log.ActorType, log.ActorID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return true, nil
}

func (r *Repository) FinalizeEvent(ctx context.Context, eventID string, outcome LogOutcome) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE square_webhook_logs
		SET status = $2, success = $3, error_message = $4, detail = $5,
		    items_processed = $6, items_updated = $7, processed_at = NOW()
		WHERE event_id = $1`,
		eventID, outcome.Status, outcome.Success, outcome.ErrorMessage, outcome.Detail,
		outcome.ItemsProcessed, outcome.ItemsUpdated,
	)
	if err != nil {
		return fmt.Errorf("finalize webhook event: %w", err)
	}
	return nil
}

func (r *Repository) GetLog(ctx context.Context, id int64) (WebhookLog, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+logColumns+` FROM square_webhook_logs WHERE id = $1`, id)
	return scanLog(row)
}

func (r *Repository) ListLogs(ctx context.Context, page shared.Pagination) ([]WebhookLog, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM square_webhook_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhook logs: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+logColumns+`
		FROM square_webhook_logs
		ORDER BY received_at DESC, id DESC
		LIMIT $1 OFFSET $2`,
		page.PerPage, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook logs: %w", err)
	}
	defer rows.Close()

	logs := make([]WebhookLog, 0, page.PerPage)
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	return logs, total, rows.Err()
}

// The Square configuration lives in a single keyed row. Fixed key, so
// reads and writes cannot drift onto separate rows.
const settingsKey = "config:square"

func (r *Repository) GetSettings(ctx context.Context) (Settings, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT access_token, environment, location_id, webhook_signing_key,
		       allow_unverified_webhooks, auto_sync_enabled, sync_frequency, updated_at
		FROM square_config
		WHERE key = $1`,
		settingsKey,
	)

	var s Settings
	err := row.Scan(
		&s.AccessToken, &s.Environment, &s.LocationID, &s.WebhookSigningKey,
		&s.AllowUnverifiedWebhooks, &s.AutoSyncEnabled, &s.SyncFrequency, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return defaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get square settings: %w", err)
	}
	return s, nil
}

func (r *Repository) UpsertSettings(ctx context.Context, s Settings) (Settings, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO square_config (key, access_token, environment, location_id, webhook_signing_key,
		                           allow_unverified_webhooks, auto_sync_enabled, sync_frequency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (key) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			environment = EXCLUDED.environment,
			location_id = EXCLUDED.location_id,
			webhook_signing_key = EXCLUDED.webhook_signing_key,
			allow_unverified_webhooks = EXCLUDED.allow_unverified_webhooks,
			auto_sync_enabled = EXCLUDED.auto_sync_enabled,
			sync_frequency = EXCLUDED.sync_frequency,
			updated_at = NOW()
		RETURNING access_token, environment, location_id, webhook_signing_key,
		          allow_unverified_webhooks, auto_sync_enabled, sync_frequency, updated_at`,
		settingsKey, s.AccessToken, s.Environment, s.LocationID, s.WebhookSigningKey,
		s.AllowUnverifiedWebhooks, s.AutoSyncEnabled, s.SyncFrequency,
	)

	var saved Settings
	err := row.Scan(
		&saved.AccessToken, &saved.Environment, &saved.LocationID, &saved.WebhookSigningKey,
		&saved.AllowUnverifiedWebhooks, &saved.AutoSyncEnabled, &saved.SyncFrequency, &saved.UpdatedAt,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("save square settings: %w", err)
	}
	return saved, nil
}

const runColumns = "id, run_id, kind, trigger_source, status, imported, updated, skipped, processed, errors, started_at, finished_at, duration_ms, actor_type, actor_id"

func (r *Repository) InsertRun(ctx context.Context, run SyncRun) (SyncRun, error) {
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO square_sync_runs (run_id, kind, trigger_source, status, imported, updated, skipped, processed, errors, started_at, finished_at, duration_ms, actor_type, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+runColumns,
		run.RunID, run.Kind, run.Trigger, run.Status, run.Imported, run.Updated, run.Skipped, run.Processed,
		errs, run.StartedAt, run.FinishedAt, run.DurationMs, run.ActorType, run.ActorID,
	)
	return scanRun(row)
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM square_sync_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	runs := make([]SyncRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanMapping(row pgx.Row) (Mapping, error) {
	var (
		m        Mapping
		lastSync *time.Time
	)
	err := row.Scan(
		&m.ID, &m.ProductID, &m.ProductName, &m.SquareItemID, &m.SquareItemName,
		&m.SquareVariationID, &m.Status, &lastSync, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Mapping{}, ErrMappingNotFound
	}
	if err != nil {
		return Mapping{}, fmt.Errorf("scan mapping: %w", err)
	}
	if lastSync != nil {
		m.LastSyncedAt = *lastSync
	}
	return m, nil
}

func scanLog(row pgx.Row) (WebhookLog, error) {
	var (
		l           WebhookLog
		processedAt *time.Time
	)
	err := row.Scan(
		&l.ID, &l.EventID, &l.EventType, &l.Status, &l.Success, &l.ErrorMessage, &l.Detail,
		&l.Payload, &l.ItemsProcessed, &l.ItemsUpdated, &l.ReceivedAt, &processedAt,
		&l.ActorType, &l.ActorID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return WebhookLog{}, ErrLogNotFound
	}
	if err != nil {
		return WebhookLog{}, fmt.Errorf("scan webhook log: %w", err)
	}
	if processedAt != nil {
		l.ProcessedAt = *processedAt
	}
	return l, nil
}

func scanRun(row pgx.Row) (SyncRun, error) {
	var run SyncRun
	err := row.Scan(
		&run.ID, &run.RunID, &run.Kind, &run.Trigger, &run.Status,
		&run.Imported, &run.Updated, &run.Skipped, &run.Processed, &run.Errors,
		&run.StartedAt, &run.FinishedAt, &run.DurationMs, &run.ActorType, &run.ActorID,
	)
	if err != nil {
		return SyncRun{}, fmt.Errorf("scan sync run: %w", err)
	}
	return run, nil
}

func defaultSettings() Settings {
	return Settings{
		Environment:   EnvironmentSandbox,
		SyncFrequency: FrequencyRealtime,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
