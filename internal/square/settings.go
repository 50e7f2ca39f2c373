package square

import (
	"context"
	"fmt"

	"github.com/beanledger/beanledger/internal/shared"
)

// SettingsStore is the persistence slice the settings service needs.
type SettingsStore interface {
	GetSettings(ctx context.Context) (Settings, error)
	UpsertSettings(ctx context.Context, s Settings) (Settings, error)
}

// AuditPort records who changed what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SettingsService owns the keyed Square configuration row.
type SettingsService struct {
	store SettingsStore
	audit AuditPort
}

func NewSettingsService(store SettingsStore, audit AuditPort) *SettingsService {
	return &SettingsService{store: store, audit: audit}
}

// SettingsInput carries a settings update. Blank credentials preserve
// the stored values, so a redacted read can round-trip through a PUT
// without wiping the token.
type SettingsInput struct {
	AccessToken             string
	Environment             string
	LocationID              string
	WebhookSigningKey       string
	AllowUnverifiedWebhooks bool
	AutoSyncEnabled         bool
	SyncFrequency           string
	Actor                   shared.Actor
}

// Get returns the stored settings, or sandbox/realtime defaults when
// nothing has been saved yet.
func (s *SettingsService) Get(ctx context.Context) (Settings, error) {
	return s.store.GetSettings(ctx)
}

func (s *SettingsService) Save(ctx context.Context, input SettingsInput) (Settings, error) {
	switch input.Environment {
	case EnvironmentSandbox, EnvironmentProduction:
	default:
		return Settings{}, fmt.Errorf("%w: unknown environment %q", ErrInvalidSettings, input.Environment)
	}
	switch input.SyncFrequency {
	case FrequencyRealtime, FrequencyHourly, FrequencyDaily:
	default:
		return Settings{}, fmt.Errorf("%w: unknown sync frequency %q", ErrInvalidSettings, input.SyncFrequency)
	}
	if !input.Actor.Valid() {
		return Settings{}, fmt.Errorf("%w: actor required", ErrInvalidSettings)
	}

	current, err := s.store.GetSettings(ctx)
	if err != nil {
		return Settings{}, err
	}

	next := Settings{
		AccessToken:             input.AccessToken,
		Environment:             input.Environment,
		LocationID:              input.LocationID,
		WebhookSigningKey:       input.WebhookSigningKey,
		AllowUnverifiedWebhooks: input.AllowUnverifiedWebhooks,
		AutoSyncEnabled:         input.AutoSyncEnabled,
		SyncFrequency:           input.SyncFrequency,
	}
	if next.AccessToken == "" {
		next.AccessToken = current.AccessToken
	}
	if next.WebhookSigningKey == "" {
		next.WebhookSigningKey = current.WebhookSigningKey
	}

	saved, err := s.store.UpsertSettings(ctx, next)
	if err != nil {
		return Settings{}, err
	}

	if s.audit != nil {
		// Credentials never reach the audit trail, only the fact that
		// they are set.
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   "square:settings_saved",
			Entity:   "square_config",
			EntityID: settingsKey,
			Meta: map[string]any{
				"environment":               saved.Environment,
				"location_id":               saved.LocationID,
				"sync_frequency":            saved.SyncFrequency,
				"auto_sync_enabled":         saved.AutoSyncEnabled,
				"allow_unverified_webhooks": saved.AllowUnverifiedWebhooks,
				"has_access_token":          saved.AccessToken != "",
				"has_signing_key":           saved.WebhookSigningKey != "",
			},
		})
	}
	return saved, nil
}
