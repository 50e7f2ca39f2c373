// Package square reconciles the local catalog and stock ledger with a
// Square POS account: webhook intake, sale consumption, catalog import
// and product-variation mappings.
package square

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/beanledger/beanledger/internal/shared"
)

// Mapping links a local product to a Square item variation. Disabling is
// the only removal; rows stay for history.
type Mapping struct {
	ID                int64
	ProductID         int64
	ProductName       string
	SquareItemID      string
	SquareItemName    string
	SquareVariationID string
	Status            shared.Status
	LastSyncedAt      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MappingInput describes a new product-variation link.
type MappingInput struct {
	ProductID         int64
	SquareItemID      string
	SquareItemName    string
	SquareVariationID string
}

// CatalogCandidate is one Square variation flattened for matching and
// import.
type CatalogCandidate struct {
	ItemID        string
	ItemName      string
	Description   string
	Category      string
	VariationID   string
	VariationName string
	SKU           string
	PriceCents    int64
}

// Suggestion pairs a product with a catalog candidate at a confidence
// level. Suggestions are advisory; nothing is written until a mapping is
// created explicitly.
type Suggestion struct {
	ProductID         int64
	ProductName       string
	SquareItemID      string
	SquareItemName    string
	SquareVariationID string
	VariationName     string
	Confidence        float64
	Reason            string
}

// Sale is a completed order to run through the consumption engine.
type Sale struct {
	ID     string
	Source string
	Lines  []SaleLine
}

// SaleLine is one sold drink: the Square variation and how many.
type SaleLine struct {
	CatalogObjectID string
	Name            string
	Quantity        float64
}

// SaleResult reports one consumption run. Success means no line
// produced an error; unmapped lines are skips, not errors.
type SaleResult struct {
	Success        bool
	ItemsProcessed int
	ItemsUpdated   int
	Errors         []string
}

// Webhook log statuses.
const (
	LogStatusProcessing = "processing"
	LogStatusProcessed  = "processed"
	LogStatusIgnored    = "ignored"
	LogStatusFailed     = "failed"
)

// WebhookLog records one webhook delivery. The row is claimed before
// processing (deduplicating by event id) and finalized in place with the
// outcome. The raw payload is kept for manual replay.
type WebhookLog struct {
	ID             int64
	EventID        string
	EventType      string
	Status         string
	Success        bool
	ErrorMessage   string
	Detail         string
	Payload        []byte
	ItemsProcessed int
	ItemsUpdated   int
	ReceivedAt     time.Time
	ProcessedAt    time.Time
	ActorType      shared.ActorType
	ActorID        string
}

// LogOutcome finalizes a claimed webhook log row.
type LogOutcome struct {
	Status         string
	Success        bool
	ErrorMessage   string
	Detail         string
	ItemsProcessed int
	ItemsUpdated   int
}

// Square environments.
const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Sync frequencies. Realtime means webhook-driven only; hourly and daily
// add a scheduled catalog import.
const (
	FrequencyRealtime = "realtime"
	FrequencyHourly   = "hourly"
	FrequencyDaily    = "daily"
)

// Settings hold the Square credentials and sync preferences. They live
// in a single keyed row so operators can rotate tokens at runtime.
type Settings struct {
	AccessToken             string
	Environment             string
	LocationID              string
	WebhookSigningKey       string
	AllowUnverifiedWebhooks bool
	AutoSyncEnabled         bool
	SyncFrequency           string
	UpdatedAt               time.Time
}

// Connected reports whether an access token is configured.
func (s Settings) Connected() bool {
	return s.AccessToken != ""
}

// Sync run kinds, triggers and statuses.
const (
	RunKindCatalogImport = "catalog_import"
	RunKindSaleSync      = "sale_sync"

	TriggerManual        = "manual"
	TriggerHourly        = "hourly"
	TriggerDaily         = "daily"
	TriggerWebhookReplay = "webhook_replay"

	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
)

// SyncRun records one import or sale-sync execution.
type SyncRun struct {
	ID         int64
	RunID      uuid.UUID
	Kind       string
	Trigger    string
	Status     string
	Imported   int
	Updated    int
	Skipped    int
	Processed  int
	Errors     []string
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMs int64
	ActorType  shared.ActorType
	ActorID    string
}

// ImportResult summarises a catalog import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// ErrMappingExists indicates the (product, variation) pair is already
// linked.
var ErrMappingExists = errors.New("square: mapping already exists for this product and variation")

// ErrMappingNotFound indicates an unknown mapping id or variation.
var ErrMappingNotFound = errors.New("square: mapping not found")

// ErrInvalidMapping indicates a mapping without a product or variation.
var ErrInvalidMapping = errors.New("square: mapping requires a product and a variation")

// ErrLogNotFound indicates an unknown webhook log id.
var ErrLogNotFound = errors.New("square: webhook log not found")

// ErrNotConnected indicates no access token is configured.
var ErrNotConnected = errors.New("square: access token not configured")

// ErrInvalidSettings indicates an unknown environment or frequency.
var ErrInvalidSettings = errors.New("square: invalid settings")
