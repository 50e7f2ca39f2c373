package square

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beanledger/beanledger/internal/catalog"
	"github.com/beanledger/beanledger/internal/observability"
	"github.com/beanledger/beanledger/internal/shared"
)

// CatalogApplier writes imported Square fields into local products.
type CatalogApplier interface {
	ApplyExternal(ctx context.Context, fields catalog.ExternalFields) (catalog.Product, bool, bool, error)
}

// RunStore persists sync-run history.
type RunStore interface {
	InsertRun(ctx context.Context, run SyncRun) (SyncRun, error)
}

// Importer pulls the Square catalog into local products. Catalog fields
// follow Square; recipes, prep instructions and allergens stay local.
type Importer struct {
	logger   *slog.Logger
	settings SettingsReader
	applier  CatalogApplier
	runs     RunStore
	cache    *CandidateCache
	client   ClientFactory
	metrics  *observability.Metrics
}

func NewImporter(logger *slog.Logger, settings SettingsReader, applier CatalogApplier, runs RunStore, cache *CandidateCache, client ClientFactory, metrics *observability.Metrics) *Importer {
	return &Importer{
		logger:   logger,
		settings: settings,
		applier:  applier,
		runs:     runs,
		cache:    cache,
		client:   client,
		metrics:  metrics,
	}
}

// Run imports the full catalog once. One broken variation never aborts
// the run; its error is collected and the rest keep importing.
func (im *Importer) Run(ctx context.Context, trigger string, actor shared.Actor) (ImportResult, error) {
	settings, err := im.settings.Get(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	if !settings.Connected() {
		return ImportResult{}, ErrNotConnected
	}

	api := im.client(settings.AccessToken, settings.Environment)
	started := time.Now()

	objects, err := api.SearchCatalog(ctx, []string{"ITEM", "ITEM_VARIATION", "CATEGORY"})
	if err != nil {
		im.record(ctx, trigger, actor, started, RunStatusFailed, ImportResult{Errors: []string{err.Error()}})
		return ImportResult{}, fmt.Errorf("square: catalog search: %w", err)
	}

	candidates, flattenErrors := flattenCandidates(objects)
	result := ImportResult{Errors: flattenErrors}
	if result.Errors == nil {
		result.Errors = []string{}
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			im.record(ctx, trigger, actor, started, RunStatusFailed, result)
			return result, err
		}
		_, created, skipped, err := im.applier.ApplyExternal(ctx, candidateFields(candidate))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s (%s): %v", candidate.ItemName, candidate.VariationID, err))
			continue
		}
		switch {
		case created:
			result.Imported++
		case skipped:
			result.Skipped++
		default:
			result.Updated++
		}
	}

	if err := im.cache.Invalidate(ctx); err != nil {
		im.logger.Warn("candidate cache invalidation failed", slog.String("error", err.Error()))
	}

	status := RunStatusCompleted
	if len(result.Errors) > 0 {
		status = RunStatusCompletedWithErrors
	}
	im.record(ctx, trigger, actor, started, status, result)

	im.logger.Info("square catalog import finished",
		slog.String("trigger", trigger),
		slog.String("status", status),
		slog.Int("imported", result.Imported),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (im *Importer) record(ctx context.Context, trigger string, actor shared.Actor, started time.Time, status string, result ImportResult) {
	finished := time.Now()
	actorType, actorID := actor.Ref()
	_, err := im.runs.InsertRun(ctx, SyncRun{
		RunID:      uuid.New(),
		Kind:       RunKindCatalogImport,
		Trigger:    trigger,
		Status:     status,
		Imported:   result.Imported,
		Updated:    result.Updated,
		Skipped:    result.Skipped,
		Errors:     result.Errors,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
		ActorType:  actorType,
		ActorID:    actorID,
	})
	if err != nil {
		im.logger.Error("failed to record sync run", slog.String("error", err.Error()))
	}
	if im.metrics != nil {
		im.metrics.ObserveSyncRun(RunKindCatalogImport, status)
	}
}

// flattenCandidates resolves each variation against its parent item and
// category. Orphan variations become errors rather than half-imported
// products.
func flattenCandidates(objects []CatalogObject) ([]CatalogCandidate, []string) {
	items := make(map[string]CatalogObject)
	categories := make(map[string]string)
	var variations []CatalogObject

	for _, obj := range objects {
		if obj.IsDeleted {
			continue
		}
		switch obj.Type {
		case "ITEM":
			if obj.ItemData != nil {
				items[obj.ID] = obj
			}
		case "ITEM_VARIATION":
			if obj.ItemVariationData != nil {
				variations = append(variations, obj)
			}
		case "CATEGORY":
			if obj.CategoryData != nil {
				categories[obj.ID] = obj.CategoryData.Name
			}
		}
	}

	candidates := make([]CatalogCandidate, 0, len(variations))
	var errs []string
	for _, variation := range variations {
		data := variation.ItemVariationData
		parent, ok := items[data.ItemID]
		if !ok {
			errs = append(errs, fmt.Sprintf("variation %s (%s): parent item %s not in catalog", variation.ID, data.Name, data.ItemID))
			continue
		}
		candidate := CatalogCandidate{
			ItemID:        parent.ID,
			ItemName:      parent.ItemData.Name,
			Description:   parent.ItemData.Description,
			Category:      categories[parent.ItemData.CategoryID],
			VariationID:   variation.ID,
			VariationName: data.Name,
			SKU:           data.SKU,
		}
		if data.PriceMoney != nil {
			candidate.PriceCents = data.PriceMoney.Amount
		}
		candidates = append(candidates, candidate)
	}
	return candidates, errs
}

func candidateFields(c CatalogCandidate) catalog.ExternalFields {
	size, temperature, toGo := deriveAttributes(c.VariationName)
	return catalog.ExternalFields{
		SquareItemID:      c.ItemID,
		SquareVariationID: c.VariationID,
		Name:              c.ItemName,
		Description:       c.Description,
		Category:          c.Category,
		VariationName:     c.VariationName,
		SKU:               c.SKU,
		PriceCents:        c.PriceCents,
		Size:              size,
		Temperature:       temperature,
		ToGoStatus:        toGo,
	}
}

var sizeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*oz\b`)

// deriveAttributes guesses size, temperature and to-go status from a
// variation name like "12oz Iced To-Go". Unknown names leave the
// attributes blank rather than guessing wrong.
func deriveAttributes(variationName string) (size, temperature, toGo string) {
	lower := strings.ToLower(variationName)

	if m := sizeRe.FindStringSubmatch(lower); m != nil {
		size = m[1] + "oz"
	} else {
		switch {
		case strings.Contains(lower, "small"):
			size = "small"
		case strings.Contains(lower, "medium"):
			size = "medium"
		case strings.Contains(lower, "large"):
			size = "large"
		}
	}

	switch {
	case strings.Contains(lower, "iced"):
		temperature = "iced"
	case strings.Contains(lower, "hot"):
		temperature = "hot"
	}

	if strings.Contains(lower, "to-go") || strings.Contains(lower, "to go") || strings.Contains(lower, "takeout") {
		toGo = "to-go"
	}
	return size, temperature, toGo
}
