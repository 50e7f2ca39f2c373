package square

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/beanledger/beanledger/internal/catalog"
	"github.com/beanledger/beanledger/internal/observability"
	"github.com/beanledger/beanledger/internal/platform/httpx"
	"github.com/beanledger/beanledger/internal/shared"
)

// ProductLister pages through the local catalog.
type ProductLister interface {
	List(ctx context.Context, filter catalog.Filter) ([]catalog.Product, shared.Pagination, error)
}

// HandlerParams wires the Square HTTP surface.
type HandlerParams struct {
	Logger         *slog.Logger
	Settings       *SettingsService
	Mappings       *MappingService
	Engine         *ConsumptionEngine
	Intake         *WebhookProcessor
	Importer       *Importer
	Repo           *Repository
	Products       ProductLister
	Cache          *CandidateCache
	Client         ClientFactory
	Audit          AuditPort
	Metrics        *observability.Metrics
	WebhookTimeout time.Duration
	WebhookMaxBody int64
}

// Handler exposes the Square integration endpoints.
type Handler struct {
	logger         *slog.Logger
	validator      *validator.Validate
	settings       *SettingsService
	mappings       *MappingService
	engine         *ConsumptionEngine
	intake         *WebhookProcessor
	importer       *Importer
	repo           *Repository
	products       ProductLister
	cache          *CandidateCache
	client         ClientFactory
	audit          AuditPort
	metrics        *observability.Metrics
	webhookTimeout time.Duration
	webhookMaxBody int64
}

func NewHandler(params HandlerParams) *Handler {
	return &Handler{
		logger:         params.Logger,
		validator:      validator.New(),
		settings:       params.Settings,
		mappings:       params.Mappings,
		engine:         params.Engine,
		intake:         params.Intake,
		importer:       params.Importer,
		repo:           params.Repo,
		products:       params.Products,
		cache:          params.Cache,
		client:         params.Client,
		audit:          params.Audit,
		metrics:        params.Metrics,
		webhookTimeout: params.WebhookTimeout,
		webhookMaxBody: params.WebhookMaxBody,
	}
}

// MountRoutes registers the admin-facing Square routes. The public
// webhook endpoint is mounted separately by the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.saveSettings)
	r.Get("/status", h.status)
	r.Get("/locations", h.listLocations)
	r.Get("/inventory-counts", h.inventoryCounts)
	r.Get("/mappings", h.listMappings)
	r.Post("/mappings", h.createMapping)
	r.Post("/mappings/{mappingID}/enable", h.enableMapping)
	r.Post("/mappings/{mappingID}/disable", h.disableMapping)
	r.Get("/mappings/suggestions", h.suggestions)
	r.Post("/catalog/import", h.importCatalog)
	r.Get("/sync-runs", h.listRuns)
	r.Get("/webhook-logs", h.listLogs)
	r.Post("/webhook-logs/{logID}/replay", h.replayLog)
	r.Post("/sales/process", h.processSale)
}

// HandleWebhook receives Square webhook deliveries. It is mounted
// outside the admin group: deliveries authenticate with the HMAC
// signature, never with the admin token.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpx.Text(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Consumption gets its own budget: detach from the request timeout
	// middleware but keep context values.
	ctx := context.WithoutCancel(r.Context())
	ctx, cancel := context.WithTimeout(ctx, h.webhookTimeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, h.webhookMaxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.observeWebhook(OutcomeFailed)
		httpx.Text(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	result := h.intake.Handle(ctx, body, r.Header.Get("x-square-signature"))
	h.observeWebhook(result.Outcome)
	httpx.Text(w, result.StatusCode, result.Body)
}

type settingsPayload struct {
	AccessToken             string `json:"accessToken"`
	Environment             string `json:"environment" validate:"required,oneof=sandbox production"`
	LocationID              string `json:"locationId"`
	WebhookSigningKey       string `json:"webhookSigningKey"`
	AllowUnverifiedWebhooks bool   `json:"allowUnverifiedWebhooks"`
	AutoSyncEnabled         bool   `json:"autoSyncEnabled"`
	SyncFrequency           string `json:"syncFrequency" validate:"required,oneof=realtime hourly daily"`
}

type settingsResponse struct {
	Connected               bool   `json:"connected"`
	AccessToken             string `json:"accessToken"`
	Environment             string `json:"environment"`
	LocationID              string `json:"locationId"`
	WebhookSigningKey       string `json:"webhookSigningKey"`
	AllowUnverifiedWebhooks bool   `json:"allowUnverifiedWebhooks"`
	AutoSyncEnabled         bool   `json:"autoSyncEnabled"`
	SyncFrequency           string `json:"syncFrequency"`
	UpdatedAt               string `json:"updatedAt,omitempty"`
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSettingsResponse(settings))
}

func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	settings, err := h.settings.Save(r.Context(), SettingsInput{
		AccessToken:             payload.AccessToken,
		Environment:             payload.Environment,
		LocationID:              payload.LocationID,
		WebhookSigningKey:       payload.WebhookSigningKey,
		AllowUnverifiedWebhooks: payload.AllowUnverifiedWebhooks,
		AutoSyncEnabled:         payload.AutoSyncEnabled,
		SyncFrequency:           payload.SyncFrequency,
		Actor:                   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSettingsResponse(settings))
}

type statusResponse struct {
	Connected       bool   `json:"connected"`
	Environment     string `json:"environment"`
	SyncFrequency   string `json:"syncFrequency"`
	AutoSyncEnabled bool   `json:"autoSyncEnabled"`
	LocationCount   int    `json:"locationCount"`
	Reason          string `json:"reason,omitempty"`
}

// status reports whether the stored credentials actually reach Square.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := statusResponse{
		Environment:     settings.Environment,
		SyncFrequency:   settings.SyncFrequency,
		AutoSyncEnabled: settings.AutoSyncEnabled,
	}
	if !settings.Connected() {
		out.Reason = "access token not configured"
		httpx.JSON(w, http.StatusOK, out)
		return
	}

	api := h.client(settings.AccessToken, settings.Environment)
	locations, err := api.ListLocations(r.Context())
	if err != nil {
		h.logger.Warn("square connection test failed", slog.String("error", err.Error()))
		out.Reason = "square api unreachable"
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	out.Connected = true
	out.LocationCount = len(locations)
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !settings.Connected() {
		h.respondError(w, ErrNotConnected)
		return
	}
	api := h.client(settings.AccessToken, settings.Environment)
	locations, err := api.ListLocations(r.Context())
	if err != nil {
		h.respondUpstream(w, "square locations fetch failed", err)
		return
	}
	if locations == nil {
		locations = []Location{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locations": locations})
}

type countResponse struct {
	SquareVariationID string `json:"squareVariationId"`
	LocationID        string `json:"locationId"`
	State             string `json:"state"`
	Quantity          string `json:"quantity"`
}

// inventoryCounts fetches Square-side stock levels for every actively
// mapped variation, for side-by-side comparison with the local ledger.
func (h *Handler) inventoryCounts(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !settings.Connected() {
		h.respondError(w, ErrNotConnected)
		return
	}

	mappings, err := h.mappings.List(r.Context(), false)
	if err != nil {
		h.respondError(w, err)
		return
	}
	seen := make(map[string]struct{}, len(mappings))
	variationIDs := make([]string, 0, len(mappings))
	for _, m := range mappings {
		if _, dup := seen[m.SquareVariationID]; dup {
			continue
		}
		seen[m.SquareVariationID] = struct{}{}
		variationIDs = append(variationIDs, m.SquareVariationID)
	}
	if len(variationIDs) == 0 {
		httpx.JSON(w, http.StatusOK, map[string]any{"counts": []countResponse{}})
		return
	}

	api := h.client(settings.AccessToken, settings.Environment)
	counts, err := api.BatchRetrieveCounts(r.Context(), variationIDs, settings.LocationID)
	if err != nil {
		h.respondUpstream(w, "square inventory counts fetch failed", err)
		return
	}
	out := make([]countResponse, 0, len(counts))
	for _, c := range counts {
		out = append(out, countResponse{
			SquareVariationID: c.CatalogObjectID,
			LocationID:        c.LocationID,
			State:             c.State,
			Quantity:          c.Quantity,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"counts": out})
}

type mappingPayload struct {
	ProductID         int64  `json:"productId" validate:"required,gt=0"`
	SquareItemID      string `json:"squareItemId" validate:"required"`
	SquareItemName    string `json:"squareItemName"`
	SquareVariationID string `json:"squareVariationId" validate:"required"`
}

type mappingResponse struct {
	ID                int64  `json:"id"`
	ProductID         int64  `json:"productId"`
	ProductName       string `json:"productName"`
	SquareItemID      string `json:"squareItemId"`
	SquareItemName    string `json:"squareItemName"`
	SquareVariationID string `json:"squareVariationId"`
	Status            string `json:"status"`
	LastSyncedAt      string `json:"lastSyncedAt,omitempty"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	includeDisabled := r.URL.Query().Get("includeDisabled") == "true"
	mappings, err := h.mappings.List(r.Context(), includeDisabled)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]mappingResponse, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, toMappingResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"mappings": out})
}

func (h *Handler) createMapping(w http.ResponseWriter, r *http.Request) {
	var payload mappingPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	mapping, err := h.mappings.Create(r.Context(), MappingInput{
		ProductID:         payload.ProductID,
		SquareItemID:      payload.SquareItemID,
		SquareItemName:    payload.SquareItemName,
		SquareVariationID: payload.SquareVariationID,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMappingResponse(mapping))
}

func (h *Handler) enableMapping(w http.ResponseWriter, r *http.Request) {
	h.setMappingEnabled(w, r, true)
}

func (h *Handler) disableMapping(w http.ResponseWriter, r *http.Request) {
	h.setMappingEnabled(w, r, false)
}

func (h *Handler) setMappingEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "mappingID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid mapping id")
		return
	}
	mapping, err := h.mappings.SetEnabled(r.Context(), id, enabled, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMappingResponse(mapping))
}

type suggestionResponse struct {
	ProductID         int64   `json:"productId"`
	ProductName       string  `json:"productName"`
	SquareItemID      string  `json:"squareItemId"`
	SquareItemName    string  `json:"squareItemName"`
	SquareVariationID string  `json:"squareVariationId"`
	VariationName     string  `json:"variationName"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason"`
}

// suggestions loads products, catalog candidates and existing mappings
// in parallel, then runs the matcher. Pairs that are already mapped are
// filtered out, including disabled ones.
func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	g, ctx := errgroup.WithContext(r.Context())

	var (
		products   []catalog.Product
		candidates []CatalogCandidate
		existing   []Mapping
	)
	g.Go(func() error {
		var err error
		products, err = h.activeProducts(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		candidates, err = h.loadCandidates(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		existing, err = h.mappings.List(ctx, true)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrNotConnected) {
			h.respondError(w, err)
			return
		}
		h.respondUpstream(w, "square catalog fetch failed", err)
		return
	}

	mapped := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		mapped[fmt.Sprintf("%d:%s", m.ProductID, m.SquareVariationID)] = struct{}{}
	}

	out := make([]suggestionResponse, 0)
	for _, s := range Suggest(products, candidates) {
		if _, done := mapped[fmt.Sprintf("%d:%s", s.ProductID, s.SquareVariationID)]; done {
			continue
		}
		out = append(out, suggestionResponse(s))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

func (h *Handler) importCatalog(w http.ResponseWriter, r *http.Request) {
	result, err := h.importer.Run(r.Context(), TriggerManual, shared.ActorFromContext(r.Context()))
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			h.respondError(w, err)
			return
		}
		h.respondUpstream(w, "square catalog import failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type runResponse struct {
	ID         int64    `json:"id"`
	RunID      string   `json:"runId"`
	Kind       string   `json:"kind"`
	Trigger    string   `json:"trigger"`
	Status     string   `json:"status"`
	Imported   int      `json:"imported"`
	Updated    int      `json:"updated"`
	Skipped    int      `json:"skipped"`
	Processed  int      `json:"processed"`
	Errors     []string `json:"errors"`
	StartedAt  string   `json:"startedAt"`
	FinishedAt string   `json:"finishedAt"`
	DurationMs int64    `json:"durationMs"`
	ActorType  string   `json:"actorType"`
	ActorID    string   `json:"actorId"`
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.repo.ListRuns(r.Context(), intQuery(r.URL.Query().Get("limit")))
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": out})
}

type logResponse struct {
	ID             int64  `json:"id"`
	EventID        string `json:"eventId"`
	EventType      string `json:"eventType"`
	Status         string `json:"status"`
	Success        bool   `json:"success"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	Detail         string `json:"detail,omitempty"`
	ItemsProcessed int    `json:"itemsProcessed"`
	ItemsUpdated   int    `json:"itemsUpdated"`
	ReceivedAt     string `json:"receivedAt"`
	ProcessedAt    string `json:"processedAt,omitempty"`
	ActorType      string `json:"actorType"`
	ActorID        string `json:"actorId"`
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.NewPagination(intQuery(q.Get("page")), intQuery(q.Get("perPage")), 0)
	logs, total, err := h.repo.ListLogs(r.Context(), page)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]logResponse, 0, len(logs))
	for _, log := range logs {
		out = append(out, toLogResponse(log))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"logs":       out,
		"pagination": shared.NewPagination(page.Page, page.PerPage, total),
	})
}

type saleResultResponse struct {
	Success        bool     `json:"success"`
	ItemsProcessed int      `json:"itemsProcessed"`
	ItemsUpdated   int      `json:"itemsUpdated"`
	Errors         []string `json:"errors"`
}

// replayLog re-runs consumption from a stored webhook payload. Replays
// post real movements; they are for recovering from fixed mappings, not
// for dry runs.
func (h *Handler) replayLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "logID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid log id")
		return
	}
	log, err := h.repo.GetLog(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if actor.Type() == shared.ActorSystem {
		actor = shared.SystemActor("webhook-replay")
	}

	started := time.Now()
	result, err := h.intake.ReplayPayload(r.Context(), log.Payload, actor)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			httpx.RespondError(w, err)
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	h.recordSaleRun(r.Context(), TriggerWebhookReplay, actor, started, result)

	if h.audit != nil {
		_ = h.audit.Record(r.Context(), shared.AuditLog{
			Actor:    actor,
			Action:   "square:webhook_replayed",
			Entity:   "square_webhook_log",
			EntityID: strconv.FormatInt(log.ID, 10),
			Meta: map[string]any{
				"event_id":        log.EventID,
				"items_processed": result.ItemsProcessed,
				"items_updated":   result.ItemsUpdated,
				"errors":          len(result.Errors),
			},
		})
	}
	httpx.JSON(w, http.StatusOK, toSaleResultResponse(result))
}

type salePayload struct {
	SaleID string            `json:"saleId" validate:"required"`
	Lines  []saleLinePayload `json:"lines" validate:"required,min=1,dive"`
}

type saleLinePayload struct {
	CatalogObjectID string  `json:"catalogObjectId" validate:"required"`
	Name            string  `json:"name"`
	Quantity        float64 `json:"quantity" validate:"required,gt=0"`
}

// processSale runs a hand-entered sale through the consumption engine,
// for POS outages and backfills.
func (h *Handler) processSale(w http.ResponseWriter, r *http.Request) {
	var payload salePayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if actor.Type() == shared.ActorSystem {
		actor = shared.SystemActor("manual-sync")
	}

	sale := Sale{ID: payload.SaleID, Source: "manual", Lines: make([]SaleLine, 0, len(payload.Lines))}
	for _, line := range payload.Lines {
		sale.Lines = append(sale.Lines, SaleLine{
			CatalogObjectID: line.CatalogObjectID,
			Name:            line.Name,
			Quantity:        line.Quantity,
		})
	}

	started := time.Now()
	result, err := h.engine.ProcessSale(r.Context(), sale, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordSaleRun(r.Context(), TriggerManual, actor, started, result)
	httpx.JSON(w, http.StatusOK, toSaleResultResponse(result))
}

func (h *Handler) recordSaleRun(ctx context.Context, trigger string, actor shared.Actor, started time.Time, result SaleResult) {
	finished := time.Now()
	status := RunStatusCompleted
	if len(result.Errors) > 0 {
		status = RunStatusCompletedWithErrors
	}
	actorType, actorID := actor.Ref()
	_, err := h.repo.InsertRun(ctx, SyncRun{
		RunID:      uuid.New(),
		Kind:       RunKindSaleSync,
		Trigger:    trigger,
		Status:     status,
		Processed:  result.ItemsProcessed,
		Updated:    result.ItemsUpdated,
		Errors:     result.Errors,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
		ActorType:  actorType,
		ActorID:    actorID,
	})
	if err != nil {
		h.logger.Error("failed to record sale sync run", slog.String("error", err.Error()))
	}
	if h.metrics != nil {
		h.metrics.ObserveSyncRun(RunKindSaleSync, status)
	}
}

// activeProducts pages through the whole active catalog.
func (h *Handler) activeProducts(ctx context.Context) ([]catalog.Product, error) {
	var products []catalog.Product
	page := 1
	for {
		list, pagination, err := h.products.List(ctx, catalog.Filter{Status: shared.StatusActive, Page: page, PerPage: 200})
		if err != nil {
			return nil, err
		}
		products = append(products, list...)
		if page >= pagination.TotalPages {
			return products, nil
		}
		page++
	}
}

// loadCandidates serves the flattened catalog from the cache, reaching
// for Square only on a miss.
func (h *Handler) loadCandidates(ctx context.Context) ([]CatalogCandidate, error) {
	settings, err := h.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Connected() {
		return nil, ErrNotConnected
	}
	return h.cache.Fetch(ctx, func(ctx context.Context) ([]CatalogCandidate, error) {
		api := h.client(settings.AccessToken, settings.Environment)
		objects, err := api.SearchCatalog(ctx, []string{"ITEM", "ITEM_VARIATION", "CATEGORY"})
		if err != nil {
			return nil, err
		}
		candidates, _ := flattenCandidates(objects)
		return candidates, nil
	})
}

func (h *Handler) observeWebhook(outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveWebhook(outcome)
	}
}

func (h *Handler) respondUpstream(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", message)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMappingNotFound), errors.Is(err, ErrLogNotFound),
		errors.Is(err, catalog.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrMappingExists):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidMapping), errors.Is(err, ErrInvalidSettings),
		errors.Is(err, ErrNotConnected):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("square request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toSettingsResponse(s Settings) settingsResponse {
	out := settingsResponse{
		Connected:               s.Connected(),
		AccessToken:             redactSecret(s.AccessToken),
		Environment:             s.Environment,
		LocationID:              s.LocationID,
		WebhookSigningKey:       redactSecret(s.WebhookSigningKey),
		AllowUnverifiedWebhooks: s.AllowUnverifiedWebhooks,
		AutoSyncEnabled:         s.AutoSyncEnabled,
		SyncFrequency:           s.SyncFrequency,
	}
	if !s.UpdatedAt.IsZero() {
		out.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	return out
}

// redactSecret keeps the last four characters so operators can tell
// which credential is stored without ever seeing the whole value.
func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func toMappingResponse(m Mapping) mappingResponse {
	out := mappingResponse{
		ID:                m.ID,
		ProductID:         m.ProductID,
		ProductName:       m.ProductName,
		SquareItemID:      m.SquareItemID,
		SquareItemName:    m.SquareItemName,
		SquareVariationID: m.SquareVariationID,
		Status:            string(m.Status),
		CreatedAt:         m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         m.UpdatedAt.Format(time.RFC3339),
	}
	if !m.LastSyncedAt.IsZero() {
		out.LastSyncedAt = m.LastSyncedAt.Format(time.RFC3339)
	}
	return out
}

func toRunResponse(run SyncRun) runResponse {
	return runResponse{
		ID:         run.ID,
		RunID:      run.RunID.String(),
		Kind:       run.Kind,
		Trigger:    run.Trigger,
		Status:     run.Status,
		Imported:   run.Imported,
		Updated:    run.Updated,
		Skipped:    run.Skipped,
		Processed:  run.Processed,
		Errors:     run.Errors,
		StartedAt:  run.StartedAt.Format(time.RFC3339),
		FinishedAt: run.FinishedAt.Format(time.RFC3339),
		DurationMs: run.DurationMs,
		ActorType:  string(run.ActorType),
		ActorID:    run.ActorID,
	}
}

func toLogResponse(log WebhookLog) logResponse {
	out := logResponse{
		ID:             log.ID,
		EventID:        log.EventID,
		EventType:      log.EventType,
		Status:         log.Status,
		Success:        log.Success,
		ErrorMessage:   log.ErrorMessage,
		Detail:         log.Detail,
		ItemsProcessed: log.ItemsProcessed,
		ItemsUpdated:   log.ItemsUpdated,
		ReceivedAt:     log.ReceivedAt.Format(time.RFC3339),
		ActorType:      string(log.ActorType),
		ActorID:        log.ActorID,
	}
	if !log.ProcessedAt.IsZero() {
		out.ProcessedAt = log.ProcessedAt.Format(time.RFC3339)
	}
	return out
}

func toSaleResultResponse(result SaleResult) saleResultResponse {
	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	return saleResultResponse{
		Success:        result.Success,
		ItemsProcessed: result.ItemsProcessed,
		ItemsUpdated:   result.ItemsUpdated,
		Errors:         errs,
	}
}

func intQuery(raw string) int {
	v, _ := strconv.Atoi(raw)
	return v
}

func validationDetail(err error) string {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f.Field()+" "+f.Tag())
		}
		return "invalid fields: " + strings.Join(parts, ", ")
	}
	return err.Error()
}
