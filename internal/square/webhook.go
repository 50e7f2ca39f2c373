package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beanledger/beanledger/internal/shared"
)

// Webhook intake outcomes, used as metric labels and for log lines.
const (
	OutcomeProcessed    = "processed"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
	OutcomeUnverified   = "unverified"
	OutcomeBadSignature = "bad_signature"
	OutcomeFailed       = "failed"
)

// WebhookLogStore claims and finalizes delivery rows.
type WebhookLogStore interface {
	ClaimEvent(ctx context.Context, log WebhookLog) (bool, error)
	FinalizeEvent(ctx context.Context, eventID string, outcome LogOutcome) error
}

// SaleProcessor runs a sale through the consumption engine.
type SaleProcessor interface {
	ProcessSale(ctx context.Context, sale Sale, actor shared.Actor) (SaleResult, error)
}

// SettingsReader exposes the current Square settings.
type SettingsReader interface {
	Get(ctx context.Context) (Settings, error)
}

// WebhookProcessor verifies, dedupes and dispatches Square webhook
// deliveries. Every verified delivery leaves a log row: the row is
// claimed before processing, so a redelivered event id acks without
// running the engine twice.
type WebhookProcessor struct {
	logger   *slog.Logger
	settings SettingsReader
	logs     WebhookLogStore
	engine   SaleProcessor
}

func NewWebhookProcessor(logger *slog.Logger, settings SettingsReader, logs WebhookLogStore, engine SaleProcessor) *WebhookProcessor {
	return &WebhookProcessor{logger: logger, settings: settings, logs: logs, engine: engine}
}

// IntakeResult is what the HTTP handler writes back to Square. Bodies
// are plain text; Square treats any 2xx as an ack.
type IntakeResult struct {
	StatusCode int
	Body       string
	Outcome    string
}

// Handle runs one delivery through verification, dedupe, filtering and
// consumption. Claimed events that later time out are not retried by
// redelivery; the stored payload supports manual replay instead.
func (p *WebhookProcessor) Handle(ctx context.Context, body []byte, signature string) IntakeResult {
	settings, err := p.settings.Get(ctx)
	if err != nil {
		p.logger.Error("webhook settings lookup failed", slog.String("error", err.Error()))
		return IntakeResult{StatusCode: http.StatusInternalServerError, Body: "internal error", Outcome: OutcomeFailed}
	}

	if settings.WebhookSigningKey != "" {
		if !verifySignature(body, signature, settings.WebhookSigningKey) {
			p.logger.Warn("webhook signature mismatch")
			return IntakeResult{StatusCode: http.StatusUnauthorized, Body: "signature mismatch", Outcome: OutcomeBadSignature}
		}
	} else if !settings.AllowUnverifiedWebhooks {
		p.logger.Warn("webhook rejected: no signing key configured")
		return IntakeResult{StatusCode: http.StatusUnauthorized, Body: "webhook signature key not configured", Outcome: OutcomeUnverified}
	} else {
		p.logger.Warn("processing unverified square webhook")
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return IntakeResult{StatusCode: http.StatusBadRequest, Body: "invalid payload", Outcome: OutcomeFailed}
	}
	if envelope.EventID == "" {
		return IntakeResult{StatusCode: http.StatusBadRequest, Body: "missing event id", Outcome: OutcomeFailed}
	}

	actor := shared.SystemActor("square-webhook")
	actorType, actorID := actor.Ref()
	claimed, err := p.logs.ClaimEvent(ctx, WebhookLog{
		EventID:    envelope.EventID,
		EventType:  envelope.Type,
		Payload:    body,
		ReceivedAt: time.Now(),
		ActorType:  actorType,
		ActorID:    actorID,
	})
	if err != nil {
		p.logger.Error("webhook claim failed", slog.String("event", envelope.EventID), slog.String("error", err.Error()))
		return IntakeResult{StatusCode: http.StatusInternalServerError, Body: "internal error", Outcome: OutcomeFailed}
	}
	if !claimed {
		return IntakeResult{StatusCode: http.StatusOK, Body: "Already processed", Outcome: OutcomeDuplicate}
	}

	if !consumableEventType(envelope.Type) {
		p.ignore(ctx, envelope.EventID, fmt.Sprintf("event type %s not consumed", envelope.Type))
		return IntakeResult{StatusCode: http.StatusOK, Body: "ignored", Outcome: OutcomeIgnored}
	}

	order, ok := envelope.order()
	if !ok {
		p.ignore(ctx, envelope.EventID, "no order in payload")
		return IntakeResult{StatusCode: http.StatusOK, Body: "ignored", Outcome: OutcomeIgnored}
	}
	if !strings.EqualFold(order.State, "COMPLETED") {
		p.ignore(ctx, envelope.EventID, fmt.Sprintf("order state %s", order.State))
		return IntakeResult{StatusCode: http.StatusOK, Body: "ignored", Outcome: OutcomeIgnored}
	}

	sale, lineErrors := saleFromOrder(envelope, order, "webhook")
	result, err := p.engine.ProcessSale(ctx, sale, actor)
	if err != nil {
		finalizeErr := p.logs.FinalizeEvent(ctx, envelope.EventID, LogOutcome{
			Status:         LogStatusFailed,
			ErrorMessage:   err.Error(),
			ItemsProcessed: result.ItemsProcessed,
			ItemsUpdated:   result.ItemsUpdated,
		})
		if finalizeErr != nil {
			p.logger.Error("webhook finalize failed", slog.String("event", envelope.EventID), slog.String("error", finalizeErr.Error()))
		}
		return IntakeResult{StatusCode: http.StatusInternalServerError, Body: "internal error", Outcome: OutcomeFailed}
	}

	result.Errors = append(lineErrors, result.Errors...)
	result.Success = len(result.Errors) == 0

	if err := p.logs.FinalizeEvent(ctx, envelope.EventID, LogOutcome{
		Status:         LogStatusProcessed,
		Success:        result.Success,
		ErrorMessage:   joinErrors(result.Errors),
		Detail:         fmt.Sprintf("sale %s: %d lines, %d consumed", sale.ID, result.ItemsProcessed, result.ItemsUpdated),
		ItemsProcessed: result.ItemsProcessed,
		ItemsUpdated:   result.ItemsUpdated,
	}); err != nil {
		p.logger.Error("webhook finalize failed", slog.String("event", envelope.EventID), slog.String("error", err.Error()))
	}

	p.logger.Info("square webhook processed",
		slog.String("event", envelope.EventID),
		slog.String("type", envelope.Type),
		slog.String("sale", sale.ID),
		slog.Int("lines", result.ItemsProcessed),
		slog.Int("consumed", result.ItemsUpdated),
		slog.Int("errors", len(result.Errors)),
	)
	return IntakeResult{StatusCode: http.StatusOK, Body: "processed", Outcome: OutcomeProcessed}
}

// ReplayPayload re-runs consumption for a stored delivery, bypassing
// signature checks and dedupe. The order must still be a completed,
// consumable one.
func (p *WebhookProcessor) ReplayPayload(ctx context.Context, payload []byte, actor shared.Actor) (SaleResult, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return SaleResult{}, fmt.Errorf("square: invalid stored payload: %w", err)
	}
	if !consumableEventType(envelope.Type) {
		return SaleResult{}, fmt.Errorf("square: event type %q is not consumable", envelope.Type)
	}
	order, ok := envelope.order()
	if !ok {
		return SaleResult{}, fmt.Errorf("square: stored payload has no order")
	}
	if !strings.EqualFold(order.State, "COMPLETED") {
		return SaleResult{}, fmt.Errorf("square: order state %s is not completed", order.State)
	}

	sale, lineErrors := saleFromOrder(envelope, order, "replay")
	result, err := p.engine.ProcessSale(ctx, sale, actor)
	if err != nil {
		return result, err
	}
	result.Errors = append(lineErrors, result.Errors...)
	result.Success = len(result.Errors) == 0
	return result, nil
}

func (p *WebhookProcessor) ignore(ctx context.Context, eventID, detail string) {
	if err := p.logs.FinalizeEvent(ctx, eventID, LogOutcome{
		Status:  LogStatusIgnored,
		Success: true,
		Detail:  detail,
	}); err != nil {
		p.logger.Error("webhook finalize failed", slog.String("event", eventID), slog.String("error", err.Error()))
	}
}

// verifySignature checks the HMAC-SHA256 of the raw body against the
// x-square-signature header in constant time.
func verifySignature(body []byte, signature, key string) bool {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func consumableEventType(eventType string) bool {
	switch eventType {
	case "order.created", "order.updated", "order.fulfillment.updated":
		return true
	}
	return false
}

type webhookEnvelope struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	MerchantID string `json:"merchant_id"`
	Data       struct {
		Type   string        `json:"type"`
		ID     string        `json:"id"`
		Object webhookObject `json:"object"`
	} `json:"data"`
}

// Square nests the order under a key that varies by event type.
type webhookObject struct {
	Order                   *webhookOrder `json:"order"`
	OrderUpdated            *webhookOrder `json:"order_updated"`
	OrderFulfillmentUpdated *webhookOrder `json:"order_fulfillment_updated"`
}

type webhookOrder struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id"`
	State     string            `json:"state"`
	LineItems []webhookLineItem `json:"line_items"`
}

type webhookLineItem struct {
	UID             string `json:"uid"`
	CatalogObjectID string `json:"catalog_object_id"`
	Name            string `json:"name"`
	Quantity        string `json:"quantity"`
}

func (e webhookEnvelope) order() (*webhookOrder, bool) {
	switch {
	case e.Data.Object.Order != nil:
		return e.Data.Object.Order, true
	case e.Data.Object.OrderUpdated != nil:
		return e.Data.Object.OrderUpdated, true
	case e.Data.Object.OrderFulfillmentUpdated != nil:
		return e.Data.Object.OrderFulfillmentUpdated, true
	}
	return nil, false
}

func saleFromOrder(envelope webhookEnvelope, order *webhookOrder, source string) (Sale, []string) {
	saleID := order.ID
	if saleID == "" {
		saleID = order.OrderID
	}
	if saleID == "" {
		saleID = envelope.Data.ID
	}

	sale := Sale{ID: saleID, Source: source, Lines: make([]SaleLine, 0, len(order.LineItems))}
	var lineErrors []string
	for _, item := range order.LineItems {
		if item.CatalogObjectID == "" {
			// Custom amounts and ad-hoc items carry no catalog object.
			continue
		}
		quantity, err := strconv.ParseFloat(item.Quantity, 64)
		if err != nil || quantity <= 0 {
			lineErrors = append(lineErrors, fmt.Sprintf("%s: bad quantity %q", item.CatalogObjectID, item.Quantity))
			continue
		}
		sale.Lines = append(sale.Lines, SaleLine{
			CatalogObjectID: item.CatalogObjectID,
			Name:            item.Name,
			Quantity:        quantity,
		})
	}
	return sale, lineErrors
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	joined := strings.Join(errs, "; ")
	if len(joined) > 2000 {
		joined = joined[:2000]
	}
	return joined
}
