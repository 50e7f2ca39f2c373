package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/beanledger/beanledger/internal/platform/httpx"
	"github.com/beanledger/beanledger/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Post("/items", h.createItem)
	r.Get("/items/{itemID}", h.getItem)
	r.Put("/items/{itemID}", h.updateItem)
	r.Post("/items/{itemID}/archive", h.archiveItem)
	r.Get("/items/{itemID}/movements", h.listMovements)
	r.Post("/items/{itemID}/movements", h.applyMovement)
	r.Get("/low-stock", h.lowStock)
}

type itemPayload struct {
	Name                  string  `json:"name" validate:"required"`
	Category              string  `json:"category"`
	PhysicalUnit          string  `json:"physicalUnit" validate:"required"`
	RecipeUnit            string  `json:"recipeUnit" validate:"required"`
	UnitsPerPhysicalItem  float64 `json:"unitsPerPhysicalItem" validate:"gte=0"`
	CostPerPhysicalUnit   float64 `json:"costPerPhysicalUnit" validate:"gte=0"`
	MinPhysicalStockLevel float64 `json:"minPhysicalStockLevel" validate:"gte=0"`
	MaxPhysicalStockLevel float64 `json:"maxPhysicalStockLevel" validate:"gte=0"`
	InitialStock          float64 `json:"initialStock" validate:"gte=0"`
}

type movementPayload struct {
	Type     string  `json:"type" validate:"required,oneof=IN OUT ADJUSTMENT"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
	Reason   string  `json:"reason"`
	Notes    string  `json:"notes"`
}

type itemResponse struct {
	ID                    int64   `json:"id"`
	Name                  string  `json:"name"`
	Category              string  `json:"category"`
	PhysicalUnit          string  `json:"physicalUnit"`
	CurrentPhysicalStock  float64 `json:"currentPhysicalStock"`
	MinPhysicalStockLevel float64 `json:"minPhysicalStockLevel"`
	MaxPhysicalStockLevel float64 `json:"maxPhysicalStockLevel"`
	RecipeUnit            string  `json:"recipeUnit"`
	UnitsPerPhysicalItem  float64 `json:"unitsPerPhysicalItem"`
	CostPerPhysicalUnit   float64 `json:"costPerPhysicalUnit"`
	CostPerRecipeUnit     float64 `json:"costPerRecipeUnit"`
	Status                string  `json:"status"`
	CreatedAt             string  `json:"createdAt"`
	UpdatedAt             string  `json:"updatedAt"`
}

type movementResponse struct {
	ID            int64   `json:"id"`
	ItemID        int64   `json:"itemId"`
	ItemName      string  `json:"itemName"`
	Type          string  `json:"type"`
	Quantity      float64 `json:"quantity"`
	PreviousStock float64 `json:"previousStock"`
	NewStock      float64 `json:"newStock"`
	Reason        string  `json:"reason"`
	Notes         string  `json:"notes,omitempty"`
	ActorType     string  `json:"actorType"`
	ActorID       string  `json:"actorId"`
	CreatedAt     string  `json:"createdAt"`
}

type listItemsResponse struct {
	Items      []itemResponse    `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	item, err := h.service.CreateItem(r.Context(), CreateItemInput{
		Name:                  payload.Name,
		Category:              payload.Category,
		PhysicalUnit:          payload.PhysicalUnit,
		RecipeUnit:            payload.RecipeUnit,
		UnitsPerPhysicalItem:  payload.UnitsPerPhysicalItem,
		CostPerPhysicalUnit:   payload.CostPerPhysicalUnit,
		MinPhysicalStockLevel: payload.MinPhysicalStockLevel,
		MaxPhysicalStockLevel: payload.MaxPhysicalStockLevel,
		InitialStock:          payload.InitialStock,
		Actor:                 shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ItemFilter{
		Search:  strings.TrimSpace(q.Get("search")),
		Page:    intQuery(q.Get("page")),
		PerPage: intQuery(q.Get("perPage")),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := shared.ParseStatus(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		filter.Status = status
	}
	items, page, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := listItemsResponse{Items: make([]itemResponse, 0, len(items)), Pagination: page}
	for _, item := range items {
		out.Items = append(out.Items, toItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	var payload itemPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	item, err := h.service.UpdateItem(r.Context(), id, UpdateItemInput{
		Name:                  payload.Name,
		Category:              payload.Category,
		PhysicalUnit:          payload.PhysicalUnit,
		RecipeUnit:            payload.RecipeUnit,
		UnitsPerPhysicalItem:  payload.UnitsPerPhysicalItem,
		CostPerPhysicalUnit:   payload.CostPerPhysicalUnit,
		MinPhysicalStockLevel: payload.MinPhysicalStockLevel,
		MaxPhysicalStockLevel: payload.MaxPhysicalStockLevel,
		Actor:                 shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) archiveItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	if err := h.service.ArchiveItem(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (h *Handler) applyMovement(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	var payload movementPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	movement, err := h.service.ApplyMovement(r.Context(), ApplyInput{
		ItemID:   id,
		Type:     MovementType(payload.Type),
		Quantity: payload.Quantity,
		Reason:   payload.Reason,
		Notes:    payload.Notes,
		Actor:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{ItemID: id, Limit: intQuery(q.Get("limit"))}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from date")
			return
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to date")
			return
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.LowStock(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidMovementType),
		errors.Is(err, ErrReasonRequired), errors.Is(err, ErrActorRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toItemResponse(item Item) itemResponse {
	return itemResponse{
		ID:                    item.ID,
		Name:                  item.Name,
		Category:              item.Category,
		PhysicalUnit:          item.PhysicalUnit,
		CurrentPhysicalStock:  item.CurrentPhysicalStock,
		MinPhysicalStockLevel: item.MinPhysicalStockLevel,
		MaxPhysicalStockLevel: item.MaxPhysicalStockLevel,
		RecipeUnit:            item.RecipeUnit,
		UnitsPerPhysicalItem:  item.UnitsPerPhysicalItem,
		CostPerPhysicalUnit:   item.CostPerPhysicalUnit,
		CostPerRecipeUnit:     item.CostPerRecipeUnit,
		Status:                string(item.Status),
		CreatedAt:             item.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             item.UpdatedAt.Format(time.RFC3339),
	}
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		ID:            m.ID,
		ItemID:        m.ItemID,
		ItemName:      m.ItemName,
		Type:          string(m.Type),
		Quantity:      m.Quantity,
		PreviousStock: m.PreviousStock,
		NewStock:      m.NewStock,
		Reason:        m.Reason,
		Notes:         m.Notes,
		ActorType:     string(m.ActorType),
		ActorID:       m.ActorID,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
}

func itemID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
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
