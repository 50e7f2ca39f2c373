package catalog

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

// Handler wires HTTP endpoints for the catalog module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{productID}", h.getProduct)
	r.Put("/products/{productID}", h.updateDetails)
	r.Put("/products/{productID}/recipe", h.updateRecipe)
	r.Post("/products/{productID}/archive", h.archiveProduct)
}

type ingredientPayload struct {
	ItemID   int64   `json:"itemId" validate:"required,gt=0"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
	Unit     string  `json:"unit"`
	Notes    string  `json:"notes"`
}

type createProductPayload struct {
	Name             string              `json:"name" validate:"required"`
	Description      string              `json:"description"`
	Category         string              `json:"category"`
	VariationName    string              `json:"variationName"`
	SKU              string              `json:"sku"`
	PriceCents       int64               `json:"priceCents" validate:"gte=0"`
	Size             string              `json:"size"`
	Temperature      string              `json:"temperature"`
	ToGoStatus       string              `json:"toGoStatus"`
	PrepTimeMinutes  int                 `json:"prepTimeMinutes" validate:"gte=0"`
	PrepInstructions string              `json:"prepInstructions"`
	Allergens        []string            `json:"allergens"`
	Ingredients      []ingredientPayload `json:"ingredients" validate:"dive"`
}

type detailsPayload struct {
	Name          string `json:"name" validate:"required"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	VariationName string `json:"variationName"`
	SKU           string `json:"sku"`
	PriceCents    int64  `json:"priceCents" validate:"gte=0"`
	Size          string `json:"size"`
	Temperature   string `json:"temperature"`
	ToGoStatus    string `json:"toGoStatus"`
}

type recipePayload struct {
	Ingredients      []ingredientPayload `json:"ingredients" validate:"dive"`
	PrepTimeMinutes  int                 `json:"prepTimeMinutes" validate:"gte=0"`
	PrepInstructions string              `json:"prepInstructions"`
	Allergens        []string            `json:"allergens"`
}

type ingredientResponse struct {
	ID       int64   `json:"id"`
	ItemID   int64   `json:"itemId"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Notes    string  `json:"notes,omitempty"`
}

type productResponse struct {
	ID                int64                `json:"id"`
	Name              string               `json:"name"`
	Description       string               `json:"description"`
	Category          string               `json:"category"`
	VariationName     string               `json:"variationName"`
	SKU               string               `json:"sku"`
	PriceCents        int64                `json:"priceCents"`
	Size              string               `json:"size,omitempty"`
	Temperature       string               `json:"temperature,omitempty"`
	ToGoStatus        string               `json:"toGoStatus,omitempty"`
	SquareItemID      string               `json:"squareItemId,omitempty"`
	SquareVariationID string               `json:"squareVariationId,omitempty"`
	SquareLinked      bool                 `json:"squareLinked"`
	PrepTimeMinutes   int                  `json:"prepTimeMinutes"`
	PrepInstructions  string               `json:"prepInstructions,omitempty"`
	Allergens         []string             `json:"allergens"`
	Ingredients       []ingredientResponse `json:"ingredients"`
	Status            string               `json:"status"`
	CreatedAt         string               `json:"createdAt"`
	UpdatedAt         string               `json:"updatedAt"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var payload createProductPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.Create(r.Context(), CreateInput{
		Name:             payload.Name,
		Description:      payload.Description,
		Category:         payload.Category,
		VariationName:    payload.VariationName,
		SKU:              payload.SKU,
		PriceCents:       payload.PriceCents,
		Size:             payload.Size,
		Temperature:      payload.Temperature,
		ToGoStatus:       payload.ToGoStatus,
		PrepTimeMinutes:  payload.PrepTimeMinutes,
		PrepInstructions: payload.PrepInstructions,
		Allergens:        payload.Allergens,
		Ingredients:      toIngredientInputs(payload.Ingredients),
		Actor:            shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProductResponse(product))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
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
	products, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": out, "pagination": page})
}

func (h *Handler) updateDetails(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var payload detailsPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.UpdateDetails(r.Context(), id, DetailsInput{
		Name:          payload.Name,
		Description:   payload.Description,
		Category:      payload.Category,
		VariationName: payload.VariationName,
		SKU:           payload.SKU,
		PriceCents:    payload.PriceCents,
		Size:          payload.Size,
		Temperature:   payload.Temperature,
		ToGoStatus:    payload.ToGoStatus,
		Actor:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) updateRecipe(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var payload recipePayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.UpdateRecipe(r.Context(), id, RecipeInput{
		Ingredients:      toIngredientInputs(payload.Ingredients),
		PrepTimeMinutes:  payload.PrepTimeMinutes,
		PrepInstructions: payload.PrepInstructions,
		Allergens:        payload.Allergens,
		Actor:            shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) archiveProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	if err := h.service.Archive(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSquareManaged), errors.Is(err, ErrVariationLinked):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidIngredient):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("catalog request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toIngredientInputs(payloads []ingredientPayload) []IngredientInput {
	inputs := make([]IngredientInput, 0, len(payloads))
	for _, p := range payloads {
		inputs = append(inputs, IngredientInput{ItemID: p.ItemID, Quantity: p.Quantity, Unit: p.Unit, Notes: p.Notes})
	}
	return inputs
}

func toProductResponse(p Product) productResponse {
	ingredients := make([]ingredientResponse, 0, len(p.Ingredients))
	for _, ing := range p.Ingredients {
		ingredients = append(ingredients, ingredientResponse{ID: ing.ID, ItemID: ing.ItemID, Quantity: ing.Quantity, Unit: ing.Unit, Notes: ing.Notes})
	}
	allergens := p.Allergens
	if allergens == nil {
		allergens = []string{}
	}
	return productResponse{
		ID:                p.ID,
		Name:              p.Name,
		Description:       p.Description,
		Category:          p.Category,
		VariationName:     p.VariationName,
		SKU:               p.SKU,
		PriceCents:        p.PriceCents,
		Size:              p.Size,
		Temperature:       p.Temperature,
		ToGoStatus:        p.ToGoStatus,
		SquareItemID:      p.SquareItemID,
		SquareVariationID: p.SquareVariationID,
		SquareLinked:      p.SquareLinked(),
		PrepTimeMinutes:   p.PrepTimeMinutes,
		PrepInstructions:  p.PrepInstructions,
		Allergens:         allergens,
		Ingredients:       ingredients,
		Status:            string(p.Status),
		CreatedAt:         p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         p.UpdatedAt.Format(time.RFC3339),
	}
}

func productID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
}

func intQuery(raw string) int {
	v, _ := strconv.Atoi(raw)
	return v
}
