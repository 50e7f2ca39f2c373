package square

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beanledger/beanledger/internal/catalog"
	"github.com/beanledger/beanledger/internal/inventory"
	"github.com/beanledger/beanledger/internal/shared"
)

// MappingStore is the mapping slice the consumption engine reads.
type MappingStore interface {
	ActiveMappingByVariation(ctx context.Context, variationID string) (Mapping, error)
	TouchMappingsSynced(ctx context.Context, ids []int64, at time.Time) error
}

// ProductResolver loads mapped products with their recipes.
type ProductResolver interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
}

// Ledger posts stock movements.
type Ledger interface {
	ApplyMovement(ctx context.Context, input inventory.ApplyInput) (inventory.Movement, error)
}

// ConsumptionEngine turns completed sales into ingredient-level OUT
// movements. One bad line never blocks the rest of the sale: failures
// are collected per line and the remaining lines keep consuming.
type ConsumptionEngine struct {
	logger   *slog.Logger
	mappings MappingStore
	products ProductResolver
	ledger   Ledger
}

func NewConsumptionEngine(logger *slog.Logger, mappings MappingStore, products ProductResolver, ledger Ledger) *ConsumptionEngine {
	return &ConsumptionEngine{logger: logger, mappings: mappings, products: products, ledger: ledger}
}

// ProcessSale decrements stock for every mapped line of the sale. Lines
// without an active mapping are skipped silently; a sale of only
// unmapped drinks still succeeds. The error return fires only when the
// context dies mid-run.
func (e *ConsumptionEngine) ProcessSale(ctx context.Context, sale Sale, actor shared.Actor) (SaleResult, error) {
	result := SaleResult{Errors: []string{}}
	touched := make([]int64, 0, len(sale.Lines))

	for _, line := range sale.Lines {
		if err := ctx.Err(); err != nil {
			result.Success = false
			return result, err
		}
		result.ItemsProcessed++

		mapping, err := e.mappings.ActiveMappingByVariation(ctx, line.CatalogObjectID)
		if errors.Is(err, ErrMappingNotFound) {
			e.logger.Debug("skipping unmapped sale line",
				slog.String("sale", sale.ID),
				slog.String("variation", line.CatalogObjectID),
				slog.String("name", line.Name),
			)
			continue
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: mapping lookup: %v", line.CatalogObjectID, err))
			continue
		}

		product, err := e.products.Get(ctx, mapping.ProductID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: product %d: %v", line.CatalogObjectID, mapping.ProductID, err))
			continue
		}
		if product.Status != shared.StatusActive {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: product %q is %s", line.CatalogObjectID, product.Name, product.Status))
			continue
		}

		consumed := false
		for _, ingredient := range product.Ingredients {
			quantity := ingredient.Quantity * line.Quantity
			if quantity <= 0 {
				continue
			}
			_, err := e.ledger.ApplyMovement(ctx, inventory.ApplyInput{
				ItemID:   ingredient.ItemID,
				Type:     inventory.MovementOut,
				Quantity: quantity,
				Reason:   "sale consumption",
				Notes:    fmt.Sprintf("%s: %gx %s", sale.ID, line.Quantity, product.Name),
				Actor:    actor,
			})
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: item %d: %v", line.CatalogObjectID, ingredient.ItemID, err))
				continue
			}
			consumed = true
		}
		if consumed {
			result.ItemsUpdated++
			touched = append(touched, mapping.ID)
		}
	}

	if len(touched) > 0 {
		// Best effort; a failed touch must not fail the sale.
		if err := e.mappings.TouchMappingsSynced(ctx, touched, time.Now()); err != nil {
			e.logger.Warn("failed to update mapping sync timestamps",
				slog.String("sale", sale.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	result.Success = len(result.Errors) == 0
	return result, nil
}
