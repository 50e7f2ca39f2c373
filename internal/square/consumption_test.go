package square

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beanledger/beanledger/internal/catalog"
	"github.com/beanledger/beanledger/internal/inventory"
	"github.com/beanledger/beanledger/internal/shared"
)

type fakeMappings struct {
	byVariation map[string]Mapping
	touched     []int64
	touchedAt   time.Time
}

func (f *fakeMappings) ActiveMappingByVariation(ctx context.Context, variationID string) (Mapping, error) {
	m, ok := f.byVariation[variationID]
	if !ok {
		return Mapping{}, ErrMappingNotFound
	}
	return m, nil
}

func (f *fakeMappings) TouchMappingsSynced(ctx context.Context, ids []int64, at time.Time) error {
	f.touched = append(f.touched, ids...)
	f.touchedAt = at
	return nil
}

type fakeProducts struct {
	byID map[int64]catalog.Product
}

func (f *fakeProducts) Get(ctx context.Context, id int64) (catalog.Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

type fakeLedger struct {
	applied   []inventory.ApplyInput
	failItems map[int64]error
}

func (f *fakeLedger) ApplyMovement(ctx context.Context, input inventory.ApplyInput) (inventory.Movement, error) {
	if err, ok := f.failItems[input.ItemID]; ok {
		return inventory.Movement{}, err
	}
	f.applied = append(f.applied, input)
	return inventory.Movement{ItemID: input.ItemID, Type: input.Type, Quantity: input.Quantity}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func latteFixture() (*fakeMappings, *fakeProducts, *fakeLedger) {
	mappings := &fakeMappings{byVariation: map[string]Mapping{
		"VAR-LATTE": {ID: 11, ProductID: 1, ProductName: "Latte", SquareVariationID: "VAR-LATTE", Status: shared.StatusActive},
	}}
	products := &fakeProducts{byID: map[int64]catalog.Product{
		1: {
			ID:     1,
			Name:   "Latte",
			Status: shared.StatusActive,
			Ingredients: []catalog.Ingredient{
				{ItemID: 1, Quantity: 2, Unit: "shot"},
				{ItemID: 2, Quantity: 1, Unit: "cup"},
			},
		},
	}}
	return mappings, products, &fakeLedger{}
}

func TestProcessSaleConsumesRecipe(t *testing.T) {
	mappings, products, ledger := latteFixture()
	engine := NewConsumptionEngine(discardLogger(), mappings, products, ledger)

	sale := Sale{ID: "ORDER-1", Source: "webhook", Lines: []SaleLine{
		{CatalogObjectID: "VAR-LATTE", Name: "Latte", Quantity: 3},
	}}
	result, err := engine.ProcessSale(context.Background(), sale, shared.SystemActor("square-webhook"))
	require.NoError(t, err)

	require.True(t, result.Success)
	require.Equal(t, 1, result.ItemsProcessed)
	require.Equal(t, 1, result.ItemsUpdated)
	require.Empty(t, result.Errors)

	// 3 lattes x 2 shots and 3 lattes x 1 cup.
	require.Len(t, ledger.applied, 2)
	require.Equal(t, int64(1), ledger.applied[0].ItemID)
	require.Equal(t, 6.0, ledger.applied[0].Quantity)
	require.Equal(t, int64(2), ledger.applied[1].ItemID)
	require.Equal(t, 3.0, ledger.applied[1].Quantity)
	for _, input := range ledger.applied {
		require.Equal(t, inventory.MovementOut, input.Type)
		require.Equal(t, "sale consumption", input.Reason)
		require.Equal(t, "ORDER-1: 3x Latte", input.Notes)
		require.Equal(t, shared.SystemActor("square-webhook"), input.Actor)
	}

	require.Equal(t, []int64{11}, mappings.touched)
	require.False(t, mappings.touchedAt.IsZero())
}

func TestProcessSaleSkipsUnmappedLines(t *testing.T) {
	mappings, products, ledger := latteFixture()
	engine := NewConsumptionEngine(discardLogger(), mappings, products, ledger)

	sale := Sale{ID: "ORDER-2", Lines: []SaleLine{
		{CatalogObjectID: "VAR-UNKNOWN", Name: "Seasonal Special", Quantity: 2},
	}}
	result, err := engine.ProcessSale(context.Background(), sale, shared.SystemActor("square-webhook"))
	require.NoError(t, err)

	require.True(t, result.Success)
	require.Equal(t, 1, result.ItemsProcessed)
	require.Zero(t, result.ItemsUpdated)
	require.Empty(t, result.Errors)
	require.Empty(t, ledger.applied)
	require.Empty(t, mappings.touched)
}

func TestProcessSaleIsolatesLineFailures(t *testing.T) {
	mappings, products, ledger := latteFixture()
	mappings.byVariation["VAR-GHOST"] = Mapping{ID: 12, ProductID: 99, SquareVariationID: "VAR-GHOST", Status: shared.StatusActive}
	mappings.byVariation["VAR-ESPRESSO"] = Mapping{ID: 13, ProductID: 2, SquareVariationID: "VAR-ESPRESSO", Status: shared.StatusActive}
	products.byID[2] = catalog.Product{
		ID:          2,
		Name:        "Espresso",
		Status:      shared.StatusActive,
		Ingredients: []catalog.Ingredient{{ItemID: 1, Quantity: 1, Unit: "shot"}},
	}
	engine := NewConsumptionEngine(discardLogger(), mappings, products, ledger)

	sale := Sale{ID: "ORDER-3", Lines: []SaleLine{
		{CatalogObjectID: "VAR-LATTE", Quantity: 1},
		{CatalogObjectID: "VAR-GHOST", Quantity: 1},
		{CatalogObjectID: "VAR-ESPRESSO", Quantity: 2},
	}}
	result, err := engine.ProcessSale(context.Background(), sale, shared.SystemActor("square-webhook"))
	require.NoError(t, err)

	require.False(t, result.Success)
	require.Equal(t, 3, result.ItemsProcessed)
	require.Equal(t, 2, result.ItemsUpdated)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "VAR-GHOST")

	// The good lines around the failure still consumed.
	require.Len(t, ledger.applied, 3)
	require.ElementsMatch(t, []int64{11, 13}, mappings.touched)
}

func TestProcessSaleRejectsArchivedProduct(t *testing.T) {
	mappings, products, ledger := latteFixture()
	product := products.byID[1]
	product.Status = shared.StatusArchived
	products.byID[1] = product
	engine := NewConsumptionEngine(discardLogger(), mappings, products, ledger)

	sale := Sale{ID: "ORDER-4", Lines: []SaleLine{{CatalogObjectID: "VAR-LATTE", Quantity: 1}}}
	result, err := engine.ProcessSale(context.Background(), sale, shared.SystemActor("square-webhook"))
	require.NoError(t, err)

	require.False(t, result.Success)
	require.Zero(t, result.ItemsUpdated)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "archived")
	require.Empty(t, ledger.applied)
}

func TestProcessSaleIsolatesIngredientFailures(t *testing.T) {
	mappings, products, ledger := latteFixture()
	ledger.failItems = map[int64]error{1: errors.New("item locked")}
	engine := NewConsumptionEngine(discardLogger(), mappings, products, ledger)

	sale := Sale{ID: "ORDER-5", Lines: []SaleLine{{CatalogObjectID: "VAR-LATTE", Quantity: 1}}}
	result, err := engine.ProcessSale(context.Background(), sale, shared.SystemActor("square-webhook"))
	require.NoError(t, err)

	require.False(t, result.Success)
	require.Equal(t, 1, result.ItemsUpdated)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "item 1")

	// The second ingredient still went through.
	require.Len(t, ledger.applied, 1)
	require.Equal(t, int64(2), ledger.applied[0].ItemID)
}

func TestProcessSaleEmptySaleSucceeds(t *testing.T) {
	mappings, products, ledger := latteFixture()
	engine := NewConsumptionEngine(discardLogger(), mappings, products, ledger)

	result, err := engine.ProcessSale(context.Background(), Sale{ID: "ORDER-6"}, shared.SystemActor("square-webhook"))
	require.NoError(t, err)

	require.True(t, result.Success)
	require.Zero(t, result.ItemsProcessed)
	require.Zero(t, result.ItemsUpdated)
	require.Empty(t, ledger.applied)
}

func TestProcessSaleStopsWhenContextDies(t *testing.T) {
	mappings, products, ledger := latteFixture()
	engine := NewConsumptionEngine(discardLogger(), mappings, products, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sale := Sale{ID: "ORDER-7", Lines: []SaleLine{{CatalogObjectID: "VAR-LATTE", Quantity: 1}}}
	_, err := engine.ProcessSale(ctx, sale, shared.SystemActor("square-webhook"))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, ledger.applied)
}
