package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beanledger/beanledger/internal/shared"
)

type memoryRepo struct {
	products map[int64]Product
	nextID   int64
	nextIng  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[int64]Product)}
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetBySquareVariation(ctx context.Context, variationID string) (Product, error) {
	for _, p := range r.products {
		if p.SquareVariationID == variationID && variationID != "" {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Product, int, error) {
	out := []Product{}
	for _, p := range r.products {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Insert(ctx context.Context, product Product) (Product, error) {
	r.nextID++
	product.ID = r.nextID
	product.CreatedAt = time.Now()
	product.UpdatedAt = product.CreatedAt
	for i := range product.Ingredients {
		r.nextIng++
		product.Ingredients[i].ID = r.nextIng
		product.Ingredients[i].ProductID = product.ID
	}
	r.products[product.ID] = product
	return product, nil
}

func (r *memoryRepo) UpdateDetails(ctx context.Context, product Product) (Product, error) {
	stored, ok := r.products[product.ID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	product.Ingredients = stored.Ingredients
	product.UpdatedAt = time.Now()
	r.products[product.ID] = product
	return product, nil
}

func (r *memoryRepo) ReplaceRecipe(ctx context.Context, productID int64, ingredients []Ingredient, prepTime int, prepInstructions string, allergens []string) (Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	for i := range ingredients {
		r.nextIng++
		ingredients[i].ID = r.nextIng
		ingredients[i].ProductID = productID
		ingredients[i].Position = i
	}
	p.Ingredients = ingredients
	p.PrepTimeMinutes = prepTime
	p.PrepInstructions = prepInstructions
	p.Allergens = allergens
	p.UpdatedAt = time.Now()
	r.products[productID] = p
	return p, nil
}

func (r *memoryRepo) UpdateExternal(ctx context.Context, productID int64, fields ExternalFields) (Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	p.Name = fields.Name
	p.Description = fields.Description
	p.Category = fields.Category
	p.VariationName = fields.VariationName
	p.SKU = fields.SKU
	p.PriceCents = fields.PriceCents
	p.Size = fields.Size
	p.Temperature = fields.Temperature
	p.ToGoStatus = fields.ToGoStatus
	p.SquareItemID = fields.SquareItemID
	p.SquareVariationID = fields.SquareVariationID
	p.UpdatedAt = time.Now()
	r.products[productID] = p
	return p, nil
}

func (r *memoryRepo) SetStatus(ctx context.Context, id int64, status shared.Status) error {
	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Status = status
	r.products[id] = p
	return nil
}

func seedLatte(t *testing.T, svc *Service) Product {
	t.Helper()
	product, err := svc.Create(context.Background(), CreateInput{
		Name:       "Latte",
		Category:   "espresso drinks",
		PriceCents: 450,
		Ingredients: []IngredientInput{
			{ItemID: 1, Quantity: 18, Unit: "g", Notes: "double shot"},
			{ItemID: 2, Quantity: 200, Unit: "ml"},
		},
		PrepTimeMinutes: 3,
		Allergens:       []string{"milk"},
		Actor:           shared.UserActor(1),
	})
	require.NoError(t, err)
	return product
}

func TestCreateValidatesIngredients(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), CreateInput{
		Name:        "Broken",
		Ingredients: []IngredientInput{{ItemID: 0, Quantity: 10}},
		Actor:       shared.UserActor(1),
	})
	require.ErrorIs(t, err, ErrInvalidIngredient)

	_, err = svc.Create(context.Background(), CreateInput{
		Name:        "Broken",
		Ingredients: []IngredientInput{{ItemID: 1, Quantity: 0}},
		Actor:       shared.UserActor(1),
	})
	require.ErrorIs(t, err, ErrInvalidIngredient)
}

func TestUpdateDetailsRejectedOnceLinked(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	product := seedLatte(t, svc)

	// Unlinked products accept catalog edits.
	updated, err := svc.UpdateDetails(ctx, product.ID, DetailsInput{Name: "Cafe Latte", PriceCents: 475, Actor: shared.UserActor(1)})
	require.NoError(t, err)
	require.Equal(t, "Cafe Latte", updated.Name)

	_, _, _, err = svc.ApplyExternal(ctx, ExternalFields{
		SquareItemID:      "SQI1",
		SquareVariationID: "SQV1",
		Name:              "Cafe Latte",
		PriceCents:        475,
	})
	require.NoError(t, err)

	// Link the seeded product by hand to simulate a mapped import.
	stored := repo.products[product.ID]
	stored.SquareItemID = "SQI9"
	stored.SquareVariationID = "SQV9"
	repo.products[product.ID] = stored

	_, err = svc.UpdateDetails(ctx, product.ID, DetailsInput{Name: "Renamed", Actor: shared.UserActor(1)})
	require.ErrorIs(t, err, ErrSquareManaged)
}

func TestUpdateRecipeAllowedOnLinkedProduct(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	product := seedLatte(t, svc)
	stored := repo.products[product.ID]
	stored.SquareVariationID = "SQV5"
	repo.products[product.ID] = stored

	updated, err := svc.UpdateRecipe(ctx, product.ID, RecipeInput{
		Ingredients: []IngredientInput{
			{ItemID: 1, Quantity: 20, Unit: "g"},
		},
		PrepTimeMinutes:  4,
		PrepInstructions: "ristretto pull",
		Allergens:        []string{"milk"},
		Actor:            shared.UserActor(1),
	})
	require.NoError(t, err)
	require.Len(t, updated.Ingredients, 1)
	require.InDelta(t, 20.0, updated.Ingredients[0].Quantity, 1e-9)
	require.Equal(t, 4, updated.PrepTimeMinutes)
}

func TestApplyExternalCreatesWithEmptyRecipe(t *testing.T) {
	svc := NewService(newMemoryRepo())

	product, created, skipped, err := svc.ApplyExternal(context.Background(), ExternalFields{
		SquareItemID:      "SQI1",
		SquareVariationID: "SQV1",
		Name:              "Iced Mocha",
		PriceCents:        525,
		Temperature:       "iced",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, skipped)
	require.Empty(t, product.Ingredients)
	require.Equal(t, shared.StatusActive, product.Status)
	require.Equal(t, "SQV1", product.SquareVariationID)
}

func TestApplyExternalPreservesLocalFields(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	first, created, _, err := svc.ApplyExternal(ctx, ExternalFields{
		SquareItemID:      "SQI1",
		SquareVariationID: "SQV1",
		Name:              "Latte",
		PriceCents:        450,
	})
	require.NoError(t, err)
	require.True(t, created)

	// The barista fills in the recipe after the first import.
	_, err = svc.UpdateRecipe(ctx, first.ID, RecipeInput{
		Ingredients: []IngredientInput{
			{ItemID: 1, Quantity: 18, Unit: "g"},
			{ItemID: 2, Quantity: 200, Unit: "ml"},
		},
		PrepTimeMinutes:  3,
		PrepInstructions: "steam to 60C",
		Allergens:        []string{"milk"},
		Actor:            shared.UserActor(2),
	})
	require.NoError(t, err)

	// A later import renames and reprices the drink.
	updated, created, skipped, err := svc.ApplyExternal(ctx, ExternalFields{
		SquareItemID:      "SQI1",
		SquareVariationID: "SQV1",
		Name:              "Caffe Latte",
		PriceCents:        495,
	})
	require.NoError(t, err)
	require.False(t, created)
	require.False(t, skipped)
	require.Equal(t, "Caffe Latte", updated.Name)
	require.Equal(t, int64(495), updated.PriceCents)
	require.Len(t, updated.Ingredients, 2)
	require.Equal(t, 3, updated.PrepTimeMinutes)
	require.Equal(t, "steam to 60C", updated.PrepInstructions)
	require.Equal(t, []string{"milk"}, updated.Allergens)
}

func TestApplyExternalSkipsUnchanged(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	fields := ExternalFields{
		SquareItemID:      "SQI1",
		SquareVariationID: "SQV1",
		Name:              "Latte",
		PriceCents:        450,
	}
	_, created, _, err := svc.ApplyExternal(ctx, fields)
	require.NoError(t, err)
	require.True(t, created)

	_, created, skipped, err := svc.ApplyExternal(ctx, fields)
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, skipped)
}

func TestArchiveProduct(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	product := seedLatte(t, svc)
	require.NoError(t, svc.Archive(ctx, product.ID))

	stored, err := svc.Get(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusArchived, stored.Status)

	require.ErrorIs(t, svc.Archive(ctx, 999), ErrProductNotFound)
}
