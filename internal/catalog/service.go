package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/beanledger/beanledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Product, error)
	GetBySquareVariation(ctx context.Context, variationID string) (Product, error)
	List(ctx context.Context, filter Filter) ([]Product, int, error)
	Insert(ctx context.Context, product Product) (Product, error)
	UpdateDetails(ctx context.Context, product Product) (Product, error)
	ReplaceRecipe(ctx context.Context, productID int64, ingredients []Ingredient, prepTime int, prepInstructions string, allergens []string) (Product, error)
	UpdateExternal(ctx context.Context, productID int64, fields ExternalFields) (Product, error)
	SetStatus(ctx context.Context, id int64, status shared.Status) error
}

// Service coordinates product and recipe operations.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create registers a manually maintained product. Square linkage only
// ever comes from the importer, never from manual creation.
func (s *Service) Create(ctx context.Context, input CreateInput) (Product, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Product{}, errors.New("catalog: name required")
	}
	ingredients, err := buildIngredients(input.Ingredients)
	if err != nil {
		return Product{}, err
	}
	product := Product{
		Name:             strings.TrimSpace(input.Name),
		Description:      input.Description,
		Category:         input.Category,
		VariationName:    input.VariationName,
		SKU:              input.SKU,
		PriceCents:       input.PriceCents,
		Size:             input.Size,
		Temperature:      input.Temperature,
		ToGoStatus:       input.ToGoStatus,
		PrepTimeMinutes:  input.PrepTimeMinutes,
		PrepInstructions: input.PrepInstructions,
		Allergens:        input.Allergens,
		Ingredients:      ingredients,
		Status:           shared.StatusActive,
	}
	return s.repo.Insert(ctx, product)
}

// Get loads one product with its ordered recipe.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

// GetBySquareVariation resolves the product linked to a Square variation.
func (s *Service) GetBySquareVariation(ctx context.Context, variationID string) (Product, error) {
	if variationID == "" {
		return Product{}, ErrProductNotFound
	}
	return s.repo.GetBySquareVariation(ctx, variationID)
}

// List lists products with status and search filters.
func (s *Service) List(ctx context.Context, filter Filter) ([]Product, shared.Pagination, error) {
	products, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return products, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// UpdateDetails edits the catalog fields of an unlinked product. Linked
// products reject the edit: those fields belong to the importer.
func (s *Service) UpdateDetails(ctx context.Context, id int64, input DetailsInput) (Product, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Product{}, errors.New("catalog: name required")
	}
	product, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if product.SquareLinked() {
		return Product{}, ErrSquareManaged
	}
	product.Name = strings.TrimSpace(input.Name)
	product.Description = input.Description
	product.Category = input.Category
	product.VariationName = input.VariationName
	product.SKU = input.SKU
	product.PriceCents = input.PriceCents
	product.Size = input.Size
	product.Temperature = input.Temperature
	product.ToGoStatus = input.ToGoStatus
	return s.repo.UpdateDetails(ctx, product)
}

// UpdateRecipe replaces the ordered ingredient list and prep fields.
// Allowed on linked products: recipes are never Square's.
func (s *Service) UpdateRecipe(ctx context.Context, id int64, input RecipeInput) (Product, error) {
	ingredients, err := buildIngredients(input.Ingredients)
	if err != nil {
		return Product{}, err
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Product{}, err
	}
	return s.repo.ReplaceRecipe(ctx, id, ingredients, input.PrepTimeMinutes, input.PrepInstructions, input.Allergens)
}

// Archive retires a product from listings and consumption.
func (s *Service) Archive(ctx context.Context, id int64) error {
	return s.repo.SetStatus(ctx, id, shared.StatusArchived)
}

// ApplyExternal reconciles one imported Square variation. Unknown
// variations become new products with an empty recipe; known ones get
// their catalog fields refreshed while the recipe, prep fields and
// allergens stay untouched. The skipped return means the candidate
// matched what is already stored.
func (s *Service) ApplyExternal(ctx context.Context, fields ExternalFields) (product Product, created bool, skipped bool, err error) {
	if fields.SquareVariationID == "" {
		return Product{}, false, false, errors.New("catalog: square variation id required")
	}
	existing, err := s.repo.GetBySquareVariation(ctx, fields.SquareVariationID)
	switch {
	case err == nil:
		if !externalDiffers(existing, fields) {
			return existing, false, true, nil
		}
		updated, err := s.repo.UpdateExternal(ctx, existing.ID, fields)
		if err != nil {
			return Product{}, false, false, err
		}
		return updated, false, false, nil
	case errors.Is(err, ErrProductNotFound):
		fresh := Product{
			Name:              fields.Name,
			Description:       fields.Description,
			Category:          fields.Category,
			VariationName:     fields.VariationName,
			SKU:               fields.SKU,
			PriceCents:        fields.PriceCents,
			Size:              fields.Size,
			Temperature:       fields.Temperature,
			ToGoStatus:        fields.ToGoStatus,
			SquareItemID:      fields.SquareItemID,
			SquareVariationID: fields.SquareVariationID,
			Status:            shared.StatusActive,
		}
		inserted, err := s.repo.Insert(ctx, fresh)
		if err != nil {
			return Product{}, false, false, err
		}
		return inserted, true, false, nil
	default:
		return Product{}, false, false, err
	}
}

func buildIngredients(inputs []IngredientInput) ([]Ingredient, error) {
	ingredients := make([]Ingredient, 0, len(inputs))
	for i, in := range inputs {
		if in.ItemID == 0 || in.Quantity <= 0 {
			return nil, ErrInvalidIngredient
		}
		ingredients = append(ingredients, Ingredient{
			Position: i,
			ItemID:   in.ItemID,
			Quantity: in.Quantity,
			Unit:     in.Unit,
			Notes:    in.Notes,
		})
	}
	return ingredients, nil
}

func externalDiffers(p Product, f ExternalFields) bool {
	return p.Name != f.Name ||
		p.Description != f.Description ||
		p.Category != f.Category ||
		p.VariationName != f.VariationName ||
		p.SKU != f.SKU ||
		p.PriceCents != f.PriceCents ||
		p.Size != f.Size ||
		p.Temperature != f.Temperature ||
		p.ToGoStatus != f.ToGoStatus ||
		p.SquareItemID != f.SquareItemID
}
