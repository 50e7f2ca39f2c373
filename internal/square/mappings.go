package square

import (
	"context"
	"strconv"
	"strings"

	"github.com/beanledger/beanledger/internal/shared"
)

// MappingRepo is the persistence slice the mapping service needs.
type MappingRepo interface {
	InsertMapping(ctx context.Context, input MappingInput, productName string) (Mapping, error)
	GetMapping(ctx context.Context, id int64) (Mapping, error)
	ListMappings(ctx context.Context, includeDisabled bool) ([]Mapping, error)
	SetMappingStatus(ctx context.Context, id int64, status shared.Status) (Mapping, error)
}

// MappingService manages product-variation links. The product name is
// denormalized onto the mapping row so listings survive product renames
// without joins.
type MappingService struct {
	repo     MappingRepo
	products ProductResolver
	audit    AuditPort
}

func NewMappingService(repo MappingRepo, products ProductResolver, audit AuditPort) *MappingService {
	return &MappingService{repo: repo, products: products, audit: audit}
}

func (s *MappingService) Create(ctx context.Context, input MappingInput, actor shared.Actor) (Mapping, error) {
	if input.ProductID <= 0 || strings.TrimSpace(input.SquareVariationID) == "" {
		return Mapping{}, ErrInvalidMapping
	}

	product, err := s.products.Get(ctx, input.ProductID)
	if err != nil {
		return Mapping{}, err
	}

	mapping, err := s.repo.InsertMapping(ctx, input, product.Name)
	if err != nil {
		return Mapping{}, err
	}

	s.record(ctx, actor, "square:mapping_created", mapping, map[string]any{
		"product_id":          mapping.ProductID,
		"product_name":        mapping.ProductName,
		"square_variation_id": mapping.SquareVariationID,
	})
	return mapping, nil
}

func (s *MappingService) List(ctx context.Context, includeDisabled bool) ([]Mapping, error) {
	return s.repo.ListMappings(ctx, includeDisabled)
}

// SetEnabled toggles a mapping between active and disabled. Disabled
// mappings stop consuming stock but keep their history.
func (s *MappingService) SetEnabled(ctx context.Context, id int64, enabled bool, actor shared.Actor) (Mapping, error) {
	status := shared.StatusDisabled
	action := "square:mapping_disabled"
	if enabled {
		status = shared.StatusActive
		action = "square:mapping_enabled"
	}

	mapping, err := s.repo.SetMappingStatus(ctx, id, status)
	if err != nil {
		return Mapping{}, err
	}

	s.record(ctx, actor, action, mapping, map[string]any{
		"product_id":          mapping.ProductID,
		"square_variation_id": mapping.SquareVariationID,
	})
	return mapping, nil
}

func (s *MappingService) record(ctx context.Context, actor shared.Actor, action string, mapping Mapping, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "product_square_mapping",
		EntityID: strconv.FormatInt(mapping.ID, 10),
		Meta:     meta,
	})
}
