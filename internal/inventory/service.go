package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/beanledger/beanledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, item Item) (Item, error)
	SetItemStatus(ctx context.Context, id int64, status shared.Status) error
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListLowStock(ctx context.Context) ([]Item, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates ledger operations. It is the only code path that
// changes CurrentPhysicalStock.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// ApplyMovement posts one movement and updates the stock projection
// inside a single transaction. OUT movements clamp at zero; callers that
// care about exact depletion compare PreviousStock and NewStock on the
// returned movement rather than the requested quantity.
func (s *Service) ApplyMovement(ctx context.Context, input ApplyInput) (Movement, error) {
	if input.ItemID == 0 {
		return Movement{}, fmt.Errorf("%w: missing id", ErrItemNotFound)
	}
	if !input.Type.Valid() {
		return Movement{}, ErrInvalidMovementType
	}
	if input.Quantity < 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if input.Quantity == 0 && input.Type != MovementAdjustment {
		return Movement{}, ErrInvalidQuantity
	}
	if input.Type == MovementAdjustment && strings.TrimSpace(input.Reason) == "" {
		return Movement{}, ErrReasonRequired
	}
	if !input.Actor.Valid() {
		return Movement{}, ErrActorRequired
	}

	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}
		previous := item.CurrentPhysicalStock
		next := previous
		switch input.Type {
		case MovementIn:
			next = previous + input.Quantity
		case MovementOut:
			next = previous - input.Quantity
			if next < 0 {
				next = 0
			}
		case MovementAdjustment:
			next = input.Quantity
		}
		if err := tx.UpdateItemStock(ctx, item.ID, next); err != nil {
			return err
		}
		actorType, actorID := input.Actor.Ref()
		movement, err = tx.InsertMovement(ctx, Movement{
			ItemID:        item.ID,
			ItemName:      item.Name,
			Type:          input.Type,
			Quantity:      input.Quantity,
			PreviousStock: previous,
			NewStock:      next,
			Reason:        input.Reason,
			Notes:         input.Notes,
			ActorType:     actorType,
			ActorID:       actorID,
		})
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	// Movements are their own trail; only manual recounts also hit the
	// audit log.
	if s.audit != nil && input.Type == MovementAdjustment {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   "inventory:adjustment",
			Entity:   "inventory_item",
			EntityID: fmt.Sprintf("%d", input.ItemID),
			Meta: map[string]any{
				"previous_stock": movement.PreviousStock,
				"new_stock":      movement.NewStock,
				"reason":         input.Reason,
			},
		})
	}
	return movement, nil
}

// CreateItem registers a new ingredient. An initial stock value is
// recorded through the ledger so the first movement exists from day one.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Item{}, errors.New("inventory: name required")
	}
	if input.UnitsPerPhysicalItem < 0 || input.CostPerPhysicalUnit < 0 || input.InitialStock < 0 {
		return Item{}, ErrInvalidQuantity
	}
	if !input.Actor.Valid() {
		return Item{}, ErrActorRequired
	}
	item := Item{
		Name:                  strings.TrimSpace(input.Name),
		Category:              input.Category,
		PhysicalUnit:          input.PhysicalUnit,
		RecipeUnit:            input.RecipeUnit,
		UnitsPerPhysicalItem:  input.UnitsPerPhysicalItem,
		CostPerPhysicalUnit:   input.CostPerPhysicalUnit,
		CostPerRecipeUnit:     deriveRecipeCost(input.CostPerPhysicalUnit, input.UnitsPerPhysicalItem),
		MinPhysicalStockLevel: input.MinPhysicalStockLevel,
		MaxPhysicalStockLevel: input.MaxPhysicalStockLevel,
		Status:                shared.StatusActive,
	}
	created, err := s.repo.InsertItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	if input.InitialStock > 0 {
		if _, err := s.ApplyMovement(ctx, ApplyInput{
			ItemID:   created.ID,
			Type:     MovementIn,
			Quantity: input.InitialStock,
			Reason:   "initial stock",
			Actor:    input.Actor,
		}); err != nil {
			return Item{}, err
		}
		created.CurrentPhysicalStock = input.InitialStock
	}
	return created, nil
}

// GetItem loads one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems lists items with status and search filters.
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]Item, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, errors.New("inventory: unknown status filter")
	}
	items, total, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// UpdateItem changes the descriptive and costing fields. Recipe cost is
// rederived whenever cost or conversion changes.
func (s *Service) UpdateItem(ctx context.Context, id int64, input UpdateItemInput) (Item, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Item{}, errors.New("inventory: name required")
	}
	if input.UnitsPerPhysicalItem < 0 || input.CostPerPhysicalUnit < 0 {
		return Item{}, ErrInvalidQuantity
	}
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	item.Name = strings.TrimSpace(input.Name)
	item.Category = input.Category
	item.PhysicalUnit = input.PhysicalUnit
	item.RecipeUnit = input.RecipeUnit
	item.UnitsPerPhysicalItem = input.UnitsPerPhysicalItem
	item.CostPerPhysicalUnit = input.CostPerPhysicalUnit
	item.CostPerRecipeUnit = deriveRecipeCost(input.CostPerPhysicalUnit, input.UnitsPerPhysicalItem)
	item.MinPhysicalStockLevel = input.MinPhysicalStockLevel
	item.MaxPhysicalStockLevel = input.MaxPhysicalStockLevel
	return s.repo.UpdateItem(ctx, item)
}

// ArchiveItem retires an item from listings. Its ledger history stays
// addressable.
func (s *Service) ArchiveItem(ctx context.Context, id int64, actor shared.Actor) error {
	if !actor.Valid() {
		return ErrActorRequired
	}
	if err := s.repo.SetItemStatus(ctx, id, shared.StatusArchived); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "inventory:archive",
			Entity:   "inventory_item",
			EntityID: fmt.Sprintf("%d", id),
		})
	}
	return nil
}

// ListMovements returns the stock card for one item, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ItemID == 0 {
		return nil, fmt.Errorf("%w: missing id", ErrItemNotFound)
	}
	return s.repo.ListMovements(ctx, filter)
}

// LowStock lists active items at or below their minimum level.
func (s *Service) LowStock(ctx context.Context) ([]Item, error) {
	return s.repo.ListLowStock(ctx)
}

func deriveRecipeCost(costPerPhysical, unitsPerPhysical float64) float64 {
	if unitsPerPhysical <= 0 {
		return 0
	}
	return costPerPhysical / unitsPerPhysical
}
