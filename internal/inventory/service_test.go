package inventory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beanledger/beanledger/internal/shared"
)

type memoryRepo struct {
	items     map[int64]Item
	movements []Movement
	nextItem  int64
	nextMove  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (r *memoryRepo) InsertItem(ctx context.Context, item Item) (Item, error) {
	r.nextItem++
	item.ID = r.nextItem
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	r.items[item.ID] = item
	return item, nil
}

func (r *memoryRepo) UpdateItem(ctx context.Context, item Item) (Item, error) {
	stored, ok := r.items[item.ID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	item.CurrentPhysicalStock = stored.CurrentPhysicalStock
	item.UpdatedAt = time.Now()
	r.items[item.ID] = item
	return item, nil
}

func (r *memoryRepo) SetItemStatus(ctx context.Context, id int64, status shared.Status) error {
	item, ok := r.items[id]
	if !ok {
		return ErrItemNotFound
	}
	item.Status = status
	r.items[id] = item
	return nil
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	out := []Item{}
	for _, item := range r.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	out := []Movement{}
	for _, m := range r.movements {
		if m.ItemID == filter.ItemID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context) ([]Item, error) {
	out := []Item{}
	for _, item := range r.items {
		if item.Status == shared.StatusActive && item.MinPhysicalStockLevel > 0 && item.CurrentPhysicalStock <= item.MinPhysicalStockLevel {
			out = append(out, item)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	return tx.repo.GetItem(ctx, id)
}

func (tx *memoryTx) UpdateItemStock(ctx context.Context, id int64, stock float64) error {
	item, ok := tx.repo.items[id]
	if !ok {
		return ErrItemNotFound
	}
	item.CurrentPhysicalStock = stock
	tx.repo.items[id] = item
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	tx.repo.nextMove++
	m.ID = tx.repo.nextMove
	m.CreatedAt = time.Now()
	tx.repo.movements = append(tx.repo.movements, m)
	return m, nil
}

func seedItem(t *testing.T, svc *Service, stock float64) Item {
	t.Helper()
	item, err := svc.CreateItem(context.Background(), CreateItemInput{
		Name:                 "Espresso Beans",
		Category:             "coffee",
		PhysicalUnit:         "bag",
		RecipeUnit:           "g",
		UnitsPerPhysicalItem: 1000,
		CostPerPhysicalUnit:  18,
		InitialStock:         stock,
		Actor:                shared.SystemActor("seed"),
	})
	require.NoError(t, err)
	return item
}

func TestApplyMovementInAndOut(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item := seedItem(t, svc, 10)

	m, err := svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementIn, Quantity: 4, Reason: "delivery", Actor: shared.UserActor(7)})
	require.NoError(t, err)
	require.InDelta(t, 10.0, m.PreviousStock, 1e-9)
	require.InDelta(t, 14.0, m.NewStock, 1e-9)

	m, err = svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementOut, Quantity: 3.5, Reason: "sale consumption", Actor: shared.SystemActor("square-webhook")})
	require.NoError(t, err)
	require.InDelta(t, 14.0, m.PreviousStock, 1e-9)
	require.InDelta(t, 10.5, m.NewStock, 1e-9)
	require.Equal(t, shared.ActorSystem, m.ActorType)
	require.Equal(t, "square-webhook", m.ActorID)

	stored, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.InDelta(t, 10.5, stored.CurrentPhysicalStock, 1e-9)
}

func TestOutClampsAtZero(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item := seedItem(t, svc, 5)

	m, err := svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementOut, Quantity: 8, Reason: "sale consumption", Actor: shared.SystemActor("square-webhook")})
	require.NoError(t, err)
	require.InDelta(t, 5.0, m.PreviousStock, 1e-9)
	require.InDelta(t, 0.0, m.NewStock, 1e-9)
	// The requested magnitude survives even though only 5 were depleted.
	require.InDelta(t, 8.0, m.Quantity, 1e-9)

	stored, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.0, stored.CurrentPhysicalStock, 1e-9)
}

func TestAdjustmentSetsAbsoluteLevel(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item := seedItem(t, svc, 12.5)

	m, err := svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementAdjustment, Quantity: 10, Reason: "weekly recount", Actor: shared.UserActor(3)})
	require.NoError(t, err)
	require.InDelta(t, 12.5, m.PreviousStock, 1e-9)
	require.InDelta(t, 10.0, m.NewStock, 1e-9)

	// Counting down to zero is a legitimate recount.
	m, err = svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementAdjustment, Quantity: 0, Reason: "spoiled batch", Actor: shared.UserActor(3)})
	require.NoError(t, err)
	require.InDelta(t, 0.0, m.NewStock, 1e-9)
}

func TestApplyMovementValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item := seedItem(t, svc, 5)
	actor := shared.UserActor(1)

	_, err := svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementIn, Quantity: -1, Actor: actor})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementOut, Quantity: 0, Actor: actor})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: "TRANSFER", Quantity: 1, Actor: actor})
	require.ErrorIs(t, err, ErrInvalidMovementType)

	_, err = svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementAdjustment, Quantity: 3, Reason: "  ", Actor: actor})
	require.ErrorIs(t, err, ErrReasonRequired)

	_, err = svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementIn, Quantity: 1})
	require.ErrorIs(t, err, ErrActorRequired)

	_, err = svc.ApplyMovement(ctx, ApplyInput{ItemID: 999, Type: MovementIn, Quantity: 1, Actor: actor})
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestMovementsAreImmutable(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item := seedItem(t, svc, 10)
	actor := shared.SystemActor("square-webhook")

	first, err := svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementOut, Quantity: 2, Reason: "sale consumption", Actor: actor})
	require.NoError(t, err)

	_, err = svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementOut, Quantity: 3, Reason: "sale consumption", Actor: actor})
	require.NoError(t, err)
	_, err = svc.ApplyMovement(ctx, ApplyInput{ItemID: item.ID, Type: MovementAdjustment, Quantity: 20, Reason: "recount", Actor: shared.UserActor(2)})
	require.NoError(t, err)

	history, err := svc.ListMovements(ctx, MovementFilter{ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, history, 4) // initial stock + two sales + recount

	var stored Movement
	for _, m := range history {
		if m.ID == first.ID {
			stored = m
		}
	}
	require.Equal(t, first.Quantity, stored.Quantity)
	require.Equal(t, first.PreviousStock, stored.PreviousStock)
	require.Equal(t, first.NewStock, stored.NewStock)
	require.Equal(t, first.Reason, stored.Reason)
}

func TestCreateItemRecordsInitialStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item := seedItem(t, svc, 4)
	require.InDelta(t, 4.0, item.CurrentPhysicalStock, 1e-9)
	require.InDelta(t, 0.018, item.CostPerRecipeUnit, 1e-9)

	history, err := svc.ListMovements(ctx, MovementFilter{ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, MovementIn, history[0].Type)
	require.Equal(t, "initial stock", history[0].Reason)
	require.InDelta(t, 0.0, history[0].PreviousStock, 1e-9)
	require.InDelta(t, 4.0, history[0].NewStock, 1e-9)
}

func TestUpdateItemNeverTouchesStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item := seedItem(t, svc, 6)

	updated, err := svc.UpdateItem(ctx, item.ID, UpdateItemInput{
		Name:                 "Espresso Beans Dark",
		Category:             "coffee",
		PhysicalUnit:         "bag",
		RecipeUnit:           "g",
		UnitsPerPhysicalItem: 500,
		CostPerPhysicalUnit:  10,
		Actor:                shared.UserActor(1),
	})
	require.NoError(t, err)
	require.Equal(t, "Espresso Beans Dark", updated.Name)
	require.InDelta(t, 6.0, updated.CurrentPhysicalStock, 1e-9)
	require.InDelta(t, 0.02, updated.CostPerRecipeUnit, 1e-9)
}
