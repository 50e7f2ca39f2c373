package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beanledger/beanledger/internal/shared"
)

// Repository persists items and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the ledger.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	UpdateItemStock(ctx context.Context, id int64, stock float64) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
}

type txRepository struct {
	tx pgx.Tx
}

const itemColumns = `id, name, category, physical_unit, current_physical_stock, min_physical_stock_level, max_physical_stock_level, recipe_unit, units_per_physical_item, cost_per_physical_unit, cost_per_recipe_unit, status, created_at, updated_at`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetItem loads a single item by id.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1`, id)
	return scanItem(row)
}

// InsertItem creates a new item row.
func (r *Repository) InsertItem(ctx context.Context, item Item) (Item, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO inventory_items (name, category, physical_unit, current_physical_stock, min_physical_stock_level, max_physical_stock_level, recipe_unit, units_per_physical_item, cost_per_physical_unit, cost_per_recipe_unit, status, created_at, updated_at)
VALUES ($1,$2,$3,0,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
RETURNING `+itemColumns,
		item.Name, item.Category, item.PhysicalUnit, item.MinPhysicalStockLevel, item.MaxPhysicalStockLevel,
		item.RecipeUnit, item.UnitsPerPhysicalItem, item.CostPerPhysicalUnit, item.CostPerRecipeUnit, string(item.Status))
	return scanItem(row)
}

// UpdateItem rewrites the descriptive and costing columns. Stock is not
// touched here.
func (r *Repository) UpdateItem(ctx context.Context, item Item) (Item, error) {
	row := r.pool.QueryRow(ctx, `UPDATE inventory_items
SET name=$2, category=$3, physical_unit=$4, min_physical_stock_level=$5, max_physical_stock_level=$6, recipe_unit=$7, units_per_physical_item=$8, cost_per_physical_unit=$9, cost_per_recipe_unit=$10, updated_at=NOW()
WHERE id=$1
RETURNING `+itemColumns,
		item.ID, item.Name, item.Category, item.PhysicalUnit, item.MinPhysicalStockLevel, item.MaxPhysicalStockLevel,
		item.RecipeUnit, item.UnitsPerPhysicalItem, item.CostPerPhysicalUnit, item.CostPerRecipeUnit)
	return scanItem(row)
}

// SetItemStatus flips the lifecycle status.
func (r *Repository) SetItemStatus(ctx context.Context, id int64, status shared.Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE inventory_items SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ListItems returns a filtered page of items plus the unpaged total.
func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE ($1='' OR status=$1) AND ($2='' OR name ILIKE '%'||$2||'%' OR category ILIKE '%'||$2||'%')
ORDER BY name ASC, id ASC
LIMIT $3 OFFSET $4`, string(filter.Status), filter.Search, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_items
WHERE ($1='' OR status=$1) AND ($2='' OR name ILIKE '%'||$2||'%' OR category ILIKE '%'||$2||'%')`, string(filter.Status), filter.Search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListMovements returns the movement history for one item, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, item_name, movement_type, quantity, previous_stock, new_stock, reason, notes, actor_type, actor_id, created_at
FROM stock_movements
WHERE item_id=$1 AND created_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
ORDER BY created_at DESC, id DESC
LIMIT $4`, filter.ItemID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.ItemName, &m.Type, &m.Quantity, &m.PreviousStock, &m.NewStock, &m.Reason, &m.Notes, &m.ActorType, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ListLowStock returns active items at or below their minimum level.
func (r *Repository) ListLowStock(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE status='active' AND min_physical_stock_level > 0 AND current_physical_stock <= min_physical_stock_level
ORDER BY current_physical_stock / min_physical_stock_level ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1 FOR UPDATE`, id)
	return scanItem(row)
}

func (r *txRepository) UpdateItemStock(ctx context.Context, id int64, stock float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_items SET current_physical_stock=$2, updated_at=NOW() WHERE id=$1`, id, stock)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (item_id, item_name, movement_type, quantity, previous_stock, new_stock, reason, notes, actor_type, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
RETURNING id, created_at`, m.ItemID, m.ItemName, string(m.Type), m.Quantity, m.PreviousStock, m.NewStock, m.Reason, m.Notes, string(m.ActorType), m.ActorID).Scan(&m.ID, &m.CreatedAt)
	return m, err
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Name, &item.Category, &item.PhysicalUnit, &item.CurrentPhysicalStock,
		&item.MinPhysicalStockLevel, &item.MaxPhysicalStockLevel, &item.RecipeUnit, &item.UnitsPerPhysicalItem,
		&item.CostPerPhysicalUnit, &item.CostPerRecipeUnit, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
