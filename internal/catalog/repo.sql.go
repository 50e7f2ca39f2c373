package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beanledger/beanledger/internal/platform/db"
	"github.com/beanledger/beanledger/internal/shared"
)

// Repository persists products and recipes in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, name, description, category, variation_name, sku, price_cents, size, temperature, to_go_status, square_item_id, square_variation_id, prep_time_minutes, prep_instructions, allergens, status, created_at, updated_at`

// Get loads one product with its ordered recipe.
func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	product, err := scanProduct(row)
	if err != nil {
		return Product{}, err
	}
	return r.attachIngredients(ctx, product)
}

// GetBySquareVariation resolves a product by its Square variation token.
func (r *Repository) GetBySquareVariation(ctx context.Context, variationID string) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE square_variation_id=$1 AND square_variation_id <> ''`, variationID)
	product, err := scanProduct(row)
	if err != nil {
		return Product{}, err
	}
	return r.attachIngredients(ctx, product)
}

// List returns a filtered page of products with recipes attached.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Product, int, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE ($1='' OR status=$1) AND ($2='' OR name ILIKE '%'||$2||'%' OR category ILIKE '%'||$2||'%' OR sku ILIKE '%'||$2||'%')
ORDER BY name ASC, id ASC
LIMIT $3 OFFSET $4`, string(filter.Status), filter.Search, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	products := []Product{}
	ids := []int64{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, product)
		ids = append(ids, product.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(ids) > 0 {
		byProduct, err := r.loadIngredients(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range products {
			products[i].Ingredients = byProduct[products[i].ID]
		}
	}

	var total int
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products
WHERE ($1='' OR status=$1) AND ($2='' OR name ILIKE '%'||$2||'%' OR category ILIKE '%'||$2||'%' OR sku ILIKE '%'||$2||'%')`, string(filter.Status), filter.Search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// Insert creates a product and its recipe in one transaction.
func (r *Repository) Insert(ctx context.Context, product Product) (Product, error) {
	var created Product
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO products (name, description, category, variation_name, sku, price_cents, size, temperature, to_go_status, square_item_id, square_variation_id, prep_time_minutes, prep_instructions, allergens, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW())
RETURNING `+productColumns,
			product.Name, product.Description, product.Category, product.VariationName, product.SKU, product.PriceCents,
			product.Size, product.Temperature, product.ToGoStatus, product.SquareItemID, product.SquareVariationID,
			product.PrepTimeMinutes, product.PrepInstructions, allergensParam(product.Allergens), string(product.Status))
		var err error
		created, err = scanProduct(row)
		if err != nil {
			return err
		}
		created.Ingredients, err = insertIngredients(ctx, tx, created.ID, product.Ingredients)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Product{}, ErrVariationLinked
		}
		return Product{}, err
	}
	return created, nil
}

// UpdateDetails rewrites the catalog columns of an unlinked product.
func (r *Repository) UpdateDetails(ctx context.Context, product Product) (Product, error) {
	row := r.pool.QueryRow(ctx, `UPDATE products
SET name=$2, description=$3, category=$4, variation_name=$5, sku=$6, price_cents=$7, size=$8, temperature=$9, to_go_status=$10, updated_at=NOW()
WHERE id=$1
RETURNING `+productColumns,
		product.ID, product.Name, product.Description, product.Category, product.VariationName, product.SKU,
		product.PriceCents, product.Size, product.Temperature, product.ToGoStatus)
	updated, err := scanProduct(row)
	if err != nil {
		return Product{}, err
	}
	return r.attachIngredients(ctx, updated)
}

// ReplaceRecipe swaps the ordered ingredient list and prep fields in one
// transaction.
func (r *Repository) ReplaceRecipe(ctx context.Context, productID int64, ingredients []Ingredient, prepTime int, prepInstructions string, allergens []string) (Product, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE products SET prep_time_minutes=$2, prep_instructions=$3, allergens=$4, updated_at=NOW() WHERE id=$1`,
			productID, prepTime, prepInstructions, allergensParam(allergens))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrProductNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM product_ingredients WHERE product_id=$1`, productID); err != nil {
			return err
		}
		_, err = insertIngredients(ctx, tx, productID, ingredients)
		return err
	})
	if err != nil {
		return Product{}, err
	}
	return r.Get(ctx, productID)
}

// UpdateExternal refreshes the Square-owned columns only.
func (r *Repository) UpdateExternal(ctx context.Context, productID int64, fields ExternalFields) (Product, error) {
	row := r.pool.QueryRow(ctx, `UPDATE products
SET name=$2, description=$3, category=$4, variation_name=$5, sku=$6, price_cents=$7, size=$8, temperature=$9, to_go_status=$10, square_item_id=$11, square_variation_id=$12, updated_at=NOW()
WHERE id=$1
RETURNING `+productColumns,
		productID, fields.Name, fields.Description, fields.Category, fields.VariationName, fields.SKU,
		fields.PriceCents, fields.Size, fields.Temperature, fields.ToGoStatus, fields.SquareItemID, fields.SquareVariationID)
	updated, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Product{}, ErrVariationLinked
		}
		return Product{}, err
	}
	return r.attachIngredients(ctx, updated)
}

// SetStatus flips the lifecycle status.
func (r *Repository) SetStatus(ctx context.Context, id int64, status shared.Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *Repository) attachIngredients(ctx context.Context, product Product) (Product, error) {
	byProduct, err := r.loadIngredients(ctx, []int64{product.ID})
	if err != nil {
		return Product{}, err
	}
	product.Ingredients = byProduct[product.ID]
	return product, nil
}

func (r *Repository) loadIngredients(ctx context.Context, productIDs []int64) (map[int64][]Ingredient, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, position, item_id, quantity, unit, notes
FROM product_ingredients
WHERE product_id = ANY($1)
ORDER BY product_id ASC, position ASC`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]Ingredient)
	for rows.Next() {
		var ing Ingredient
		if err := rows.Scan(&ing.ID, &ing.ProductID, &ing.Position, &ing.ItemID, &ing.Quantity, &ing.Unit, &ing.Notes); err != nil {
			return nil, err
		}
		out[ing.ProductID] = append(out[ing.ProductID], ing)
	}
	return out, rows.Err()
}

func insertIngredients(ctx context.Context, tx pgx.Tx, productID int64, ingredients []Ingredient) ([]Ingredient, error) {
	inserted := make([]Ingredient, 0, len(ingredients))
	for i, ing := range ingredients {
		var id int64
		err := tx.QueryRow(ctx, `INSERT INTO product_ingredients (product_id, position, item_id, quantity, unit, notes)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, productID, i, ing.ItemID, ing.Quantity, ing.Unit, ing.Notes).Scan(&id)
		if err != nil {
			return nil, err
		}
		ing.ID = id
		ing.ProductID = productID
		ing.Position = i
		inserted = append(inserted, ing)
	}
	return inserted, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.VariationName, &p.SKU, &p.PriceCents,
		&p.Size, &p.Temperature, &p.ToGoStatus, &p.SquareItemID, &p.SquareVariationID,
		&p.PrepTimeMinutes, &p.PrepInstructions, &p.Allergens, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// allergensParam keeps NULL out of the TEXT[] column.
func allergensParam(allergens []string) []string {
	if allergens == nil {
		return []string{}
	}
	return allergens
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
