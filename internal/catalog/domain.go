package catalog

import (
	"errors"
	"time"

	"github.com/beanledger/beanledger/internal/shared"
)

// Product is a sellable drink or food item. Once linked to a Square
// variation the catalog fields (name, price, sku and the heuristic
// size/temperature/to-go attributes) are owned by the importer; the
// recipe and prep fields always stay locally owned.
type Product struct {
	ID                int64
	Name              string
	Description       string
	Category          string
	VariationName     string
	SKU               string
	PriceCents        int64
	Size              string
	Temperature       string
	ToGoStatus        string
	SquareItemID      string
	SquareVariationID string
	PrepTimeMinutes   int
	PrepInstructions  string
	Allergens         []string
	Ingredients       []Ingredient
	Status            shared.Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SquareLinked reports whether the catalog fields are synced from Square.
func (p Product) SquareLinked() bool {
	return p.SquareVariationID != ""
}

// Ingredient is one ordered recipe line: a quantity of an inventory item
// expressed in that item's recipe unit.
type Ingredient struct {
	ID        int64
	ProductID int64
	Position  int
	ItemID    int64
	Quantity  float64
	Unit      string
	Notes     string
}

// IngredientInput describes one recipe line on write.
type IngredientInput struct {
	ItemID   int64
	Quantity float64
	Unit     string
	Notes    string
}

// CreateInput describes a manually created product.
type CreateInput struct {
	Name             string
	Description      string
	Category         string
	VariationName    string
	SKU              string
	PriceCents       int64
	Size             string
	Temperature      string
	ToGoStatus       string
	PrepTimeMinutes  int
	PrepInstructions string
	Allergens        []string
	Ingredients      []IngredientInput
	Actor            shared.Actor
}

// DetailsInput carries the catalog fields editable while a product is
// not linked to Square.
type DetailsInput struct {
	Name          string
	Description   string
	Category      string
	VariationName string
	SKU           string
	PriceCents    int64
	Size          string
	Temperature   string
	ToGoStatus    string
	Actor         shared.Actor
}

// RecipeInput carries the locally-owned fields, editable regardless of
// Square linkage.
type RecipeInput struct {
	Ingredients      []IngredientInput
	PrepTimeMinutes  int
	PrepInstructions string
	Allergens        []string
	Actor            shared.Actor
}

// ExternalFields is the Square-owned projection the importer writes.
type ExternalFields struct {
	SquareItemID      string
	SquareVariationID string
	Name              string
	Description       string
	Category          string
	VariationName     string
	SKU               string
	PriceCents        int64
	Size              string
	Temperature       string
	ToGoStatus        string
}

// Filter filters product listings.
type Filter struct {
	Status  shared.Status
	Search  string
	Page    int
	PerPage int
}

// ErrProductNotFound indicates an unknown product id or variation.
var ErrProductNotFound = errors.New("catalog: product not found")

// ErrSquareManaged indicates an attempt to edit catalog fields that the
// Square importer owns.
var ErrSquareManaged = errors.New("catalog: catalog fields are synced from square")

// ErrInvalidIngredient indicates a recipe line without an item or with a
// non-positive quantity.
var ErrInvalidIngredient = errors.New("catalog: ingredient requires an item and a positive quantity")

// ErrVariationLinked indicates the Square variation already belongs to
// another product.
var ErrVariationLinked = errors.New("catalog: square variation already linked")
