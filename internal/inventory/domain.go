package inventory

import (
	"errors"
	"time"

	"github.com/beanledger/beanledger/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents replenishment such as a delivery.
	MovementIn MovementType = "IN"
	// MovementOut represents consumption, spoilage or waste.
	MovementOut MovementType = "OUT"
	// MovementAdjustment sets the absolute stock level after a recount.
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment:
		return true
	}
	return false
}

// Item is a physical ingredient tracked by the ledger. Stock is counted
// in physical units (bags, bottles); recipes consume it in recipe units
// (grams, millilitres, shots). UnitsPerPhysicalItem converts between the
// two for costing only, never for stock arithmetic.
type Item struct {
	ID                    int64
	Name                  string
	Category              string
	PhysicalUnit          string
	CurrentPhysicalStock  float64
	MinPhysicalStockLevel float64
	MaxPhysicalStockLevel float64
	RecipeUnit            string
	UnitsPerPhysicalItem  float64
	CostPerPhysicalUnit   float64
	CostPerRecipeUnit     float64
	Status                shared.Status
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Movement is one immutable ledger entry. PreviousStock and NewStock
// snapshot the projection around the write; Quantity keeps the requested
// magnitude even when an OUT was clamped at zero.
type Movement struct {
	ID            int64
	ItemID        int64
	ItemName      string
	Type          MovementType
	Quantity      float64
	PreviousStock float64
	NewStock      float64
	Reason        string
	Notes         string
	ActorType     shared.ActorType
	ActorID       string
	CreatedAt     time.Time
}

// ApplyInput describes one movement to post against an item.
type ApplyInput struct {
	ItemID   int64
	Type     MovementType
	Quantity float64
	Reason   string
	Notes    string
	Actor    shared.Actor
}

// CreateItemInput describes a new ingredient.
type CreateItemInput struct {
	Name                  string
	Category              string
	PhysicalUnit          string
	RecipeUnit            string
	UnitsPerPhysicalItem  float64
	CostPerPhysicalUnit   float64
	MinPhysicalStockLevel float64
	MaxPhysicalStockLevel float64
	InitialStock          float64
	Actor                 shared.Actor
}

// UpdateItemInput carries the editable descriptive fields. Stock is
// absent on purpose: only movements change it.
type UpdateItemInput struct {
	Name                  string
	Category              string
	PhysicalUnit          string
	RecipeUnit            string
	UnitsPerPhysicalItem  float64
	CostPerPhysicalUnit   float64
	MinPhysicalStockLevel float64
	MaxPhysicalStockLevel float64
	Actor                 shared.Actor
}

// ItemFilter filters item listings.
type ItemFilter struct {
	Status  shared.Status
	Search  string
	Page    int
	PerPage int
}

// MovementFilter filters the per-item movement listing.
type MovementFilter struct {
	ItemID int64
	From   time.Time
	To     time.Time
	Limit  int
}

// ErrItemNotFound indicates an unknown or deleted item id.
var ErrItemNotFound = errors.New("inventory: item not found")

// ErrInvalidQuantity indicates a negative quantity, or a zero quantity on
// a directional movement.
var ErrInvalidQuantity = errors.New("inventory: invalid quantity")

// ErrInvalidMovementType indicates an unknown movement type.
var ErrInvalidMovementType = errors.New("inventory: unknown movement type")

// ErrReasonRequired indicates an adjustment without an explanation.
var ErrReasonRequired = errors.New("inventory: adjustment requires a reason")

// ErrActorRequired indicates a movement without attribution.
var ErrActorRequired = errors.New("inventory: actor required")
