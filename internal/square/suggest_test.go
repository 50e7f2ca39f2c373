package square

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beanledger/beanledger/internal/catalog"
)

func TestSuggestVariationTokenMatch(t *testing.T) {
	products := []catalog.Product{{ID: 1, Name: "Latte", SquareVariationID: "VAR1"}}
	candidates := []CatalogCandidate{{ItemID: "ITEM1", ItemName: "Totally Renamed", VariationID: "VAR1", VariationName: "12oz"}}

	got := Suggest(products, candidates)

	require.Len(t, got, 1)
	require.InDelta(t, 0.95, got[0].Confidence, 1e-9)
	require.Equal(t, "variation token match", got[0].Reason)
	require.Equal(t, int64(1), got[0].ProductID)
	require.Equal(t, "VAR1", got[0].SquareVariationID)
}

func TestSuggestExactNameAndVariation(t *testing.T) {
	products := []catalog.Product{{ID: 2, Name: "Caffè Latte", VariationName: "12oz"}}
	candidates := []CatalogCandidate{{ItemName: "caffè  LATTE", VariationID: "VAR2", VariationName: "12OZ"}}

	got := Suggest(products, candidates)

	require.Len(t, got, 1)
	require.InDelta(t, 0.95, got[0].Confidence, 1e-9)
	require.Equal(t, "exact name and variation match", got[0].Reason)
}

func TestSuggestNameOnly(t *testing.T) {
	products := []catalog.Product{{ID: 3, Name: "Espresso"}}
	candidates := []CatalogCandidate{{ItemName: "ESPRESSO", VariationID: "VAR3", VariationName: "Double"}}

	got := Suggest(products, candidates)

	require.Len(t, got, 1)
	require.InDelta(t, 0.90, got[0].Confidence, 1e-9)
	require.Equal(t, "name match", got[0].Reason)
}

func TestSuggestSKUMatch(t *testing.T) {
	products := []catalog.Product{{ID: 4, Name: "House Drip", SKU: "SKU-001"}}
	candidates := []CatalogCandidate{{ItemName: "Batch Brew Coffee", VariationID: "VAR4", SKU: "sku-001"}}

	got := Suggest(products, candidates)

	require.Len(t, got, 1)
	require.InDelta(t, 0.90, got[0].Confidence, 1e-9)
	require.Equal(t, "sku match", got[0].Reason)
}

func TestSuggestWordOverlap(t *testing.T) {
	// Three of four product tokens appear in the candidate composite.
	products := []catalog.Product{{ID: 5, Name: "Pumpkin Spice Latte Grande"}}
	candidates := []CatalogCandidate{{ItemName: "Pumpkin Spice Latte", VariationID: "VAR5", VariationName: "Venti"}}

	got := Suggest(products, candidates)

	require.Len(t, got, 1)
	require.InDelta(t, 0.75, got[0].Confidence, 1e-9)
	require.Equal(t, "word overlap 75%", got[0].Reason)
}

func TestSuggestBelowOverlapThreshold(t *testing.T) {
	products := []catalog.Product{{ID: 6, Name: "Flat White"}}
	candidates := []CatalogCandidate{{ItemName: "Cold Brew", VariationID: "VAR6"}}

	require.Empty(t, Suggest(products, candidates))
}

func TestSuggestOrdersByConfidence(t *testing.T) {
	products := []catalog.Product{
		{ID: 1, Name: "Pumpkin Spice Latte Grande"},
		{ID: 2, Name: "Espresso"},
	}
	candidates := []CatalogCandidate{
		{ItemName: "Pumpkin Spice Latte", VariationID: "VAR1", VariationName: "Venti"},
		{ItemName: "Espresso", VariationID: "VAR2", VariationName: "Single"},
	}

	got := Suggest(products, candidates)

	require.Len(t, got, 2)
	for i := 1; i < len(got); i++ {
		require.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
	}
	require.Equal(t, "name match", got[0].Reason)
	require.Equal(t, "word overlap 75%", got[1].Reason)
}

func TestSuggestDeduplicatesRepeatedCandidates(t *testing.T) {
	products := []catalog.Product{{ID: 7, Name: "Mocha"}}
	candidate := CatalogCandidate{ItemName: "Mocha", VariationID: "VAR7"}

	got := Suggest(products, []CatalogCandidate{candidate, candidate})

	require.Len(t, got, 1)
}

func TestSuggestSkipsCandidatesWithoutVariation(t *testing.T) {
	products := []catalog.Product{{ID: 8, Name: "Cortado"}}
	candidates := []CatalogCandidate{{ItemName: "Cortado"}}

	require.Empty(t, Suggest(products, candidates))
}

func TestOverlapRatio(t *testing.T) {
	require.InDelta(t, 1.0, overlapRatio([]string{"vanilla", "latte"}, []string{"iced", "vanilla", "latte"}), 1e-9)
	require.InDelta(t, 0.5, overlapRatio([]string{"house", "drip"}, []string{"drip", "coffee"}), 1e-9)
	require.Zero(t, overlapRatio(nil, []string{"latte"}))
	require.Zero(t, overlapRatio([]string{"latte"}, nil))
}
