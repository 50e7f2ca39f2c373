package square

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/beanledger/beanledger/internal/catalog"
)

// Confidence tiers for mapping suggestions. The cascade stops at the
// first tier that matches, so a pair never carries more than one
// suggestion.
const (
	confidenceToken   = 0.95
	confidenceExact   = 0.95
	confidenceName    = 0.90
	confidenceSKU     = 0.90
	confidenceOverlap = 0.75

	overlapThreshold = 0.70
)

// Suggest matches local products against Square catalog candidates and
// returns suggestions ordered by confidence, strongest first. Matching
// is pure string work; callers decide which suggestions become mappings.
func Suggest(products []catalog.Product, candidates []CatalogCandidate) []Suggestion {
	suggestions := make([]Suggestion, 0)
	seen := make(map[string]struct{})

	for _, product := range products {
		for _, candidate := range candidates {
			if candidate.VariationID == "" {
				continue
			}
			confidence, reason, ok := match(product, candidate)
			if !ok {
				continue
			}
			key := fmt.Sprintf("%d:%s", product.ID, candidate.VariationID)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			suggestions = append(suggestions, Suggestion{
				ProductID:         product.ID,
				ProductName:       product.Name,
				SquareItemID:      candidate.ItemID,
				SquareItemName:    candidate.ItemName,
				SquareVariationID: candidate.VariationID,
				VariationName:     candidate.VariationName,
				Confidence:        confidence,
				Reason:            reason,
			})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	return suggestions
}

func match(product catalog.Product, candidate CatalogCandidate) (float64, string, bool) {
	if product.SquareVariationID != "" && product.SquareVariationID == candidate.VariationID {
		return confidenceToken, "variation token match", true
	}

	productName := normalizeName(product.Name)
	productVariation := normalizeName(product.VariationName)
	candidateName := normalizeName(candidate.ItemName)
	candidateVariation := normalizeName(candidate.VariationName)

	if productName != "" && productName == candidateName {
		if productVariation != "" && productVariation == candidateVariation {
			return confidenceExact, "exact name and variation match", true
		}
		return confidenceName, "name match", true
	}

	if product.SKU != "" && candidate.SKU != "" && normalizeName(product.SKU) == normalizeName(candidate.SKU) {
		return confidenceSKU, "sku match", true
	}

	ratio := overlapRatio(
		strings.Fields(productName),
		strings.Fields(normalizeName(candidate.ItemName+" "+candidate.VariationName)),
	)
	if ratio >= overlapThreshold {
		return confidenceOverlap, fmt.Sprintf("word overlap %.0f%%", ratio*100), true
	}

	return 0, "", false
}

// normalizeName case-folds and collapses whitespace so "Caffè  LATTE"
// and "caffè latte" compare equal.
func normalizeName(s string) string {
	folded := cases.Fold().String(s)
	return strings.Join(strings.Fields(folded), " ")
}

// overlapRatio reports the share of the shorter token list found in the
// longer one.
func overlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shorter, longer := a, b
	if len(b) < len(a) {
		shorter, longer = b, a
	}
	present := make(map[string]struct{}, len(longer))
	for _, token := range longer {
		present[token] = struct{}{}
	}
	matched := 0
	for _, token := range shorter {
		if _, ok := present[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(shorter))
}
