package strategy

import (
	"testing"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

func sizerRules(factor float64) models.RuleSet {
	return models.RuleSet{Name: "test", SpreadSizeFactor: factor}
}

func TestSpreadQuantity(t *testing.T) {
	tests := []struct {
		name     string
		hedgeQty int
		price    float64
		factor   float64
		expected int
	}{
		{name: "basic sizing", hedgeQty: 2, price: 1.00, factor: 2.0, expected: 4},
		{name: "rounding", hedgeQty: 3, price: 1.25, factor: 1.0, expected: 2}, // 2.4 rounds to 2
		{name: "capped at ratio", hedgeQty: 2, price: 0.10, factor: 2.0, expected: 2 * MaxSpreadToHedgeRatio},
		{name: "floored at one", hedgeQty: 1, price: 10.0, factor: 1.0, expected: 1},
		{name: "zero price yields zero", hedgeQty: 2, price: 0, factor: 2.0, expected: 0},
		{name: "negative price yields zero", hedgeQty: 2, price: -1.0, factor: 2.0, expected: 0},
		{name: "zero hedge yields zero", hedgeQty: 0, price: 1.0, factor: 2.0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SpreadQuantity(tt.hedgeQty, tt.price, sizerRules(tt.factor))
			if got != tt.expected {
				t.Errorf("SpreadQuantity(%d, %v) = %d, expected %d", tt.hedgeQty, tt.price, got, tt.expected)
			}
		})
	}
}

func TestSpreadQuantityBounded(t *testing.T) {
	// For every positive-price input the result stays inside
	// [1, hedgeQty x MaxSpreadToHedgeRatio].
	for hedgeQty := 1; hedgeQty <= 10; hedgeQty++ {
		for price := 0.05; price <= 5.0; price += 0.07 {
			for factor := 0.5; factor <= 4.0; factor += 0.5 {
				got := SpreadQuantity(hedgeQty, price, sizerRules(factor))
				if got < 1 || got > hedgeQty*MaxSpreadToHedgeRatio {
					t.Fatalf("SpreadQuantity(%d, %.2f, factor=%.1f) = %d out of bounds [1, %d]",
						hedgeQty, price, factor, got, hedgeQty*MaxSpreadToHedgeRatio)
				}
			}
		}
	}
}
