package strategy

import (
	"math"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

// MaxSpreadToHedgeRatio caps income spread contracts at a multiple of the
// hedge quantity, so income risk can never dwarf the protection under it.
const MaxSpreadToHedgeRatio = 5

// SpreadQuantity converts hedge size and the selected spread credit into a
// bounded contract quantity: round(hedgeQty x factor / price), capped at
// hedgeQty x MaxSpreadToHedgeRatio and floored at 1. A non-positive price
// yields 0, which callers must treat as "no trade", not an error.
func SpreadQuantity(hedgeQty int, price float64, rules models.RuleSet) int {
	if price <= 0 || hedgeQty <= 0 {
		return 0
	}

	qty := int(math.Round(float64(hedgeQty) * rules.SpreadSizeFactor / price))

	cap := hedgeQty * MaxSpreadToHedgeRatio
	if qty > cap {
		qty = cap
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}
