package domain

import "math"

// ApplyModifiers folds active modifiers over a base amount: discounts
// subtract before taxes add, so a tax never inflates an amount the tenant
// was just discounted out of. Rounding happens once per modifier to keep
// stored values integer-safe.
func ApplyModifiers(base int64, modifiers []BillingModifier) int64 {
	if base <= 0 {
		return 0
	}

	amount := base
	for _, m := range modifiers {
		if m.Kind != KindDiscount {
			continue
		}
		amount -= int64(math.Round(float64(amount) * m.Pct / 100))
	}
	if amount < 0 {
		amount = 0
	}
	for _, m := range modifiers {
		if m.Kind != KindTax {
			continue
		}
		amount += int64(math.Round(float64(amount) * m.Pct / 100))
	}
	return amount
}
