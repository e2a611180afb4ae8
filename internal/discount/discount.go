// Package discount classifies an entered amount against an item's discount
// policy.
package discount

import (
	"github.com/shopspring/decimal"

	"github.com/thechillpixel0/tallyra/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Amount is the discount implied by selling item at amount, never negative.
func Amount(basePrice decimal.Decimal, amount decimal.Decimal) decimal.Decimal {
	diff := basePrice.Sub(amount)
	if diff.IsNegative() {
		return decimal.Zero
	}
	return diff
}

// Percentage is discount over basePrice as a percentage rounded to two places.
func Percentage(basePrice decimal.Decimal, discount decimal.Decimal) decimal.Decimal {
	if !basePrice.IsPositive() {
		return decimal.Zero
	}
	return discount.Div(basePrice).Mul(hundred).Round(2)
}

// Assess applies both caps: a sale is within policy only when the percentage
// and the absolute discount each stay under their limit.
func Assess(item domain.Item, amount decimal.Decimal) domain.DiscountAssessment {
	off := Amount(item.BasePrice, amount)
	pct := Percentage(item.BasePrice, off)
	return domain.DiscountAssessment{
		Amount:       off,
		Percentage:   pct,
		WithinPolicy: pct.LessThanOrEqual(item.MaxDiscountPercentage) && off.LessThanOrEqual(item.MaxDiscountFixed),
	}
}

// NeedsReview reports whether the workflow must pause for an explicit
// override decision. Owners auto-approve.
func NeedsReview(a domain.DiscountAssessment, role domain.Role) bool {
	return !a.WithinPolicy && role != domain.RoleOwner
}
