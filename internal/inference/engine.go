// Package inference resolves a cashier-entered amount to the catalog item
// (and quantity) it most plausibly pays for.
package inference

import (
	"github.com/shopspring/decimal"

	"github.com/thechillpixel0/tallyra/internal/discount"
	"github.com/thechillpixel0/tallyra/internal/domain"
)

type Rule string

const (
	RuleNone           Rule = ""
	RuleExact          Rule = "exact"
	RuleExactBulk      Rule = "exact_bulk"
	RuleDiscountedBulk Rule = "discounted_bulk"
	RuleClosestPrice   Rule = "closest_price"
	RuleRoundNumber    Rule = "round_number"
	RuleSelected       Rule = "selected"
)

var (
	DefaultBulkQuantities = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 12, 15, 20, 24, 25, 30, 50, 100}
	DefaultRoundAmounts   = []int64{10, 20, 50, 100, 200, 500, 1000}
)

// Result is a single evaluation. Match is nil when nothing could be inferred.
type Result struct {
	Match    *domain.Match   `json:"match"`
	Discount decimal.Decimal `json:"discount_amount"`
	Rule     Rule            `json:"rule"`
}

func (r Result) Found() bool {
	return r.Match != nil
}

type Engine struct {
	bulkQuantities []int
	roundAmounts   []decimal.Decimal
	roundTolerance decimal.Decimal
}

func NewEngine() *Engine {
	rounds := make([]decimal.Decimal, 0, len(DefaultRoundAmounts))
	for _, v := range DefaultRoundAmounts {
		rounds = append(rounds, decimal.NewFromInt(v))
	}
	return &Engine{
		bulkQuantities: append([]int(nil), DefaultBulkQuantities...),
		roundAmounts:   rounds,
		roundTolerance: decimal.RequireFromString("0.10"),
	}
}

// Infer applies the matching rules in priority order: exact single, exact
// bulk, discounted (bulk and single in one pass), closest price with the
// round-number nudge. Inactive items are ignored. It has no side effects.
func (e *Engine) Infer(amount decimal.Decimal, catalog []domain.Item) Result {
	if !amount.IsPositive() {
		return Result{Discount: decimal.Zero}
	}
	items := activeOnly(catalog)
	if len(items) == 0 {
		return Result{Discount: decimal.Zero}
	}

	for _, item := range items {
		if item.BasePrice.Equal(amount) {
			return found(domain.RealMatch(item), decimal.Zero, RuleExact)
		}
	}

	for _, item := range items {
		for _, q := range e.bulkQuantities {
			if item.BasePrice.Mul(decimal.NewFromInt(int64(q))).Equal(amount) {
				return found(e.matchFor(item, q), decimal.Zero, RuleExactBulk)
			}
		}
	}

	if res, ok := e.discounted(amount, items); ok {
		return res
	}

	return e.fallback(amount, items)
}

// InferSelected skips the rules entirely and prices amount against an
// operator-chosen item.
func (e *Engine) InferSelected(amount decimal.Decimal, selected domain.Item) Result {
	return found(domain.CustomMatch(selected), discount.Amount(selected.BasePrice, amount), RuleSelected)
}

func (e *Engine) discounted(amount decimal.Decimal, items []domain.Item) (Result, bool) {
	var (
		best     Result
		bestSeen bool
	)
	for _, item := range items {
		for _, q := range e.bulkQuantities {
			qty := decimal.NewFromInt(int64(q))
			total := item.BasePrice.Mul(qty)
			maxOff := decimal.Max(
				total.Mul(item.MaxDiscountPercentage).Div(decimal.NewFromInt(100)),
				item.MaxDiscountFixed.Mul(qty),
			)
			if amount.GreaterThanOrEqual(total) || amount.LessThan(total.Sub(maxOff)) {
				continue
			}
			off := total.Sub(amount)
			if bestSeen && !off.LessThan(best.Discount) {
				continue
			}
			best = found(e.matchFor(item, q), off, RuleDiscountedBulk)
			bestSeen = true
		}
	}
	return best, bestSeen
}

func (e *Engine) fallback(amount decimal.Decimal, items []domain.Item) Result {
	for _, round := range e.roundAmounts {
		if !round.Equal(amount) {
			continue
		}
		tolerance := amount.Mul(e.roundTolerance)
		for _, item := range items {
			if item.BasePrice.Sub(amount).Abs().LessThanOrEqual(tolerance) {
				return found(domain.RealMatch(item), discount.Amount(item.BasePrice, amount), RuleRoundNumber)
			}
		}
		break
	}

	closest := items[0]
	bestDist := closest.BasePrice.Sub(amount).Abs()
	for _, item := range items[1:] {
		dist := item.BasePrice.Sub(amount).Abs()
		if dist.LessThan(bestDist) {
			closest = item
			bestDist = dist
		}
	}
	return found(domain.RealMatch(closest), discount.Amount(closest.BasePrice, amount), RuleClosestPrice)
}

func (e *Engine) matchFor(item domain.Item, q int) domain.Match {
	if q == 1 {
		return domain.RealMatch(item)
	}
	return domain.VirtualMatch(item, q)
}

func found(m domain.Match, off decimal.Decimal, rule Rule) Result {
	return Result{Match: &m, Discount: off, Rule: rule}
}

func activeOnly(catalog []domain.Item) []domain.Item {
	out := make([]domain.Item, 0, len(catalog))
	for _, item := range catalog {
		if item.Active {
			out = append(out, item)
		}
	}
	return out
}
