// Package promotion evaluates discounts and offers against a cart and commits
// the chosen ones. Matching and the amount formulas are pure; only Apply and
// CheckCoupon touch storage, and only through the caller's unit of work.
package promotion

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/posledger/internal/domain"
)

// Context is what a single discount rule is matched against: one cart line
// for product and category rules, the whole cart for the others.
type Context struct {
	ProductID  string
	CategoryID string
	Quantity   int
	Subtotal   decimal.Decimal
	CouponCode string
	Now        time.Time
}

// Available reports whether a rule is live at now: enabled, inside its
// validity window (both ends inclusive) and below its usage limit.
func Available(active bool, from, until *time.Time, used int, limit *int, now time.Time) bool {
	if !active {
		return false
	}
	if from != nil && now.Before(*from) {
		return false
	}
	if until != nil && now.After(*until) {
		return false
	}
	if limit != nil && used >= *limit {
		return false
	}
	return true
}

func couponMatches(ruleCode, supplied string) bool {
	ruleCode = strings.TrimSpace(ruleCode)
	if ruleCode == "" {
		return true
	}
	return strings.EqualFold(ruleCode, strings.TrimSpace(supplied))
}

func scopeMatches(d domain.Discount, c Context) bool {
	switch d.Scope {
	case domain.ScopeGeneral:
		return true
	case domain.ScopeProduct:
		return d.ProductID != "" && d.ProductID == c.ProductID
	case domain.ScopeCategory:
		return d.CategoryID != "" && d.CategoryID == c.CategoryID
	case domain.ScopeQuantity:
		return c.Quantity >= d.MinQuantity
	case domain.ScopeAmount:
		return c.Subtotal.GreaterThanOrEqual(d.MinAmount)
	default:
		return false
	}
}

// Qualifies combines availability, coupon and scope for one rule.
func Qualifies(d domain.Discount, c Context) bool {
	return Available(d.Active, d.ValidFrom, d.ValidUntil, d.UsageCount, d.UsageLimit, c.Now) &&
		couponMatches(d.CouponCode, c.CouponCode) &&
		scopeMatches(d, c)
}

// MatchDiscounts returns the qualifying rules by descending nominal value.
// Whether to take the first or the accumulable set is the caller's call.
func MatchDiscounts(rules []domain.Discount, c Context) []domain.Discount {
	matched := make([]domain.Discount, 0, len(rules))
	for _, d := range rules {
		if Qualifies(d, c) {
			matched = append(matched, d)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Value.Equal(matched[j].Value) {
			return matched[i].Value.GreaterThan(matched[j].Value)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}

// Percentage is min(subtotal*rate/100, cap). Rate is a percentage.
func Percentage(subtotal, rate decimal.Decimal, cap decimal.NullDecimal) decimal.Decimal {
	amount := domain.PercentOf(subtotal, rate)
	if cap.Valid {
		amount = domain.MinMoney(amount, cap.Decimal)
	}
	return nonNegative(domain.RoundMoney(amount))
}

func FixedAmount(value, subtotal decimal.Decimal) decimal.Decimal {
	return nonNegative(domain.RoundMoney(domain.MinMoney(value, subtotal)))
}

// BuyXGetY gives one unit free for every minQty+1 bought: floor(qty/(minQty+1))*unitPrice.
func BuyXGetY(minQty, qty int, unitPrice decimal.Decimal) decimal.Decimal {
	if minQty < 1 || qty < 1 {
		return decimal.Zero
	}
	free := qty / (minQty + 1)
	return nonNegative(domain.RoundMoney(unitPrice.Mul(decimal.NewFromInt(int64(free)))))
}

type Component struct {
	Price    decimal.Decimal
	Quantity int
}

// Combo is max(0, Σ price*qty - comboPrice).
func Combo(components []Component, comboPrice decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, c := range components {
		total = total.Add(c.Price.Mul(decimal.NewFromInt(int64(c.Quantity))))
	}
	return nonNegative(domain.RoundMoney(total.Sub(comboPrice)))
}

// QuantityTier is matchedSubtotal*rate/100.
func QuantityTier(matchedSubtotal, rate decimal.Decimal) decimal.Decimal {
	return nonNegative(domain.RoundMoney(domain.PercentOf(matchedSubtotal, rate)))
}

// DiscountAmount applies the rule's formula to the subtotal it matched.
func DiscountAmount(d domain.Discount, matchedSubtotal decimal.Decimal) decimal.Decimal {
	switch d.Kind {
	case domain.DiscountPercentage:
		return Percentage(matchedSubtotal, d.Value, d.Cap)
	case domain.DiscountFixed:
		return FixedAmount(d.Value, matchedSubtotal)
	default:
		return decimal.Zero
	}
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
