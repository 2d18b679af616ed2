package promotion

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/posledger/internal/domain"
)

// Line is one cart line as the evaluator sees it. Subtotal is after the
// line's own discount.
type Line struct {
	ProductID  string
	CategoryID string
	Quantity   int
	UnitPrice  decimal.Decimal
	Subtotal   decimal.Decimal
}

type Cart struct {
	Lines      []Line
	CouponCode string
	Now        time.Time
}

func (c Cart) Quantity() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal)
	}
	return total
}

// QuantityOf sums every line of the product; a product may appear twice.
func (c Cart) QuantityOf(productID string) int {
	total := 0
	for _, l := range c.Lines {
		if l.ProductID == productID {
			total += l.Quantity
		}
	}
	return total
}

// UnitPriceOf returns the price on the first line of the product.
func (c Cart) UnitPriceOf(productID string) decimal.Decimal {
	for _, l := range c.Lines {
		if l.ProductID == productID {
			return l.UnitPrice
		}
	}
	return decimal.Zero
}

func (c Cart) SubtotalOf(productIDs map[string]struct{}) decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		if _, ok := productIDs[l.ProductID]; ok {
			total = total.Add(l.Subtotal)
		}
	}
	return total
}

func (c Cart) context() Context {
	return Context{Quantity: c.Quantity(), Subtotal: c.Subtotal(), CouponCode: c.CouponCode, Now: c.Now}
}

func (c Cart) lineContext(l Line) Context {
	return Context{
		ProductID:  l.ProductID,
		CategoryID: l.CategoryID,
		Quantity:   l.Quantity,
		Subtotal:   l.Subtotal,
		CouponCode: c.CouponCode,
		Now:        c.Now,
	}
}

// Candidate is one promotion with the amount it would grant on a cart.
type Candidate struct {
	Kind        domain.PromotionKind `json:"kind"`
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Amount      decimal.Decimal      `json:"amount"`
	Accumulable bool                 `json:"accumulable"`
}

func lineScoped(scope domain.DiscountScope) bool {
	return scope == domain.ScopeProduct || scope == domain.ScopeCategory
}

// Evaluate prices every qualifying discount and offer for the cart. Product
// and category rules are matched per line and apply to the lines they hit;
// the other scopes see the cart as a whole. Zero-amount matches are dropped.
func Evaluate(cart Cart, discounts []domain.Discount, offers []domain.Offer) []Candidate {
	candidates := make([]Candidate, 0, 4)

	matchedBase := make(map[string]decimal.Decimal, len(discounts))
	order := make([]domain.Discount, 0, len(discounts))
	seen := make(map[string]bool, len(discounts))
	note := func(d domain.Discount, base decimal.Decimal) {
		matchedBase[d.ID] = matchedBase[d.ID].Add(base)
		if !seen[d.ID] {
			seen[d.ID] = true
			order = append(order, d)
		}
	}

	cartWide := make([]domain.Discount, 0, len(discounts))
	perLine := make([]domain.Discount, 0, len(discounts))
	for _, d := range discounts {
		if lineScoped(d.Scope) {
			perLine = append(perLine, d)
		} else {
			cartWide = append(cartWide, d)
		}
	}
	for _, d := range MatchDiscounts(cartWide, cart.context()) {
		note(d, cart.Subtotal())
	}
	for _, line := range cart.Lines {
		for _, d := range MatchDiscounts(perLine, cart.lineContext(line)) {
			note(d, line.Subtotal)
		}
	}

	for _, d := range order {
		amount := DiscountAmount(d, matchedBase[d.ID])
		if !amount.IsPositive() {
			continue
		}
		candidates = append(candidates, Candidate{
			Kind:        domain.PromotionDiscount,
			ID:          d.ID,
			Name:        d.Name,
			Amount:      amount,
			Accumulable: d.Accumulable,
		})
	}

	for _, o := range MatchOffers(offers, cart) {
		amount := OfferAmount(o, cart)
		if !amount.IsPositive() {
			continue
		}
		candidates = append(candidates, Candidate{
			Kind:        domain.PromotionOffer,
			ID:          o.ID,
			Name:        o.Name,
			Amount:      amount,
			Accumulable: o.Accumulable,
		})
	}
	return candidates
}

// Select applies the stacking policy. Without stacking only the largest
// candidate is kept. With stacking, an accumulable winner is joined by every
// other accumulable candidate; a non-accumulable winner stays alone.
func Select(candidates []Candidate, stack bool) []Candidate {
	if len(candidates) == 0 {
		return nil
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Amount.Equal(sorted[j].Amount) {
			return sorted[i].Amount.GreaterThan(sorted[j].Amount)
		}
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].ID < sorted[j].ID
	})

	best := sorted[0]
	if !stack || !best.Accumulable {
		return []Candidate{best}
	}
	selected := []Candidate{best}
	for _, c := range sorted[1:] {
		if c.Accumulable {
			selected = append(selected, c)
		}
	}
	return selected
}

// Total sums the selected amounts without capping; the sale caps the
// combined discount at its subtotal.
func Total(selected []Candidate) decimal.Decimal {
	total := decimal.Zero
	for _, c := range selected {
		total = total.Add(c.Amount)
	}
	return total
}
