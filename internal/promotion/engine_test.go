package promotion

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/posledger/internal/domain"
)

var testNow = time.Date(2026, 5, 20, 14, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

func line(productID, categoryID string, qty int, price string) Line {
	p := dec(price)
	return Line{
		ProductID:  productID,
		CategoryID: categoryID,
		Quantity:   qty,
		UnitPrice:  p,
		Subtotal:   p.Mul(decimal.NewFromInt(int64(qty))),
	}
}

func TestFormulas(t *testing.T) {
	assertMoney(t, "150.00", Percentage(dec("1000"), dec("15"), decimal.NullDecimal{}))
	assertMoney(t, "100.00", Percentage(dec("1000"), dec("15"), decimal.NewNullDecimal(dec("100"))))
	assertMoney(t, "3.33", Percentage(dec("33.33"), dec("10"), decimal.NullDecimal{}))

	assertMoney(t, "50.00", FixedAmount(dec("50"), dec("120")))
	assertMoney(t, "20.00", FixedAmount(dec("50"), dec("20")))

	assertMoney(t, "100.00", BuyXGetY(2, 6, dec("50")))
	assertMoney(t, "50.00", BuyXGetY(2, 5, dec("50")))
	assertMoney(t, "0.00", BuyXGetY(2, 2, dec("50")))
	assertMoney(t, "0.00", BuyXGetY(0, 6, dec("50")))

	assertMoney(t, "10.00", Combo([]Component{{Price: dec("30"), Quantity: 1}, {Price: dec("20"), Quantity: 1}}, dec("40")))
	assertMoney(t, "0.00", Combo([]Component{{Price: dec("30"), Quantity: 1}}, dec("40")))

	assertMoney(t, "20.00", QuantityTier(dec("200"), dec("10")))
}

func TestAvailableWindowIsInclusive(t *testing.T) {
	from := testNow
	until := testNow
	limit := 3

	assert.True(t, Available(true, &from, &until, 0, nil, testNow))
	assert.False(t, Available(true, &from, &until, 0, nil, testNow.Add(time.Second)))
	assert.False(t, Available(true, &from, nil, 0, nil, testNow.Add(-time.Second)))
	assert.False(t, Available(false, nil, nil, 0, nil, testNow))
	assert.True(t, Available(true, nil, nil, 2, &limit, testNow))
	assert.False(t, Available(true, nil, nil, 3, &limit, testNow))
}

func TestMatchDiscountsOrdersByValue(t *testing.T) {
	past := testNow.Add(-time.Hour)
	rules := []domain.Discount{
		{ID: "d-low", Kind: domain.DiscountPercentage, Scope: domain.ScopeGeneral, Value: dec("5"), Active: true},
		{ID: "d-high", Kind: domain.DiscountPercentage, Scope: domain.ScopeGeneral, Value: dec("20"), Active: true},
		{ID: "d-expired", Kind: domain.DiscountPercentage, Scope: domain.ScopeGeneral, Value: dec("50"), Active: true, ValidUntil: &past},
		{ID: "d-qty", Kind: domain.DiscountFixed, Scope: domain.ScopeQuantity, MinQuantity: 10, Value: dec("30"), Active: true},
		{ID: "d-amount", Kind: domain.DiscountFixed, Scope: domain.ScopeAmount, MinAmount: dec("100"), Value: dec("10"), Active: true},
		{ID: "d-coupon", Kind: domain.DiscountFixed, Scope: domain.ScopeGeneral, Value: dec("40"), Active: true, CouponCode: "HEMAT"},
	}

	matched := MatchDiscounts(rules, Context{Quantity: 3, Subtotal: dec("150"), Now: testNow})
	ids := make([]string, 0, len(matched))
	for _, d := range matched {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"d-high", "d-amount", "d-low"}, ids)

	withCoupon := MatchDiscounts(rules, Context{Quantity: 3, Subtotal: dec("150"), CouponCode: "hemat", Now: testNow})
	require.NotEmpty(t, withCoupon)
	assert.Equal(t, "d-coupon", withCoupon[0].ID)
}

func TestEvaluateAndSelect(t *testing.T) {
	cart := Cart{
		Lines: []Line{line("p1", "cat-a", 2, "50"), line("p2", "cat-b", 1, "200")},
		Now:   testNow,
	}
	discounts := []domain.Discount{
		{ID: "d-general", Name: "Semua 10%", Kind: domain.DiscountPercentage, Scope: domain.ScopeGeneral, Value: dec("10"), Accumulable: true, Active: true},
		{ID: "d-cat", Name: "Kategori A", Kind: domain.DiscountFixed, Scope: domain.ScopeCategory, CategoryID: "cat-a", Value: dec("15"), Accumulable: true, Active: true},
		{ID: "d-p2", Name: "Produk 2", Kind: domain.DiscountPercentage, Scope: domain.ScopeProduct, ProductID: "p2", Value: dec("20"), Cap: decimal.NewNullDecimal(dec("25")), Active: true},
		{ID: "d-none", Name: "Tidak cocok", Kind: domain.DiscountFixed, Scope: domain.ScopeProduct, ProductID: "p9", Value: dec("99"), Active: true},
	}

	candidates := Evaluate(cart, discounts, nil)
	require.Len(t, candidates, 3)
	amounts := map[string]string{}
	for _, c := range candidates {
		assert.Equal(t, domain.PromotionDiscount, c.Kind)
		amounts[c.ID] = c.Amount.StringFixed(2)
	}
	assert.Equal(t, map[string]string{"d-general": "30.00", "d-cat": "15.00", "d-p2": "25.00"}, amounts)

	best := Select(candidates, false)
	require.Len(t, best, 1)
	assert.Equal(t, "d-general", best[0].ID)

	stacked := Select(candidates, true)
	require.Len(t, stacked, 2)
	assert.Equal(t, "d-general", stacked[0].ID)
	assert.Equal(t, "d-cat", stacked[1].ID)
	assertMoney(t, "45.00", Total(stacked))
}

func TestSelectKeepsNonAccumulableWinnerAlone(t *testing.T) {
	candidates := []Candidate{
		{Kind: domain.PromotionDiscount, ID: "a", Amount: dec("10"), Accumulable: true},
		{Kind: domain.PromotionOffer, ID: "b", Amount: dec("40")},
		{Kind: domain.PromotionDiscount, ID: "c", Amount: dec("5"), Accumulable: true},
	}
	selected := Select(candidates, true)
	require.Len(t, selected, 1)
	assert.Equal(t, "b", selected[0].ID)

	assert.Nil(t, Select(nil, true))
}

func TestOfferAmounts(t *testing.T) {
	cart := Cart{
		Lines: []Line{line("p1", "", 6, "50"), line("p2", "", 2, "20"), line("p3", "", 1, "10")},
		Now:   testNow,
	}

	buyTwo := domain.Offer{
		ID: "o-b2g1", Kind: domain.OfferBuyXGetY, MinQuantity: 2, Active: true,
		RequiredItems: []domain.OfferItem{{ProductID: "p1", Quantity: 1}},
		FreeItems:     []domain.OfferItem{{ProductID: "p3", Quantity: 1}},
	}
	assertMoney(t, "110.00", OfferAmount(buyTwo, cart))

	combo := domain.Offer{
		ID: "o-combo", Kind: domain.OfferCombo, ComboPrice: decimal.NewNullDecimal(dec("60")), Active: true,
		RequiredItems: []domain.OfferItem{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 1}},
	}
	// two complete sets of (50 + 20) at 60 each
	assertMoney(t, "20.00", OfferAmount(combo, cart))

	tier := domain.Offer{
		ID: "o-tier", Kind: domain.OfferAmountTier, MinQuantity: 8, Rate: dec("10"), Active: true,
		RequiredItems: []domain.OfferItem{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 1}},
	}
	assertMoney(t, "34.00", OfferAmount(tier, cart))

	missing := domain.Offer{
		ID: "o-missing", Kind: domain.OfferQuantityTier, Rate: dec("10"), Active: true,
		RequiredItems: []domain.OfferItem{{ProductID: "p1", Quantity: 7}},
	}
	matched := MatchOffers([]domain.Offer{buyTwo, combo, tier, missing}, cart)
	require.Len(t, matched, 3)
	assert.Equal(t, "o-tier", matched[2].ID)

	candidates := Evaluate(cart, nil, matched)
	require.Len(t, candidates, 3)
	assert.Equal(t, domain.PromotionOffer, candidates[0].Kind)
}

func TestOfferSkippedWhenExhausted(t *testing.T) {
	limit := 1
	cart := Cart{Lines: []Line{line("p1", "", 3, "50")}, Now: testNow}
	o := domain.Offer{
		ID: "o1", Kind: domain.OfferBuyXGetY, MinQuantity: 2, Active: true, UsageCount: 1, UsageLimit: &limit,
		RequiredItems: []domain.OfferItem{{ProductID: "p1", Quantity: 1}},
	}
	assert.Empty(t, MatchOffers([]domain.Offer{o}, cart))
}
