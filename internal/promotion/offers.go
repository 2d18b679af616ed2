package promotion

import (
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/posledger/internal/domain"
)

// OfferAvailable reports whether the offer is live at now.
func OfferAvailable(o domain.Offer, now time.Time) bool {
	return Available(o.Active, o.ValidFrom, o.ValidUntil, o.UsageCount, o.UsageLimit, now)
}

// offerMatches checks the required set against the cart. Amount tiers need
// the summed quantity of the set to reach MinQuantity; every other kind needs
// each required item present in at least its own quantity.
func offerMatches(o domain.Offer, cart Cart) bool {
	if len(o.RequiredItems) == 0 {
		return false
	}
	if o.Kind == domain.OfferAmountTier {
		total := 0
		for _, item := range o.RequiredItems {
			total += cart.QuantityOf(item.ProductID)
		}
		return total > 0 && total >= o.MinQuantity
	}
	for _, item := range o.RequiredItems {
		if cart.QuantityOf(item.ProductID) < item.Quantity {
			return false
		}
	}
	return true
}

// MatchOffers returns the available offers whose required set the cart meets,
// in the order given.
func MatchOffers(offers []domain.Offer, cart Cart) []domain.Offer {
	matched := make([]domain.Offer, 0, len(offers))
	for _, o := range offers {
		if OfferAvailable(o, cart.Now) && offerMatches(o, cart) {
			matched = append(matched, o)
		}
	}
	return matched
}

// OfferAmount is what a matched offer grants on this cart, free items included.
func OfferAmount(o domain.Offer, cart Cart) decimal.Decimal {
	amount := decimal.Zero
	switch o.Kind {
	case domain.OfferBuyXGetY:
		for _, item := range o.RequiredItems {
			amount = amount.Add(BuyXGetY(o.MinQuantity, cart.QuantityOf(item.ProductID), cart.UnitPriceOf(item.ProductID)))
		}
	case domain.OfferCombo:
		if !o.ComboPrice.Valid {
			break
		}
		// One combo price per complete set in the cart.
		sets := -1
		components := make([]Component, 0, len(o.RequiredItems))
		for _, item := range o.RequiredItems {
			n := cart.QuantityOf(item.ProductID) / item.Quantity
			if sets < 0 || n < sets {
				sets = n
			}
			components = append(components, Component{Price: cart.UnitPriceOf(item.ProductID), Quantity: item.Quantity})
		}
		if sets > 0 {
			amount = Combo(components, o.ComboPrice.Decimal).Mul(decimal.NewFromInt(int64(sets)))
		}
	case domain.OfferQuantityTier, domain.OfferAmountTier:
		amount = QuantityTier(cart.SubtotalOf(requiredProducts(o)), o.Rate)
	}

	for _, free := range o.FreeItems {
		qty := min(cart.QuantityOf(free.ProductID), free.Quantity)
		if qty > 0 {
			amount = amount.Add(cart.UnitPriceOf(free.ProductID).Mul(decimal.NewFromInt(int64(qty))))
		}
	}
	return domain.RoundMoney(domain.MinMoney(amount, cart.Subtotal()))
}

func requiredProducts(o domain.Offer) map[string]struct{} {
	ids := make(map[string]struct{}, len(o.RequiredItems))
	for _, item := range o.RequiredItems {
		ids[item.ProductID] = struct{}{}
	}
	return ids
}
