package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

var (
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrCouponInactive    = errors.New("coupon inactive")
	ErrCouponExpired     = errors.New("coupon expired")
	ErrCouponNotYetValid = errors.New("coupon not yet valid")
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
	ErrAlreadyApplied    = errors.New("promotion already applied to this sale")
)

// Recorder is the slice of a unit of work that committing a promotion needs.
type Recorder interface {
	InsertDiscountApplication(ctx context.Context, app domain.DiscountApplication) error
	IncrementDiscountUsage(ctx context.Context, id string) (bool, error)
	IncrementOfferUsage(ctx context.Context, id string) (bool, error)
}

type CouponLookup interface {
	GetDiscountByCoupon(ctx context.Context, code string) (*domain.Discount, error)
}

// NormalizeCoupon is the stored form of a coupon code.
func NormalizeCoupon(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckCoupon resolves a supplied code and reports why it cannot be used.
// A blank code is not an error and returns nil.
func CheckCoupon(ctx context.Context, lookup CouponLookup, code string, now time.Time) (*domain.Discount, error) {
	code = NormalizeCoupon(code)
	if code == "" {
		return nil, nil
	}
	d, err := lookup.GetDiscountByCoupon(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		return nil, err
	}
	switch {
	case !d.Active:
		return nil, fmt.Errorf("%w: %s", ErrCouponInactive, code)
	case d.ValidFrom != nil && now.Before(*d.ValidFrom):
		return nil, fmt.Errorf("%w: %s", ErrCouponNotYetValid, code)
	case d.ValidUntil != nil && now.After(*d.ValidUntil):
		return nil, fmt.Errorf("%w: %s", ErrCouponExpired, code)
	case d.UsageLimit != nil && d.UsageCount >= *d.UsageLimit:
		return nil, fmt.Errorf("%w: %s", ErrUsageLimitReached, code)
	}
	return d, nil
}

// Apply commits one selected promotion for a sale: the application row and
// the usage increment, both through rec so they share the sale's unit. The
// increment is guarded, so a limit reached by a concurrent sale fails here
// instead of overshooting.
func Apply(ctx context.Context, rec Recorder, saleID string, c Candidate, now time.Time) (domain.DiscountApplication, error) {
	app := domain.DiscountApplication{
		ID:            xid.New("dapp"),
		SaleID:        saleID,
		PromotionKind: c.Kind,
		PromotionID:   c.ID,
		Amount:        domain.RoundMoney(c.Amount),
		CreatedAt:     now,
	}
	if err := rec.InsertDiscountApplication(ctx, app); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.DiscountApplication{}, fmt.Errorf("%w: %s %s", ErrAlreadyApplied, c.Kind, c.ID)
		}
		return domain.DiscountApplication{}, err
	}

	var (
		ok  bool
		err error
	)
	switch c.Kind {
	case domain.PromotionOffer:
		ok, err = rec.IncrementOfferUsage(ctx, c.ID)
	default:
		ok, err = rec.IncrementDiscountUsage(ctx, c.ID)
	}
	if err != nil {
		return domain.DiscountApplication{}, err
	}
	if !ok {
		return domain.DiscountApplication{}, fmt.Errorf("%w: %s %s", ErrUsageLimitReached, c.Kind, c.ID)
	}
	return app, nil
}
