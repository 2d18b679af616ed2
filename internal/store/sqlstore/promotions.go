package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

const discountColumns = `id, name, kind, scope, product_id, category_id, min_quantity, min_amount, value, cap,
	valid_from, valid_until, usage_count, usage_limit, COALESCE(coupon_code, ''), accumulable, active, created_at`

func scanDiscount(row rowScanner) (*domain.Discount, error) {
	var (
		d          domain.Discount
		validFrom  sql.NullTime
		validUntil sql.NullTime
		limit      sql.NullInt64
	)
	err := row.Scan(&d.ID, &d.Name, &d.Kind, &d.Scope, &d.ProductID, &d.CategoryID, &d.MinQuantity, &d.MinAmount, &d.Value, &d.Cap,
		&validFrom, &validUntil, &d.UsageCount, &limit, &d.CouponCode, &d.Accumulable, &d.Active, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.ValidFrom = timePtr(validFrom)
	d.ValidUntil = timePtr(validUntil)
	d.UsageLimit = intPtr(limit)
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func (qs queries) listDiscounts(ctx context.Context, activeOnly bool) ([]domain.Discount, error) {
	var w where
	w.addIf(activeOnly, "active = ?", true)
	rows, err := qs.query(ctx, `SELECT `+discountColumns+` FROM discounts`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	discounts := make([]domain.Discount, 0, 16)
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return discounts, nil
}

// ListActiveDiscounts leaves validity windows and usage limits to the
// evaluator, which needs the sale timestamp to judge them.
func (qs queries) ListActiveDiscounts(ctx context.Context) ([]domain.Discount, error) {
	return qs.listDiscounts(ctx, true)
}

func (qs queries) ListDiscounts(ctx context.Context) ([]domain.Discount, error) {
	return qs.listDiscounts(ctx, false)
}

func (qs queries) GetDiscountByCoupon(ctx context.Context, code string) (*domain.Discount, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrNotFound
	}
	d, err := scanDiscount(qs.queryRow(ctx, `SELECT `+discountColumns+` FROM discounts WHERE coupon_code = ?`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (qs queries) CreateDiscount(ctx context.Context, d domain.Discount) error {
	if d.ID == "" || strings.TrimSpace(d.Name) == "" || d.Value.IsNegative() {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO discounts (
			id, name, kind, scope, product_id, category_id, min_quantity, min_amount, value, cap,
			valid_from, valid_until, usage_count, usage_limit, coupon_code, accumulable, active, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, d.ID, strings.TrimSpace(d.Name), string(d.Kind), string(d.Scope), d.ProductID, d.CategoryID, d.MinQuantity,
		money(d.MinAmount), money(d.Value), nullMoney(d.Cap), nullTime(d.ValidFrom), nullTime(d.ValidUntil),
		d.UsageCount, nullInt(d.UsageLimit), nullIfEmpty(strings.TrimSpace(d.CouponCode)), d.Accumulable, d.Active, d.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

const offerColumns = `id, name, kind, min_quantity, rate, combo_price, valid_from, valid_until,
	usage_count, usage_limit, accumulable, active, created_at`

func scanOffer(row rowScanner) (*domain.Offer, error) {
	var (
		o          domain.Offer
		validFrom  sql.NullTime
		validUntil sql.NullTime
		limit      sql.NullInt64
	)
	err := row.Scan(&o.ID, &o.Name, &o.Kind, &o.MinQuantity, &o.Rate, &o.ComboPrice, &validFrom, &validUntil,
		&o.UsageCount, &limit, &o.Accumulable, &o.Active, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.ValidFrom = timePtr(validFrom)
	o.ValidUntil = timePtr(validUntil)
	o.UsageLimit = intPtr(limit)
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

func (qs queries) listOffers(ctx context.Context, activeOnly bool) ([]domain.Offer, error) {
	var w where
	w.addIf(activeOnly, "active = ?", true)
	rows, err := qs.query(ctx, `SELECT `+offerColumns+` FROM offers`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	offers := make([]domain.Offer, 0, 8)
	index := make(map[string]int, 8)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		index[o.ID] = len(offers)
		offers = append(offers, *o)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(offers) == 0 {
		return offers, nil
	}

	itemRows, err := qs.query(ctx, `
		SELECT offer_id, role, product_id, quantity
		FROM offer_items
		ORDER BY offer_id, role, position
	`)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var (
			offerID string
			role    string
			item    domain.OfferItem
		)
		if err := itemRows.Scan(&offerID, &role, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		i, ok := index[offerID]
		if !ok {
			continue
		}
		if role == offerRoleFree {
			offers[i].FreeItems = append(offers[i].FreeItems, item)
		} else {
			offers[i].RequiredItems = append(offers[i].RequiredItems, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

const (
	offerRoleRequired = "required"
	offerRoleFree     = "free"
)

func (qs queries) ListActiveOffers(ctx context.Context) ([]domain.Offer, error) {
	return qs.listOffers(ctx, true)
}

func (qs queries) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	return qs.listOffers(ctx, false)
}

// CreateOffer writes the header and its item rows in one unit.
func (s *Store) CreateOffer(ctx context.Context, o domain.Offer) error {
	return s.withinTx(ctx, func(tx *Tx) error {
		return tx.createOffer(ctx, o)
	})
}

func (qs queries) createOffer(ctx context.Context, o domain.Offer) error {
	if o.ID == "" || strings.TrimSpace(o.Name) == "" || len(o.RequiredItems) == 0 {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO offers (
			id, name, kind, min_quantity, rate, combo_price, valid_from, valid_until,
			usage_count, usage_limit, accumulable, active, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, o.ID, strings.TrimSpace(o.Name), string(o.Kind), o.MinQuantity, money(o.Rate), nullMoney(o.ComboPrice),
		nullTime(o.ValidFrom), nullTime(o.ValidUntil), o.UsageCount, nullInt(o.UsageLimit), o.Accumulable, o.Active, o.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	if err := qs.insertOfferItems(ctx, o.ID, offerRoleRequired, o.RequiredItems); err != nil {
		return err
	}
	return qs.insertOfferItems(ctx, o.ID, offerRoleFree, o.FreeItems)
}

func (qs queries) insertOfferItems(ctx context.Context, offerID string, role string, items []domain.OfferItem) error {
	for i, item := range items {
		if item.ProductID == "" || item.Quantity < 1 {
			return store.ErrInvalidInput
		}
		if _, err := qs.exec(ctx, `
			INSERT INTO offer_items (offer_id, role, position, product_id, quantity)
			VALUES (?,?,?,?,?)
		`, offerID, role, i, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (qs queries) InsertDiscountApplication(ctx context.Context, app domain.DiscountApplication) error {
	if app.ID == "" || app.SaleID == "" || app.PromotionID == "" || app.Amount.IsNegative() {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO discount_applications (id, sale_id, promotion_kind, promotion_id, amount, created_at)
		VALUES (?,?,?,?,?,?)
	`, app.ID, app.SaleID, string(app.PromotionKind), app.PromotionID, money(app.Amount), app.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

// IncrementDiscountUsage is a guarded increment: false means the limit was
// already reached when this unit got to the row.
func (qs queries) IncrementDiscountUsage(ctx context.Context, id string) (bool, error) {
	res, err := qs.exec(ctx, `
		UPDATE discounts
		SET usage_count = usage_count + 1
		WHERE id = ? AND (usage_limit IS NULL OR usage_count < usage_limit)
	`, id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

func (qs queries) IncrementOfferUsage(ctx context.Context, id string) (bool, error) {
	res, err := qs.exec(ctx, `
		UPDATE offers
		SET usage_count = usage_count + 1
		WHERE id = ? AND (usage_limit IS NULL OR usage_count < usage_limit)
	`, id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}
