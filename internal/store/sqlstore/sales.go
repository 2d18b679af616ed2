package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

const saleColumns = `id, customer_id, subtotal, discount, tax, total, payment_method, status, cashier_id,
	created_at, updated_at, cancelled_at, cancelled_by, cancel_reason`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var (
		s           domain.Sale
		cancelledAt sql.NullTime
		cancelledBy sql.NullString
		reason      sql.NullString
	)
	err := row.Scan(&s.ID, &s.CustomerID, &s.Subtotal, &s.Discount, &s.Tax, &s.Total, &s.PaymentMethod, &s.Status, &s.CashierID,
		&s.CreatedAt, &s.UpdatedAt, &cancelledAt, &cancelledBy, &reason)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.CancelledAt = timePtr(cancelledAt)
	s.CancelledBy = cancelledBy.String
	s.CancelReason = reason.String
	return &s, nil
}

func (qs queries) InsertSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" || sale.CustomerID == "" {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO sales (id, customer_id, subtotal, discount, tax, total, payment_method, status, cashier_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, sale.ID, sale.CustomerID, money(sale.Subtotal), money(sale.Discount), money(sale.Tax), money(sale.Total),
		sale.PaymentMethod, string(sale.Status), sale.CashierID, sale.CreatedAt.UTC(), sale.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (qs queries) InsertSaleItem(ctx context.Context, item domain.SaleLineItem) error {
	if item.ID == "" || item.SaleID == "" || item.Quantity < 1 {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO sale_items (id, sale_id, line_no, product_id, quantity, unit_price, line_discount, tax_rate, subtotal)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, item.ID, item.SaleID, item.LineNo, item.ProductID, item.Quantity, money(item.UnitPrice),
		money(item.LineDiscount), money(item.TaxRate), money(item.Subtotal))
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (qs queries) UpdateSaleTotals(ctx context.Context, sale domain.Sale) error {
	res, err := qs.exec(ctx, `
		UPDATE sales SET subtotal = ?, discount = ?, tax = ?, total = ?, updated_at = ?
		WHERE id = ?
	`, money(sale.Subtotal), money(sale.Discount), money(sale.Tax), money(sale.Total), sale.UpdatedAt.UTC(), sale.ID)
	if err != nil {
		return err
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// GetSaleForUpdate locks the header and loads the lines in line order.
func (qs queries) GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(qs.queryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`+qs.d.forUpdate(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if sale.Items, err = qs.saleItems(ctx, id); err != nil {
		return nil, err
	}
	return sale, nil
}

// MarkSaleCancelled flips a completed sale only; false means another unit
// cancelled it first.
func (qs queries) MarkSaleCancelled(ctx context.Context, id string, actor string, reason string, at time.Time) (bool, error) {
	res, err := qs.exec(ctx, `
		UPDATE sales
		SET status = ?, cancelled_at = ?, cancelled_by = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.SaleStatusCancelled), at.UTC(), actor, nullIfEmpty(reason), at.UTC(), id, string(domain.SaleStatusCompleted))
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

func (qs queries) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(qs.queryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if sale.Items, err = qs.saleItems(ctx, id); err != nil {
		return nil, err
	}
	if sale.Promotions, err = qs.saleApplications(ctx, id); err != nil {
		return nil, err
	}
	return sale, nil
}

// ListSales returns headers only, newest first.
func (qs queries) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	var w where
	w.addIf(filter.From != nil, "created_at >= ?", nullTime(filter.From))
	w.addIf(filter.To != nil, "created_at < ?", nullTime(filter.To))
	w.addIf(filter.Status != "", "status = ?", string(filter.Status))
	w.addIf(filter.CustomerID != "", "customer_id = ?", filter.CustomerID)
	w.addIf(filter.CashierID != "", "cashier_id = ?", filter.CashierID)
	w.addIf(filter.PaymentMethod != "", "payment_method = ?", filter.PaymentMethod)
	args := append(w.args, clampLimit(filter.Limit, 50, 500))

	rows, err := qs.query(ctx, `SELECT `+saleColumns+` FROM sales`+w.String()+` ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (qs queries) saleItems(ctx context.Context, saleID string) ([]domain.SaleLineItem, error) {
	rows, err := qs.query(ctx, `
		SELECT id, sale_id, line_no, product_id, quantity, unit_price, line_discount, tax_rate, subtotal
		FROM sale_items
		WHERE sale_id = ?
		ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleLineItem, 0, 8)
	for rows.Next() {
		var item domain.SaleLineItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.LineNo, &item.ProductID, &item.Quantity,
			&item.UnitPrice, &item.LineDiscount, &item.TaxRate, &item.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (qs queries) saleApplications(ctx context.Context, saleID string) ([]domain.DiscountApplication, error) {
	rows, err := qs.query(ctx, `
		SELECT id, sale_id, promotion_kind, promotion_id, amount, created_at
		FROM discount_applications
		WHERE sale_id = ?
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]domain.DiscountApplication, 0, 2)
	for rows.Next() {
		var app domain.DiscountApplication
		if err := rows.Scan(&app.ID, &app.SaleID, &app.PromotionKind, &app.PromotionID, &app.Amount, &app.CreatedAt); err != nil {
			return nil, err
		}
		app.CreatedAt = app.CreatedAt.UTC()
		apps = append(apps, app)
	}
	return apps, rows.Err()
}
