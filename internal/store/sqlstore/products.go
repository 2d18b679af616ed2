package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

const productColumns = `id, sku, name, category_id, price, tax_rate, stock, active, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p       domain.Product
		deleted sql.NullTime
	)
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.TaxRate, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.DeletedAt = timePtr(deleted)
	return &p, nil
}

// money is the persisted form of an amount. SQLite keeps it as TEXT, which
// preserves exact cents; PostgreSQL casts it into NUMERIC.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nullMoney(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return money(d.Decimal)
}

func (qs queries) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(qs.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetProductForUpdate returns soft-deleted rows as well; callers decide
// whether the product is sellable.
func (qs queries) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(qs.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`+qs.d.forUpdate(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (qs queries) UpdateProductStock(ctx context.Context, id string, stock int, at time.Time) error {
	if stock < 0 {
		return store.ErrInvalidInput
	}
	res, err := qs.exec(ctx, `UPDATE products SET stock = ?, updated_at = ? WHERE id = ?`, stock, at.UTC(), id)
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

func (qs queries) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	var w where
	if !includeInactive {
		w.add("active = ? AND deleted_at IS NULL", true)
	}
	rows, err := qs.query(ctx, `SELECT `+productColumns+` FROM products`+w.String()+` ORDER BY category_id, name`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (qs queries) CreateProduct(ctx context.Context, product domain.Product) error {
	product.SKU = strings.TrimSpace(product.SKU)
	product.Name = strings.TrimSpace(product.Name)
	if product.ID == "" || product.SKU == "" || product.Name == "" || product.Stock < 0 || product.Price.IsNegative() {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO products (id, sku, name, category_id, price, tax_rate, stock, active, created_at, updated_at, deleted_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, product.ID, product.SKU, product.Name, product.CategoryID, money(product.Price), money(product.TaxRate),
		product.Stock, product.Active, product.CreatedAt.UTC(), product.UpdatedAt.UTC(), nullTime(product.DeletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

// SoftDeleteProduct keeps the row so historical sale lines still resolve.
func (qs queries) SoftDeleteProduct(ctx context.Context, id string, at time.Time) error {
	res, err := qs.exec(ctx, `
		UPDATE products SET active = ?, deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, false, at.UTC(), at.UTC(), id)
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

const customerColumns = `id, name, tax_id, generic, created_at`

func (qs queries) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := qs.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.TaxID, &c.Generic, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (qs queries) InsertCustomer(ctx context.Context, customer domain.Customer) error {
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.ID == "" || customer.Name == "" {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO customers (id, name, tax_id, generic, created_at)
		VALUES (?,?,?,?,?)
	`, customer.ID, customer.Name, strings.TrimSpace(customer.TaxID), customer.Generic, customer.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (qs queries) CreateCustomer(ctx context.Context, customer domain.Customer) error {
	return qs.InsertCustomer(ctx, customer)
}
