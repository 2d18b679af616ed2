package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/posledger/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	// ErrBusy marks lock contention and serialization failures. The unit of
	// work was rolled back and may be retried as a whole.
	ErrBusy = errors.New("store busy, retry")
)

// Tx is the set of primitives available inside one atomic unit of work.
// Implementations must never reach for a connection outside the unit.
type Tx interface {
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error

	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	UpdateProductStock(ctx context.Context, id string, stock int, at time.Time) error
	InsertMovement(ctx context.Context, movement domain.InventoryMovement) error

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	InsertCustomer(ctx context.Context, customer domain.Customer) error

	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertSaleItem(ctx context.Context, item domain.SaleLineItem) error
	UpdateSaleTotals(ctx context.Context, sale domain.Sale) error
	GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error)
	MarkSaleCancelled(ctx context.Context, id string, actor string, reason string, at time.Time) (bool, error)

	ListActiveDiscounts(ctx context.Context) ([]domain.Discount, error)
	ListActiveOffers(ctx context.Context) ([]domain.Offer, error)
	GetDiscountByCoupon(ctx context.Context, code string) (*domain.Discount, error)
	InsertDiscountApplication(ctx context.Context, app domain.DiscountApplication) error
	IncrementDiscountUsage(ctx context.Context, id string) (bool, error)
	IncrementOfferUsage(ctx context.Context, id string) (bool, error)

	GetOpenCashSession(ctx context.Context) (*domain.CashSession, error)
	GetCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	InsertCashSession(ctx context.Context, session domain.CashSession) error
	CloseCashSession(ctx context.Context, id string, counted decimal.Decimal, actor string, at time.Time) (bool, error)
	InsertCashTransaction(ctx context.Context, txn domain.CashTransaction) error
	ListCashTransactions(ctx context.Context, sessionID string) ([]domain.CashTransaction, error)
	FindCashTransaction(ctx context.Context, kind domain.CashKind, referenceID string) (*domain.CashTransaction, error)

	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
}

// Store is the process-wide handle. It owns the single connection pool and
// hands out units of work; the read methods run outside any unit.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]domain.InventoryMovement, error)

	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) error
	SoftDeleteProduct(ctx context.Context, id string, at time.Time) error

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) error

	ListDiscounts(ctx context.Context) ([]domain.Discount, error)
	GetDiscountByCoupon(ctx context.Context, code string) (*domain.Discount, error)
	CreateDiscount(ctx context.Context, discount domain.Discount) error
	ListOffers(ctx context.Context) ([]domain.Offer, error)
	CreateOffer(ctx context.Context, offer domain.Offer) error

	GetCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	GetOpenCashSession(ctx context.Context) (*domain.CashSession, error)
	ListCashTransactions(ctx context.Context, sessionID string) ([]domain.CashTransaction, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]domain.AuditLog, error)
}

// SaleFilter narrows ListSales. Zero fields are ignored.
type SaleFilter struct {
	From          *time.Time
	To            *time.Time
	Status        domain.SaleStatus
	CustomerID    string
	CashierID     string
	PaymentMethod string
	Limit         int
}

type MovementFilter struct {
	ProductID   string
	ReferenceID string
	Direction   domain.MovementDirection
	From        *time.Time
	To          *time.Time
	Limit       int
}

// AuditFilter narrows ListAuditLogs. Zero fields are ignored.
type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
	Actor      string
	From       *time.Time
	To         *time.Time
	Limit      int
}
