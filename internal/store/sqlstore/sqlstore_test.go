package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate())
	return s
}

func seedProduct(t *testing.T, s *Store, id string, stock int) domain.Product {
	t.Helper()
	p := domain.Product{
		ID:         id,
		SKU:        "SKU-" + id,
		Name:       "Product " + id,
		CategoryID: "cat_drinks",
		Price:      decimal.RequireFromString("12.50"),
		TaxRate:    decimal.NewFromInt(11),
		Stock:      stock,
		Active:     true,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
	assert.Equal(t, DriverSQLite, s.Driver())
	require.NoError(t, s.Ping(context.Background()))
}

func TestProductLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)
	seedProduct(t, s, "p2", 3)

	got, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "12.50", got.Price.StringFixed(2))
	assert.True(t, got.Sellable())
	assert.True(t, testNow.Equal(got.CreatedAt))

	err = s.CreateProduct(ctx, domain.Product{ID: "p3", SKU: "SKU-p1", Name: "dup", CreatedAt: testNow, UpdatedAt: testNow})
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.SoftDeleteProduct(ctx, "p2", testNow.Add(time.Hour)))
	assert.ErrorIs(t, s.SoftDeleteProduct(ctx, "p2", testNow), store.ErrNotFound)

	deleted, err := s.GetProduct(ctx, "p2")
	require.NoError(t, err)
	assert.False(t, deleted.Sellable())
	require.NotNil(t, deleted.DeletedAt)

	active, err := s.ListProducts(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p1", active[0].ID)

	all, err := s.ListProducts(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateProductStock(ctx, "p1", 4, testNow); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
}

func TestSavepointUndoesOnlyItsOwnWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)
	seedProduct(t, s, "p2", 10)

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateProductStock(ctx, "p1", 7, testNow); err != nil {
			return err
		}
		if err := tx.Savepoint(ctx, "item_2"); err != nil {
			return err
		}
		if err := tx.UpdateProductStock(ctx, "p2", 1, testNow); err != nil {
			return err
		}
		return tx.RollbackTo(ctx, "item_2")
	})
	require.NoError(t, err)

	p1, _ := s.GetProduct(ctx, "p1")
	p2, _ := s.GetProduct(ctx, "p2")
	assert.Equal(t, 7, p1.Stock)
	assert.Equal(t, 10, p2.Stock)
}

func TestUpdateProductStockRejectsNegative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 1)

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.UpdateProductStock(ctx, "p1", -1, testNow)
	})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.UpdateProductStock(ctx, "nope", 1, testNow)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func insertTestSale(t *testing.T, s *Store, id string) {
	t.Helper()
	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertCustomer(ctx, domain.Customer{ID: "cust_1", Name: "Ana", CreatedAt: testNow}); err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
		sale := domain.Sale{
			ID:            id,
			CustomerID:    "cust_1",
			Subtotal:      decimal.RequireFromString("25.00"),
			Discount:      decimal.Zero,
			Tax:           decimal.RequireFromString("2.75"),
			Total:         decimal.RequireFromString("27.75"),
			PaymentMethod: "cash",
			Status:        domain.SaleStatusCompleted,
			CashierID:     "kasir01",
			CreatedAt:     testNow,
			UpdatedAt:     testNow,
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		return tx.InsertSaleItem(ctx, domain.SaleLineItem{
			ID:           id + "_1",
			SaleID:       id,
			LineNo:       1,
			ProductID:    "p1",
			Quantity:     2,
			UnitPrice:    decimal.RequireFromString("12.50"),
			LineDiscount: decimal.Zero,
			TaxRate:      decimal.NewFromInt(11),
			Subtotal:     decimal.RequireFromString("25.00"),
		})
	})
	require.NoError(t, err)
}

func TestSaleRoundTripAndConditionalCancel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)
	insertTestSale(t, s, "sale_1")

	sale, err := s.GetSale(ctx, "sale_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.Equal(t, "27.75", sale.Total.StringFixed(2))
	require.Len(t, sale.Items, 1)
	assert.Equal(t, 2, sale.Items[0].Quantity)
	assert.Nil(t, sale.CancelledAt)

	var first, second bool
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		first, err = tx.MarkSaleCancelled(ctx, "sale_1", "manager", "wrong item", testNow.Add(time.Minute))
		if err != nil {
			return err
		}
		second, err = tx.MarkSaleCancelled(ctx, "sale_1", "manager", "again", testNow.Add(2*time.Minute))
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	sale, err = s.GetSale(ctx, "sale_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, sale.Status)
	assert.Equal(t, "wrong item", sale.CancelReason)
	require.NotNil(t, sale.CancelledAt)
}

func TestInsertSaleUnknownCustomer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertSale(ctx, domain.Sale{
			ID: "sale_x", CustomerID: "ghost", PaymentMethod: "cash", Status: domain.SaleStatusCompleted,
			CreatedAt: testNow, UpdatedAt: testNow,
		})
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListSalesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)
	insertTestSale(t, s, "sale_1")
	insertTestSale(t, s, "sale_2")

	from := testNow.Add(-time.Minute)
	to := testNow.Add(time.Minute)
	sales, err := s.ListSales(ctx, store.SaleFilter{From: &from, To: &to, CustomerID: "cust_1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "sale_2", sales[0].ID)

	sales, err = s.ListSales(ctx, store.SaleFilter{Status: domain.SaleStatusCancelled})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestMovementsTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)

	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertMovement(ctx, domain.InventoryMovement{
			ID: "mov_1", ProductID: "p1", Direction: domain.MovementOut, Quantity: 3, RequestedQuantity: 3,
			PreviousStock: 10, NewStock: 7, Reason: "sale", ReferenceID: "sale_1", Actor: "kasir01", CreatedAt: testNow,
		}); err != nil {
			return err
		}
		return tx.InsertMovement(ctx, domain.InventoryMovement{
			ID: "mov_2", ProductID: "p1", Direction: domain.MovementIn, Quantity: 5, RequestedQuantity: 5,
			PreviousStock: 7, NewStock: 12, Reason: "restock", Actor: "manager", CreatedAt: testNow.Add(time.Second),
		})
	}))

	all, err := s.ListMovements(ctx, store.MovementFilter{ProductID: "p1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "mov_1", all[0].ID)
	assert.Equal(t, "", all[1].ReferenceID)

	bySale, err := s.ListMovements(ctx, store.MovementFilter{ReferenceID: "sale_1"})
	require.NoError(t, err)
	require.Len(t, bySale, 1)
	assert.Equal(t, domain.MovementOut, bySale[0].Direction)
}

func TestDiscountUsageIsGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	limit := 1
	require.NoError(t, s.CreateDiscount(ctx, domain.Discount{
		ID: "disc_1", Name: "Opening week", Kind: domain.DiscountPercentage, Scope: domain.ScopeGeneral,
		Value: decimal.NewFromInt(10), Cap: decimal.NewNullDecimal(decimal.NewFromInt(50)),
		UsageLimit: &limit, CouponCode: "OPEN10", Active: true, CreatedAt: testNow,
	}))

	err := s.CreateDiscount(ctx, domain.Discount{ID: "disc_2", Name: "dup", Value: decimal.NewFromInt(1), CouponCode: "OPEN10", Kind: domain.DiscountFixed, Scope: domain.ScopeGeneral, CreatedAt: testNow})
	assert.ErrorIs(t, err, store.ErrConflict)

	var first, second bool
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		if first, err = tx.IncrementDiscountUsage(ctx, "disc_1"); err != nil {
			return err
		}
		second, err = tx.IncrementDiscountUsage(ctx, "disc_1")
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	var d *domain.Discount
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		d, err = tx.GetDiscountByCoupon(ctx, "OPEN10")
		return err
	}))
	assert.Equal(t, 1, d.UsageCount)
	require.NotNil(t, d.UsageLimit)
	assert.True(t, d.Cap.Valid)
	assert.Equal(t, "50.00", d.Cap.Decimal.StringFixed(2))
}

func TestDiscountApplicationIsUniquePerSale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)
	insertTestSale(t, s, "sale_1")

	app := domain.DiscountApplication{
		ID: "app_1", SaleID: "sale_1", PromotionKind: domain.PromotionDiscount, PromotionID: "disc_1",
		Amount: decimal.RequireFromString("2.50"), CreatedAt: testNow,
	}
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertDiscountApplication(ctx, app); err != nil {
			return err
		}
		app.ID = "app_2"
		return tx.InsertDiscountApplication(ctx, app)
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestOffersLoadTheirItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOffer(ctx, domain.Offer{
		ID: "off_1", Name: "Breakfast combo", Kind: domain.OfferCombo,
		ComboPrice:    decimal.NewNullDecimal(decimal.RequireFromString("20.00")),
		RequiredItems: []domain.OfferItem{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 2}},
		FreeItems:     []domain.OfferItem{{ProductID: "p3", Quantity: 1}},
		Active:        true,
		CreatedAt:     testNow,
	}))

	err := s.CreateOffer(ctx, domain.Offer{ID: "off_2", Name: "broken", Kind: domain.OfferCombo,
		RequiredItems: []domain.OfferItem{{ProductID: "p1", Quantity: 0}}, CreatedAt: testNow})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	offers, err := s.ListOffers(ctx)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, []domain.OfferItem{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 2}}, offers[0].RequiredItems)
	assert.Len(t, offers[0].FreeItems, 1)
	assert.Equal(t, "20.00", offers[0].ComboPrice.Decimal.StringFixed(2))
	assert.Nil(t, offers[0].UsageLimit)
}

func TestOnlyOneCashSessionCanBeOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	open := func(id string) error {
		return s.WithinTx(ctx, func(tx store.Tx) error {
			return tx.InsertCashSession(ctx, domain.CashSession{
				ID: id, OpeningAmount: decimal.NewFromInt(100), Status: domain.CashSessionOpen,
				OpenedBy: "kasir01", OpenedAt: testNow,
			})
		})
	}
	require.NoError(t, open("cs_1"))
	assert.ErrorIs(t, open("cs_2"), store.ErrConflict)

	var closed bool
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		closed, err = tx.CloseCashSession(ctx, "cs_1", decimal.RequireFromString("98.50"), "kasir01", testNow.Add(time.Hour))
		return err
	}))
	assert.True(t, closed)
	require.NoError(t, open("cs_2"))

	old, err := s.GetCashSession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, domain.CashSessionClosed, old.Status)
	assert.Equal(t, "98.50", old.ClosingAmount.Decimal.StringFixed(2))

	current, err := s.GetOpenCashSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cs_2", current.ID)
}

func TestCashTransactionsByReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertCashSession(ctx, domain.CashSession{ID: "cs_1", OpeningAmount: decimal.Zero, Status: domain.CashSessionOpen, OpenedBy: "kasir01", OpenedAt: testNow}); err != nil {
			return err
		}
		if err := tx.InsertCashTransaction(ctx, domain.CashTransaction{ID: "ct_0", SessionID: "cs_1", Direction: domain.CashIngress, Kind: domain.CashOpening, Amount: decimal.Zero, Concept: "opening", Actor: "kasir01", CreatedAt: testNow}); err != nil {
			return err
		}
		return tx.InsertCashTransaction(ctx, domain.CashTransaction{ID: "ct_1", SessionID: "cs_1", Direction: domain.CashIngress, Kind: domain.CashSalePayment, Amount: decimal.RequireFromString("27.75"), Concept: "sale", ReferenceID: "sale_1", Actor: "kasir01", CreatedAt: testNow.Add(time.Second)})
	}))

	var found *domain.CashTransaction
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		found, err = tx.FindCashTransaction(ctx, domain.CashSalePayment, "sale_1")
		return err
	}))
	assert.Equal(t, "ct_1", found.ID)

	txns, err := s.ListCashTransactions(ctx, "cs_1")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, domain.CashOpening, txns[0].Kind)

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertCashTransaction(ctx, domain.CashTransaction{ID: "ct_2", SessionID: "cs_missing", Direction: domain.CashEgress, Kind: domain.CashManual, Amount: decimal.NewFromInt(1), Concept: "x", Actor: "a", CreatedAt: testNow})
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{Username: " Admin ", Password: "hash", Role: "admin", Active: true}))
	assert.ErrorIs(t, s.CreateUser(ctx, domain.UserAccount{Username: "admin", Password: "x"}), store.ErrConflict)

	require.NoError(t, s.UpdateUserPassword(ctx, "ADMIN", "hash2"))
	assert.ErrorIs(t, s.UpdateUserPassword(ctx, "ghost", "x"), store.ErrNotFound)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Username)
	assert.Equal(t, "hash2", users[0].Password)
	assert.True(t, users[0].Active)
}
