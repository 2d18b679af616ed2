package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

func TestPostgresSerializesConcurrentStockWrites(t *testing.T) {
	databaseURL := os.Getenv("POSLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: DriverPostgres, DSN: databaseURL})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod_it_%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	now := time.Now().UTC()
	if err := s.CreateProduct(ctx, domain.Product{
		ID: productID, SKU: "SKU-IT-" + productID, Name: "Produk IT", Price: decimal.NewFromInt(12000),
		Stock: 10, Active: true, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	decrement := func() error {
		return s.WithinTx(ctx, func(tx store.Tx) error {
			p, err := tx.GetProductForUpdate(ctx, productID)
			if err != nil {
				return err
			}
			next := p.Stock - 1
			if err := tx.UpdateProductStock(ctx, productID, next, time.Now()); err != nil {
				return err
			}
			return tx.InsertMovement(ctx, domain.InventoryMovement{
				ID: fmt.Sprintf("mov_it_%d_%d", stamp, p.Stock), ProductID: productID, Direction: domain.MovementOut,
				Quantity: 1, RequestedQuantity: 1, PreviousStock: p.Stock, NewStock: next,
				Reason: "integration", Actor: "it", CreatedAt: time.Now(),
			})
		})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		rejected int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := decrement()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, store.ErrBusy):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.Stock != 10-applied {
		t.Fatalf("expected stock %d after %d applied writes, got %d", 10-applied, applied, p.Stock)
	}
	movements, err := s.ListMovements(ctx, store.MovementFilter{ProductID: productID})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != applied {
		t.Fatalf("expected %d movements, got %d (rejected %d)", applied, len(movements), rejected)
	}
}
