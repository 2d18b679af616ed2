// Package inventory owns product stock mutation and its movement trail.
// Every change to products.stock goes through Adjust, which writes exactly
// one movement alongside it.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kasirinaja/posledger/internal/audit"
	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/obs"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

var (
	ErrInvalidAdjustment = errors.New("invalid stock adjustment")
	ErrProductNotFound   = errors.New("product not found")
)

type Adjustment struct {
	ProductID   string
	Delta       int
	Reason      string
	ReferenceID string
	Actor       string
	// Direction defaults to in/out from the sign of Delta. Back-office
	// corrections set MovementAdjust.
	Direction domain.MovementDirection
}

type Ledger struct {
	store   store.Store
	logger  zerolog.Logger
	metrics *obs.LedgerMetrics
	now     func() time.Time
}

func NewLedger(s store.Store, logger zerolog.Logger, metrics *obs.LedgerMetrics) *Ledger {
	return &Ledger{
		store:   s,
		logger:  logger.With().Str("component", "inventory").Logger(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Adjust applies delta to the product's stock inside tx and appends the
// movement. The counter never goes below zero: a decrement larger than the
// available stock applies only what is there, and the movement keeps both
// the requested and the applied quantity so the gap stays auditable.
func (l *Ledger) Adjust(ctx context.Context, tx store.Tx, adj Adjustment) (domain.InventoryMovement, error) {
	adj.ProductID = strings.TrimSpace(adj.ProductID)
	adj.Reason = strings.TrimSpace(adj.Reason)
	if adj.ProductID == "" || adj.Delta == 0 || adj.Reason == "" {
		return domain.InventoryMovement{}, ErrInvalidAdjustment
	}
	if adj.Actor == "" {
		adj.Actor = "system"
	}

	product, err := tx.GetProductForUpdate(ctx, adj.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.InventoryMovement{}, fmt.Errorf("%w: %s", ErrProductNotFound, adj.ProductID)
		}
		return domain.InventoryMovement{}, err
	}

	newStock := max(0, product.Stock+adj.Delta)
	direction := adj.Direction
	if direction == "" {
		direction = domain.MovementIn
		if adj.Delta < 0 {
			direction = domain.MovementOut
		}
	}

	at := l.now()
	movement := domain.InventoryMovement{
		ID:                xid.New("mov"),
		ProductID:         product.ID,
		Direction:         direction,
		Quantity:          abs(newStock - product.Stock),
		RequestedQuantity: abs(adj.Delta),
		PreviousStock:     product.Stock,
		NewStock:          newStock,
		Reason:            adj.Reason,
		ReferenceID:       adj.ReferenceID,
		Actor:             adj.Actor,
		CreatedAt:         at,
	}

	if err := tx.UpdateProductStock(ctx, product.ID, newStock, at); err != nil {
		return domain.InventoryMovement{}, err
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return domain.InventoryMovement{}, err
	}

	l.metrics.StockMoved(string(direction), movement.Clamped())
	if movement.Clamped() {
		l.logger.Warn().
			Str("product_id", product.ID).
			Int("previous_stock", product.Stock).
			Int("requested", movement.RequestedQuantity).
			Int("applied", movement.Quantity).
			Str("reference_id", adj.ReferenceID).
			Msg("stock_clamped")
	}
	return movement, nil
}

// ManualAdjust runs a single adjustment in its own unit of work and leaves an
// audit entry beside the movement.
func (l *Ledger) ManualAdjust(ctx context.Context, adj Adjustment) (domain.InventoryMovement, error) {
	if adj.Direction == "" {
		adj.Direction = domain.MovementAdjust
	}
	var movement domain.InventoryMovement
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		movement, err = l.Adjust(ctx, tx, adj)
		if err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			Action:     "stock_adjust",
			EntityType: "product",
			EntityID:   movement.ProductID,
			Detail: fmt.Sprintf("delta=%d,applied=%d,new_stock=%d,reason=%s",
				adj.Delta, movement.Quantity, movement.NewStock, movement.Reason),
			Actor: movement.Actor,
			At:    movement.CreatedAt,
		})
	})
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	l.logger.Info().
		Str("product_id", movement.ProductID).
		Int("new_stock", movement.NewStock).
		Str("actor", movement.Actor).
		Msg("stock_adjusted")
	return movement, nil
}

func (l *Ledger) Movements(ctx context.Context, filter store.MovementFilter) ([]domain.InventoryMovement, error) {
	return l.store.ListMovements(ctx, filter)
}

// SignedQuantity is the applied change as seen by the stock counter.
func SignedQuantity(m domain.InventoryMovement) int {
	return m.NewStock - m.PreviousStock
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
