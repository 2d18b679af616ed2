package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/store/sqlstore"
)

var testNow = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *sqlstore.Store) {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.Options{Driver: sqlstore.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate())

	l := NewLedger(s, zerolog.Nop(), nil)
	l.now = func() time.Time { return testNow }
	return l, s
}

func seedProduct(t *testing.T, s *sqlstore.Store, id string, stock int) {
	t.Helper()
	require.NoError(t, s.CreateProduct(context.Background(), domain.Product{
		ID: id, SKU: "SKU-" + id, Name: id, Price: decimal.NewFromInt(5000), Stock: stock, Active: true,
		CreatedAt: testNow, UpdatedAt: testNow,
	}))
}

func adjustInTx(t *testing.T, l *Ledger, s *sqlstore.Store, adj Adjustment) (domain.InventoryMovement, error) {
	t.Helper()
	var movement domain.InventoryMovement
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		movement, err = l.Adjust(context.Background(), tx, adj)
		return err
	})
	return movement, err
}

func TestAdjustDecrementWritesMovement(t *testing.T) {
	l, s := newTestLedger(t)
	seedProduct(t, s, "p1", 10)

	m, err := adjustInTx(t, l, s, Adjustment{ProductID: "p1", Delta: -3, Reason: "sale", ReferenceID: "sale_1", Actor: "kasir01"})
	require.NoError(t, err)
	assert.Equal(t, domain.MovementOut, m.Direction)
	assert.Equal(t, 3, m.Quantity)
	assert.Equal(t, 10, m.PreviousStock)
	assert.Equal(t, 7, m.NewStock)
	assert.False(t, m.Clamped())

	p, err := s.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)

	trail, err := l.Movements(context.Background(), store.MovementFilter{ProductID: "p1"})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, m.ID, trail[0].ID)
	assert.Equal(t, "sale_1", trail[0].ReferenceID)
}

func TestAdjustClampsAtZeroAndRecordsRequested(t *testing.T) {
	l, s := newTestLedger(t)
	seedProduct(t, s, "p1", 2)

	m, err := adjustInTx(t, l, s, Adjustment{ProductID: "p1", Delta: -5, Reason: "sale"})
	require.NoError(t, err)
	assert.Equal(t, 0, m.NewStock)
	assert.Equal(t, 2, m.Quantity)
	assert.Equal(t, 5, m.RequestedQuantity)
	assert.True(t, m.Clamped())
	assert.Equal(t, "system", m.Actor)

	// Stock already at zero: the movement is still written, with nothing applied.
	m, err = adjustInTx(t, l, s, Adjustment{ProductID: "p1", Delta: -1, Reason: "sale"})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Quantity)
	assert.Equal(t, 1, m.RequestedQuantity)
}

func TestAdjustUnknownProductWritesNothing(t *testing.T) {
	l, s := newTestLedger(t)

	_, err := adjustInTx(t, l, s, Adjustment{ProductID: "ghost", Delta: 1, Reason: "restock"})
	assert.ErrorIs(t, err, ErrProductNotFound)

	trail, err := l.Movements(context.Background(), store.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestAdjustRejectsInvalid(t *testing.T) {
	l, s := newTestLedger(t)
	seedProduct(t, s, "p1", 2)

	cases := []Adjustment{
		{ProductID: "", Delta: 1, Reason: "x"},
		{ProductID: "p1", Delta: 0, Reason: "x"},
		{ProductID: "p1", Delta: 1, Reason: "  "},
	}
	for _, adj := range cases {
		_, err := adjustInTx(t, l, s, adj)
		assert.ErrorIs(t, err, ErrInvalidAdjustment)
	}
}

func TestManualAdjustUsesAdjustDirection(t *testing.T) {
	l, s := newTestLedger(t)
	seedProduct(t, s, "p1", 4)

	m, err := l.ManualAdjust(context.Background(), Adjustment{ProductID: "p1", Delta: 6, Reason: "stock count", Actor: "manager"})
	require.NoError(t, err)
	assert.Equal(t, domain.MovementAdjust, m.Direction)
	assert.Equal(t, 10, m.NewStock)
	assert.Equal(t, 6, SignedQuantity(m))
}

func TestMovementsReplayToCurrentStock(t *testing.T) {
	l, s := newTestLedger(t)
	seedProduct(t, s, "p1", 5)

	for _, delta := range []int{-2, 7, -20, 3, -1} {
		_, err := adjustInTx(t, l, s, Adjustment{ProductID: "p1", Delta: delta, Reason: "mixed"})
		require.NoError(t, err)
	}

	trail, err := l.Movements(context.Background(), store.MovementFilter{ProductID: "p1"})
	require.NoError(t, err)
	require.Len(t, trail, 5)

	stock := 5
	for _, m := range trail {
		require.Equal(t, stock, m.PreviousStock)
		stock += SignedQuantity(m)
	}
	p, err := s.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, stock, p.Stock)
	assert.Equal(t, 2, p.Stock)
}

func TestManualAdjustWritesAuditEntry(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 2)

	_, err := l.ManualAdjust(ctx, Adjustment{ProductID: "p1", Delta: -5, Reason: "rusak", Actor: "manager"})
	require.NoError(t, err)
	_, err = l.ManualAdjust(ctx, Adjustment{ProductID: "missing", Delta: 1, Reason: "recount", Actor: "manager"})
	assert.ErrorIs(t, err, ErrProductNotFound)

	logs, err := s.ListAuditLogs(ctx, store.AuditFilter{Action: "stock_adjust"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "p1", logs[0].EntityID)
	assert.Equal(t, "manager", logs[0].ActorUsername)
	assert.Equal(t, "delta=-5,applied=2,new_stock=0,reason=rusak", logs[0].Detail)
}
