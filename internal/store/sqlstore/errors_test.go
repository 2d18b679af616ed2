package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

func TestPostgresErrorClassification(t *testing.T) {
	tests := []struct {
		code   string
		busy   bool
		unique bool
		fk     bool
	}{
		{code: "40001", busy: true},
		{code: "40P01", busy: true},
		{code: "55P03", busy: true},
		{code: "23505", unique: true},
		{code: "23503", fk: true},
		{code: "42P01"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: tt.code, Message: "driver says no"})
			assert.Equal(t, tt.busy, isBusy(err))
			assert.Equal(t, tt.unique, isUniqueViolation(err))
			assert.Equal(t, tt.fk, isForeignKeyViolation(err))
			assert.Equal(t, tt.busy, errors.Is(mapError(err), store.ErrBusy))
		})
	}
}

func TestMapErrorLeavesOtherErrorsAlone(t *testing.T) {
	assert.NoError(t, mapError(nil))
	plain := errors.New("plain")
	assert.Same(t, plain, mapError(plain))
	wrapped := fmt.Errorf("%w: again", store.ErrBusy)
	assert.Same(t, wrapped, mapError(wrapped))
}

func TestSQLiteWriterContentionIsBusy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "busy.db")

	holder, err := Open(ctx, Options{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = holder.Close() })
	require.NoError(t, holder.Migrate())

	contender, err := Open(ctx, Options{
		Driver: DriverSQLite,
		DSN:    path + "?_pragma=busy_timeout(50)&_pragma=foreign_keys(1)&_time_format=sqlite&_txlock=immediate",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = contender.Close() })

	var contended error
	err = holder.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertCustomer(ctx, testCustomer("cust_holder")); err != nil {
			return err
		}
		contended = contender.WithinTx(ctx, func(tx store.Tx) error {
			return tx.InsertCustomer(ctx, testCustomer("cust_contender"))
		})
		return nil
	})
	require.NoError(t, err)
	if !errors.Is(contended, store.ErrBusy) {
		t.Fatalf("expected store.ErrBusy while another writer holds the database, got %v", contended)
	}

	_, err = holder.GetCustomer(ctx, "cust_holder")
	require.NoError(t, err)
	_, err = holder.GetCustomer(ctx, "cust_contender")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, contender.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertCustomer(ctx, testCustomer("cust_contender"))
	}), "the contender succeeds once the holder has committed")
}

func testCustomer(id string) domain.Customer {
	return domain.Customer{ID: id, Name: "Pelanggan " + id, CreatedAt: testNow}
}
