package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhereSkipsZeroFilters(t *testing.T) {
	var w where
	w.addIf(false, "status = ?", "completed")
	w.addIf(true, "customer_id = ?", "cust_1")
	w.add("created_at >= ? AND created_at < ?", 1, 2)

	assert.Equal(t, " WHERE customer_id = ? AND created_at >= ? AND created_at < ?", w.String())
	assert.Equal(t, []any{"cust_1", 1, 2}, w.args)
}

func TestWhereEmpty(t *testing.T) {
	var w where
	assert.Empty(t, w.String())
	assert.Nil(t, w.args)
}

func TestRebindOnlyForPostgres(t *testing.T) {
	pg := dialect{name: DriverPostgres}
	lite := dialect{name: DriverSQLite}
	q := "UPDATE products SET stock = ? WHERE id = ? AND stock >= ?"

	assert.Equal(t, "UPDATE products SET stock = $1 WHERE id = $2 AND stock >= $3", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
	assert.Equal(t, " FOR UPDATE", pg.forUpdate())
	assert.Empty(t, lite.forUpdate())
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0, 50, 500))
	assert.Equal(t, 500, clampLimit(10_000, 50, 500))
	assert.Equal(t, 7, clampLimit(7, 50, 500))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", sqliteDSN(":memory:"))
	assert.Equal(t,
		"data/pos.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite&_pragma=journal_mode(WAL)&_txlock=immediate",
		sqliteDSN("data/pos.db"))
	assert.Equal(t, "x.db?_pragma=foreign_keys(1)", sqliteDSN("x.db?_pragma=foreign_keys(1)"))
}
