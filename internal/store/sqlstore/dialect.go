package sqlstore

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// dialect hides the handful of places where SQLite and PostgreSQL disagree.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	name       string
	driverName string
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite, "sqlite3":
		return dialect{name: DriverSQLite, driverName: "sqlite"}, nil
	case DriverPostgres, "postgresql", "pgx":
		return dialect{name: DriverPostgres, driverName: "pgx"}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (d dialect) rebind(query string) string {
	if d.name != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate is appended to row reads that precede a write in the same unit.
// SQLite serializes writers at the database level and has no row locks.
func (d dialect) forUpdate() string {
	if d.name == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (d dialect) txOptions() *sql.TxOptions {
	if d.name == DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}
