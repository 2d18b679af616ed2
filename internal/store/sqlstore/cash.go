package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

const cashSessionColumns = `id, opening_amount, closing_amount, status, opened_by, closed_by, opened_at, closed_at`

func scanCashSession(row rowScanner) (*domain.CashSession, error) {
	var (
		s        domain.CashSession
		closedBy sql.NullString
		closedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.OpeningAmount, &s.ClosingAmount, &s.Status, &s.OpenedBy, &closedBy, &s.OpenedAt, &closedAt); err != nil {
		return nil, err
	}
	s.ClosedBy = closedBy.String
	s.OpenedAt = s.OpenedAt.UTC()
	s.ClosedAt = timePtr(closedAt)
	return &s, nil
}

func (qs queries) GetOpenCashSession(ctx context.Context) (*domain.CashSession, error) {
	s, err := scanCashSession(qs.queryRow(ctx, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE status = ?
		ORDER BY opened_at DESC
		LIMIT 1`+qs.d.forUpdate(), string(domain.CashSessionOpen)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (qs queries) GetCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	s, err := scanCashSession(qs.queryRow(ctx, `SELECT `+cashSessionColumns+` FROM cash_sessions WHERE id = ?`+qs.d.forUpdate(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// InsertCashSession reports ErrConflict when another session is already open;
// the partial unique index on status enforces it across processes.
func (qs queries) InsertCashSession(ctx context.Context, s domain.CashSession) error {
	if s.ID == "" || s.OpeningAmount.IsNegative() {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO cash_sessions (id, opening_amount, status, opened_by, opened_at)
		VALUES (?,?,?,?,?)
	`, s.ID, money(s.OpeningAmount), string(s.Status), s.OpenedBy, s.OpenedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (qs queries) CloseCashSession(ctx context.Context, id string, counted decimal.Decimal, actor string, at time.Time) (bool, error) {
	res, err := qs.exec(ctx, `
		UPDATE cash_sessions
		SET status = ?, closing_amount = ?, closed_by = ?, closed_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.CashSessionClosed), money(counted), actor, at.UTC(), id, string(domain.CashSessionOpen))
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

func (qs queries) InsertCashTransaction(ctx context.Context, t domain.CashTransaction) error {
	if t.ID == "" || t.SessionID == "" || t.Amount.IsNegative() || (t.Amount.IsZero() && t.Kind != domain.CashOpening) {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO cash_transactions (id, session_id, direction, kind, amount, concept, reference_id, actor, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`, t.ID, t.SessionID, string(t.Direction), string(t.Kind), money(t.Amount), t.Concept, nullIfEmpty(t.ReferenceID), t.Actor, t.CreatedAt.UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

const cashTransactionColumns = `id, session_id, direction, kind, amount, concept, COALESCE(reference_id, ''), actor, created_at`

func scanCashTransaction(row rowScanner) (*domain.CashTransaction, error) {
	var t domain.CashTransaction
	if err := row.Scan(&t.ID, &t.SessionID, &t.Direction, &t.Kind, &t.Amount, &t.Concept, &t.ReferenceID, &t.Actor, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (qs queries) ListCashTransactions(ctx context.Context, sessionID string) ([]domain.CashTransaction, error) {
	rows, err := qs.query(ctx, `
		SELECT `+cashTransactionColumns+`
		FROM cash_transactions
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]domain.CashTransaction, 0, 32)
	for rows.Next() {
		t, err := scanCashTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txns, nil
}

// FindCashTransaction returns the earliest transaction of kind tied to referenceID.
func (qs queries) FindCashTransaction(ctx context.Context, kind domain.CashKind, referenceID string) (*domain.CashTransaction, error) {
	t, err := scanCashTransaction(qs.queryRow(ctx, `
		SELECT `+cashTransactionColumns+`
		FROM cash_transactions
		WHERE kind = ? AND reference_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, string(kind), referenceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}
