// Package cashsession keeps the register's open/close lifecycle and its
// append-only list of cash movements.
package cashsession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kasirinaja/posledger/internal/audit"
	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/obs"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

var (
	ErrSessionAlreadyOpen = errors.New("a cash session is already open")
	ErrNoOpenSession      = errors.New("no open cash session")
	ErrSessionNotFound    = errors.New("cash session not found")
	ErrSessionNotOpen     = errors.New("cash session is not open")
)

// Entry is one cash movement to append to the open session.
type Entry struct {
	Direction   domain.CashDirection
	Kind        domain.CashKind
	Amount      decimal.Decimal
	Concept     string
	ReferenceID string
	Actor       string
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
		logger:  logger.With().Str("component", "cashsession").Logger(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Open starts a session and logs the opening float as its first ingress.
// When a session is already open nothing is written.
func (l *Ledger) Open(ctx context.Context, openingAmount decimal.Decimal, actor string) (domain.CashSession, error) {
	if openingAmount.IsNegative() {
		return domain.CashSession{}, domain.Invalidf("opening amount must not be negative")
	}
	actor = defaultActor(actor)

	at := l.now()
	session := domain.CashSession{
		ID:            xid.New("cs"),
		OpeningAmount: domain.RoundMoney(openingAmount),
		Status:        domain.CashSessionOpen,
		OpenedBy:      actor,
		OpenedAt:      at,
	}
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetOpenCashSession(ctx); err == nil {
			return ErrSessionAlreadyOpen
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.InsertCashSession(ctx, session); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrSessionAlreadyOpen
			}
			return err
		}
		if err := tx.InsertCashTransaction(ctx, domain.CashTransaction{
			ID:        xid.New("cashtx"),
			SessionID: session.ID,
			Direction: domain.CashIngress,
			Kind:      domain.CashOpening,
			Amount:    session.OpeningAmount,
			Concept:   "opening float",
			Actor:     actor,
			CreatedAt: at,
		}); err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			Action:     "cash_session_open",
			EntityType: "cash_session",
			EntityID:   session.ID,
			Detail:     "opening=" + session.OpeningAmount.StringFixed(2),
			Actor:      actor,
			At:         at,
		})
	})
	if err != nil {
		if errors.Is(err, ErrSessionAlreadyOpen) {
			l.metrics.CashSessionEvent("open_rejected")
		}
		return domain.CashSession{}, err
	}

	l.metrics.CashSessionEvent("opened")
	l.logger.Info().
		Str("session_id", session.ID).
		Str("opening_amount", session.OpeningAmount.StringFixed(2)).
		Str("actor", actor).
		Msg("cash_session_opened")
	return session, nil
}

// AddTransaction appends a manual movement to the open session.
func (l *Ledger) AddTransaction(ctx context.Context, direction domain.CashDirection, amount decimal.Decimal, concept string, actor string) (domain.CashTransaction, error) {
	var txn domain.CashTransaction
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		txn, err = l.RecordInTx(ctx, tx, Entry{
			Direction: direction,
			Kind:      domain.CashManual,
			Amount:    amount,
			Concept:   concept,
			Actor:     actor,
		})
		return err
	})
	if err != nil {
		return domain.CashTransaction{}, err
	}
	l.logger.Info().
		Str("session_id", txn.SessionID).
		Str("direction", string(txn.Direction)).
		Str("amount", txn.Amount.StringFixed(2)).
		Msg("cash_transaction_added")
	return txn, nil
}

// RecordInTx appends entry to the open session inside the caller's unit of
// work. The sale ledger uses it for payments and refunds.
func (l *Ledger) RecordInTx(ctx context.Context, tx store.Tx, entry Entry) (domain.CashTransaction, error) {
	entry.Concept = strings.TrimSpace(entry.Concept)
	switch {
	case entry.Direction != domain.CashIngress && entry.Direction != domain.CashEgress:
		return domain.CashTransaction{}, domain.Invalidf("unknown cash direction %q", entry.Direction)
	case !entry.Amount.IsPositive():
		return domain.CashTransaction{}, domain.Invalidf("amount must be positive")
	case entry.Concept == "":
		return domain.CashTransaction{}, domain.Invalidf("concept is required")
	}
	if entry.Kind == "" {
		entry.Kind = domain.CashManual
	}

	session, err := tx.GetOpenCashSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashTransaction{}, ErrNoOpenSession
		}
		return domain.CashTransaction{}, err
	}

	txn := domain.CashTransaction{
		ID:          xid.New("cashtx"),
		SessionID:   session.ID,
		Direction:   entry.Direction,
		Kind:        entry.Kind,
		Amount:      domain.RoundMoney(entry.Amount),
		Concept:     entry.Concept,
		ReferenceID: entry.ReferenceID,
		Actor:       defaultActor(entry.Actor),
		CreatedAt:   l.now(),
	}
	if err := tx.InsertCashTransaction(ctx, txn); err != nil {
		return domain.CashTransaction{}, err
	}
	l.metrics.CashTransaction(string(txn.Direction), string(txn.Kind))
	return txn, nil
}

// Close records the counted amount as given. Reconciling it against the
// expected balance is left to Summary.
func (l *Ledger) Close(ctx context.Context, id string, counted decimal.Decimal, actor string) (domain.CashSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CashSession{}, domain.Invalidf("session id is required")
	}
	if counted.IsNegative() {
		return domain.CashSession{}, domain.Invalidf("counted amount must not be negative")
	}
	actor = defaultActor(actor)

	var closed domain.CashSession
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		session, err := tx.GetCashSession(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
			}
			return err
		}
		if session.Status != domain.CashSessionOpen {
			return fmt.Errorf("%w: %s", ErrSessionNotOpen, id)
		}

		at := l.now()
		ok, err := tx.CloseCashSession(ctx, id, domain.RoundMoney(counted), actor, at)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrSessionNotOpen, id)
		}
		closed = *session
		closed.Status = domain.CashSessionClosed
		closed.ClosingAmount = decimal.NewNullDecimal(domain.RoundMoney(counted))
		closed.ClosedBy = actor
		closed.ClosedAt = &at
		return audit.Record(ctx, tx, audit.Entry{
			Action:     "cash_session_close",
			EntityType: "cash_session",
			EntityID:   id,
			Detail:     "counted=" + closed.ClosingAmount.Decimal.StringFixed(2),
			Actor:      actor,
			At:         at,
		})
	})
	if err != nil {
		return domain.CashSession{}, err
	}

	l.metrics.CashSessionEvent("closed")
	l.logger.Info().
		Str("session_id", closed.ID).
		Str("counted", closed.ClosingAmount.Decimal.StringFixed(2)).
		Str("actor", actor).
		Msg("cash_session_closed")
	return closed, nil
}

// Balance is opening + Σingress − Σegress, recomputed from the rows on every
// call. The opening transaction mirrors the opening amount and is not
// counted twice.
func (l *Ledger) Balance(ctx context.Context, id string) (decimal.Decimal, error) {
	session, txns, err := l.load(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	ingress, egress := sums(txns)
	return session.OpeningAmount.Add(ingress).Sub(egress), nil
}

func (l *Ledger) Current(ctx context.Context) (domain.CashSession, error) {
	session, err := l.store.GetOpenCashSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashSession{}, ErrNoOpenSession
		}
		return domain.CashSession{}, err
	}
	return *session, nil
}

func (l *Ledger) Transactions(ctx context.Context, id string) ([]domain.CashTransaction, error) {
	_, txns, err := l.load(ctx, id)
	return txns, err
}

// Summary reports the expected balance next to the counted amount. It never
// changes the session.
func (l *Ledger) Summary(ctx context.Context, id string) (domain.CashSessionSummary, error) {
	session, txns, err := l.load(ctx, id)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	ingress, egress := sums(txns)
	summary := domain.CashSessionSummary{
		Session:      session,
		Expected:     session.OpeningAmount.Add(ingress).Sub(egress),
		Counted:      session.ClosingAmount,
		Ingress:      ingress,
		Egress:       egress,
		Transactions: len(txns),
	}
	if session.ClosingAmount.Valid {
		summary.Difference = decimal.NewNullDecimal(session.ClosingAmount.Decimal.Sub(summary.Expected))
	}
	return summary, nil
}

func (l *Ledger) load(ctx context.Context, id string) (domain.CashSession, []domain.CashTransaction, error) {
	session, err := l.store.GetCashSession(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashSession{}, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return domain.CashSession{}, nil, err
	}
	txns, err := l.store.ListCashTransactions(ctx, session.ID)
	if err != nil {
		return domain.CashSession{}, nil, err
	}
	return *session, txns, nil
}

func sums(txns []domain.CashTransaction) (ingress, egress decimal.Decimal) {
	ingress, egress = decimal.Zero, decimal.Zero
	for _, t := range txns {
		if t.Kind == domain.CashOpening {
			continue
		}
		switch t.Direction {
		case domain.CashIngress:
			ingress = ingress.Add(t.Amount)
		case domain.CashEgress:
			egress = egress.Add(t.Amount)
		}
	}
	return ingress, egress
}

func defaultActor(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "system"
	}
	return actor
}
