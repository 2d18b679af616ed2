package sqlstore

import (
	"context"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

func (qs queries) InsertMovement(ctx context.Context, m domain.InventoryMovement) error {
	if m.ID == "" || m.ProductID == "" || m.Quantity < 0 || m.NewStock < 0 {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO inventory_movements (
			id, product_id, direction, quantity, requested_quantity, previous_stock, new_stock,
			reason, reference_id, actor, created_at
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, m.ID, m.ProductID, string(m.Direction), m.Quantity, m.RequestedQuantity, m.PreviousStock, m.NewStock,
		m.Reason, nullIfEmpty(m.ReferenceID), m.Actor, m.CreatedAt.UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

// ListMovements returns the audit trail oldest first so it can be replayed.
func (qs queries) ListMovements(ctx context.Context, filter store.MovementFilter) ([]domain.InventoryMovement, error) {
	var w where
	w.addIf(filter.ProductID != "", "product_id = ?", filter.ProductID)
	w.addIf(filter.ReferenceID != "", "reference_id = ?", filter.ReferenceID)
	w.addIf(filter.Direction != "", "direction = ?", string(filter.Direction))
	w.addIf(filter.From != nil, "created_at >= ?", nullTime(filter.From))
	w.addIf(filter.To != nil, "created_at < ?", nullTime(filter.To))
	args := append(w.args, clampLimit(filter.Limit, 200, 1000))

	rows, err := qs.query(ctx, `
		SELECT id, product_id, direction, quantity, requested_quantity, previous_stock, new_stock,
			reason, COALESCE(reference_id, ''), actor, created_at
		FROM inventory_movements`+w.String()+`
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, 32)
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Direction, &m.Quantity, &m.RequestedQuantity, &m.PreviousStock,
			&m.NewStock, &m.Reason, &m.ReferenceID, &m.Actor, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}
