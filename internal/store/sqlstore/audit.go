package sqlstore

import (
	"context"
	"strings"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
)

func (qs queries) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" || strings.TrimSpace(entry.Action) == "" || entry.CreatedAt.IsZero() {
		return store.ErrInvalidInput
	}
	_, err := qs.exec(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

// ListAuditLogs returns the newest entries first.
func (qs queries) ListAuditLogs(ctx context.Context, filter store.AuditFilter) ([]domain.AuditLog, error) {
	var w where
	w.addIf(filter.Action != "", "action = ?", filter.Action)
	w.addIf(filter.EntityType != "", "entity_type = ?", filter.EntityType)
	w.addIf(filter.EntityID != "", "entity_id = ?", filter.EntityID)
	w.addIf(filter.Actor != "", "actor_username = ?", filter.Actor)
	w.addIf(filter.From != nil, "created_at >= ?", nullTime(filter.From))
	w.addIf(filter.To != nil, "created_at < ?", nullTime(filter.To))
	args := append(w.args, clampLimit(filter.Limit, 100, 500))

	rows, err := qs.query(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs`+w.String()+`
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 32)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
