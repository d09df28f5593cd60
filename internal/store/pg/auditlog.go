package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"licentra.org/internal/audit"
)

// AuditEntries reads the trail newest first. The filter predicate mirrors
// audit.Filter.Matches in SQL.
func (s *Store) AuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	q := `select id, actor, action, entity_type, entity_id, ts, before, after from audit_logs`
	var (
		conds []string
		args  []any
	)
	if f.EntityType != "" {
		args = append(args, f.EntityType)
		conds = append(conds, fmt.Sprintf("entity_type=$%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, string(f.Action))
		conds = append(conds, fmt.Sprintf("action=$%d", len(args)))
	}
	if f.Actor != "" {
		args = append(args, f.Actor)
		conds = append(conds, fmt.Sprintf("actor=$%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conds = append(conds, fmt.Sprintf("ts <= $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			q += " where " + c
		} else {
			q += " and " + c
		}
	}
	q += " order by ts desc, id desc"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e             audit.Entry
			before, after []byte
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &e.Timestamp, &before, &after); err != nil {
			return nil, mapErr(err)
		}
		if len(before) > 0 {
			e.Before = json.RawMessage(before)
		}
		if len(after) > 0 {
			e.After = json.RawMessage(after)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}
