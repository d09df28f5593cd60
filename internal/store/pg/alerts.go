package pg

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"licentra.org/internal/alert"
)

// SyncAlertMarkers replaces the persisted marker set inside one serializable
// transaction and reports the keys that were not signaled before. Two
// overlapping scans serialize here, so a condition is emitted once no matter
// how the runs interleave.
func (s *Store) SyncAlertMarkers(ctx context.Context, active []alert.Key) ([]alert.Key, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `select subject_type, subject_id, condition from alert_markers`)
	if err != nil {
		return nil, mapErr(err)
	}
	existing := make(map[alert.Key]struct{})
	for rows.Next() {
		var k alert.Key
		if err := rows.Scan(&k.SubjectType, &k.SubjectID, &k.Condition); err != nil {
			rows.Close()
			return nil, mapErr(err)
		}
		existing[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapErr(err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `delete from alert_markers`); err != nil {
		return nil, mapErr(err)
	}

	now := time.Now().UTC()
	next := make(map[alert.Key]struct{}, len(active))
	var newly []alert.Key
	for _, k := range active {
		if _, dup := next[k]; dup {
			continue
		}
		next[k] = struct{}{}
		if _, err := tx.ExecContext(ctx, `
			insert into alert_markers(subject_type, subject_id, condition, signaled_at)
			values ($1,$2,$3,$4)
		`, k.SubjectType, k.SubjectID, string(k.Condition), now); err != nil {
			return nil, mapErr(err)
		}
		if _, seen := existing[k]; !seen {
			newly = append(newly, k)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	sort.Slice(newly, func(i, j int) bool { return newly[i].String() < newly[j].String() })
	return newly, nil
}
