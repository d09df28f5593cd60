package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"licentra.org/internal/audit"
	"licentra.org/internal/inventory"
)

const assignmentCols = `id, license_id, device_id, assigned_by, assigned_at, revoked_at`

func scanAssignment(row interface{ Scan(...any) error }) (inventory.Assignment, error) {
	var (
		a       inventory.Assignment
		revoked sql.NullTime
	)
	err := row.Scan(&a.ID, &a.LicenseID, &a.DeviceID, &a.AssignedBy, &a.AssignedAt, &revoked)
	if err != nil {
		return inventory.Assignment{}, err
	}
	if revoked.Valid {
		t := revoked.Time
		a.RevokedAt = &t
	}
	return a, nil
}

// Assign grants a seat inside one serializable transaction: the license row
// is locked first, then expiry, uniqueness, and capacity are checked against
// the locked state before the row and its audit entry are written. Concurrent
// assigns against the same license serialize on the row lock, so the seat
// count can never pass TotalSeats.
func (s *Store) Assign(ctx context.Context, licenseID, deviceID, actor string, now time.Time) (inventory.Assignment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return inventory.Assignment{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		key        string
		totalSeats int
		validUntil time.Time
	)
	err = tx.QueryRowContext(ctx, `
		select key, total_seats, valid_until from licenses where id=$1 for update
	`, licenseID).Scan(&key, &totalSeats, &validUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Assignment{}, fmt.Errorf("%w: license %s", inventory.ErrNotFound, licenseID)
	}
	if err != nil {
		return inventory.Assignment{}, mapErr(err)
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from devices where id=$1`, deviceID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.Assignment{}, fmt.Errorf("%w: device %s", inventory.ErrNotFound, deviceID)
		}
		return inventory.Assignment{}, mapErr(err)
	}

	if now.After(validUntil) {
		return inventory.Assignment{}, fmt.Errorf("%w: license %s expired %s", inventory.ErrExpiredLicense, key, validUntil.Format(time.DateOnly))
	}

	var dup int
	err = tx.QueryRowContext(ctx, `
		select 1 from assignments where license_id=$1 and device_id=$2 and revoked_at is null
	`, licenseID, deviceID).Scan(&dup)
	if err == nil {
		return inventory.Assignment{}, fmt.Errorf("%w: license %s on device %s", inventory.ErrAlreadyAssigned, key, deviceID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return inventory.Assignment{}, mapErr(err)
	}

	var used int
	if err := tx.QueryRowContext(ctx, `
		select count(*) from assignments where license_id=$1 and revoked_at is null
	`, licenseID).Scan(&used); err != nil {
		return inventory.Assignment{}, mapErr(err)
	}
	if used >= totalSeats {
		return inventory.Assignment{}, fmt.Errorf("%w: license %s at %d/%d seats", inventory.ErrCapacityExceeded, key, used, totalSeats)
	}

	a := inventory.Assignment{
		ID:         uuid.NewString(),
		LicenseID:  licenseID,
		DeviceID:   deviceID,
		AssignedBy: actor,
		AssignedAt: now.UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into assignments(`+assignmentCols+`)
		values ($1,$2,$3,$4,$5,null)
	`, a.ID, a.LicenseID, a.DeviceID, a.AssignedBy, a.AssignedAt); err != nil {
		if mapped := mapErr(err); errors.Is(mapped, inventory.ErrConflict) {
			// Partial unique index on the active pair fired under contention.
			return inventory.Assignment{}, fmt.Errorf("%w: license %s on device %s", inventory.ErrAlreadyAssigned, key, deviceID)
		}
		return inventory.Assignment{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionAssign, audit.EntityAssignment, a.ID, nil, a)
	if err != nil {
		return inventory.Assignment{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return inventory.Assignment{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.Assignment{}, mapErr(err)
	}
	return a, nil
}

// Revoke closes an active assignment. The row transitions exactly once; a
// second call observes revoked_at and fails.
func (s *Store) Revoke(ctx context.Context, assignmentID, actor string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanAssignment(tx.QueryRowContext(ctx, `
		select `+assignmentCols+` from assignments where id=$1 for update
	`, assignmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: assignment %s", inventory.ErrNotFound, assignmentID)
	}
	if err != nil {
		return mapErr(err)
	}
	if !before.Active() {
		return fmt.Errorf("%w: assignment %s", inventory.ErrAlreadyRevoked, assignmentID)
	}

	after := before
	revokedAt := now.UTC()
	after.RevokedAt = &revokedAt

	if _, err := tx.ExecContext(ctx, `
		update assignments set revoked_at=$2 where id=$1
	`, assignmentID, revokedAt); err != nil {
		return mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionRevoke, audit.EntityAssignment, assignmentID, before, after)
	if err != nil {
		return err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}

func (s *Store) GetAssignment(ctx context.Context, id string) (inventory.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx, `select `+assignmentCols+` from assignments where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Assignment{}, fmt.Errorf("%w: assignment %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.Assignment{}, mapErr(err)
	}
	return a, nil
}

func (s *Store) ListAssignments(ctx context.Context, f inventory.AssignmentFilter) ([]inventory.Assignment, error) {
	q := `select ` + assignmentCols + ` from assignments`
	var (
		conds []string
		args  []any
	)
	if f.LicenseID != "" {
		args = append(args, f.LicenseID)
		conds = append(conds, fmt.Sprintf("license_id=$%d", len(args)))
	}
	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
		conds = append(conds, fmt.Sprintf("device_id=$%d", len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "revoked_at is null")
	}
	for i, c := range conds {
		if i == 0 {
			q += " where " + c
		} else {
			q += " and " + c
		}
	}
	q += " order by assigned_at, id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []inventory.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}
