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

const licenseCols = `id, key, software_name, vendor_id, type, total_seats, valid_from, valid_until, notes, created_at, updated_at`

func scanLicense(row interface{ Scan(...any) error }) (inventory.License, error) {
	var (
		l     inventory.License
		notes sql.NullString
	)
	err := row.Scan(&l.ID, &l.Key, &l.SoftwareName, &l.VendorID, &l.Type, &l.TotalSeats,
		&l.ValidFrom, &l.ValidUntil, &notes, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return inventory.License{}, err
	}
	l.Notes = notes.String
	return l, nil
}

func (s *Store) CreateLicense(ctx context.Context, l inventory.License, actor string) (inventory.License, error) {
	if err := inventory.ValidateLicense(l); err != nil {
		return inventory.License{}, err
	}
	now := time.Now().UTC()
	l.ID = uuid.NewString()
	l.CreatedAt = now
	l.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.License{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from vendors where id=$1`, l.VendorID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.License{}, fmt.Errorf("%w: vendor %s", inventory.ErrNotFound, l.VendorID)
		}
		return inventory.License{}, mapErr(err)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into licenses(`+licenseCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, l.ID, l.Key, l.SoftwareName, l.VendorID, string(l.Type), l.TotalSeats,
		l.ValidFrom, l.ValidUntil, nullIfEmpty(l.Notes), l.CreatedAt, l.UpdatedAt); err != nil {
		return inventory.License{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionCreate, audit.EntityLicense, l.ID, nil, l)
	if err != nil {
		return inventory.License{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return inventory.License{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.License{}, mapErr(err)
	}
	return l, nil
}

func (s *Store) GetLicense(ctx context.Context, id string) (inventory.License, error) {
	l, err := scanLicense(s.db.QueryRowContext(ctx, `select `+licenseCols+` from licenses where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.License{}, fmt.Errorf("%w: license %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.License{}, mapErr(err)
	}
	return l, nil
}

func (s *Store) GetLicenseByKey(ctx context.Context, key string) (inventory.License, error) {
	l, err := scanLicense(s.db.QueryRowContext(ctx, `select `+licenseCols+` from licenses where key=$1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.License{}, fmt.Errorf("%w: license key %s", inventory.ErrNotFound, key)
	}
	if err != nil {
		return inventory.License{}, mapErr(err)
	}
	return l, nil
}

func (s *Store) ListLicenses(ctx context.Context) ([]inventory.License, error) {
	rows, err := s.db.QueryContext(ctx, `select `+licenseCols+` from licenses order by id`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []inventory.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) UpdateLicense(ctx context.Context, id string, upd inventory.LicenseUpdate, actor string) (inventory.License, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return inventory.License{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanLicense(tx.QueryRowContext(ctx, `select `+licenseCols+` from licenses where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.License{}, fmt.Errorf("%w: license %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.License{}, mapErr(err)
	}

	after := before
	if upd.SoftwareName != nil {
		after.SoftwareName = *upd.SoftwareName
	}
	if upd.Type != nil {
		after.Type = *upd.Type
	}
	if upd.TotalSeats != nil {
		var used int
		if err := tx.QueryRowContext(ctx, `
			select count(*) from assignments where license_id=$1 and revoked_at is null
		`, id).Scan(&used); err != nil {
			return inventory.License{}, mapErr(err)
		}
		if *upd.TotalSeats < used {
			return inventory.License{}, fmt.Errorf("%w: cannot shrink to %d seats with %d in use", inventory.ErrCapacityExceeded, *upd.TotalSeats, used)
		}
		after.TotalSeats = *upd.TotalSeats
	}
	if upd.ValidFrom != nil {
		after.ValidFrom = *upd.ValidFrom
	}
	if upd.ValidUntil != nil {
		after.ValidUntil = *upd.ValidUntil
	}
	if upd.Notes != nil {
		after.Notes = *upd.Notes
	}
	if err := inventory.ValidateLicense(after); err != nil {
		return inventory.License{}, err
	}
	after.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		update licenses set software_name=$2, type=$3, total_seats=$4, valid_from=$5, valid_until=$6, notes=$7, updated_at=$8
		where id=$1
	`, id, after.SoftwareName, string(after.Type), after.TotalSeats, after.ValidFrom, after.ValidUntil,
		nullIfEmpty(after.Notes), after.UpdatedAt); err != nil {
		return inventory.License{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionUpdate, audit.EntityLicense, id, before, after)
	if err != nil {
		return inventory.License{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return inventory.License{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.License{}, mapErr(err)
	}
	return after, nil
}

func (s *Store) DeleteLicense(ctx context.Context, id string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanLicense(tx.QueryRowContext(ctx, `select `+licenseCols+` from licenses where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: license %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return mapErr(err)
	}

	var active int
	if err := tx.QueryRowContext(ctx, `
		select count(*) from assignments where license_id=$1 and revoked_at is null
	`, id).Scan(&active); err != nil {
		return mapErr(err)
	}
	if active > 0 {
		return fmt.Errorf("%w: license %s has active assignments", inventory.ErrConflict, id)
	}

	// Revoked assignment rows go with the license; the audit trail keeps the
	// history.
	if _, err := tx.ExecContext(ctx, `delete from assignments where license_id=$1`, id); err != nil {
		return mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from licenses where id=$1`, id); err != nil {
		return mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionDelete, audit.EntityLicense, id, before, nil)
	if err != nil {
		return err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}
