package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"licentra.org/internal/audit"
	"licentra.org/internal/inventory"
)

const deviceCols = `id, type, ip_address, location, model, status, created_at, updated_at`

func scanDevice(row interface{ Scan(...any) error }) (inventory.Device, error) {
	var (
		d     inventory.Device
		model sql.NullString
	)
	err := row.Scan(&d.ID, &d.Type, &d.IPAddress, &d.Location, &model, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return inventory.Device{}, err
	}
	d.Model = model.String
	return d, nil
}

func (s *Store) CreateDevice(ctx context.Context, d inventory.Device, actor string) (inventory.Device, error) {
	if err := inventory.ValidateDevice(d); err != nil {
		return inventory.Device{}, err
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Device{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into devices(`+deviceCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, d.ID, string(d.Type), d.IPAddress, d.Location, nullIfEmpty(d.Model), string(d.Status), d.CreatedAt, d.UpdatedAt); err != nil {
		return inventory.Device{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionCreate, audit.EntityDevice, d.ID, nil, d)
	if err != nil {
		return inventory.Device{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return inventory.Device{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.Device{}, mapErr(err)
	}
	return d, nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (inventory.Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, `select `+deviceCols+` from devices where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Device{}, fmt.Errorf("%w: device %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.Device{}, mapErr(err)
	}
	return d, nil
}

func (s *Store) ListDevices(ctx context.Context, f inventory.DeviceFilter) ([]inventory.Device, error) {
	q := `select ` + deviceCols + ` from devices`
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		conds = append(conds, fmt.Sprintf("type=$%d", len(args)))
	}
	if len(conds) > 0 {
		q += " where " + strings.Join(conds, " and ")
	}
	q += " order by id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []inventory.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) UpdateDevice(ctx context.Context, id string, upd inventory.DeviceUpdate, actor string) (inventory.Device, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Device{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanDevice(tx.QueryRowContext(ctx, `select `+deviceCols+` from devices where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Device{}, fmt.Errorf("%w: device %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.Device{}, mapErr(err)
	}

	after := before
	if upd.Type != nil {
		if !upd.Type.Valid() {
			return inventory.Device{}, fmt.Errorf("%w: unknown device type %q", inventory.ErrValidation, *upd.Type)
		}
		after.Type = *upd.Type
	}
	if upd.IPAddress != nil {
		probe := after
		probe.IPAddress = *upd.IPAddress
		if err := inventory.ValidateDevice(probe); err != nil {
			return inventory.Device{}, err
		}
		after.IPAddress = *upd.IPAddress
	}
	if upd.Location != nil {
		if strings.TrimSpace(*upd.Location) == "" {
			return inventory.Device{}, fmt.Errorf("%w: device location is required", inventory.ErrValidation)
		}
		after.Location = *upd.Location
	}
	if upd.Model != nil {
		after.Model = *upd.Model
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return inventory.Device{}, fmt.Errorf("%w: unknown device status %q", inventory.ErrValidation, *upd.Status)
		}
		after.Status = *upd.Status
	}
	after.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		update devices set type=$2, ip_address=$3, location=$4, model=$5, status=$6, updated_at=$7
		where id=$1
	`, id, string(after.Type), after.IPAddress, after.Location, nullIfEmpty(after.Model), string(after.Status), after.UpdatedAt); err != nil {
		return inventory.Device{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionUpdate, audit.EntityDevice, id, before, after)
	if err != nil {
		return inventory.Device{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return inventory.Device{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.Device{}, mapErr(err)
	}
	return after, nil
}

func (s *Store) DeleteDevice(ctx context.Context, id string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanDevice(tx.QueryRowContext(ctx, `select `+deviceCols+` from devices where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: device %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return mapErr(err)
	}

	var active int
	if err := tx.QueryRowContext(ctx, `
		select count(*) from assignments where device_id=$1 and revoked_at is null
	`, id).Scan(&active); err != nil {
		return mapErr(err)
	}
	if active > 0 {
		return fmt.Errorf("%w: device %s holds active assignments", inventory.ErrConflict, id)
	}

	// Software versions and revoked assignment rows go with the device.
	if _, err := tx.ExecContext(ctx, `delete from software_versions where device_id=$1`, id); err != nil {
		return mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from assignments where device_id=$1`, id); err != nil {
		return mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from devices where id=$1`, id); err != nil {
		return mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionDelete, audit.EntityDevice, id, before, nil)
	if err != nil {
		return err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}
