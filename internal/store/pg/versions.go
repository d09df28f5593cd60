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

const versionCols = `id, device_id, software_name, current_version, latest_version, status, detected_at`

func scanVersion(row interface{ Scan(...any) error }) (inventory.SoftwareVersion, error) {
	var (
		sv     inventory.SoftwareVersion
		latest sql.NullString
	)
	err := row.Scan(&sv.ID, &sv.DeviceID, &sv.SoftwareName, &sv.CurrentVersion, &latest, &sv.Status, &sv.DetectedAt)
	if err != nil {
		return inventory.SoftwareVersion{}, err
	}
	sv.LatestVersion = latest.String
	return sv, nil
}

func (s *Store) CreateSoftwareVersion(ctx context.Context, sv inventory.SoftwareVersion, actor string) (inventory.SoftwareVersion, error) {
	if err := inventory.ValidateSoftwareVersion(sv); err != nil {
		return inventory.SoftwareVersion{}, err
	}
	sv.ID = uuid.NewString()
	if sv.Status == "" {
		sv.Status = inventory.VersionUpToDate
	}
	if sv.DetectedAt.IsZero() {
		sv.DetectedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.SoftwareVersion{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from devices where id=$1`, sv.DeviceID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.SoftwareVersion{}, fmt.Errorf("%w: device %s", inventory.ErrNotFound, sv.DeviceID)
		}
		return inventory.SoftwareVersion{}, mapErr(err)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into software_versions(`+versionCols+`)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, sv.ID, sv.DeviceID, sv.SoftwareName, sv.CurrentVersion, nullIfEmpty(sv.LatestVersion), string(sv.Status), sv.DetectedAt); err != nil {
		return inventory.SoftwareVersion{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionCreate, audit.EntitySoftwareVersion, sv.ID, nil, sv)
	if err != nil {
		return inventory.SoftwareVersion{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return inventory.SoftwareVersion{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.SoftwareVersion{}, mapErr(err)
	}
	return sv, nil
}

func (s *Store) ListSoftwareVersions(ctx context.Context, deviceID string) ([]inventory.SoftwareVersion, error) {
	q := `select ` + versionCols + ` from software_versions`
	var args []any
	if deviceID != "" {
		q += ` where device_id=$1`
		args = append(args, deviceID)
	}
	q += ` order by id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []inventory.SoftwareVersion
	for rows.Next() {
		sv, err := scanVersion(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) UpdateSoftwareVersion(ctx context.Context, id string, upd inventory.SoftwareVersionUpdate, actor string) (inventory.SoftwareVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.SoftwareVersion{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanVersion(tx.QueryRowContext(ctx, `select `+versionCols+` from software_versions where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.SoftwareVersion{}, fmt.Errorf("%w: software version %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.SoftwareVersion{}, mapErr(err)
	}

	after := before
	if upd.CurrentVersion != nil {
		after.CurrentVersion = *upd.CurrentVersion
	}
	if upd.LatestVersion != nil {
		after.LatestVersion = *upd.LatestVersion
	}
	if upd.Status != nil {
		after.Status = *upd.Status
	}

	if _, err := tx.ExecContext(ctx, `
		update software_versions set current_version=$2, latest_version=$3, status=$4 where id=$1
	`, id, after.CurrentVersion, nullIfEmpty(after.LatestVersion), string(after.Status)); err != nil {
		return inventory.SoftwareVersion{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionUpdate, audit.EntitySoftwareVersion, id, before, after)
	if err != nil {
		return inventory.SoftwareVersion{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return inventory.SoftwareVersion{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.SoftwareVersion{}, mapErr(err)
	}
	return after, nil
}

func (s *Store) DeleteSoftwareVersion(ctx context.Context, id string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanVersion(tx.QueryRowContext(ctx, `select `+versionCols+` from software_versions where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: software version %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return mapErr(err)
	}

	if _, err := tx.ExecContext(ctx, `delete from software_versions where id=$1`, id); err != nil {
		return mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionDelete, audit.EntitySoftwareVersion, id, before, nil)
	if err != nil {
		return err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}
