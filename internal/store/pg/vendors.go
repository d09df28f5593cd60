package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"licentra.org/internal/audit"
	"licentra.org/internal/inventory"
)

func (s *Store) CreateVendor(ctx context.Context, v inventory.Vendor, actor string) (inventory.Vendor, error) {
	if err := inventory.ValidateVendor(v); err != nil {
		return inventory.Vendor{}, err
	}
	now := time.Now().UTC()
	v.ID = uuid.NewString()
	v.CreatedAt = now
	v.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into vendors(id, name, support_email, created_at, updated_at)
		values ($1,$2,$3,$4,$5)
	`, v.ID, v.Name, nullIfEmpty(v.SupportEmail), v.CreatedAt, v.UpdatedAt); err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionCreate, audit.EntityVendor, v.ID, nil, v)
	if err != nil {
		return inventory.Vendor{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	return v, nil
}

func (s *Store) GetVendor(ctx context.Context, id string) (inventory.Vendor, error) {
	var (
		v     inventory.Vendor
		email sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, support_email, created_at, updated_at
		from vendors where id=$1
	`, id).Scan(&v.ID, &v.Name, &email, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Vendor{}, fmt.Errorf("%w: vendor %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	v.SupportEmail = email.String
	return v, nil
}

func (s *Store) ListVendors(ctx context.Context) ([]inventory.Vendor, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, support_email, created_at, updated_at
		from vendors order by name
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]inventory.Vendor, 0)
	for rows.Next() {
		var (
			v     inventory.Vendor
			email sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.Name, &email, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, mapErr(err)
		}
		v.SupportEmail = email.String
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) UpdateVendor(ctx context.Context, id string, upd inventory.VendorUpdate, actor string) (inventory.Vendor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		before inventory.Vendor
		email  sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		select id, name, support_email, created_at, updated_at
		from vendors where id=$1 for update
	`, id).Scan(&before.ID, &before.Name, &email, &before.CreatedAt, &before.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Vendor{}, fmt.Errorf("%w: vendor %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	before.SupportEmail = email.String

	after := before
	if upd.Name != nil && *upd.Name != before.Name {
		var refs int
		if err := tx.QueryRowContext(ctx, `select count(*) from licenses where vendor_id=$1`, id).Scan(&refs); err != nil {
			return inventory.Vendor{}, mapErr(err)
		}
		if refs > 0 {
			return inventory.Vendor{}, fmt.Errorf("%w: vendor name is immutable while licenses reference it", inventory.ErrConflict)
		}
		if strings.TrimSpace(*upd.Name) == "" {
			return inventory.Vendor{}, fmt.Errorf("%w: vendor name is required", inventory.ErrValidation)
		}
		after.Name = *upd.Name
	}
	if upd.SupportEmail != nil {
		if *upd.SupportEmail != "" && !strings.Contains(*upd.SupportEmail, "@") {
			return inventory.Vendor{}, fmt.Errorf("%w: support email %q is malformed", inventory.ErrValidation, *upd.SupportEmail)
		}
		after.SupportEmail = *upd.SupportEmail
	}
	after.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		update vendors set name=$2, support_email=$3, updated_at=$4 where id=$1
	`, id, after.Name, nullIfEmpty(after.SupportEmail), after.UpdatedAt); err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionUpdate, audit.EntityVendor, id, before, after)
	if err != nil {
		return inventory.Vendor{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.Vendor{}, mapErr(err)
	}
	return after, nil
}

func (s *Store) DeleteVendor(ctx context.Context, id string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		before inventory.Vendor
		email  sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		select id, name, support_email, created_at, updated_at
		from vendors where id=$1 for update
	`, id).Scan(&before.ID, &before.Name, &email, &before.CreatedAt, &before.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: vendor %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return mapErr(err)
	}
	before.SupportEmail = email.String

	var refs int
	if err := tx.QueryRowContext(ctx, `select count(*) from licenses where vendor_id=$1`, id).Scan(&refs); err != nil {
		return mapErr(err)
	}
	if refs > 0 {
		return fmt.Errorf("%w: vendor %s still owns licenses", inventory.ErrConflict, id)
	}

	if _, err := tx.ExecContext(ctx, `delete from vendors where id=$1`, id); err != nil {
		return mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionDelete, audit.EntityVendor, id, before, nil)
	if err != nil {
		return err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}
