package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"licentra.org/internal/access"
	"licentra.org/internal/audit"
	"licentra.org/internal/auth"
	"licentra.org/internal/ids"
	"licentra.org/internal/inventory"
)

var _ auth.UserStore = (*Store)(nil)

const userCols = `id, email, name, role, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (auth.User, error) {
	var (
		u    auth.User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return auth.User{}, err
	}
	u.Role = access.ParseRole(role)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u auth.User, actor string) (auth.User, error) {
	u.ID = ids.New()
	u.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users(`+userCols+`)
		values ($1,$2,$3,$4,$5,$6)
	`, u.ID, u.Email, u.Name, string(u.Role), u.PasswordHash, u.CreatedAt); err != nil {
		if mapped := mapErr(err); errors.Is(mapped, inventory.ErrConflict) {
			return auth.User{}, fmt.Errorf("%w: email %s already registered", inventory.ErrConflict, u.Email)
		}
		return auth.User{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionCreate, audit.EntityUser, u.ID, nil, u)
	if err != nil {
		return auth.User{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return auth.User{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, mapErr(err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userCols+` from users where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("%w: user %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return auth.User{}, mapErr(err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userCols+` from users where email=$1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("%w: user %s", inventory.ErrNotFound, email)
	}
	if err != nil {
		return auth.User{}, mapErr(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userCols+` from users order by email`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate, actor string) (auth.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanUser(tx.QueryRowContext(ctx, `select `+userCols+` from users where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("%w: user %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return auth.User{}, mapErr(err)
	}

	after := before
	if upd.Name != nil {
		after.Name = *upd.Name
	}
	if upd.Role != nil {
		after.Role = *upd.Role
	}
	if upd.Password != nil {
		after.PasswordHash = *upd.Password
	}

	if _, err := tx.ExecContext(ctx, `
		update users set name=$2, role=$3, password_hash=$4 where id=$1
	`, id, after.Name, string(after.Role), after.PasswordHash); err != nil {
		return auth.User{}, mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionUpdate, audit.EntityUser, id, before, after)
	if err != nil {
		return auth.User{}, err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return auth.User{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, mapErr(err)
	}
	return after, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanUser(tx.QueryRowContext(ctx, `select `+userCols+` from users where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: user %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return mapErr(err)
	}

	if _, err := tx.ExecContext(ctx, `delete from users where id=$1`, id); err != nil {
		return mapErr(err)
	}
	entry, err := audit.New(actor, audit.ActionDelete, audit.EntityUser, id, before, nil)
	if err != nil {
		return err
	}
	if err := audit.Append(ctx, tx, entry); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}
