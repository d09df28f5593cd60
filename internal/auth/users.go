package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"licentra.org/internal/access"
	"licentra.org/internal/inventory"
)

// User is an operator account. PasswordHash never leaves the auth package.
type User struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	Name         string      `json:"name"`
	Role         access.Role `json:"role"`
	PasswordHash string      `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
}

// UserUpdate modifies user fields. Nil fields stay untouched.
type UserUpdate struct {
	Name     *string
	Role     *access.Role
	Password *string
}

// UserStore persists accounts. Mutations append their audit entry in the same
// atomic unit, matching the inventory store contract.
type UserStore interface {
	CreateUser(ctx context.Context, u User, actor string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate, actor string) (User, error)
	DeleteUser(ctx context.Context, id string, actor string) error
}

// Service gates user management behind the capability table and verifies
// credentials for the transport layer.
type Service struct {
	store    UserStore
	tokenTTL time.Duration
}

// NewService wires a user service over the given store.
func NewService(store UserStore, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{store: store, tokenTTL: tokenTTL}
}

func (s *Service) guard(ctx context.Context, action access.Action) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, fmt.Errorf("%w: no actor in context", inventory.ErrForbidden)
	}
	if !access.Allowed(actor.Role, action, access.ResourceUser) {
		return Actor{}, fmt.Errorf("%w: role %s may not %s users", inventory.ErrForbidden, actor.Role, action)
	}
	return actor, nil
}

// Register creates an account. Admin capability required.
func (s *Service) Register(ctx context.Context, email, name, password string, role access.Role) (User, error) {
	actor, err := s.guard(ctx, access.ActionCreate)
	if err != nil {
		return User{}, err
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", inventory.ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return User{}, fmt.Errorf("%w: name is required", inventory.ErrValidation)
	}
	if access.ParseRole(string(role)) == "" {
		return User{}, fmt.Errorf("%w: unknown role %q", inventory.ErrValidation, role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", inventory.ErrValidation, err)
	}
	return s.store.CreateUser(ctx, User{Email: email, Name: name, Role: role, PasswordHash: hash}, actor.ID)
}

// Authenticate verifies credentials and issues a signed token for the actor.
// It is the one entry point the transport layer calls before any engine
// operation.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return User{}, "", fmt.Errorf("%w: unknown credentials", inventory.ErrForbidden)
	}
	ok, err := VerifyPassword(u.PasswordHash, password)
	if err != nil || !ok {
		return User{}, "", fmt.Errorf("%w: unknown credentials", inventory.ErrForbidden)
	}
	token, err := GenerateToken(u.ID, u.Role, s.tokenTTL)
	if err != nil {
		return User{}, "", err
	}
	return u, token, nil
}

// Get returns one account. Admin capability required: user records are not
// part of the estate-wide read surface.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	if _, err := s.guard(ctx, access.ActionUpdate); err != nil {
		return User{}, err
	}
	return s.store.GetUser(ctx, id)
}

// List returns all accounts. Admin capability required.
func (s *Service) List(ctx context.Context) ([]User, error) {
	if _, err := s.guard(ctx, access.ActionUpdate); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

// Update modifies an account. Admin capability required.
func (s *Service) Update(ctx context.Context, id string, upd UserUpdate) (User, error) {
	actor, err := s.guard(ctx, access.ActionUpdate)
	if err != nil {
		return User{}, err
	}
	if upd.Role != nil && access.ParseRole(string(*upd.Role)) == "" {
		return User{}, fmt.Errorf("%w: unknown role %q", inventory.ErrValidation, *upd.Role)
	}
	if upd.Password != nil {
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, fmt.Errorf("%w: %v", inventory.ErrValidation, err)
		}
		upd.Password = &hash
	}
	return s.store.UpdateUser(ctx, id, upd, actor.ID)
}

// Delete removes an account. Admin capability required; admins cannot delete
// themselves so an estate always keeps at least one manager.
func (s *Service) Delete(ctx context.Context, id string) error {
	actor, err := s.guard(ctx, access.ActionDelete)
	if err != nil {
		return err
	}
	if actor.ID == id {
		return fmt.Errorf("%w: cannot delete own account", inventory.ErrConflict)
	}
	return s.store.DeleteUser(ctx, id, actor.ID)
}
