package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"licentra.org/internal/audit"
	"licentra.org/internal/ids"
	"licentra.org/internal/inventory"
)

// InMemoryUsers keeps accounts in process memory. Audit entries are appended
// under the same lock section as the mutation they describe.
type InMemoryUsers struct {
	mu      sync.RWMutex
	users   map[string]User
	byEmail map[string]string
	trail   []audit.Entry
	now     func() time.Time
}

var _ UserStore = (*InMemoryUsers)(nil)

func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{
		users:   make(map[string]User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *InMemoryUsers) record(actor string, action audit.Action, id string, before, after any) (audit.Entry, error) {
	return audit.New(actor, action, audit.EntityUser, id, before, after)
}

func (s *InMemoryUsers) CreateUser(ctx context.Context, u User, actor string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, fmt.Errorf("%w: %v", inventory.ErrTimeout, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return User{}, fmt.Errorf("%w: email %s already registered", inventory.ErrConflict, u.Email)
	}
	u.ID = ids.New()
	u.CreatedAt = s.now().UTC()
	entry, err := s.record(actor, audit.ActionCreate, u.ID, nil, u)
	if err != nil {
		return User{}, err
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	s.trail = append(s.trail, entry)
	return u, nil
}

func (s *InMemoryUsers) GetUser(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, fmt.Errorf("%w: %v", inventory.ErrTimeout, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", inventory.ErrNotFound, id)
	}
	return u, nil
}

func (s *InMemoryUsers) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, fmt.Errorf("%w: %v", inventory.ErrTimeout, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", inventory.ErrNotFound, email)
	}
	return s.users[id], nil
}

func (s *InMemoryUsers) ListUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", inventory.ErrTimeout, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *InMemoryUsers) UpdateUser(ctx context.Context, id string, upd UserUpdate, actor string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, fmt.Errorf("%w: %v", inventory.ErrTimeout, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", inventory.ErrNotFound, id)
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
	entry, err := s.record(actor, audit.ActionUpdate, id, before, after)
	if err != nil {
		return User{}, err
	}
	s.users[id] = after
	s.trail = append(s.trail, entry)
	return after, nil
}

func (s *InMemoryUsers) DeleteUser(ctx context.Context, id string, actor string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", inventory.ErrTimeout, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", inventory.ErrNotFound, id)
	}
	entry, err := s.record(actor, audit.ActionDelete, id, before, nil)
	if err != nil {
		return err
	}
	delete(s.users, id)
	delete(s.byEmail, before.Email)
	s.trail = append(s.trail, entry)
	return nil
}

// AuditEntries exposes the user audit trail, newest first.
func (s *InMemoryUsers) AuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", inventory.ErrTimeout, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, 0, len(s.trail))
	for _, e := range s.trail {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
