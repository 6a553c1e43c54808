// Package memory contains process-local repository implementations used when
// PostgreSQL is not reachable. Data is lost on restart.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo is an in-memory UserRepository.
type UserRepo struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*model.User
}

// NewUserRepo constructs an empty repository.
func NewUserRepo() *UserRepo {
	return &UserRepo{users: make(map[uuid.UUID]*model.User)}
}

func clone(u *model.User) *model.User {
	c := *u
	c.PwdHash = append([]byte(nil), u.PwdHash...)
	c.PwdSalt = append([]byte(nil), u.PwdSalt...)
	if u.APIKeyHash != nil {
		c.APIKeyHash = append([]byte(nil), u.APIKeyHash...)
	}
	return &c
}

// conflicts reports whether email or key hash is held by a user other than id.
func (r *UserRepo) conflicts(id uuid.UUID, email string, keyHash []byte) bool {
	for _, o := range r.users {
		if o.ID == id {
			continue
		}
		if o.Email == email {
			return true
		}
		if len(keyHash) > 0 && bytes.Equal(o.APIKeyHash, keyHash) {
			return true
		}
	}
	return false
}

// Create implements repository.UserRepository.
func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok || r.conflicts(u.ID, u.Email, u.APIKeyHash) {
		return errs.ErrAlreadyExists
	}
	c := clone(u)
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.users[u.ID] = c
	return nil
}

func (r *UserRepo) find(match func(*model.User) bool) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			return clone(u), nil
		}
	}
	return nil, errs.ErrNotFound
}

// GetByID implements repository.UserRepository.
func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(u), nil
}

// GetByEmail implements repository.UserRepository.
func (r *UserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email == email })
}

// GetByAPIKeyHash implements repository.UserRepository.
func (r *UserRepo) GetByAPIKeyHash(_ context.Context, hash []byte) (*model.User, error) {
	if len(hash) == 0 {
		return nil, errs.ErrNotFound
	}
	return r.find(func(u *model.User) bool { return bytes.Equal(u.APIKeyHash, hash) })
}

// List implements repository.UserRepository.
func (r *UserRepo) List(context.Context) ([]model.User, error) {
	r.mu.RLock()
	out := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *clone(u))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Update implements repository.UserRepository.
func (r *UserRepo) Update(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[u.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if r.conflicts(u.ID, u.Email, nil) {
		return errs.ErrAlreadyExists
	}
	cur.Email = u.Email
	cur.PwdHash = append([]byte(nil), u.PwdHash...)
	cur.PwdSalt = append([]byte(nil), u.PwdSalt...)
	cur.Role = u.Role
	cur.RateLimit = u.RateLimit
	cur.IsActive = u.IsActive
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

// SetAPIKey implements repository.UserRepository.
func (r *UserRepo) SetAPIKey(_ context.Context, id uuid.UUID, hash []byte, prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	now := time.Now().UTC()
	if len(hash) == 0 {
		cur.APIKeyHash, cur.APIKeyPrefix, cur.APIKeyCreatedAt = nil, "", nil
	} else {
		if r.conflicts(id, cur.Email, hash) {
			return errs.ErrAlreadyExists
		}
		cur.APIKeyHash = append([]byte(nil), hash...)
		cur.APIKeyPrefix = prefix
		cur.APIKeyCreatedAt = &now
	}
	cur.UpdatedAt = now
	return nil
}

// TouchLogin implements repository.UserRepository.
func (r *UserRepo) TouchLogin(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.users[id]; ok {
		now := time.Now().UTC()
		cur.LastLoginAt = &now
	}
	return nil
}

// Delete implements repository.UserRepository.
func (r *UserRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// CountByRole implements repository.UserRepository.
func (r *UserRepo) CountByRole(_ context.Context, role model.Role) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, u := range r.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}
