// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/qris-classifier/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides CRUD access for users and their API keys.
type UserRepository interface {
	// Create inserts a new user; ErrAlreadyExists on duplicate email or key.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByAPIKeyHash loads the user owning the key fingerprint.
	GetByAPIKeyHash(ctx context.Context, hash []byte) (*model.User, error)
	// List returns all users ordered by creation time.
	List(ctx context.Context) ([]model.User, error)
	// Update stores email, password, role, rate limit and active flag.
	Update(ctx context.Context, u *model.User) error
	// SetAPIKey replaces the user's key in one step; a nil hash revokes it.
	SetAPIKey(ctx context.Context, id uuid.UUID, hash []byte, prefix string) error
	// TouchLogin records a successful password login.
	TouchLogin(ctx context.Context, id uuid.UUID) error
	// Delete removes the user.
	Delete(ctx context.Context, id uuid.UUID) error
	// CountByRole returns the number of users holding role.
	CountByRole(ctx context.Context, role model.Role) (int, error)
}
