package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/qris-classifier/internal/crypto"
	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
)

// BootstrapAdmin describes the administrator provisioned at startup.
type BootstrapAdmin struct {
	Email    string
	Password string // empty: generate
	APIKey   string // empty: generate
}

// BootstrapResult reports what EnsureBootstrapAdmin did. Generated secrets are
// returned once so the caller can print them.
type BootstrapResult struct {
	Created           bool
	User              model.User
	GeneratedPassword string
	GeneratedAPIKey   string
}

// EnsureBootstrapAdmin creates the admin account when no admin exists yet.
func (s *AuthServiceImpl) EnsureBootstrapAdmin(ctx context.Context, b BootstrapAdmin) (BootstrapResult, error) {
	n, err := s.users.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("count admins: %w", err)
	}
	if n > 0 {
		return BootstrapResult{}, nil
	}

	email := normalizeEmail(b.Email)
	if err := validateEmail(email); err != nil {
		return BootstrapResult{}, err
	}
	if existing, err := s.users.GetByEmail(ctx, email); err == nil {
		return BootstrapResult{}, fmt.Errorf("%w: %s exists without admin role", errs.ErrAlreadyExists, existing.Email)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return BootstrapResult{}, err
	}

	res := BootstrapResult{Created: true}
	password := b.Password
	if password == "" {
		if password, err = pkgcrypto.GeneratePassword(); err != nil {
			return BootstrapResult{}, err
		}
		res.GeneratedPassword = password
	}
	rawKey := b.APIKey
	if rawKey == "" {
		if rawKey, err = pkgcrypto.GenerateAPIKey(); err != nil {
			return BootstrapResult{}, err
		}
		res.GeneratedAPIKey = rawKey
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return BootstrapResult{}, err
	}
	now := s.now().UTC()
	u := &model.User{
		ID:              uid,
		Email:           email,
		Role:            model.RoleAdmin,
		RateLimit:       s.defaultLimit,
		IsActive:        true,
		APIKeyHash:      pkgcrypto.HashAPIKey(rawKey),
		APIKeyPrefix:    pkgcrypto.DisplayPrefix(rawKey),
		APIKeyCreatedAt: &now,
	}
	if err := setPassword(u, password); err != nil {
		return BootstrapResult{}, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return BootstrapResult{}, err
	}
	res.User = *u
	s.log.Info("bootstrap admin created", zap.String("email", email), zap.String("user_id", uid.String()))
	return res, nil
}
