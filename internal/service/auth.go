// Package service contains application services for authentication,
// classification and administration.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/qris-classifier/internal/crypto"
	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/and161185/qris-classifier/internal/repository"
)

// MaxTokenTTL caps the lifetime of issued access tokens.
const MaxTokenTTL = 24 * time.Hour

const (
	minPasswordLen = 8
	maxEmailLen    = 254
	tokenLeeway    = 30 * time.Second
)

// AuthService resolves credentials and manages accounts and API keys.
type AuthService interface {
	// Authenticate resolves a bearer token (JWT first, then API key) or an X-API-Key value.
	Authenticate(ctx context.Context, bearer, apiKey string) (*model.AuthContext, error)
	// Login verifies email and password and issues an access token.
	Login(ctx context.Context, email, password string) (model.Tokens, model.User, error)
	// CreateUser provisions an account with a fresh API key.
	CreateUser(ctx context.Context, nu model.NewUser) (model.User, string, error)
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	// UpdateUser applies p to target on behalf of actor.
	UpdateUser(ctx context.Context, actor model.User, target uuid.UUID, p model.UserPatch) (model.User, error)
	// DeleteUser removes or deactivates target on behalf of actor.
	DeleteUser(ctx context.Context, actor model.User, target uuid.UUID, soft bool) (deactivated bool, err error)
	// RegenerateAPIKey replaces the key; the previous one stops working immediately.
	RegenerateAPIKey(ctx context.Context, id uuid.UUID) (string, model.User, error)
	// CreateAPIKey assigns a key to a user that has none.
	CreateAPIKey(ctx context.Context, id uuid.UUID) (string, model.User, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// AuthServiceImpl is the AuthService backed by a UserRepository.
type AuthServiceImpl struct {
	users        repository.UserRepository
	signKey      []byte
	accessTTL    time.Duration
	defaultLimit int
	log          *zap.Logger
	now          func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
// accessTTL is clamped to MaxTokenTTL.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, defaultLimit int, log *zap.Logger) *AuthServiceImpl {
	if accessTTL <= 0 || accessTTL > MaxTokenTTL {
		accessTTL = MaxTokenTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{
		users:        users,
		signKey:      signKey,
		accessTTL:    accessTTL,
		defaultLimit: defaultLimit,
		log:          log,
		now:          time.Now,
	}
}

// Authenticate never reveals why a credential failed: every miss is ErrUnauthorized.
// A bearer value is tried as a JWT and then as an API key; X-API-Key is read
// only when no bearer is present. Repository errors are logged and treated as
// a miss; storage.New keeps admins answerable through a database outage.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, bearer, apiKey string) (*model.AuthContext, error) {
	if bearer != "" {
		if id, err := s.parseAccessToken(bearer); err == nil {
			if u := s.resolve(ctx, "jwt", func() (*model.User, error) { return s.users.GetByID(ctx, id) }); u != nil {
				return &model.AuthContext{User: *u, AuthType: model.AuthTypeJWT}, nil
			}
		}
		if ac := s.byAPIKey(ctx, bearer); ac != nil {
			return ac, nil
		}
		return nil, errs.ErrUnauthorized
	}
	if apiKey != "" {
		if ac := s.byAPIKey(ctx, apiKey); ac != nil {
			return ac, nil
		}
	}
	return nil, errs.ErrUnauthorized
}

func (s *AuthServiceImpl) byAPIKey(ctx context.Context, raw string) *model.AuthContext {
	hash := pkgcrypto.HashAPIKey(raw)
	u := s.resolve(ctx, "apikey", func() (*model.User, error) { return s.users.GetByAPIKeyHash(ctx, hash) })
	if u == nil {
		return nil
	}
	return &model.AuthContext{User: *u, AuthType: model.AuthTypeAPIKey}
}

// resolve loads the user and filters out inactive accounts.
func (s *AuthServiceImpl) resolve(ctx context.Context, via string, load func() (*model.User, error)) *model.User {
	u, err := load()
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("credential lookup failed", zap.String("via", via), zap.Error(err))
		}
		return nil
	}
	if !u.IsActive {
		return nil
	}
	return u
}

// Login hides whether the email exists.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (model.Tokens, model.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("login lookup failed", zap.Error(err))
		}
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}
	if !pkgcrypto.VerifyPassword(password, u.PwdSalt, u.PwdHash) || !u.IsActive {
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	tokens, err := s.IssueToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if err := s.users.TouchLogin(ctx, u.ID); err != nil {
		s.log.Warn("touch login failed", zap.String("user_id", u.ID.String()), zap.Error(err))
	}
	return tokens, *u, nil
}

// IssueToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) IssueToken(userID uuid.UUID) (model.Tokens, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}

// parseAccessToken verifies an HS256 token and returns its subject.
func (s *AuthServiceImpl) parseAccessToken(tok string) (uuid.UUID, error) {
	if strings.Count(tok, ".") != 2 {
		return uuid.Nil, errors.New("not a jwt")
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(tokenLeeway), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

// CreateUser returns the stored user and the raw API key, which is not kept.
func (s *AuthServiceImpl) CreateUser(ctx context.Context, nu model.NewUser) (model.User, string, error) {
	email := normalizeEmail(nu.Email)
	if err := validateEmail(email); err != nil {
		return model.User{}, "", err
	}
	role := nu.Role
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return model.User{}, "", fmt.Errorf("%w: role", errs.ErrInvalidInput)
	}
	limit := nu.RateLimit
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit < 0 {
		return model.User{}, "", fmt.Errorf("%w: rateLimit", errs.ErrInvalidInput)
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return model.User{}, "", err
	}
	u := &model.User{ID: uid, Email: email, Role: role, RateLimit: limit, IsActive: true}
	if nu.Password != "" {
		if err := setPassword(u, nu.Password); err != nil {
			return model.User{}, "", err
		}
	}

	raw, err := pkgcrypto.GenerateAPIKey()
	if err != nil {
		return model.User{}, "", err
	}
	now := s.now().UTC()
	u.APIKeyHash = pkgcrypto.HashAPIKey(raw)
	u.APIKeyPrefix = pkgcrypto.DisplayPrefix(raw)
	u.APIKeyCreatedAt = &now

	if err := s.users.Create(ctx, u); err != nil {
		return model.User{}, "", err
	}
	stored, err := s.users.GetByID(ctx, uid)
	if err != nil {
		return model.User{}, "", err
	}
	s.log.Info("user created", zap.String("user_id", uid.String()), zap.String("role", string(role)))
	return *stored, raw, nil
}

// GetUser loads a user by ID.
func (s *AuthServiceImpl) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// ListUsers returns every account.
func (s *AuthServiceImpl) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.List(ctx)
}

// UpdateUser lets users change their own email and password; role, rate limit
// and active flag are admin-only.
func (s *AuthServiceImpl) UpdateUser(ctx context.Context, actor model.User, target uuid.UUID, p model.UserPatch) (model.User, error) {
	if !actor.IsAdmin() {
		if target != actor.ID || p.Role != nil || p.RateLimit != nil || p.IsActive != nil {
			return model.User{}, errs.ErrForbidden
		}
	}
	u, err := s.users.GetByID(ctx, target)
	if err != nil {
		return model.User{}, err
	}

	if p.Email != nil {
		email := normalizeEmail(*p.Email)
		if err := validateEmail(email); err != nil {
			return model.User{}, err
		}
		u.Email = email
	}
	if p.Password != nil {
		if err := setPassword(u, *p.Password); err != nil {
			return model.User{}, err
		}
	}
	if p.Role != nil {
		if !p.Role.Valid() {
			return model.User{}, fmt.Errorf("%w: role", errs.ErrInvalidInput)
		}
		if target == actor.ID && *p.Role != model.RoleAdmin {
			return model.User{}, fmt.Errorf("%w: admins cannot demote themselves", errs.ErrForbidden)
		}
		u.Role = *p.Role
	}
	if p.RateLimit != nil {
		if *p.RateLimit <= 0 {
			return model.User{}, fmt.Errorf("%w: rateLimit", errs.ErrInvalidInput)
		}
		u.RateLimit = *p.RateLimit
	}
	if p.IsActive != nil {
		if target == actor.ID && !*p.IsActive {
			return model.User{}, fmt.Errorf("%w: admins cannot deactivate themselves", errs.ErrForbidden)
		}
		u.IsActive = *p.IsActive
	}

	if err := s.users.Update(ctx, u); err != nil {
		return model.User{}, err
	}
	return s.GetUser(ctx, target)
}

// DeleteUser: a user deleting themselves is deactivated; admins cannot remove
// their own account. Admins delete others outright unless soft is set.
func (s *AuthServiceImpl) DeleteUser(ctx context.Context, actor model.User, target uuid.UUID, soft bool) (bool, error) {
	if target == actor.ID {
		if actor.IsAdmin() {
			return false, fmt.Errorf("%w: admins cannot delete themselves", errs.ErrForbidden)
		}
		return true, s.deactivate(ctx, target)
	}
	if !actor.IsAdmin() {
		return false, errs.ErrForbidden
	}
	if soft {
		return true, s.deactivate(ctx, target)
	}
	if err := s.users.Delete(ctx, target); err != nil {
		return false, err
	}
	s.log.Info("user deleted", zap.String("user_id", target.String()), zap.String("by", actor.ID.String()))
	return false, nil
}

func (s *AuthServiceImpl) deactivate(ctx context.Context, id uuid.UUID) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	u.IsActive = false
	return s.users.Update(ctx, u)
}

// RegenerateAPIKey swaps the key fingerprint in one repository call.
func (s *AuthServiceImpl) RegenerateAPIKey(ctx context.Context, id uuid.UUID) (string, model.User, error) {
	if _, err := s.users.GetByID(ctx, id); err != nil {
		return "", model.User{}, err
	}
	return s.assignKey(ctx, id)
}

// CreateAPIKey fails with ErrAlreadyExists when the user still holds a key.
func (s *AuthServiceImpl) CreateAPIKey(ctx context.Context, id uuid.UUID) (string, model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return "", model.User{}, err
	}
	if u.HasAPIKey() {
		return "", model.User{}, fmt.Errorf("%w: api key", errs.ErrAlreadyExists)
	}
	return s.assignKey(ctx, id)
}

func (s *AuthServiceImpl) assignKey(ctx context.Context, id uuid.UUID) (string, model.User, error) {
	raw, err := pkgcrypto.GenerateAPIKey()
	if err != nil {
		return "", model.User{}, err
	}
	if err := s.users.SetAPIKey(ctx, id, pkgcrypto.HashAPIKey(raw), pkgcrypto.DisplayPrefix(raw)); err != nil {
		return "", model.User{}, err
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return "", model.User{}, err
	}
	return raw, u, nil
}

// RevokeAPIKey removes the user's key.
func (s *AuthServiceImpl) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	return s.users.SetAPIKey(ctx, id, nil, "")
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func validateEmail(email string) error {
	if email == "" || len(email) > maxEmailLen {
		return fmt.Errorf("%w: email", errs.ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email", errs.ErrInvalidInput)
	}
	return nil
}

func setPassword(u *model.User, password string) error {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", errs.ErrInvalidInput, minPasswordLen)
	}
	hash, salt, err := pkgcrypto.HashPassword(password)
	if err != nil {
		return err
	}
	u.PwdHash, u.PwdSalt = hash, salt
	return nil
}
