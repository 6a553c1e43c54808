package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, pwd_hash, pwd_salt, api_key_hash, api_key_prefix, api_key_created_at,
role, rate_limit, is_active, created_at, updated_at, last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(
		&u.ID, &u.Email, &u.PwdHash, &u.PwdSalt, &u.APIKeyHash, &u.APIKeyPrefix, &u.APIKeyCreatedAt,
		&role, &u.RateLimit, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
	); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(r.db.Pool.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, email, pwd_hash, pwd_salt, api_key_hash, api_key_prefix, api_key_created_at, role, rate_limit, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Pool.Exec(ctx, q,
		u.ID, u.Email, u.PwdHash, u.PwdSalt, u.APIKeyHash, u.APIKeyPrefix, u.APIKeyCreatedAt,
		string(u.Role), u.RateLimit, u.IsActive)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `id=$1`, id)
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `email=$1`, email)
}

// GetByAPIKeyHash selects the user owning an API key fingerprint.
func (r *UserRepo) GetByAPIKeyHash(ctx context.Context, hash []byte) (*model.User, error) {
	if len(hash) == 0 {
		return nil, errs.ErrNotFound
	}
	return r.getOne(ctx, `api_key_hash=$1`, hash)
}

// List returns every user, oldest first.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// Update stores the mutable profile fields.
func (r *UserRepo) Update(ctx context.Context, u *model.User) error {
	const q = `
UPDATE users
SET email=$2, pwd_hash=$3, pwd_salt=$4, role=$5, rate_limit=$6, is_active=$7, updated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, u.ID, u.Email, u.PwdHash, u.PwdSalt, string(u.Role), u.RateLimit, u.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetAPIKey swaps the key fingerprint in a single statement.
func (r *UserRepo) SetAPIKey(ctx context.Context, id uuid.UUID, hash []byte, prefix string) error {
	const q = `
UPDATE users
SET api_key_hash=$2, api_key_prefix=$3, api_key_created_at=$4, updated_at=now()
WHERE id=$1`
	var created *time.Time
	if len(hash) > 0 {
		now := time.Now().UTC()
		created = &now
	} else {
		hash, prefix = nil, ""
	}
	tag, err := r.db.Pool.Exec(ctx, q, id, hash, prefix, created)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// TouchLogin stamps last_login_at.
func (r *UserRepo) TouchLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE users SET last_login_at=now() WHERE id=$1`, id)
	return err
}

// Delete removes a user row.
func (r *UserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// CountByRole counts users with role.
func (r *UserRepo) CountByRole(ctx context.Context, role model.Role) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE role=$1`, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
