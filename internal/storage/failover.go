package storage

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/and161185/qris-classifier/internal/repository"
	"github.com/and161185/qris-classifier/internal/repository/memory"
)

// failoverUsers serves reads from the primary repository and, while the
// primary is failing, from an in-memory copy of the admin accounts. Writes
// always go to the primary and are mirrored into the copy on success.
type failoverUsers struct {
	primary  repository.UserRepository
	fallback *memory.UserRepo
	st       *Storage
}

var _ repository.UserRepository = (*failoverUsers)(nil)

// outage reports whether err means the primary could not answer. Not-found,
// conflicts and the caller's own cancellation are answers.
func outage(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, errs.ErrNotFound) && !errors.Is(err, errs.ErrAlreadyExists)
}

func (f *failoverUsers) lookup(ctx context.Context, primary, fallback func() (*model.User, error)) (*model.User, error) {
	u, err := primary()
	if !outage(ctx, err) {
		f.st.markUp()
		if err == nil {
			f.remember(ctx, u)
		}
		return u, err
	}
	f.st.markDown(err)
	return fallback()
}

func (f *failoverUsers) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return f.lookup(ctx,
		func() (*model.User, error) { return f.primary.GetByID(ctx, id) },
		func() (*model.User, error) { return f.fallback.GetByID(ctx, id) })
}

func (f *failoverUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return f.lookup(ctx,
		func() (*model.User, error) { return f.primary.GetByEmail(ctx, email) },
		func() (*model.User, error) { return f.fallback.GetByEmail(ctx, email) })
}

func (f *failoverUsers) GetByAPIKeyHash(ctx context.Context, hash []byte) (*model.User, error) {
	return f.lookup(ctx,
		func() (*model.User, error) { return f.primary.GetByAPIKeyHash(ctx, hash) },
		func() (*model.User, error) { return f.fallback.GetByAPIKeyHash(ctx, hash) })
}

func (f *failoverUsers) List(ctx context.Context) ([]model.User, error) {
	users, err := f.primary.List(ctx)
	if outage(ctx, err) {
		f.st.markDown(err)
		return f.fallback.List(ctx)
	}
	f.st.markUp()
	return users, err
}

func (f *failoverUsers) CountByRole(ctx context.Context, role model.Role) (int, error) {
	n, err := f.primary.CountByRole(ctx, role)
	if outage(ctx, err) {
		f.st.markDown(err)
		return f.fallback.CountByRole(ctx, role)
	}
	f.st.markUp()
	return n, err
}

// write runs op against the primary and tracks the outage state.
func (f *failoverUsers) write(ctx context.Context, op func() error) error {
	err := op()
	if outage(ctx, err) {
		f.st.markDown(err)
		return err
	}
	f.st.markUp()
	return err
}

func (f *failoverUsers) Create(ctx context.Context, u *model.User) error {
	if err := f.write(ctx, func() error { return f.primary.Create(ctx, u) }); err != nil {
		return err
	}
	f.remember(ctx, u)
	return nil
}

func (f *failoverUsers) Update(ctx context.Context, u *model.User) error {
	if err := f.write(ctx, func() error { return f.primary.Update(ctx, u) }); err != nil {
		return err
	}
	if cur, err := f.primary.GetByID(ctx, u.ID); err == nil {
		f.remember(ctx, cur)
	}
	return nil
}

func (f *failoverUsers) SetAPIKey(ctx context.Context, id uuid.UUID, hash []byte, prefix string) error {
	if err := f.write(ctx, func() error { return f.primary.SetAPIKey(ctx, id, hash, prefix) }); err != nil {
		return err
	}
	_ = f.fallback.SetAPIKey(ctx, id, hash, prefix)
	return nil
}

func (f *failoverUsers) TouchLogin(ctx context.Context, id uuid.UUID) error {
	return f.write(ctx, func() error { return f.primary.TouchLogin(ctx, id) })
}

func (f *failoverUsers) Delete(ctx context.Context, id uuid.UUID) error {
	if err := f.write(ctx, func() error { return f.primary.Delete(ctx, id) }); err != nil {
		return err
	}
	_ = f.fallback.Delete(ctx, id)
	return nil
}

// remember keeps the copy in step with u: admins are stored, anyone else is
// dropped. Copy errors are ignored; the primary stays authoritative.
func (f *failoverUsers) remember(ctx context.Context, u *model.User) {
	if u == nil {
		return
	}
	if !u.IsAdmin() {
		_ = f.fallback.Delete(ctx, u.ID)
		return
	}
	c := *u
	if err := f.fallback.Update(ctx, &c); errors.Is(err, errs.ErrNotFound) {
		c.APIKeyHash = nil
		if err := f.fallback.Create(ctx, &c); err != nil {
			return
		}
	}
	_ = f.fallback.SetAPIKey(ctx, u.ID, u.APIKeyHash, u.APIKeyPrefix)
}

// seed copies every admin currently in the primary.
func (f *failoverUsers) seed(ctx context.Context) error {
	users, err := f.primary.List(ctx)
	if err != nil {
		return err
	}
	for i := range users {
		f.remember(ctx, &users[i])
	}
	return nil
}
