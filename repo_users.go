package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ResetUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"reset_token" = '',
	"reset_token_expires_at" = NULL
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// Users is the directory surface the session issuer depends on, plus the
// generic repository operations.
type Users interface {
	repository.Repository[*User]

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByIDInOrg(ctx context.Context, orgID, id uuid.UUID) (*User, error)
	GetByResetToken(ctx context.Context, token string) (*User, error)
	GetByInviteToken(ctx context.Context, token string) (*User, error)

	StoreRefreshToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	// RotateRefreshToken swaps the stored refresh token for next only when the
	// stored value still equals presented. Returns false when the compare
	// failed, which means the presented token lost a rotation race or was
	// already rotated out.
	RotateRefreshToken(ctx context.Context, id uuid.UUID, presented, next string, expiresAt time.Time) (bool, error)
	// ClearRefreshToken removes the stored refresh session. A non-empty match
	// only clears when the stored token equals it, so a stale logout cannot
	// tear down a newer session.
	ClearRefreshToken(ctx context.Context, id uuid.UUID, match string) error

	SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	SetInviteToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	ClearInviteToken(ctx context.Context, id uuid.UUID) error
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	SetActive(ctx context.Context, id uuid.UUID, active bool) (*User, error)

	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackSucccessfulLogin(ctx context.Context, user *User) error

	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().Model(record).
		Where("LOWER(?TableAlias.email) = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": NormalizeEmail(email)})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) GetByIDInOrg(ctx context.Context, orgID, id uuid.UUID) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().Model(record).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.organization_id = ?", orgID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id":              id.String(),
					"organization_id": orgID.String(),
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) GetByResetToken(ctx context.Context, token string) (*User, error) {
	return a.getByTokenColumn(ctx, "reset_token", token)
}

func (a *users) GetByInviteToken(ctx context.Context, token string) (*User, error) {
	return a.getByTokenColumn(ctx, "invite_token", token)
}

func (a *users) getByTokenColumn(ctx context.Context, column, token string) (*User, error) {
	if token == "" {
		return nil, repository.NewRecordNotFound()
	}

	record := &User{}
	err := a.db.NewSelect().Model(record).
		Where("?TableAlias."+column+" = ?", token).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return record, nil
}

func (a *users) StoreRefreshToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"refresh_token" = ?,
			"refresh_token_expires_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, token, expiresAt, id).Exec(ctx)

	return err
}

func (a *users) RotateRefreshToken(ctx context.Context, id uuid.UUID, presented, next string, expiresAt time.Time) (bool, error) {
	// Compare-and-swap on the stored token value. Two concurrent refreshes
	// racing on the same stale token cannot both win: the losing UPDATE
	// matches zero rows.
	res, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"refresh_token" = ?,
			"refresh_token_expires_at" = ?
		WHERE
			("usr".id = ?)
			AND ("usr"."refresh_token" = ?)
			AND "usr"."deleted_at" IS NULL;
	`, next, expiresAt, id, presented).Exec(ctx)

	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (a *users) ClearRefreshToken(ctx context.Context, id uuid.UUID, match string) error {
	q := a.db.NewUpdate().Model((*User)(nil)).
		Set("refresh_token = ''").
		Set("refresh_token_expires_at = NULL").
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL")

	if match != "" {
		q = q.Where("?TableAlias.refresh_token = ?", match)
	}

	_, err := q.Exec(ctx)
	return err
}

func (a *users) SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	_, err := a.db.NewUpdate().Model((*User)(nil)).
		Set("reset_token = ?", token).
		Set("reset_token_expires_at = ?", expiresAt).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	return err
}

func (a *users) SetInviteToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	_, err := a.db.NewUpdate().Model((*User)(nil)).
		Set("invite_token = ?", token).
		Set("invite_token_expires_at = ?", expiresAt).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	return err
}

func (a *users) ClearInviteToken(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.NewUpdate().Model((*User)(nil)).
		Set("invite_token = ''").
		Set("invite_token_expires_at = NULL").
		Set("is_active = ?", true).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	return err
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, ResetUserPasswordSQL, passwordHash, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *users) SetActive(ctx context.Context, id uuid.UUID, active bool) (*User, error) {
	// Direct UPDATE, the ORM update path skips zero-value fields and would
	// never persist active=false.
	_, err := a.db.NewUpdate().Model((*User)(nil)).
		Set("is_active = ?", active).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return a.Repository.GetByID(ctx, id.String())
}

func (a *users) TrackSucccessfulLogin(ctx context.Context, user *User) error {
	// NOTE: Updating using the ORM fails due to a bug, it wont reset
	// login_attempt_at, login_attempts fields.
	loggedInAt := time.Now()
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, loggedInAt, user.ID).Exec(ctx)

	return err
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) error {
	record := &User{}
	record.ID = user.ID
	record.LoginAttempts = user.LoginAttempts + 1
	now := time.Now()
	record.LoginAttemptAt = &now

	_, err := a.Repository.Update(ctx, record, repository.UpdateByID(user.ID.String()))

	return err
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
