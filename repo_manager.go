package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Organizations() repository.Repository[*Organization]
	Roles() Roles
}

// Roles adds role-specific lookups on top of the generic repository.
type Roles interface {
	repository.Repository[*Role]
	PermissionsFor(ctx context.Context, id uuid.UUID) ([]string, error)
}

func NewOrganizationsRepository(db *bun.DB) repository.Repository[*Organization] {
	handlers := repository.ModelHandlers[*Organization]{
		NewRecord: func() *Organization {
			return &Organization{}
		},
		GetID: func(record *Organization) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Organization, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "name"
		},
	}
	return repository.NewRepository(db, handlers)
}

type roles struct {
	repository.Repository[*Role]
	db *bun.DB
}

func NewRolesRepository(db *bun.DB) Roles {
	handlers := repository.ModelHandlers[*Role]{
		NewRecord: func() *Role {
			return &Role{}
		},
		GetID: func(record *Role) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Role, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "name"
		},
	}
	return &roles{
		Repository: repository.NewRepository(db, handlers),
		db:         db,
	}
}

// PermissionsFor resolves the permission set held by a role.
func (r *roles) PermissionsFor(ctx context.Context, id uuid.UUID) ([]string, error) {
	record, err := r.Repository.GetByID(ctx, id.String())
	if err != nil {
		return nil, err
	}
	return record.Permissions, nil
}

type mngr struct {
	db            *bun.DB
	users         Users
	organizations repository.Repository[*Organization]
	roles         Roles
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:            db,
		users:         NewUsersRepository(db),
		organizations: NewOrganizationsRepository(db),
		roles:         NewRolesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.organizations == nil {
		return errors.New("repository organizations should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Organizations() repository.Repository[*Organization] {
	return m.organizations
}

func (m mngr) Roles() Roles {
	return m.roles
}
