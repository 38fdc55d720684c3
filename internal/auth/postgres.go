package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ UserStore = (*PGUserStore)(nil)

const uniqueViolation = "23505"

const userColumns = `id, name, surname, email, password_hash, level, status, created_at, updated_at`

// PGUserStore implements UserStore using PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	row := s.db.QueryRowContext(ctx,
		`insert into users(name, surname, email, password_hash, level, status)
		 values($1,$2,$3,$4,$5,$6)
		 returning id, created_at, updated_at`,
		u.Name, u.Surname, u.Email, u.PasswordHash, u.Level, u.Status,
	)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *PGUserStore) FindByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *PGUserStore) FindForLogin(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users
		 where email=$1 and name <> '' and password_hash <> ''`, email))
}

func (s *PGUserStore) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`update users set
		   name = coalesce($2, name),
		   surname = coalesce($3, surname),
		   updated_at = now()
		 where id=$1
		 returning `+userColumns,
		id, upd.Name, upd.Surname))
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Surname, &u.Email, &u.PasswordHash,
		&u.Level, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
