package todo

import (
	"context"
	"database/sql"
	"errors"
)

var _ Store = (*PGStore)(nil)

const todoColumns = `id, user_id, title, description, completed, created_at, updated_at`

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) List(ctx context.Context, userID int64) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+todoColumns+` from todos where user_id=$1 order by id asc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []Todo{}
	for rows.Next() {
		var t Todo
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *PGStore) Create(ctx context.Context, t *Todo) error {
	return s.db.QueryRowContext(ctx,
		`insert into todos(user_id, title, description, completed)
		 values($1,$2,$3,$4)
		 returning id, created_at, updated_at`,
		t.UserID, t.Title, t.Description, t.Completed,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (s *PGStore) Get(ctx context.Context, userID, id int64) (*Todo, error) {
	return scanTodo(s.db.QueryRowContext(ctx,
		`select `+todoColumns+` from todos where id=$1 and user_id=$2`, id, userID))
}

func (s *PGStore) Update(ctx context.Context, userID, id int64, p Patch) (*Todo, error) {
	return scanTodo(s.db.QueryRowContext(ctx,
		`update todos set
		   title = coalesce($3, title),
		   description = coalesce($4, description),
		   completed = coalesce($5, completed),
		   updated_at = now()
		 where id=$1 and user_id=$2
		 returning `+todoColumns,
		id, userID, p.Title, p.Description, p.Completed))
}

func (s *PGStore) Delete(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from todos where id=$1 and user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTodo(row *sql.Row) (*Todo, error) {
	var t Todo
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
