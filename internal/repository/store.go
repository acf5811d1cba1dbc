package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore implements Store on top of sqlx.
type PostgresStore struct {
	db    *sqlx.DB
	repos *Repository
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, repos: NewRepository(db)}
}

func NewRepository(db sqlx.ExtContext) *Repository {
	return &Repository{
		User:        NewUserRepository(db),
		Credential:  NewCredentialRepository(db),
		Keyword:     NewKeywordRepository(db),
		Post:        NewPostRepository(db),
		Image:       NewImageRepository(db),
		Job:         NewJobRepository(db),
		Schedule:    NewScheduleRepository(db),
		ImageConfig: NewImageConfigRepository(db),
	}
}

func (s *PostgresStore) Repos() *Repository {
	return s.repos
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, NewRepository(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, context.Canceled) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// uniqueViolation reports the constraint name of a postgres unique violation.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

func requireOneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
