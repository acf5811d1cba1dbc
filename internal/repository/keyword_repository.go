package repository

import (
	"autopublisher/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type KeywordRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewKeywordRepository(db sqlx.ExtContext) *KeywordRepositoryImpl {
	return &KeywordRepositoryImpl{db: db}
}

const keywordColumns = `keyword_id, user_id, phrase, priority, state, aux_keywords, notes, created_at, updated_at`

func (r *KeywordRepositoryImpl) Create(ctx context.Context, keyword *models.Keyword) error {
	query := `
		INSERT INTO keywords (` + keywordColumns + `)
		VALUES (:keyword_id, :user_id, :phrase, :priority, :state, :aux_keywords, :notes, :created_at, :updated_at)
	`

	if keyword.KeywordID == "" {
		keyword.KeywordID = uuid.New().String()
	}
	if keyword.State == "" {
		keyword.State = models.KeywordPending
	}
	if keyword.Priority == "" {
		keyword.Priority = models.PriorityMedium
	}
	now := time.Now()
	keyword.CreatedAt = now
	keyword.UpdatedAt = now

	_, err := sqlx.NamedExecContext(ctx, r.db, query, keyword)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return fmt.Errorf("keyword %q: %w", keyword.Phrase, ErrDuplicate)
		}
		return fmt.Errorf("error creating keyword: %w", err)
	}
	return nil
}

func (r *KeywordRepositoryImpl) GetByID(ctx context.Context, keywordID string) (*models.Keyword, error) {
	query := `SELECT ` + keywordColumns + ` FROM keywords WHERE keyword_id = $1`

	var keyword models.Keyword
	err := sqlx.GetContext(ctx, r.db, &keyword, query, keywordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("keyword %s: %w", keywordID, ErrNotFound)
		}
		return nil, fmt.Errorf("error getting keyword: %w", err)
	}
	return &keyword, nil
}

func (r *KeywordRepositoryImpl) NextPending(ctx context.Context, userID string) (*models.Keyword, error) {
	query := `
		SELECT ` + keywordColumns + `
		FROM keywords
		WHERE user_id = $1 AND state = 'pending'
		ORDER BY CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, created_at ASC
		LIMIT 1
	`

	var keyword models.Keyword
	err := sqlx.GetContext(ctx, r.db, &keyword, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pending keyword for %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("error selecting pending keyword: %w", err)
	}
	return &keyword, nil
}

func (r *KeywordRepositoryImpl) UpdateState(ctx context.Context, keywordID string, from []models.KeywordState, to models.KeywordState) error {
	query := `
		UPDATE keywords
		SET state = $1, updated_at = $2
		WHERE keyword_id = $3 AND state = ANY($4)
	`

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	err := requireOneRow(r.db.ExecContext(ctx, query, to, time.Now(), keywordID, pq.Array(states)))
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return fmt.Errorf("keyword %s not in %v: %w", keywordID, from, ErrConflict)
		}
		return fmt.Errorf("error updating keyword state: %w", err)
	}
	return nil
}
