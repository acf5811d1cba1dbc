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
)

type UserRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewUserRepository(db sqlx.ExtContext) *UserRepositoryImpl {
	return &UserRepositoryImpl{db: db}
}

func (r *UserRepositoryImpl) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (user_id, email, role, is_active, daily_limit, preferred_image_provider, created_at)
		VALUES (:user_id, :email, :role, :is_active, :daily_limit, :preferred_image_provider, :created_at)
	`

	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	_, err := sqlx.NamedExecContext(ctx, r.db, query, user)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return fmt.Errorf("user %s: %w", user.Email, ErrDuplicate)
		}
		return fmt.Errorf("error creating user: %w", err)
	}

	return nil
}

func (r *UserRepositoryImpl) GetByID(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT user_id, email, role, is_active, daily_limit, preferred_image_provider, created_at
		FROM users
		WHERE user_id = $1
	`

	var user models.User
	err := sqlx.GetContext(ctx, r.db, &user, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	return &user, nil
}

type CredentialRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewCredentialRepository(db sqlx.ExtContext) *CredentialRepositoryImpl {
	return &CredentialRepositoryImpl{db: db}
}

func (r *CredentialRepositoryImpl) Upsert(ctx context.Context, cred *models.ProviderCredential) error {
	query := `
		INSERT INTO provider_credentials (user_id, provider, secret, validated_at, created_at, updated_at)
		VALUES (:user_id, :provider, :secret, :validated_at, :created_at, :updated_at)
		ON CONFLICT (user_id, provider)
		DO UPDATE SET secret = EXCLUDED.secret, validated_at = EXCLUDED.validated_at, updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	if _, err := sqlx.NamedExecContext(ctx, r.db, query, cred); err != nil {
		return fmt.Errorf("error saving %s credential: %w", cred.Provider, err)
	}
	return nil
}

func (r *CredentialRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]models.ProviderCredential, error) {
	query := `
		SELECT user_id, provider, secret, validated_at, created_at, updated_at
		FROM provider_credentials
		WHERE user_id = $1
		ORDER BY provider
	`

	var creds []models.ProviderCredential
	if err := sqlx.SelectContext(ctx, r.db, &creds, query, userID); err != nil {
		return nil, fmt.Errorf("error listing credentials: %w", err)
	}
	return creds, nil
}
