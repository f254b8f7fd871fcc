package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/price-tracker/internal/models"
)

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindOwner(ctx context.Context, userID int64) (*models.User, error) {
	u := &models.User{}
	var email *string
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, email, telegram_chat_id FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &email, &u.TelegramChatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	if email != nil {
		u.Email = *email
	}
	return u, nil
}

// UpsertUser makes sure a row exists for an authenticated user so items can
// reference it. Accounts themselves are managed by the auth service.
func (r *UserRepository) UpsertUser(ctx context.Context, u models.User) error {
	var email *string
	if u.Email != "" {
		email = &u.Email
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(EXCLUDED.email, users.email),
			updated_at = now()`,
		u.ID, email)
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", u.ID, err)
	}
	return nil
}

// LinkTelegram sets the chat alerts are delivered to. An empty chat id
// unlinks it.
func (r *UserRepository) LinkTelegram(ctx context.Context, userID int64, chatID string) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE users SET telegram_chat_id = $2, updated_at = now() WHERE id = $1`,
		userID, chatID)
	if err != nil {
		return fmt.Errorf("failed to link telegram for user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	return nil
}
