package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/price-tracker/internal/models"
)

const itemColumns = `
	id, user_id, marketplace, article_id, name, current_price, previous_price,
	image_url, target_price, last_notified_price, created_at, updated_at`

// ItemRepository persists tracked items in Postgres.
type ItemRepository struct {
	db *DB
}

func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func scanItem(row pgx.Row) (*models.TrackedItem, error) {
	item := &models.TrackedItem{}
	err := row.Scan(
		&item.ID, &item.UserID, &item.Marketplace, &item.ArticleID, &item.DisplayName,
		&item.CurrentPrice, &item.PreviousPrice, &item.ImageURL,
		&item.TargetPrice, &item.LastNotifiedPrice, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *ItemRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.TrackedItem, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []models.TrackedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return items, nil
}

// FindAll returns every tracked item in stable id order.
func (r *ItemRepository) FindAll(ctx context.Context) ([]models.TrackedItem, error) {
	return r.list(ctx, `SELECT `+itemColumns+` FROM tracked_items ORDER BY id`)
}

func (r *ItemRepository) ListByUser(ctx context.Context, userID int64) ([]models.TrackedItem, error) {
	return r.list(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE user_id = $1 ORDER BY id`, userID)
}

func (r *ItemRepository) FindByID(ctx context.Context, userID, id int64) (*models.TrackedItem, error) {
	item, err := scanItem(r.db.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM tracked_items WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	return item, nil
}

// Upsert inserts the item or refreshes the existing row with the same owner,
// marketplace and article. A nil target keeps the stored one; a changed
// target clears the alert watermark in the same statement.
func (r *ItemRepository) Upsert(ctx context.Context, item *models.TrackedItem) error {
	query := `
		INSERT INTO tracked_items (
			user_id, marketplace, article_id, name, current_price,
			previous_price, image_url, target_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, marketplace, article_id) DO UPDATE SET
			name = EXCLUDED.name,
			current_price = EXCLUDED.current_price,
			previous_price = EXCLUDED.previous_price,
			image_url = EXCLUDED.image_url,
			target_price = COALESCE(EXCLUDED.target_price, tracked_items.target_price),
			last_notified_price = CASE
				WHEN EXCLUDED.target_price IS NOT NULL
					AND tracked_items.target_price IS DISTINCT FROM EXCLUDED.target_price
				THEN NULL
				ELSE tracked_items.last_notified_price
			END,
			updated_at = now()
		RETURNING ` + itemColumns

	saved, err := scanItem(r.db.pool.QueryRow(ctx, query,
		item.UserID, item.Marketplace, item.ArticleID, item.DisplayName, item.CurrentPrice,
		item.PreviousPrice, item.ImageURL, item.TargetPrice,
	))
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.Key(), err)
	}
	*item = *saved
	return nil
}

// SetTargetPrice changes the alert threshold of one item and clears the
// watermark when the value actually changes.
func (r *ItemRepository) SetTargetPrice(ctx context.Context, userID, id int64, target *int64) (*models.TrackedItem, error) {
	query := `
		UPDATE tracked_items SET
			last_notified_price = CASE
				WHEN target_price IS DISTINCT FROM $3 THEN NULL
				ELSE last_notified_price
			END,
			target_price = $3,
			updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING ` + itemColumns

	item, err := scanItem(r.db.pool.QueryRow(ctx, query, id, userID, target))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set target of item %d: %w", id, err)
	}
	return item, nil
}

func (r *ItemRepository) Delete(ctx context.Context, userID, id int64) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM tracked_items WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete item %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrItemNotFound
	}
	return nil
}

// ApplyRefresh stores a refresh result. The watermark is only written while
// the stored target still equals the one the alert was decided against.
func (r *ItemRepository) ApplyRefresh(ctx context.Context, upd models.RefreshUpdate) error {
	return applyRefresh(ctx, r.db.pool, upd)
}

// ApplyRefreshTx is ApplyRefresh inside a caller-owned transaction.
func (r *ItemRepository) ApplyRefreshTx(ctx context.Context, tx pgx.Tx, upd models.RefreshUpdate) error {
	return applyRefresh(ctx, tx, upd)
}

func applyRefresh(ctx context.Context, q querier, upd models.RefreshUpdate) error {
	query := `
		UPDATE tracked_items SET
			name = $2,
			current_price = $3,
			previous_price = $4,
			image_url = $5,
			last_notified_price = CASE
				WHEN $6::bigint IS NOT NULL AND target_price IS NOT DISTINCT FROM $7::bigint THEN $6::bigint
				ELSE last_notified_price
			END,
			updated_at = now()
		WHERE id = $1`

	res := upd.Result
	tag, err := q.Exec(ctx, query,
		upd.ItemID, res.DisplayName, res.CurrentPrice, res.PreviousPrice, res.ImageURL,
		upd.Watermark, upd.TargetSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to apply refresh to item %d: %w", upd.ItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrItemNotFound
	}
	return nil
}
