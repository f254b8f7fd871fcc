package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/models"
)

func seedUser(t *testing.T, db *DB, id int64, chat string) {
	t.Helper()
	users := NewUserRepository(db)
	require.NoError(t, users.UpsertUser(context.Background(), models.User{ID: id}))
	if chat != "" {
		require.NoError(t, users.LinkTelegram(context.Background(), id, chat))
	}
}

func TestItemRepository_UpsertIsKeyedByOwnerMarketplaceArticle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()
	seedUser(t, db, 1, "")
	seedUser(t, db, 2, "")

	repo := NewItemRepository(db)

	first := &models.TrackedItem{UserID: 1, Marketplace: "wildberries", ArticleID: "100", DisplayName: "A", CurrentPrice: 500}
	require.NoError(t, repo.Upsert(ctx, first))
	require.NotZero(t, first.ID)

	again := &models.TrackedItem{UserID: 1, Marketplace: "wildberries", ArticleID: "100", DisplayName: "A2", CurrentPrice: 450}
	require.NoError(t, repo.Upsert(ctx, again))
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "A2", again.DisplayName)

	other := &models.TrackedItem{UserID: 2, Marketplace: "wildberries", ArticleID: "100", DisplayName: "A", CurrentPrice: 500}
	require.NoError(t, repo.Upsert(ctx, other))
	assert.NotEqual(t, first.ID, other.ID)

	ozon := &models.TrackedItem{UserID: 1, Marketplace: "ozon", ArticleID: "100", DisplayName: "O", CurrentPrice: 700}
	require.NoError(t, repo.Upsert(ctx, ozon))
	assert.NotEqual(t, first.ID, ozon.ID)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestItemRepository_TargetChangeClearsWatermark(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()
	seedUser(t, db, 1, "")

	repo := NewItemRepository(db)
	item := &models.TrackedItem{UserID: 1, Marketplace: "wildberries", ArticleID: "7", DisplayName: "X", CurrentPrice: 900, TargetPrice: models.Price(1000)}
	require.NoError(t, repo.Upsert(ctx, item))

	require.NoError(t, repo.ApplyRefresh(ctx, models.RefreshUpdate{
		ItemID:     item.ID,
		Result:     models.RefreshResult{DisplayName: "X", CurrentPrice: 900},
		Watermark:  models.Price(900),
		TargetSeen: models.Price(1000),
	}))

	got, err := repo.FindByID(ctx, 1, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastNotifiedPrice)
	assert.Equal(t, int64(900), *got.LastNotifiedPrice)

	// same target keeps the watermark
	got, err = repo.SetTargetPrice(ctx, 1, item.ID, models.Price(1000))
	require.NoError(t, err)
	assert.NotNil(t, got.LastNotifiedPrice)

	// new target clears it
	got, err = repo.SetTargetPrice(ctx, 1, item.ID, models.Price(800))
	require.NoError(t, err)
	assert.Nil(t, got.LastNotifiedPrice)
	assert.Equal(t, int64(800), *got.TargetPrice)

	_, err = repo.SetTargetPrice(ctx, 2, item.ID, nil)
	assert.ErrorIs(t, err, models.ErrItemNotFound)
}

func TestItemRepository_ReAddWithoutTargetKeepsTarget(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()
	seedUser(t, db, 1, "")

	repo := NewItemRepository(db)
	item := &models.TrackedItem{UserID: 1, Marketplace: "wildberries", ArticleID: "7", DisplayName: "X", CurrentPrice: 900, TargetPrice: models.Price(1000)}
	require.NoError(t, repo.Upsert(ctx, item))

	again := &models.TrackedItem{UserID: 1, Marketplace: "wildberries", ArticleID: "7", DisplayName: "X", CurrentPrice: 880}
	require.NoError(t, repo.Upsert(ctx, again))
	require.NotNil(t, again.TargetPrice)
	assert.Equal(t, int64(1000), *again.TargetPrice)
}

func TestItemRepository_WatermarkSkippedWhenTargetMoved(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()
	seedUser(t, db, 1, "")

	repo := NewItemRepository(db)
	item := &models.TrackedItem{UserID: 1, Marketplace: "wildberries", ArticleID: "7", DisplayName: "X", CurrentPrice: 900, TargetPrice: models.Price(1000)}
	require.NoError(t, repo.Upsert(ctx, item))

	// target lowered while the cycle was evaluating against 1000
	_, err := repo.SetTargetPrice(ctx, 1, item.ID, models.Price(500))
	require.NoError(t, err)

	require.NoError(t, repo.ApplyRefresh(ctx, models.RefreshUpdate{
		ItemID:     item.ID,
		Result:     models.RefreshResult{DisplayName: "X", CurrentPrice: 900},
		Watermark:  models.Price(900),
		TargetSeen: models.Price(1000),
	}))

	got, err := repo.FindByID(ctx, 1, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastNotifiedPrice)
	assert.Equal(t, int64(900), got.CurrentPrice)
}

func TestItemRepository_DeleteAndMissing(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()
	seedUser(t, db, 1, "")

	repo := NewItemRepository(db)
	item := &models.TrackedItem{UserID: 1, Marketplace: "wildberries", ArticleID: "7", DisplayName: "X", CurrentPrice: 1}
	require.NoError(t, repo.Upsert(ctx, item))

	assert.ErrorIs(t, repo.Delete(ctx, 2, item.ID), models.ErrItemNotFound)
	require.NoError(t, repo.Delete(ctx, 1, item.ID))
	assert.ErrorIs(t, repo.Delete(ctx, 1, item.ID), models.ErrItemNotFound)

	err := repo.ApplyRefresh(ctx, models.RefreshUpdate{ItemID: item.ID})
	assert.ErrorIs(t, err, models.ErrItemNotFound)
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	users := NewUserRepository(db)
	_, err := users.FindOwner(ctx, 5)
	assert.ErrorIs(t, err, models.ErrUserNotFound)
	assert.ErrorIs(t, users.LinkTelegram(ctx, 5, "1"), models.ErrUserNotFound)

	require.NoError(t, users.UpsertUser(ctx, models.User{ID: 5, Email: "a@b.c"}))
	require.NoError(t, users.LinkTelegram(ctx, 5, "123456"))

	u, err := users.FindOwner(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", u.Email)
	assert.True(t, u.HasDeliveryChannel())
}
