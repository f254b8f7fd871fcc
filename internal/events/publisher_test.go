package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/models"
)

// fakeTx runs fn without a real transaction and remembers whether the
// callback asked for a rollback.
type fakeTx struct {
	rolledBack bool
}

func (f *fakeTx) Transaction(_ context.Context, fn func(pgx.Tx) error) error {
	err := fn(nil)
	f.rolledBack = err != nil
	return err
}

type MockItems struct {
	mock.Mock
}

func (m *MockItems) FindAll(ctx context.Context) ([]models.TrackedItem, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]models.TrackedItem)
	return items, args.Error(1)
}

func (m *MockItems) ApplyRefreshTx(ctx context.Context, _ pgx.Tx, upd models.RefreshUpdate) error {
	return m.Called(ctx, upd.ItemID).Error(0)
}

type recordingOutbox struct {
	events []*database.OutboxEvent
	err    error
}

func (r *recordingOutbox) InsertWithTx(_ context.Context, _ pgx.Tx, e *database.OutboxEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func update(last, fresh int64, watermark *int64) models.RefreshUpdate {
	return models.RefreshUpdate{
		ItemID:     12,
		LastPrice:  last,
		Watermark:  watermark,
		TargetSeen: models.Price(1000),
		Result: models.RefreshResult{
			Marketplace:   "wildberries",
			ArticleID:     "123456",
			DisplayName:   "Кроссовки",
			CurrentPrice:  fresh,
			PreviousPrice: 2500,
		},
	}
}

func TestBuild(t *testing.T) {
	s := newStore(&fakeTx{}, new(MockItems), &recordingOutbox{}, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	tests := []struct {
		name  string
		upd   models.RefreshUpdate
		types []string
	}{
		{"unchanged price", update(1200, 1200, nil), nil},
		{"price moved", update(1200, 990, nil), []string{"PRICE_CHANGED"}},
		{"alert only", update(990, 990, models.Price(990)), []string{"PRICE_ALERT"}},
		{"moved and alerted", update(1200, 990, models.Price(990)), []string{"PRICE_CHANGED", "PRICE_ALERT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := s.Build(tt.upd)
			require.NoError(t, err)

			var types []string
			for _, e := range events {
				types = append(types, e.EventType)
				assert.Equal(t, "tracked_item", e.AggregateType)
				assert.Equal(t, "12", e.AggregateID)
				assert.Equal(t, database.DefaultStream, e.TargetStream)
			}
			assert.Equal(t, tt.types, types)
		})
	}
}

func TestBuildPayloads(t *testing.T) {
	s := newStore(&fakeTx{}, new(MockItems), &recordingOutbox{}, nil)
	events, err := s.Build(update(1200, 990, models.Price(990)))
	require.NoError(t, err)
	require.Len(t, events, 2)

	var changed PriceChangedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &changed))
	assert.Equal(t, int64(1200), changed.OldPrice)
	assert.Equal(t, int64(990), changed.NewPrice)
	assert.Equal(t, int64(2500), changed.ListPrice)
	assert.Equal(t, "123456", changed.ArticleID)
	assert.NotEmpty(t, changed.EventID)

	var alert PriceAlertPayload
	require.NoError(t, json.Unmarshal(events[1].Payload, &alert))
	assert.Equal(t, int64(990), alert.Price)
	require.NotNil(t, alert.TargetPrice)
	assert.Equal(t, int64(1000), *alert.TargetPrice)
}

func TestApplyRefreshWritesEventsInTransaction(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	items := new(MockItems)
	items.On("ApplyRefreshTx", ctx, int64(12)).Return(nil)
	outbox := &recordingOutbox{}

	s := newStore(tx, items, outbox, nil)
	require.NoError(t, s.ApplyRefresh(ctx, update(1200, 990, nil)))

	require.Len(t, outbox.events, 1)
	assert.Equal(t, "PRICE_CHANGED", outbox.events[0].EventType)
	assert.False(t, tx.rolledBack)
}

func TestApplyRefreshRollsBack(t *testing.T) {
	ctx := context.Background()

	t.Run("item missing", func(t *testing.T) {
		tx := &fakeTx{}
		items := new(MockItems)
		items.On("ApplyRefreshTx", ctx, int64(12)).Return(models.ErrItemNotFound)
		outbox := &recordingOutbox{}

		err := newStore(tx, items, outbox, nil).ApplyRefresh(ctx, update(1200, 990, nil))
		assert.ErrorIs(t, err, models.ErrItemNotFound)
		assert.Empty(t, outbox.events)
		assert.True(t, tx.rolledBack)
	})

	t.Run("outbox insert fails", func(t *testing.T) {
		tx := &fakeTx{}
		items := new(MockItems)
		items.On("ApplyRefreshTx", ctx, int64(12)).Return(nil)

		err := newStore(tx, items, &recordingOutbox{err: errors.New("disk full")}, nil).
			ApplyRefresh(ctx, update(1200, 990, nil))
		assert.ErrorContains(t, err, "disk full")
		assert.True(t, tx.rolledBack)
	})
}

func TestFindAllDelegates(t *testing.T) {
	ctx := context.Background()
	items := new(MockItems)
	items.On("FindAll", ctx).Return([]models.TrackedItem{{ID: 1}}, nil)

	got, err := newStore(&fakeTx{}, items, &recordingOutbox{}, nil).FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
