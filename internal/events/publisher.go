package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/models"
)

type EventType string

const (
	// EventTypePriceChanged is published when a refresh stores a new price.
	EventTypePriceChanged EventType = "PRICE_CHANGED"
	// EventTypePriceAlert is published when an alert was delivered.
	EventTypePriceAlert EventType = "PRICE_ALERT"

	aggregateType = "tracked_item"
	source        = "refresh"
)

type PriceChangedPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	ItemID      int64     `json:"item_id"`
	Marketplace string    `json:"marketplace"`
	ArticleID   string    `json:"article_id"`
	Name        string    `json:"name"`
	OldPrice    int64     `json:"old_price"`
	NewPrice    int64     `json:"new_price"`
	ListPrice   int64     `json:"list_price,omitempty"`
	Source      string    `json:"source"`
}

type PriceAlertPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	ItemID      int64     `json:"item_id"`
	Marketplace string    `json:"marketplace"`
	ArticleID   string    `json:"article_id"`
	Price       int64     `json:"price"`
	TargetPrice *int64    `json:"target_price,omitempty"`
	Source      string    `json:"source"`
}

type txRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type itemRepo interface {
	FindAll(ctx context.Context) ([]models.TrackedItem, error)
	ApplyRefreshTx(ctx context.Context, tx pgx.Tx, upd models.RefreshUpdate) error
}

type outboxRepo interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Store persists refresh results and records the price events they cause in
// the same transaction, so the relay never publishes a change that was
// rolled back.
type Store struct {
	db     txRunner
	items  itemRepo
	outbox outboxRepo
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(db *database.DB, logger *slog.Logger) *Store {
	return newStore(db, database.NewItemRepository(db), database.NewOutboxRepository(db), logger)
}

func newStore(db txRunner, items itemRepo, outbox outboxRepo, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		items:  items,
		outbox: outbox,
		logger: logger.With("component", "event_publisher"),
		now:    time.Now,
	}
}

func (s *Store) FindAll(ctx context.Context) ([]models.TrackedItem, error) {
	return s.items.FindAll(ctx)
}

func (s *Store) ApplyRefresh(ctx context.Context, upd models.RefreshUpdate) error {
	events, err := s.Build(upd)
	if err != nil {
		return err
	}

	err = s.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := s.items.ApplyRefreshTx(ctx, tx, upd); err != nil {
			return err
		}
		for _, e := range events {
			if err := s.outbox.InsertWithTx(ctx, tx, e); err != nil {
				return fmt.Errorf("failed to insert outbox event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range events {
		s.logger.Debug("event published to outbox",
			"type", e.EventType,
			"item_id", upd.ItemID,
			"outbox_id", e.ID)
	}
	return nil
}

// Build returns the outbox events a refresh update produces: PRICE_CHANGED
// when the stored price moves and PRICE_ALERT when an alert went out.
func (s *Store) Build(upd models.RefreshUpdate) ([]*database.OutboxEvent, error) {
	var out []*database.OutboxEvent
	now := s.now()
	id := strconv.FormatInt(upd.ItemID, 10)

	if upd.Result.CurrentPrice != upd.LastPrice {
		e, err := newEvent(id, EventTypePriceChanged, &PriceChangedPayload{
			EventID:     uuid.NewString(),
			EventType:   string(EventTypePriceChanged),
			Timestamp:   now,
			ItemID:      upd.ItemID,
			Marketplace: upd.Result.Marketplace,
			ArticleID:   upd.Result.ArticleID,
			Name:        upd.Result.DisplayName,
			OldPrice:    upd.LastPrice,
			NewPrice:    upd.Result.CurrentPrice,
			ListPrice:   upd.Result.PreviousPrice,
			Source:      source,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	if upd.Watermark != nil {
		e, err := newEvent(id, EventTypePriceAlert, &PriceAlertPayload{
			EventID:     uuid.NewString(),
			EventType:   string(EventTypePriceAlert),
			Timestamp:   now,
			ItemID:      upd.ItemID,
			Marketplace: upd.Result.Marketplace,
			ArticleID:   upd.Result.ArticleID,
			Price:       *upd.Watermark,
			TargetPrice: models.ClonePrice(upd.TargetSeen),
			Source:      source,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func newEvent(aggregateID string, t EventType, payload interface{}) (*database.OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(t),
		Payload:       data,
		TargetStream:  database.DefaultStream,
	}, nil
}
