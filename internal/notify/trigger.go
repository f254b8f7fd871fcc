package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/maltedev/price-tracker/internal/marketplace"
	"github.com/maltedev/price-tracker/internal/metrics"
	"github.com/maltedev/price-tracker/internal/models"
)

type Decision int

const (
	Skip Decision = iota
	Fire
)

func (d Decision) String() string {
	if d == Fire {
		return "fire"
	}
	return "skip"
}

// Evaluate decides whether a fresh price alerts the owner of item. It fires
// when a target is set, the price is at or below it, and the price is lower
// than the last one alerted for.
func Evaluate(item models.TrackedItem, fresh int64) Decision {
	if item.TargetPrice == nil || fresh > *item.TargetPrice {
		return Skip
	}
	if item.LastNotifiedPrice != nil && fresh >= *item.LastNotifiedPrice {
		return Skip
	}
	return Fire
}

// Sink delivers a formatted message to a destination such as a chat id.
type Sink interface {
	Notify(ctx context.Context, destination, text string) error
}

type OwnerFinder interface {
	FindOwner(ctx context.Context, userID int64) (*models.User, error)
}

// Trigger turns fired decisions into messages for item owners.
type Trigger struct {
	owners   OwnerFinder
	sink     Sink
	registry *marketplace.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewTrigger(owners OwnerFinder, sink Sink, registry *marketplace.Registry, m *metrics.Metrics, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		owners:   owners,
		sink:     sink,
		registry: registry,
		metrics:  m,
		logger:   logger.With("component", "notify"),
	}
}

// Process evaluates a refresh of item and notifies the owner when it fires.
// It returns the watermark to persist, nil when it must stay unchanged. Only
// storage failures are returned as errors; delivery failures are logged.
func (t *Trigger) Process(ctx context.Context, item models.TrackedItem, res models.RefreshResult) (*int64, error) {
	if Evaluate(item, res.CurrentPrice) == Skip {
		return nil, nil
	}

	owner, err := t.owners.FindOwner(ctx, item.UserID)
	if errors.Is(err, models.ErrUserNotFound) {
		t.logger.Warn("item owner not found", "item_id", item.ID, "user_id", item.UserID)
		t.metrics.Alert("no_channel")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find owner of item %d: %w", item.ID, err)
	}

	if !owner.HasDeliveryChannel() {
		t.logger.Debug("owner has no delivery channel", "item_id", item.ID, "user_id", owner.ID)
		t.metrics.Alert("no_channel")
		return nil, nil
	}

	msg := t.Message(item, res)
	if err := t.sink.Notify(ctx, owner.TelegramChatID, msg); err != nil {
		t.logger.Error("failed to deliver price alert",
			"item_id", item.ID,
			"user_id", owner.ID,
			"price", res.CurrentPrice,
			"error", err)
		t.metrics.Alert("failed")
		return nil, nil
	}

	t.logger.Info("price alert delivered",
		"item_id", item.ID,
		"user_id", owner.ID,
		"price", res.CurrentPrice,
		"target", *item.TargetPrice)
	t.metrics.Alert("sent")
	return models.Price(res.CurrentPrice), nil
}

// Message renders the HTML alert for a price drop.
func (t *Trigger) Message(item models.TrackedItem, res models.RefreshResult) string {
	name := res.DisplayName
	if name == "" {
		name = item.DisplayName
	}

	var b strings.Builder
	b.WriteString("🔔 <b>Снижение цены!</b>\n")
	fmt.Fprintf(&b, "<b>Товар:</b> %s\n", html.EscapeString(name))
	fmt.Fprintf(&b, "<b>Новая цена:</b> %d ₽\n", res.CurrentPrice)
	if item.TargetPrice != nil {
		fmt.Fprintf(&b, "<b>Ваш порог:</b> %d ₽\n", *item.TargetPrice)
	}
	if link := t.listingURL(item); link != "" {
		fmt.Fprintf(&b, `<a href="%s">Перейти к товару</a>`, html.EscapeString(link))
	}
	return b.String()
}

func (t *Trigger) listingURL(item models.TrackedItem) string {
	if t.registry == nil {
		return ""
	}
	m, err := t.registry.Lookup(item.Marketplace)
	if err != nil {
		return ""
	}
	return m.ListingURL(item.ArticleID)
}
