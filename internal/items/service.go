package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/maltedev/price-tracker/internal/extractor"
	"github.com/maltedev/price-tracker/internal/marketplace"
	"github.com/maltedev/price-tracker/internal/models"
)

// ErrInvalidInput marks requests that can never succeed as sent: no
// article in the input, an unsupported shop or a negative target.
var ErrInvalidInput = errors.New("invalid input")

type Store interface {
	Upsert(ctx context.Context, item *models.TrackedItem) error
	ListByUser(ctx context.Context, userID int64) ([]models.TrackedItem, error)
	FindByID(ctx context.Context, userID, id int64) (*models.TrackedItem, error)
	SetTargetPrice(ctx context.Context, userID, id int64, target *int64) (*models.TrackedItem, error)
	Delete(ctx context.Context, userID, id int64) error
}

type UserStore interface {
	UpsertUser(ctx context.Context, u models.User) error
	LinkTelegram(ctx context.Context, userID int64, chatID string) error
}

type Refresher interface {
	RefreshInput(ctx context.Context, raw string) (models.RefreshResult, error)
}

// Service is what the HTTP layer calls to manage a user's tracked items.
type Service struct {
	store     Store
	users     UserStore
	refresher Refresher
	logger    *slog.Logger
}

func NewService(store Store, users UserStore, refresher Refresher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		users:     users,
		refresher: refresher,
		logger:    logger.With("component", "items"),
	}
}

// EnsureUser records an authenticated user so items can reference it.
func (s *Service) EnsureUser(ctx context.Context, u models.User) error {
	return s.users.UpsertUser(ctx, u)
}

// Add reads the listing behind raw right away and stores it for the user.
// Adding a listing that is already tracked refreshes it instead.
func (s *Service) Add(ctx context.Context, userID int64, raw string, target *int64) (*models.TrackedItem, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: url or article is required", ErrInvalidInput)
	}
	if err := checkTarget(target); err != nil {
		return nil, err
	}

	res, err := s.refresher.RefreshInput(ctx, raw)
	if err != nil {
		if isInputError(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("failed to read listing: %w", err)
	}

	item := &models.TrackedItem{
		UserID:      userID,
		Marketplace: res.Marketplace,
		ArticleID:   res.ArticleID,
		TargetPrice: models.ClonePrice(target),
	}
	item.Apply(res)

	if err := s.store.Upsert(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("item tracked",
		"user_id", userID,
		"item_id", item.ID,
		"marketplace", item.Marketplace,
		"article", item.ArticleID,
		"price", item.CurrentPrice)
	return item, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]models.TrackedItem, error) {
	return s.store.ListByUser(ctx, userID)
}

// Get returns one of the user's items; items of other users are not found.
func (s *Service) Get(ctx context.Context, userID, id int64) (*models.TrackedItem, error) {
	return s.store.FindByID(ctx, userID, id)
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	return s.store.Delete(ctx, userID, id)
}

// SetTarget changes or removes (nil) the alert threshold of an item.
func (s *Service) SetTarget(ctx context.Context, userID, id int64, target *int64) (*models.TrackedItem, error) {
	if err := checkTarget(target); err != nil {
		return nil, err
	}
	return s.store.SetTargetPrice(ctx, userID, id, target)
}

func (s *Service) LinkTelegram(ctx context.Context, userID int64, chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID != "" {
		if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
			return fmt.Errorf("%w: telegram chat id must be numeric", ErrInvalidInput)
		}
	}
	return s.users.LinkTelegram(ctx, userID, chatID)
}

func checkTarget(target *int64) error {
	if target != nil && *target < 0 {
		return fmt.Errorf("%w: target price must not be negative", ErrInvalidInput)
	}
	return nil
}

func isInputError(err error) bool {
	return errors.Is(err, extractor.ErrArticleNotFound) ||
		errors.Is(err, marketplace.ErrUnknownMarketplace) ||
		errors.Is(err, marketplace.ErrNoArticle)
}
