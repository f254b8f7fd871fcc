package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/price-tracker/internal/items"
	"github.com/maltedev/price-tracker/internal/models"
)

// ItemService is the item flow the handlers drive.
type ItemService interface {
	EnsureUser(ctx context.Context, u models.User) error
	Add(ctx context.Context, userID int64, raw string, target *int64) (*models.TrackedItem, error)
	List(ctx context.Context, userID int64) ([]models.TrackedItem, error)
	Get(ctx context.Context, userID, id int64) (*models.TrackedItem, error)
	Delete(ctx context.Context, userID, id int64) error
	SetTarget(ctx context.Context, userID, id int64, target *int64) (*models.TrackedItem, error)
	LinkTelegram(ctx context.Context, userID int64, chatID string) error
}

type Handlers struct {
	items  ItemService
	secret []byte
	logger *slog.Logger
}

func NewHandlers(items ItemService, jwtSecret string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		items:  items,
		secret: []byte(jwtSecret),
		logger: logger.With("component", "api"),
	}
}

// AddItemRequest accepts a listing URL or a bare article number.
type AddItemRequest struct {
	URL         string `json:"url"`
	TargetPrice *int64 `json:"target_price,omitempty"`
}

type TargetRequest struct {
	TargetPrice *int64 `json:"target_price"`
}

type TelegramRequest struct {
	ChatID string `json:"chat_id"`
}

func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())

	list, err := h.items.List(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to list items", "error", err, "user_id", user.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if list == nil {
		list = []models.TrackedItem{}
	}
	h.respondJSON(w, http.StatusOK, list)
}

// AddItem extracts the listing immediately and stores it for the caller.
func (h *Handlers) AddItem(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())

	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.items.EnsureUser(r.Context(), user); err != nil {
		h.logger.Error("failed to record user", "error", err, "user_id", user.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to add item")
		return
	}

	item, err := h.items.Add(r.Context(), user.ID, req.URL, req.TargetPrice)
	if errors.Is(err, items.ErrInvalidInput) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to add item", "error", err, "user_id", user.ID, "input", req.URL)
		h.respondError(w, http.StatusBadGateway, "could not read the listing, try again later")
		return
	}
	h.respondJSON(w, http.StatusCreated, item)
}

func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}

	item, err := h.items.Get(r.Context(), user.ID, id)
	if errors.Is(err, models.ErrItemNotFound) {
		h.respondError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load item", "error", err, "item_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	h.respondJSON(w, http.StatusOK, item)
}

func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}

	err := h.items.Delete(r.Context(), user.ID, id)
	if errors.Is(err, models.ErrItemNotFound) {
		h.respondError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete item", "error", err, "item_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetTarget replaces the alert threshold; a null target stops alerts.
func (h *Handlers) SetTarget(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}

	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.items.SetTarget(r.Context(), user.ID, id, req.TargetPrice)
	switch {
	case errors.Is(err, items.ErrInvalidInput):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrItemNotFound):
		h.respondError(w, http.StatusNotFound, "item not found")
	case err != nil:
		h.logger.Error("failed to set target", "error", err, "item_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to set target price")
	default:
		h.respondJSON(w, http.StatusOK, item)
	}
}

func (h *Handlers) LinkTelegram(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())

	var req TelegramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.items.EnsureUser(r.Context(), user); err != nil {
		h.logger.Error("failed to record user", "error", err, "user_id", user.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to link telegram")
		return
	}

	err := h.items.LinkTelegram(r.Context(), user.ID, req.ChatID)
	if errors.Is(err, items.ErrInvalidInput) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to link telegram", "error", err, "user_id", user.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to link telegram")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
