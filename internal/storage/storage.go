package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
)

// snapshot is the on-disk layout of a FileStore.
type snapshot struct {
	NextID int64                         `json:"next_id"`
	Users  map[int64]*models.User        `json:"users"`
	Items  map[int64]*models.TrackedItem `json:"items"`
}

// FileStore keeps users and tracked items in a single JSON file. It is meant
// for local runs and tests; every write rewrites the whole file.
type FileStore struct {
	mu       sync.RWMutex
	data     snapshot
	filename string
	now      func() time.Time
}

func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		data: snapshot{
			NextID: 1,
			Users:  make(map[int64]*models.User),
			Items:  make(map[int64]*models.TrackedItem),
		},
		filename: filename,
		now:      time.Now,
	}

	if err := fs.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) FindAll(_ context.Context) ([]models.TrackedItem, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.sorted(func(*models.TrackedItem) bool { return true }), nil
}

func (fs *FileStore) ListByUser(_ context.Context, userID int64) ([]models.TrackedItem, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.sorted(func(i *models.TrackedItem) bool { return i.UserID == userID }), nil
}

func (fs *FileStore) FindByID(_ context.Context, userID, id int64) (*models.TrackedItem, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	item, ok := fs.data.Items[id]
	if !ok || item.UserID != userID {
		return nil, models.ErrItemNotFound
	}
	out := *item
	return &out, nil
}

// Upsert follows the same rules as the Postgres store: one row per owner,
// marketplace and article; a nil target keeps the stored one.
func (fs *FileStore) Upsert(_ context.Context, item *models.TrackedItem) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if item.ArticleID == "" {
		return fmt.Errorf("article id is required")
	}
	now := fs.now()

	for _, existing := range fs.data.Items {
		if existing.UserID != item.UserID || existing.Key() != item.Key() {
			continue
		}
		existing.Apply(models.RefreshResult{
			DisplayName:   item.DisplayName,
			CurrentPrice:  item.CurrentPrice,
			PreviousPrice: item.PreviousPrice,
			ImageURL:      item.ImageURL,
		})
		if item.TargetPrice != nil {
			existing.SetTarget(item.TargetPrice)
		}
		existing.UpdatedAt = now
		*item = *existing
		return fs.save()
	}

	stored := *item
	stored.ID = fs.data.NextID
	stored.TargetPrice = models.ClonePrice(item.TargetPrice)
	stored.LastNotifiedPrice = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	fs.data.NextID++
	fs.data.Items[stored.ID] = &stored
	*item = stored
	return fs.save()
}

func (fs *FileStore) SetTargetPrice(_ context.Context, userID, id int64, target *int64) (*models.TrackedItem, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	item, ok := fs.data.Items[id]
	if !ok || item.UserID != userID {
		return nil, models.ErrItemNotFound
	}
	item.SetTarget(target)
	item.UpdatedAt = fs.now()
	if err := fs.save(); err != nil {
		return nil, err
	}
	out := *item
	return &out, nil
}

func (fs *FileStore) Delete(_ context.Context, userID, id int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	item, ok := fs.data.Items[id]
	if !ok || item.UserID != userID {
		return models.ErrItemNotFound
	}
	delete(fs.data.Items, id)
	return fs.save()
}

// ApplyRefresh stores a refresh result. The watermark is written only while
// the stored target still equals the one the alert was decided against.
func (fs *FileStore) ApplyRefresh(_ context.Context, upd models.RefreshUpdate) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	item, ok := fs.data.Items[upd.ItemID]
	if !ok {
		return models.ErrItemNotFound
	}
	item.Apply(upd.Result)
	if upd.Watermark != nil && models.SamePrice(item.TargetPrice, upd.TargetSeen) {
		item.LastNotifiedPrice = models.ClonePrice(upd.Watermark)
	}
	item.UpdatedAt = fs.now()
	return fs.save()
}

func (fs *FileStore) FindOwner(_ context.Context, userID int64) (*models.User, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	u, ok := fs.data.Users[userID]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (fs *FileStore) UpsertUser(_ context.Context, u models.User) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	existing, ok := fs.data.Users[u.ID]
	if !ok {
		stored := u
		fs.data.Users[u.ID] = &stored
		return fs.save()
	}
	if u.Email != "" {
		existing.Email = u.Email
	}
	return fs.save()
}

func (fs *FileStore) LinkTelegram(_ context.Context, userID int64, chatID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	u, ok := fs.data.Users[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	u.TelegramChatID = chatID
	return fs.save()
}

func (fs *FileStore) sorted(keep func(*models.TrackedItem) bool) []models.TrackedItem {
	out := make([]models.TrackedItem, 0, len(fs.data.Items))
	for _, item := range fs.data.Items {
		if keep(item) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := fs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpFile, fs.filename)
}

func (fs *FileStore) Load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := json.Unmarshal(data, &fs.data); err != nil {
		return fmt.Errorf("failed to read %s: %w", fs.filename, err)
	}
	if fs.data.Users == nil {
		fs.data.Users = make(map[int64]*models.User)
	}
	if fs.data.Items == nil {
		fs.data.Items = make(map[int64]*models.TrackedItem)
	}
	for id := range fs.data.Items {
		if id >= fs.data.NextID {
			fs.data.NextID = id + 1
		}
	}
	return nil
}
