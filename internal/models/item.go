package models

import (
	"errors"
	"time"
)

var (
	ErrItemNotFound = errors.New("tracked item not found")
	ErrUserNotFound = errors.New("user not found")
)

// TrackedItem is one user's subscription to a marketplace listing.
type TrackedItem struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	Marketplace       string    `json:"marketplace"`
	ArticleID         string    `json:"article_id"`
	DisplayName       string    `json:"name"`
	CurrentPrice      int64     `json:"current_price"`
	PreviousPrice     int64     `json:"previous_price"`
	ImageURL          string    `json:"image_url"`
	TargetPrice       *int64    `json:"target_price,omitempty"`
	LastNotifiedPrice *int64    `json:"last_notified_price,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RefreshResult is the outcome of one successful extraction. It is folded
// into a TrackedItem with Apply and never stored on its own.
type RefreshResult struct {
	Marketplace   string `json:"marketplace"`
	ArticleID     string `json:"article_id"`
	DisplayName   string `json:"name"`
	CurrentPrice  int64  `json:"current_price"`
	PreviousPrice int64  `json:"previous_price"`
	ImageURL      string `json:"image_url"`
}

// RefreshUpdate carries a refresh result for a stored item together with
// the alert watermark decided for it.
type RefreshUpdate struct {
	ItemID int64
	Result RefreshResult
	// LastPrice is the current price stored before this refresh.
	LastPrice int64

	// Watermark is set when a price alert was delivered for Result.CurrentPrice.
	Watermark *int64
	// TargetSeen is the target price the alert decision was made against.
	// The watermark is only written while the stored target still equals it.
	TargetSeen *int64
}

// Apply copies every listing field of r onto the item. Identity fields
// (marketplace, article, owner) are left untouched.
func (i *TrackedItem) Apply(r RefreshResult) {
	i.DisplayName = r.DisplayName
	i.CurrentPrice = r.CurrentPrice
	i.PreviousPrice = r.PreviousPrice
	i.ImageURL = r.ImageURL
}

// SetTarget changes the alert threshold. A changed target always clears the
// watermark so the next qualifying price alerts again.
func (i *TrackedItem) SetTarget(target *int64) {
	if !SamePrice(i.TargetPrice, target) {
		i.LastNotifiedPrice = nil
	}
	i.TargetPrice = ClonePrice(target)
}

// Key identifies the listing for one owner.
func (i *TrackedItem) Key() string {
	return i.Marketplace + ":" + i.ArticleID
}

// Price returns a pointer to v.
func Price(v int64) *int64 {
	return &v
}

// ClonePrice copies an optional price.
func ClonePrice(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// SamePrice compares two optional prices.
func SamePrice(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
