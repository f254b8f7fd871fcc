package models

import "strings"

// User is the owner of tracked items. Only the fields the tracker needs are
// modelled here; credentials live with the auth service.
type User struct {
	ID             int64  `json:"id"`
	Email          string `json:"email,omitempty"`
	TelegramChatID string `json:"telegram_chat_id,omitempty"`
}

// HasDeliveryChannel reports whether alerts can be delivered to the user.
func (u *User) HasDeliveryChannel() bool {
	return u != nil && strings.TrimSpace(u.TelegramChatID) != ""
}
