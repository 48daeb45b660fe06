package model

import "time"

type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"size:60;uniqueIndex;not null" json:"username"`
	// APITokenHash stores a bcrypt hash of the bearer token the chat/UI layer
	// authenticates with.
	APITokenHash   string `gorm:"type:text" json:"-"`
	TelegramChatID int64  `gorm:"column:telegram_chat_id" json:"telegram_chat_id,omitempty"`
	Active         bool   `gorm:"default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// UserExchange holds a user's encrypted exchange credentials. Keys are stored
// AES-GCM encrypted (see src/security), never in clear text.
type UserExchange struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	UserID        uint   `gorm:"not null;uniqueIndex" json:"user_id"`
	APIKeyHash    string `gorm:"column:api_key;type:text" json:"-"`
	APISecretHash string `gorm:"column:api_secret;type:text" json:"-"`
	Enabled       bool   `gorm:"default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserExchange) TableName() string {
	return "user_exchanges"
}
