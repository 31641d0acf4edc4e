package models

import (
	"time"
)

// User is one account row, keyed by the verified Google email. The token
// counters are only ever touched by get-or-create (profile refresh) and the
// end-of-stream reconciliation, so tokens_left = total_tokens - tokens_used
// and tokens_left never drops below zero.
type User struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email       string    `gorm:"uniqueIndex;not null" json:"email"`
	Name        string    `gorm:"not null" json:"name"`
	Picture     string    `json:"picture"`
	TotalTokens int64     `gorm:"not null;default:1000000" json:"total_tokens"`
	TokensUsed  int64     `gorm:"not null;default:0" json:"tokens_used"`
	TokensLeft  int64     `gorm:"not null;default:1000000" json:"tokens_left"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
