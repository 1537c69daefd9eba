package domain

import (
	"strings"
	"time"
)

// User represents a Telegram user observed by the bot.
type User struct {
	UserID       int64     `bson:"user_id" json:"user_id" db:"user_id"`
	FirstName    string    `bson:"first_name" json:"first_name" db:"first_name"`
	LastName     string    `bson:"last_name" json:"last_name" db:"last_name"`
	Username     string    `bson:"username" json:"username" db:"username"`
	LanguageCode string    `bson:"language_code" json:"language_code" db:"language_code"`
	Role         string    `bson:"role" json:"role" db:"role"`
	FirstSeenAt  time.Time `bson:"first_seen_at" json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt   time.Time `bson:"last_seen_at" json:"last_seen_at" db:"last_seen_at"`
}

// DisplayName returns the best human-readable label for the user.
func (u User) DisplayName() string {
	full := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if full != "" {
		return full
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "-"
}
