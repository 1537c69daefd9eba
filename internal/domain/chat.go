package domain

import "time"

// ChatKind is the Telegram chat type.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// IsGroup reports whether moderation applies to chats of this kind.
func (k ChatKind) IsGroup() bool {
	return k == ChatGroup || k == ChatSupergroup
}

// Chat represents a Telegram chat where the bot participates.
type Chat struct {
	ChatID     int64     `bson:"chat_id" json:"chat_id" db:"chat_id"`
	Title      string    `bson:"title" json:"title" db:"title"`
	Kind       ChatKind  `bson:"kind" json:"kind" db:"kind"`
	BotIsAdmin bool      `bson:"bot_is_admin" json:"bot_is_admin" db:"bot_is_admin"`
	JoinedAt   time.Time `bson:"joined_at" json:"joined_at" db:"joined_at"`
	LastSeenAt time.Time `bson:"last_seen_at" json:"last_seen_at" db:"last_seen_at"`
}

// Label returns the title or, for untitled chats, the numeric id.
func (c Chat) Label() string {
	if c.Title != "" {
		return c.Title
	}
	return formatID(c.ChatID)
}
