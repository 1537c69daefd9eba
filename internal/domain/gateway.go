package domain

import (
	"context"
	"time"
)

// Format selects how outbound text is interpreted by the chat platform.
type Format int

const (
	FormatPlain Format = iota
	FormatHTML
)

// MemberStatus is a user's standing in a chat.
type MemberStatus string

const (
	MemberCreator       MemberStatus = "creator"
	MemberAdministrator MemberStatus = "administrator"
	MemberMember        MemberStatus = "member"
	MemberRestricted    MemberStatus = "restricted"
	MemberLeft          MemberStatus = "left"
	MemberKicked        MemberStatus = "kicked"
)

// IsAdmin reports whether the status carries chat administration rights.
func (s MemberStatus) IsAdmin() bool {
	return s == MemberCreator || s == MemberAdministrator
}

// ChatGateway is the outbound side of the chat platform. Implementations
// return ErrDeliveryFormatRejected when the platform refuses formatted text.
type ChatGateway interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	Restrict(ctx context.Context, chatID, userID int64, until time.Time) error
	SendText(ctx context.Context, chatID int64, text string, format Format) (int, error)
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string, format Format) (int, error)
	SendVideo(ctx context.Context, chatID int64, fileID, caption string, format Format) (int, error)
	SendAnimation(ctx context.Context, chatID int64, fileID, caption string, format Format) (int, error)
	SendDocument(ctx context.Context, chatID int64, fileID, caption string, format Format) (int, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (MemberStatus, error)
	GetBotUsername(ctx context.Context) (string, error)
}

// AuthorizationPolicy decides who may administer the bot.
type AuthorizationPolicy interface {
	IsSuperAdmin(userID int64) bool
	IsGroupAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// ContentKind tags broadcastable content.
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentPhoto     ContentKind = "photo"
	ContentVideo     ContentKind = "video"
	ContentAnimation ContentKind = "animation"
	ContentDocument  ContentKind = "document"
)

// Content is a broadcastable message. Text is used for ContentText; FileID
// and Caption for media kinds. Text and Caption hold HTML; PlainText and
// PlainCaption hold the same words without markup for FormatPlain sends.
type Content struct {
	Kind         ContentKind
	Text         string
	PlainText    string
	FileID       string
	Caption      string
	PlainCaption string
}

// TextFor returns the message text to send in format.
func (c Content) TextFor(format Format) string {
	if format == FormatPlain && c.PlainText != "" {
		return c.PlainText
	}
	return c.Text
}

// CaptionFor returns the media caption to send in format.
func (c Content) CaptionFor(format Format) string {
	if format == FormatPlain && c.PlainCaption != "" {
		return c.PlainCaption
	}
	return c.Caption
}

// Valid reports whether the content carries the fields its kind needs.
func (c Content) Valid() bool {
	switch c.Kind {
	case ContentText:
		return c.Text != ""
	case ContentPhoto, ContentVideo, ContentAnimation, ContentDocument:
		return c.FileID != ""
	default:
		return false
	}
}
