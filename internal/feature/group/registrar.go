// Package group provides helpers for registering and tracking the chats the
// bot participates in.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/logging"
)

const (
	defaultStatusCacheSize = 4096
	defaultStatusCacheTTL  = 10 * time.Minute
)

type chatStore interface {
	UpsertChat(ctx context.Context, chat domain.Chat) (bool, error)
}

// BotStatusFunc reports whether the bot administers chatID.
type BotStatusFunc func(ctx context.Context, chatID int64) (bool, error)

// Registrar ensures chats are persisted when the bot encounters them and keeps
// their last-seen timestamp and the bot's admin status current.
type Registrar struct {
	chats     chatStore
	botStatus BotStatusFunc
	known     *expirable.LRU[int64, bool]
	logger    *logrus.Entry
}

// NewRegistrar constructs a Registrar for the provided registry. botStatus may
// be nil, in which case chats first seen through messages are recorded
// without admin rights until a membership update says otherwise.
func NewRegistrar(chats chatStore, botStatus BotStatusFunc, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		chats:     chats,
		botStatus: botStatus,
		known:     expirable.NewLRU[int64, bool](defaultStatusCacheSize, nil, defaultStatusCacheTTL),
		logger:    logger,
	}
}

// EnsureGroup upserts the chat record and updates last_seen_at. The bot's
// admin status comes from the last membership update or, when unknown, from
// botStatus.
func (r *Registrar) EnsureGroup(ctx context.Context, chat domain.Chat) (bool, error) {
	if err := r.check(ctx, chat.ChatID); err != nil {
		return false, err
	}

	admin, ok := r.known.Get(chat.ChatID)
	if !ok && r.botStatus != nil && chat.Kind.IsGroup() {
		status, err := r.botStatus(ctx, chat.ChatID)
		if err != nil {
			return false, fmt.Errorf("bot status: %w", err)
		}
		admin = status
	}
	chat.BotIsAdmin = admin

	return r.upsert(ctx, chat, "group_seen")
}

// RecordMembership stores a membership change for the bot itself.
func (r *Registrar) RecordMembership(ctx context.Context, chat domain.Chat) (bool, error) {
	if err := r.check(ctx, chat.ChatID); err != nil {
		return false, err
	}

	r.logger.WithFields(logging.Fields{
		"event":        "bot_membership",
		"chat_id":      chat.ChatID,
		"bot_is_admin": chat.BotIsAdmin,
	}).Info("bot membership changed")

	return r.upsert(ctx, chat, "group_membership")
}

func (r *Registrar) check(ctx context.Context, chatID int64) error {
	if r == nil || r.chats == nil {
		return errors.New("group registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}
	return nil
}

func (r *Registrar) upsert(ctx context.Context, chat domain.Chat, seenEvent string) (bool, error) {
	chat.Title = strings.TrimSpace(chat.Title)

	created, err := r.chats.UpsertChat(ctx, chat)
	if err != nil {
		return false, fmt.Errorf("ensure group: %w", err)
	}
	r.known.Add(chat.ChatID, chat.BotIsAdmin)

	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "group_registered",
			"chat_id": chat.ChatID,
			"title":   chat.Title,
			"kind":    string(chat.Kind),
		}).Info("registered new group")
		return true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   seenEvent,
		"chat_id": chat.ChatID,
		"title":   chat.Title,
	}).Debug("updated group last seen")

	return false, nil
}
