package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/logging"
)

// Telegram answers formatting failures with 400 "can't parse entities".
const parseEntitiesMarker = "can't parse entities"

// Gateway implements domain.ChatGateway on top of the Bot API.
type Gateway struct {
	api    botAPI
	logger *logrus.Entry

	mu sync.Mutex
	me *models.User
}

var _ domain.ChatGateway = (*Gateway)(nil)

func newGateway(api botAPI, logger *logrus.Entry) *Gateway {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Gateway{api: api, logger: logging.Component(logger, "telegram_gateway")}
}

func (g *Gateway) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := g.api.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID})
	return classify("delete message", err)
}

// Restrict revokes every send permission until the given time.
func (g *Gateway) Restrict(ctx context.Context, chatID, userID int64, until time.Time) error {
	_, err := g.api.RestrictChatMember(ctx, &bot.RestrictChatMemberParams{
		ChatID:      chatID,
		UserID:      userID,
		Permissions: &models.ChatPermissions{},
		UntilDate:   int(until.Unix()),
	})
	return classify("restrict member", err)
}

func (g *Gateway) SendText(ctx context.Context, chatID int64, text string, format domain.Format) (int, error) {
	msg, err := g.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: parseMode(format),
	})
	return messageID(msg), classify("send text", err)
}

func (g *Gateway) SendPhoto(ctx context.Context, chatID int64, fileID, caption string, format domain.Format) (int, error) {
	msg, err := g.api.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:    chatID,
		Photo:     &models.InputFileString{Data: fileID},
		Caption:   caption,
		ParseMode: parseMode(format),
	})
	return messageID(msg), classify("send photo", err)
}

func (g *Gateway) SendVideo(ctx context.Context, chatID int64, fileID, caption string, format domain.Format) (int, error) {
	msg, err := g.api.SendVideo(ctx, &bot.SendVideoParams{
		ChatID:    chatID,
		Video:     &models.InputFileString{Data: fileID},
		Caption:   caption,
		ParseMode: parseMode(format),
	})
	return messageID(msg), classify("send video", err)
}

func (g *Gateway) SendAnimation(ctx context.Context, chatID int64, fileID, caption string, format domain.Format) (int, error) {
	msg, err := g.api.SendAnimation(ctx, &bot.SendAnimationParams{
		ChatID:    chatID,
		Animation: &models.InputFileString{Data: fileID},
		Caption:   caption,
		ParseMode: parseMode(format),
	})
	return messageID(msg), classify("send animation", err)
}

func (g *Gateway) SendDocument(ctx context.Context, chatID int64, fileID, caption string, format domain.Format) (int, error) {
	msg, err := g.api.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:    chatID,
		Document:  &models.InputFileString{Data: fileID},
		Caption:   caption,
		ParseMode: parseMode(format),
	})
	return messageID(msg), classify("send document", err)
}

func (g *Gateway) GetChatMember(ctx context.Context, chatID, userID int64) (domain.MemberStatus, error) {
	member, err := g.api.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return "", classify("get chat member", err)
	}
	if member == nil {
		return domain.MemberLeft, nil
	}
	return memberStatus(*member), nil
}

// GetBotUsername resolves the bot's username once and caches it.
func (g *Gateway) GetBotUsername(ctx context.Context) (string, error) {
	me, err := g.identity(ctx)
	if err != nil {
		return "", err
	}
	if me.Username == "" {
		return "", domain.Errorf(domain.KindTransport, "get me", "bot has no username")
	}
	return me.Username, nil
}

// BotIsAdmin reports whether the bot itself administers chatID.
func (g *Gateway) BotIsAdmin(ctx context.Context, chatID int64) (bool, error) {
	me, err := g.identity(ctx)
	if err != nil {
		return false, err
	}
	status, err := g.GetChatMember(ctx, chatID, me.ID)
	if err != nil {
		return false, err
	}
	return status.IsAdmin(), nil
}

func (g *Gateway) identity(ctx context.Context) (models.User, error) {
	if g == nil || g.api == nil {
		return models.User{}, errors.New("telegram gateway is not initialized")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.me != nil {
		return *g.me, nil
	}

	me, err := g.api.GetMe(ctx)
	if err != nil {
		return models.User{}, classify("get me", err)
	}
	if me == nil {
		return models.User{}, domain.Errorf(domain.KindTransport, "get me", "empty identity")
	}

	g.me = me
	g.logger.WithFields(logging.Fields{
		"event":    "bot_identity",
		"bot_id":   me.ID,
		"username": me.Username,
	}).Debug("resolved bot identity")
	return *me, nil
}

func parseMode(format domain.Format) models.ParseMode {
	if format == domain.FormatHTML {
		return models.ParseModeHTML
	}
	return ""
}

func messageID(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	return msg.ID
}

func memberStatus(member models.ChatMember) domain.MemberStatus {
	return domain.MemberStatus(string(member.Type))
}

// classify tags transport failures, singling out rejected formatting so the
// caller can retry as plain text.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isFormatRejection(err) {
		return domain.NewError(domain.KindDeliveryFormatRejected, op, err)
	}
	return domain.NewError(domain.KindTransport, op, err)
}

func isFormatRejection(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), parseEntitiesMarker)
}
