package telegram

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/engine"
	"tg_guard_bot/internal/feature/conversation"
	"tg_guard_bot/internal/feature/moderation"
	"tg_guard_bot/internal/logging"
)

// Handler is the engine surface updates are routed to.
type Handler interface {
	HandleInboundMessage(ctx context.Context, ev engine.Event) (moderation.Decision, *engine.Reply)
	HandleMenuAction(ctx context.Context, actor conversation.Actor, token string) engine.Reply
	HandleMembership(ctx context.Context, chat domain.Chat) error
}

type router struct {
	handler  Handler
	api      botAPI
	username func(ctx context.Context) (string, error)
	logger   *logrus.Entry
}

func newRouter(h Handler, api botAPI, username func(ctx context.Context) (string, error), logger *logrus.Entry) *router {
	return &router{handler: h, api: api, username: username, logger: logger}
}

func (r *router) route(ctx context.Context, update *models.Update) {
	switch {
	case update.Message != nil:
		r.onMessage(ctx, update.Message, false)
	case update.EditedMessage != nil:
		r.onMessage(ctx, update.EditedMessage, true)
	case update.CallbackQuery != nil:
		r.onCallback(ctx, update.CallbackQuery)
	case update.MyChatMember != nil:
		r.onMembership(ctx, update.MyChatMember)
	}
}

func (r *router) onMessage(ctx context.Context, msg *models.Message, edited bool) {
	ev := eventFromMessage(msg)
	ev.Edited = edited
	if !edited {
		ev.Command = r.command(ctx, msg.Text)
	}

	_, reply := r.handler.HandleInboundMessage(ctx, ev)
	if reply != nil {
		r.send(ctx, ev.ChatID, *reply)
	}
}

func (r *router) onCallback(ctx context.Context, query *models.CallbackQuery) {
	chat := messageChat(query.Message)
	actor := conversation.Actor{UserID: query.From.ID}
	if chat != nil {
		actor.ChatID = chat.ID
		actor.ChatKind = domain.ChatKind(string(chat.Type))
	}

	reply := r.handler.HandleMenuAction(ctx, actor, query.Data)

	answer := &bot.AnswerCallbackQueryParams{CallbackQueryID: query.ID}
	if reply.Alert {
		answer.Text = reply.Text
		answer.ShowAlert = true
	}
	if _, err := r.api.AnswerCallbackQuery(ctx, answer); err != nil {
		r.logger.WithField("event", "callback_answer_failed").WithError(err).Warn("answer callback query failed")
	}
	if reply.Alert || reply.Empty() {
		return
	}

	if query.Message.Type == models.MaybeInaccessibleMessageTypeMessage && query.Message.Message != nil {
		r.edit(ctx, query.Message.Message.Chat.ID, query.Message.Message.ID, reply)
		return
	}
	if actor.ChatID != 0 {
		r.send(ctx, actor.ChatID, reply)
	}
}

func (r *router) onMembership(ctx context.Context, update *models.ChatMemberUpdated) {
	chat := domain.Chat{
		ChatID:     update.Chat.ID,
		Title:      chatTitle(update.Chat),
		Kind:       domain.ChatKind(string(update.Chat.Type)),
		BotIsAdmin: memberStatus(update.NewChatMember).IsAdmin(),
	}
	if err := r.handler.HandleMembership(ctx, chat); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "membership_failed",
			"chat_id": chat.ChatID,
		}).WithError(err).Warn("record bot membership failed")
	}
}

func (r *router) send(ctx context.Context, chatID int64, reply engine.Reply) {
	if reply.Empty() {
		return
	}
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      reply.Text,
		ParseMode: models.ParseModeHTML,
	}
	if kb := keyboard(reply.Buttons); kb != nil {
		params.ReplyMarkup = kb
	}
	if _, err := r.api.SendMessage(ctx, params); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "reply_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("send reply failed")
	}
}

// edit replaces the menu message in place, falling back to a new message
// when Telegram refuses the edit.
func (r *router) edit(ctx context.Context, chatID int64, messageID int, reply engine.Reply) {
	params := &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      reply.Text,
		ParseMode: models.ParseModeHTML,
	}
	if kb := keyboard(reply.Buttons); kb != nil {
		params.ReplyMarkup = kb
	}
	_, err := r.api.EditMessageText(ctx, params)
	if err == nil {
		return
	}
	if strings.Contains(err.Error(), "message is not modified") {
		return
	}
	r.logger.WithFields(logging.Fields{
		"event":      "edit_failed",
		"chat_id":    chatID,
		"message_id": messageID,
	}).WithError(err).Debug("edit menu message failed")
	r.send(ctx, chatID, reply)
}

// command returns the command text is addressed with, or "" when text is not
// a command or names another bot.
func (r *router) command(ctx context.Context, text string) string {
	name, target, ok := parseCommand(text)
	if !ok {
		return ""
	}
	if target == "" {
		return name
	}
	if r.username == nil {
		return ""
	}
	own, err := r.username(ctx)
	if err != nil {
		r.logger.WithField("event", "command_target_unknown").WithError(err).Debug("resolve bot username failed")
		return ""
	}
	if !strings.EqualFold(target, own) {
		return ""
	}
	return name
}

// parseCommand splits "/start@bot_name args" into "start" and "bot_name".
func parseCommand(text string) (name, target string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word, target = word[:at], word[at+1:]
	}
	if word == "" {
		return "", "", false
	}
	return strings.ToLower(word), target, true
}

func chatTitle(chat models.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	return strings.TrimSpace(chat.FirstName + " " + chat.LastName)
}
