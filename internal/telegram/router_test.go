package telegram

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/engine"
	"tg_guard_bot/internal/feature/conversation"
)

func newTestRouter(h Handler, fb *fakeBot) *router {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	username := func(context.Context) (string, error) { return "guard_bot", nil }
	return newRouter(h, fb, username, logrus.NewEntry(logger))
}

func TestRouterSendsCommandReply(t *testing.T) {
	fb := &fakeBot{}
	reply := engine.Reply{
		Text:    "menu",
		Buttons: [][]conversation.Button{{{Label: "Stats", Action: "stats"}}},
	}
	h := &fakeHandler{inboundReply: &reply}
	r := newTestRouter(h, fb)

	r.route(context.Background(), &models.Update{Message: &models.Message{
		ID:   3,
		From: &models.User{ID: 1},
		Chat: models.Chat{ID: 1, Type: "private"},
		Text: "/Start@Guard_Bot now",
	}})

	require.Len(t, h.events, 1)
	assert.Equal(t, "start", h.events[0].Command)
	require.Len(t, fb.messages, 1)
	assert.Equal(t, models.ParseModeHTML, fb.messages[0].ParseMode)
	kb, ok := fb.messages[0].ReplyMarkup.(*models.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "stats", kb.InlineKeyboard[0][0].CallbackData)
}

func TestRouterSendsGroupCommandsThroughModeration(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		command string
	}{
		{name: "own command with banned word", text: "/help spam", command: "help"},
		{name: "command for another bot", text: "/start@some_other_bot spam spam", command: ""},
		{name: "command addressed to this bot", text: "/words@guard_bot", command: "words"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandler{}
			r := newTestRouter(h, &fakeBot{})

			r.route(context.Background(), &models.Update{Message: &models.Message{
				ID:   11,
				From: &models.User{ID: 50},
				Chat: models.Chat{ID: -1001, Type: "supergroup"},
				Text: tt.text,
			}})

			require.Len(t, h.events, 1, "every group message reaches the inbound handler")
			assert.Equal(t, tt.text, h.events[0].Text)
			assert.Equal(t, tt.command, h.events[0].Command)
		})
	}
}

func TestRouterIgnoresTargetedCommandWhenUsernameUnknown(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := &fakeHandler{}
	failing := func(context.Context) (string, error) { return "", errors.New("getMe failed") }
	r := newRouter(h, &fakeBot{}, failing, logrus.NewEntry(logger))

	r.route(context.Background(), &models.Update{Message: &models.Message{
		From: &models.User{ID: 1},
		Chat: models.Chat{ID: 1, Type: "private"},
		Text: "/menu@guard_bot",
	}})

	require.Len(t, h.events, 1)
	assert.Empty(t, h.events[0].Command)
}

func TestRouterMarksEditedMessages(t *testing.T) {
	fb := &fakeBot{}
	h := &fakeHandler{}
	r := newTestRouter(h, fb)

	r.route(context.Background(), &models.Update{EditedMessage: &models.Message{
		From: &models.User{ID: 1},
		Chat: models.Chat{ID: -1, Type: "group"},
		Text: "/start",
	}})

	require.Len(t, h.events, 1)
	assert.True(t, h.events[0].Edited)
	assert.Empty(t, h.events[0].Command)
}

func TestRouterCallbackEditsMenu(t *testing.T) {
	fb := &fakeBot{}
	h := &fakeHandler{actionReply: engine.Reply{
		Text:    "Banned words",
		Buttons: [][]conversation.Button{{{Label: "Back", Action: "menu:main"}}},
	}}
	r := newTestRouter(h, fb)

	r.route(context.Background(), &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb1",
		From: models.User{ID: 9},
		Data: "bw:menu",
		Message: models.MaybeInaccessibleMessage{
			Type:    models.MaybeInaccessibleMessageTypeMessage,
			Message: &models.Message{ID: 70, Chat: models.Chat{ID: -50, Type: "supergroup"}},
		},
	}})

	require.Len(t, h.actions, 1)
	assert.Equal(t, conversation.Actor{UserID: 9, ChatID: -50, ChatKind: domain.ChatSupergroup}, h.actions[0])
	assert.Equal(t, []string{"bw:menu"}, h.tokens)
	require.Len(t, fb.answers, 1)
	assert.False(t, fb.answers[0].ShowAlert)
	require.Len(t, fb.edits, 1)
	assert.Equal(t, 70, fb.edits[0].MessageID)
	assert.Empty(t, fb.messages)
}

func TestRouterCallbackAlert(t *testing.T) {
	fb := &fakeBot{}
	h := &fakeHandler{actionReply: engine.Reply{Text: "denied", Alert: true}}
	r := newTestRouter(h, fb)

	r.route(context.Background(), &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb2",
		From: models.User{ID: 9},
		Data: "stats",
		Message: models.MaybeInaccessibleMessage{
			Type:    models.MaybeInaccessibleMessageTypeMessage,
			Message: &models.Message{ID: 71, Chat: models.Chat{ID: 9, Type: "private"}},
		},
	}})

	require.Len(t, fb.answers, 1)
	assert.True(t, fb.answers[0].ShowAlert)
	assert.Equal(t, "denied", fb.answers[0].Text)
	assert.Empty(t, fb.edits)
}

func TestRouterEditFailureFallsBackToSend(t *testing.T) {
	fb := &fakeBot{editErr: errors.New("bad request, message can't be edited")}
	h := &fakeHandler{actionReply: engine.Reply{Text: "menu"}}
	r := newTestRouter(h, fb)

	r.route(context.Background(), &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb3",
		From: models.User{ID: 9},
		Data: "menu:main",
		Message: models.MaybeInaccessibleMessage{
			Type:    models.MaybeInaccessibleMessageTypeMessage,
			Message: &models.Message{ID: 72, Chat: models.Chat{ID: 9, Type: "private"}},
		},
	}})

	require.Len(t, fb.messages, 1)
	assert.Equal(t, "menu", fb.messages[0].Text)
}

func TestRouterRecordsBotMembership(t *testing.T) {
	fb := &fakeBot{}
	h := &fakeHandler{}
	r := newTestRouter(h, fb)

	r.route(context.Background(), &models.Update{MyChatMember: &models.ChatMemberUpdated{
		Chat:          models.Chat{ID: -77, Type: "supergroup", Title: "Lounge"},
		NewChatMember: models.ChatMember{Type: models.ChatMemberType("administrator")},
	}})

	require.Len(t, h.chats, 1)
	assert.Equal(t, domain.Chat{ChatID: -77, Title: "Lounge", Kind: domain.ChatSupergroup, BotIsAdmin: true}, h.chats[0])
}

func TestEventFromMessageCapturesContent(t *testing.T) {
	tests := []struct {
		name string
		msg  *models.Message
		want *domain.Content
	}{
		{
			name: "formatted text",
			msg: &models.Message{
				Text:     "hi bold",
				Entities: []models.MessageEntity{{Type: "bold", Offset: 3, Length: 4}},
			},
			want: &domain.Content{Kind: domain.ContentText, Text: "hi <b>bold</b>", PlainText: "hi bold"},
		},
		{
			name: "escaped text keeps raw copy",
			msg: &models.Message{
				Text:     "Tom & Jerry sale",
				Entities: []models.MessageEntity{{Type: "bold", Offset: 0, Length: 3}},
			},
			want: &domain.Content{Kind: domain.ContentText, Text: "<b>Tom</b> &amp; Jerry sale", PlainText: "Tom & Jerry sale"},
		},
		{
			name: "largest photo",
			msg: &models.Message{
				Photo:   []models.PhotoSize{{FileID: "small"}, {FileID: "big"}},
				Caption: "a<b",
			},
			want: &domain.Content{Kind: domain.ContentPhoto, FileID: "big", Caption: "a&lt;b", PlainCaption: "a<b"},
		},
		{
			name: "animation wins over document",
			msg: &models.Message{
				Animation: &models.Animation{FileID: "gif"},
				Document:  &models.Document{FileID: "doc", FileName: "x.mp4"},
			},
			want: &domain.Content{Kind: domain.ContentAnimation, FileID: "gif"},
		},
		{
			name: "document",
			msg:  &models.Message{Document: &models.Document{FileID: "doc", FileName: "a.pdf"}},
			want: &domain.Content{Kind: domain.ContentDocument, FileID: "doc"},
		},
		{
			name: "sticker is not broadcastable",
			msg:  &models.Message{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := eventFromMessage(tt.msg)
			assert.Equal(t, tt.want, ev.Content)
		})
	}
}

func TestEventFromMessageDocumentAndSender(t *testing.T) {
	ev := eventFromMessage(&models.Message{
		ID:       8,
		From:     &models.User{ID: 3, FirstName: "Ada", Username: "ada", LanguageCode: "en"},
		Chat:     models.Chat{ID: -9, Type: "group", Title: "Team"},
		Document: &models.Document{FileID: "f", FileName: "setup.EXE"},
	})

	assert.True(t, ev.HasDocument)
	assert.Equal(t, "setup.EXE", ev.DocumentName)
	assert.Equal(t, domain.ChatGroup, ev.ChatKind)
	assert.Equal(t, "Team", ev.ChatTitle)
	assert.Equal(t, int64(3), ev.Sender.UserID)
	assert.Equal(t, "en", ev.Sender.LanguageCode)
}

func TestEntitiesToHTML(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		entities []models.MessageEntity
		want     string
	}{
		{name: "plain escaped", text: "1 < 2 & 3", want: "1 &lt; 2 &amp; 3"},
		{
			name:     "nested",
			text:     "bold italic",
			entities: []models.MessageEntity{{Type: "bold", Offset: 0, Length: 11}, {Type: "italic", Offset: 5, Length: 6}},
			want:     "<b>bold <i>italic</i></b>",
		},
		{
			name:     "link",
			text:     "see docs",
			entities: []models.MessageEntity{{Type: "text_link", Offset: 4, Length: 4, URL: "https://example.com/?a=1&b=2"}},
			want:     `see <a href="https://example.com/?a=1&amp;b=2">docs</a>`,
		},
		{
			name:     "utf16 offsets",
			text:     "😀 hi",
			entities: []models.MessageEntity{{Type: "code", Offset: 3, Length: 2}},
			want:     "😀 <code>hi</code>",
		},
		{
			name:     "unsupported entity ignored",
			text:     "@someone",
			entities: []models.MessageEntity{{Type: "mention", Offset: 0, Length: 8}},
			want:     "@someone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, entitiesToHTML(tt.text, tt.entities))
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text   string
		want   string
		target string
		ok     bool
	}{
		{text: "/start", want: "start", ok: true},
		{text: " /Menu@guard_bot extra", want: "menu", target: "guard_bot", ok: true},
		{text: "/", ok: false},
		{text: "/@guard_bot", ok: false},
		{text: "hello", ok: false},
	}
	for _, tt := range tests {
		got, target, ok := parseCommand(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
		assert.Equal(t, tt.target, target, tt.text)
	}
}
