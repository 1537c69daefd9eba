package telegram

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/engine"
	"tg_guard_bot/internal/feature/conversation"
	"tg_guard_bot/internal/feature/moderation"
)

type fakeBot struct {
	mu          sync.Mutex
	startedWith context.Context

	me       *models.User
	meErr    error
	meCalls  int
	member   *models.ChatMember
	sendErr  error
	editErr  error
	deleted  []*bot.DeleteMessageParams
	restrict []*bot.RestrictChatMemberParams
	messages []*bot.SendMessageParams
	photos   []*bot.SendPhotoParams
	edits    []*bot.EditMessageTextParams
	answers  []*bot.AnswerCallbackQueryParams
}

func (f *fakeBot) Start(ctx context.Context) {
	f.startedWith = ctx
}

func (f *fakeBot) GetMe(context.Context) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meCalls++
	return f.me, f.meErr
}

func (f *fakeBot) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, params)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &models.Message{ID: len(f.messages)}, nil
}

func (f *fakeBot) SendPhoto(_ context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, params)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &models.Message{ID: 500}, nil
}

func (f *fakeBot) SendVideo(context.Context, *bot.SendVideoParams) (*models.Message, error) {
	return &models.Message{ID: 501}, f.sendErr
}

func (f *fakeBot) SendAnimation(context.Context, *bot.SendAnimationParams) (*models.Message, error) {
	return &models.Message{ID: 502}, f.sendErr
}

func (f *fakeBot) SendDocument(context.Context, *bot.SendDocumentParams) (*models.Message, error) {
	return &models.Message{ID: 503}, f.sendErr
}

func (f *fakeBot) DeleteMessage(_ context.Context, params *bot.DeleteMessageParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, params)
	return true, nil
}

func (f *fakeBot) RestrictChatMember(_ context.Context, params *bot.RestrictChatMemberParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restrict = append(f.restrict, params)
	return true, nil
}

func (f *fakeBot) GetChatMember(context.Context, *bot.GetChatMemberParams) (*models.ChatMember, error) {
	return f.member, nil
}

func (f *fakeBot) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, params)
	return true, nil
}

func (f *fakeBot) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, params)
	if f.editErr != nil {
		return nil, f.editErr
	}
	return &models.Message{ID: params.MessageID}, nil
}

type fakeHandler struct {
	events  []engine.Event
	actions []conversation.Actor
	tokens  []string
	chats   []domain.Chat

	inboundReply *engine.Reply
	actionReply  engine.Reply
}

func (f *fakeHandler) HandleInboundMessage(_ context.Context, ev engine.Event) (moderation.Decision, *engine.Reply) {
	f.events = append(f.events, ev)
	return moderation.Decision{}, f.inboundReply
}

func (f *fakeHandler) HandleMenuAction(_ context.Context, actor conversation.Actor, token string) engine.Reply {
	f.actions = append(f.actions, actor)
	f.tokens = append(f.tokens, token)
	return f.actionReply
}

func (f *fakeHandler) HandleMembership(_ context.Context, chat domain.Chat) error {
	f.chats = append(f.chats, chat)
	return nil
}
