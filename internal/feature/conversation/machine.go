// Package conversation drives the multi-step admin dialogs behind the
// inline menu: banned words, mute duration, whitelist and broadcasts.
package conversation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/feature/broadcast"
	"tg_guard_bot/internal/logging"
)

// DefaultPageSize is how many chats or users a picker shows at once.
const DefaultPageSize = 10

// Button is one inline keyboard button. Exactly one of Action and URL is set.
type Button struct {
	Label  string
	Action string
	URL    string
}

// Reply is what the bot should show in response to an action or input. An
// empty Reply means nothing should be rendered.
type Reply struct {
	Text    string
	Buttons [][]Button
	// Alert asks callback answers to use a modal popup.
	Alert bool
}

// Empty reports whether the reply carries nothing to render.
func (r Reply) Empty() bool {
	return r.Text == "" && len(r.Buttons) == 0
}

// Actor is the user who pressed a button or sent input, and where.
type Actor struct {
	UserID   int64
	ChatID   int64
	ChatKind domain.ChatKind
}

func (a Actor) key() Key {
	return Key{ActorID: a.UserID, ChatID: a.ChatID}
}

// Input is free-form message content offered to an active session.
type Input struct {
	Actor
	Text    string
	Content *domain.Content
}

// Broadcaster delivers admin posts to chats.
type Broadcaster interface {
	Send(ctx context.Context, content domain.Content, chats []domain.Chat) (broadcast.Result, error)
}

// Notifier reports asynchronous results, such as broadcast summaries, back to
// the chat where the session ran.
type Notifier func(ctx context.Context, key Key, reply Reply)

// Options tune the machine.
type Options struct {
	PageSize   int
	MuteLimits domain.MuteLimits
	Now        func() time.Time
}

// Machine routes admin actions and inputs to per-actor sessions.
type Machine struct {
	registry    domain.Registry
	policy      domain.AuthorizationPolicy
	broadcaster Broadcaster
	logger      *logrus.Entry
	sessions    *sessions
	pageSize    int
	limits      domain.MuteLimits
	now         func() time.Time

	notifyMu sync.RWMutex
	notify   Notifier

	baseCtx    context.Context
	baseCancel context.CancelFunc
	runs       sync.WaitGroup
}

// NewMachine wires a Machine. logger may be nil.
func NewMachine(registry domain.Registry, policy domain.AuthorizationPolicy, broadcaster Broadcaster, opts Options, logger *logrus.Entry) *Machine {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	limits := opts.MuteLimits
	if limits.Max == 0 {
		limits = domain.DefaultMuteLimits()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Machine{
		registry:    registry,
		policy:      policy,
		broadcaster: broadcaster,
		logger:      logging.Component(logger, "conversation"),
		sessions:    newSessions(),
		pageSize:    pageSize,
		limits:      limits,
		now:         now,
		baseCtx:     baseCtx,
		baseCancel:  cancel,
	}
}

// SetNotifier installs the callback used for asynchronous results.
func (m *Machine) SetNotifier(n Notifier) {
	m.notifyMu.Lock()
	m.notify = n
	m.notifyMu.Unlock()
}

// Session returns a copy of the active session for key, if any.
func (m *Machine) Session(key Key) (Session, bool) {
	return m.sessions.lookup(key)
}

// ActiveSessions counts sessions that have not ended or expired.
func (m *Machine) ActiveSessions() int {
	return m.sessions.active()
}

// ExpireIdle drops sessions idle for longer than ttl and returns how many
// were dropped.
func (m *Machine) ExpireIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	n := m.sessions.expire(m.now(), ttl)
	if n > 0 {
		m.logger.WithFields(logrus.Fields{
			"event":   "session_expired",
			"expired": n,
		}).Info("idle sessions expired")
	}
	return n
}

// Close aborts running broadcasts and waits for them to finish or for ctx.
func (m *Machine) Close(ctx context.Context) error {
	m.sessions.cancelAll()
	m.baseCancel()

	done := make(chan struct{})
	go func() {
		m.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every broadcast started so far has finished.
func (m *Machine) Wait() {
	m.runs.Wait()
}

// HandleAction applies a menu token for actor. The returned error is
// classified with a domain Kind; the Reply is always safe to show.
func (m *Machine) HandleAction(ctx context.Context, actor Actor, token string) (Reply, error) {
	if ctx == nil {
		return Reply{}, errors.New("context is nil")
	}

	sl := m.sessions.slotFor(actor.key())
	sl.mu.Lock()
	defer sl.mu.Unlock()

	log := m.logger.WithFields(logrus.Fields{
		"actor_id": actor.UserID,
		"chat_id":  actor.ChatID,
		"action":   token,
	})

	reply, err := m.dispatchAction(ctx, sl, actor, token)
	if err != nil {
		if domain.KindOf(err) == domain.KindPermissionDenied {
			sl.session = nil
		}
		log.WithError(err).WithFields(logrus.Fields{
			"event": "action_rejected",
			"kind":  string(domain.KindOf(err)),
		}).Warn("admin action rejected")
		return reply, err
	}

	log.WithField("event", "action_handled").Debug("admin action handled")
	return reply, nil
}

func (m *Machine) dispatchAction(ctx context.Context, sl *slot, actor Actor, token string) (Reply, error) {
	switch token {
	case "menu:main":
		sl.session = nil
		if sl.run != nil {
			sl.run.cancel()
		}
		if err := m.requireSuper(actor, "main menu"); err != nil {
			return deniedReply(), err
		}
		return MainMenu(), nil
	case "help_info":
		return helpReply(), nil
	case "bw:menu":
		return BannedWordsMenu(), nil
	case "bw:add":
		m.begin(sl, FlowAddBannedWords, StepAwaitWords, 0)
		return Reply{Text: promptAddWords, Buttons: backRow()}, nil
	case "bw:remove":
		m.begin(sl, FlowRemoveBannedWords, StepAwaitWords, 0)
		return Reply{Text: promptRemoveWords, Buttons: backRow()}, nil
	case "bw:list:g":
		if err := m.requireSuper(actor, "list global words"); err != nil {
			return deniedReply(), err
		}
		return m.listGlobalWords(ctx)
	case "bw:list:c":
		return m.listChatWords(ctx, actor)
	}

	if err := m.requireSuper(actor, token); err != nil {
		if !knownToken(token) {
			return unknownReply(), nil
		}
		return deniedReply(), err
	}

	switch {
	case token == "stats":
		return m.statsView(ctx)
	case token == "mute:menu":
		m.begin(sl, FlowSetMute, StepChooseChat, 0)
		return m.chatPicker(ctx, sl, "mute:", promptMuteChat)
	case token == "wh:menu":
		return whitelistMenu(), nil
	case token == "wh:add:choose_chat":
		m.begin(sl, FlowWhitelistAdd, StepChooseChat, 0)
		return m.chatPicker(ctx, sl, "wh:add:", promptWhitelistAddChat)
	case token == "wh:rem:choose_chat":
		m.begin(sl, FlowWhitelistRemove, StepChooseChat, 0)
		return m.chatPicker(ctx, sl, "wh:rem:", promptWhitelistRemoveChat)
	case token == "wh:list":
		return m.whitelistView(ctx)
	case token == "media:start":
		if sl.run != nil {
			return Reply{Text: textBroadcastRunning, Alert: true}, nil
		}
		m.begin(sl, FlowBroadcast, StepAwaitContent, 0)
		return Reply{Text: promptBroadcast, Buttons: backRow()}, nil
	case strings.HasPrefix(token, "mute:"):
		return m.pickerAction(ctx, sl, FlowSetMute, "mute:", strings.TrimPrefix(token, "mute:"))
	case strings.HasPrefix(token, "wh:add:"):
		return m.pickerAction(ctx, sl, FlowWhitelistAdd, "wh:add:", strings.TrimPrefix(token, "wh:add:"))
	case strings.HasPrefix(token, "wh:rem:"):
		return m.pickerAction(ctx, sl, FlowWhitelistRemove, "wh:rem:", strings.TrimPrefix(token, "wh:rem:"))
	case strings.HasPrefix(token, "users:page:"):
		page, ok := parseNonNegative(strings.TrimPrefix(token, "users:page:"))
		if !ok {
			return Reply{}, nil
		}
		return m.usersView(ctx, page)
	case strings.HasPrefix(token, "user:detail:"):
		userID, ok := parseNonNegative(strings.TrimPrefix(token, "user:detail:"))
		if !ok {
			return Reply{}, nil
		}
		return m.userDetail(ctx, int64(userID))
	}

	return unknownReply(), nil
}

// pickerAction handles page and chat tokens of a chat picker. Tokens that do
// not belong to the current session step are stale and ignored.
func (m *Machine) pickerAction(ctx context.Context, sl *slot, flow FlowKind, prefix, rest string) (Reply, error) {
	if sl.session == nil || sl.session.Flow != flow || sl.session.Step != StepChooseChat {
		return Reply{}, nil
	}

	switch {
	case strings.HasPrefix(rest, "page:"):
		page, ok := parseNonNegative(strings.TrimPrefix(rest, "page:"))
		if !ok {
			return Reply{}, nil
		}
		sl.session.Page = page
		m.touch(sl)
		return m.chatPicker(ctx, sl, prefix, pickerPrompt(flow))
	case strings.HasPrefix(rest, "chat:"):
		chatID, err := strconv.ParseInt(strings.TrimPrefix(rest, "chat:"), 10, 64)
		if err != nil {
			return Reply{}, nil
		}
		return m.chooseChat(ctx, sl, chatID)
	}

	return Reply{}, nil
}

func (m *Machine) chooseChat(ctx context.Context, sl *slot, chatID int64) (Reply, error) {
	sl.session.TargetChatID = chatID
	m.touch(sl)

	title := m.chatTitle(ctx, chatID)

	switch sl.session.Flow {
	case FlowSetMute:
		current, err := m.registry.MuteMinutes(ctx, chatID)
		if err != nil {
			return failureReply(), err
		}
		sl.session.Step = StepEnterMinutes
		return Reply{Text: promptMuteMinutes(title, current, m.limits), Buttons: backRow()}, nil
	case FlowWhitelistAdd:
		sl.session.Step = StepEnterUserID
		return Reply{Text: promptWhitelistUser(title, true), Buttons: backRow()}, nil
	case FlowWhitelistRemove:
		sl.session.Step = StepEnterUserID
		return Reply{Text: promptWhitelistUser(title, false), Buttons: backRow()}, nil
	}

	return Reply{}, nil
}

func (m *Machine) begin(sl *slot, flow FlowKind, step Step, page int) {
	now := m.now()
	sl.session = &Session{
		Flow:      flow,
		Step:      step,
		Page:      page,
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (m *Machine) touch(sl *slot) {
	if sl.session != nil {
		sl.session.UpdatedAt = m.now()
	}
}

func (m *Machine) requireSuper(actor Actor, op string) error {
	if m.policy != nil && m.policy.IsSuperAdmin(actor.UserID) {
		return nil
	}
	return domain.Errorf(domain.KindPermissionDenied, op, "user %d is not a super-admin", actor.UserID)
}

// wordScope resolves where banned-word edits from actor apply: global for
// super-admins, the current group for its administrators.
func (m *Machine) wordScope(ctx context.Context, actor Actor, op string) (domain.Scope, error) {
	if m.policy != nil && m.policy.IsSuperAdmin(actor.UserID) {
		return domain.GlobalScope(), nil
	}
	if !actor.ChatKind.IsGroup() {
		return domain.Scope{}, domain.Errorf(domain.KindPermissionDenied, op, "chat %d is not a group", actor.ChatID)
	}
	if m.policy == nil {
		return domain.Scope{}, domain.Errorf(domain.KindPermissionDenied, op, "no authorization policy")
	}
	admin, err := m.policy.IsGroupAdmin(ctx, actor.ChatID, actor.UserID)
	if err != nil {
		return domain.Scope{}, domain.NewError(domain.KindPermissionDenied, op, err)
	}
	if !admin {
		return domain.Scope{}, domain.Errorf(domain.KindPermissionDenied, op, "user %d is not an administrator of chat %d", actor.UserID, actor.ChatID)
	}
	return domain.ChatScope(actor.ChatID), nil
}

func (m *Machine) notifier() Notifier {
	m.notifyMu.RLock()
	defer m.notifyMu.RUnlock()
	return m.notify
}

func knownToken(token string) bool {
	switch token {
	case "stats", "mute:menu", "wh:menu", "wh:list", "media:start",
		"wh:add:choose_chat", "wh:rem:choose_chat":
		return true
	}
	for _, prefix := range []string{"mute:", "wh:add:", "wh:rem:", "users:page:", "user:detail:"} {
		if strings.HasPrefix(token, prefix) {
			return true
		}
	}
	return false
}

func parseNonNegative(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
