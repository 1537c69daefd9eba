// Package engine is the host-facing entry point: it records who the bot sees,
// runs the moderation pipeline, carries out enforcement through the chat
// gateway and routes admin input to the conversation machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/feature/conversation"
	"tg_guard_bot/internal/feature/group"
	"tg_guard_bot/internal/feature/moderation"
	"tg_guard_bot/internal/feature/user"
	"tg_guard_bot/internal/logging"
)

const (
	// ErrorMetric counts swallowed failures by processing stage.
	ErrorMetric = `guard_engine_errors_total{stage="%s"}`
	// EnforcementMetric counts enforcement calls by step and outcome.
	EnforcementMetric = `guard_engine_enforcements_total{step="%s",outcome="%s"}`
)

const (
	DefaultFileNoticeDelay = 2 * time.Second
	DefaultMuteNoticeDelay = 5 * time.Second

	cleanupTimeout = 10 * time.Second
)

// Reply is rendered by the host transport.
type Reply = conversation.Reply

// Event is one inbound chat message as seen by the engine.
type Event struct {
	ChatID       int64
	ChatKind     domain.ChatKind
	ChatTitle    string
	MessageID    int
	Sender       domain.User
	Text         string
	Caption      string
	HasDocument  bool
	DocumentName string
	// Content is set when the message can be re-posted by a broadcast.
	Content *domain.Content
	// Edited marks an edit of an earlier message; edits are moderated but
	// never consumed by a session.
	Edited bool
	// Command is the lowercased bot command the message starts with, set only
	// when the command is addressed to this bot.
	Command string
}

func (ev Event) actor() conversation.Actor {
	return conversation.Actor{UserID: ev.Sender.UserID, ChatID: ev.ChatID, ChatKind: ev.ChatKind}
}

func (ev Event) logContext() logging.Context {
	return logging.Context{UserID: ev.Sender.UserID, ChatID: ev.ChatID}
}

func (ev Event) chat() domain.Chat {
	return domain.Chat{ChatID: ev.ChatID, Title: ev.ChatTitle, Kind: ev.ChatKind}
}

// adminForgetter is implemented by policies that cache group-admin lookups.
// /words drops the cached answer so a freshly promoted admin is not refused.
type adminForgetter interface {
	Forget(chatID, userID int64)
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Gateway  domain.ChatGateway
	Policy   domain.AuthorizationPolicy
	Registry domain.Registry
	Pipeline *moderation.Pipeline
	Machine  *conversation.Machine
	Users    *user.Registrar
	Groups   *group.Registrar
}

// Options tune enforcement notices.
type Options struct {
	FileNoticeDelay time.Duration
	MuteNoticeDelay time.Duration
	Now             func() time.Time
}

// Engine handles inbound events.
type Engine struct {
	gateway  domain.ChatGateway
	policy   domain.AuthorizationPolicy
	pipeline *moderation.Pipeline
	machine  *conversation.Machine
	users    *user.Registrar
	groups   *group.Registrar

	fileDelay time.Duration
	muteDelay time.Duration
	now       func() time.Time

	metrics *metrics.Set
	logger  *logrus.Entry
	pending sync.WaitGroup
}

// New validates deps and builds an Engine. Missing registrars are created
// from deps.Registry.
func New(deps Deps, opts Options, metricSet *metrics.Set, logger *logrus.Entry) (*Engine, error) {
	if deps.Gateway == nil {
		return nil, errors.New("engine: gateway is required")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("engine: moderation pipeline is required")
	}
	if deps.Machine == nil {
		return nil, errors.New("engine: conversation machine is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("engine: authorization policy is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}
	if metricSet == nil {
		metricSet = metrics.NewSet()
	}

	if deps.Users == nil || deps.Groups == nil {
		if deps.Registry == nil {
			return nil, errors.New("engine: registry is required")
		}
		if deps.Users == nil {
			deps.Users = user.NewRegistrar(deps.Registry, logger)
		}
		if deps.Groups == nil {
			deps.Groups = group.NewRegistrar(deps.Registry, nil, logger)
		}
	}

	fileDelay := opts.FileNoticeDelay
	if fileDelay <= 0 {
		fileDelay = DefaultFileNoticeDelay
	}
	muteDelay := opts.MuteNoticeDelay
	if muteDelay <= 0 {
		muteDelay = DefaultMuteNoticeDelay
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		gateway:   deps.Gateway,
		policy:    deps.Policy,
		pipeline:  deps.Pipeline,
		machine:   deps.Machine,
		users:     deps.Users,
		groups:    deps.Groups,
		fileDelay: fileDelay,
		muteDelay: muteDelay,
		now:       now,
		metrics:   metricSet,
		logger:    logging.Component(logger, "engine"),
	}

	deps.Machine.SetNotifier(e.notify)
	return e, nil
}

// HandleInboundMessage records the sender and chat, evaluates the message and
// enforces the decision. Commands are answered only once the message passed
// moderation; other messages are offered to the sender's active session. The returned reply, if any, goes to ev.ChatID.
// Store and transport failures are logged and counted, never returned.
func (e *Engine) HandleInboundMessage(ctx context.Context, ev Event) (moderation.Decision, *Reply) {
	if ctx == nil {
		ctx = context.Background()
	}

	log := logging.With(e.logger, ev.logContext()).WithField("message_id", ev.MessageID)

	e.track(ctx, ev, log)

	decision := e.moderate(ctx, ev, log)
	if decision.Action != moderation.ActionNone {
		e.enforce(ctx, ev, decision, log)
		return decision, nil
	}

	if ev.Sender.UserID == 0 || ev.Edited {
		return decision, nil
	}

	if ev.Command != "" {
		if reply, ok := e.HandleCommand(ctx, ev, ev.Command); ok {
			if reply.Empty() {
				return decision, nil
			}
			return decision, &reply
		}
	}

	reply, handled, err := e.machine.HandleInput(ctx, conversation.Input{
		Actor:   ev.actor(),
		Text:    ev.Text,
		Content: ev.Content,
	})
	if err != nil && domain.KindOf(err) != domain.KindValidation && domain.KindOf(err) != domain.KindPermissionDenied {
		e.fail("session", err, log)
	}
	if handled {
		if reply.Empty() {
			return decision, nil
		}
		return decision, &reply
	}

	if hint := e.fallbackHint(ev); hint != nil {
		return decision, hint
	}
	return decision, nil
}

// HandleMenuAction applies a callback token pressed by actor.
func (e *Engine) HandleMenuAction(ctx context.Context, actor conversation.Actor, token string) Reply {
	if ctx == nil {
		ctx = context.Background()
	}

	reply, err := e.machine.HandleAction(ctx, actor, token)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindPermissionDenied, domain.KindNotFound, domain.KindValidation:
		default:
			e.fail("action", err, logging.With(e.logger, logging.Context{
				UserID: actor.UserID,
				ChatID: actor.ChatID,
			}).WithField("action", token))
		}
	}
	return reply
}

// HandleStart answers /start: the admin menu for super-admins, an intro with
// an "add to group" link for everybody else.
func (e *Engine) HandleStart(ctx context.Context, ev Event) Reply {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logging.With(e.logger, ev.logContext())
	e.track(ctx, ev, log)

	if e.policy.IsSuperAdmin(ev.Sender.UserID) {
		menu := conversation.MainMenu()
		menu.Text = "👋 Hello, admin! Welcome to the control panel.\n\n" + menu.Text
		return menu
	}

	username, err := e.gateway.GetBotUsername(ctx)
	if err != nil {
		e.fail("bot_username", err, log)
		username = ""
	}
	return conversation.IntroReply(username)
}

// HandleCommand answers the remaining slash commands. ok is false for
// commands the bot does not know.
func (e *Engine) HandleCommand(ctx context.Context, ev Event, command string) (Reply, bool) {
	switch strings.ToLower(command) {
	case "start":
		return e.HandleStart(ctx, ev), true
	case "help":
		return Reply{Text: conversation.HelpText}, true
	case "menu":
		return e.HandleMenuAction(ctx, ev.actor(), "menu:main"), true
	case "words":
		if f, ok := e.policy.(adminForgetter); ok && ev.ChatKind != domain.ChatPrivate {
			f.Forget(ev.ChatID, ev.Sender.UserID)
		}
		return e.HandleMenuAction(ctx, ev.actor(), "bw:menu"), true
	case "cancel":
		e.HandleMenuAction(ctx, ev.actor(), "menu:main")
		return Reply{Text: "Cancelled."}, true
	}
	return Reply{}, false
}

// HandleMembership records a change in the bot's own membership or rights.
func (e *Engine) HandleMembership(ctx context.Context, chat domain.Chat) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := e.groups.RecordMembership(ctx, chat); err != nil {
		e.fail("membership", err, e.logger.WithField("chat_id", chat.ChatID))
		return err
	}
	return nil
}

// Close waits for scheduled notice cleanups, bounded by ctx.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) track(ctx context.Context, ev Event, log *logrus.Entry) {
	if ev.Sender.UserID != 0 {
		if _, err := e.users.EnsureUser(ctx, ev.Sender); err != nil {
			e.fail("track_user", err, log)
		}
	}
	if ev.ChatID != 0 && ev.ChatKind != domain.ChatPrivate && ev.ChatKind != "" {
		if _, err := e.groups.EnsureGroup(ctx, ev.chat()); err != nil {
			e.fail("track_chat", err, log)
		}
	}
}

func (e *Engine) moderate(ctx context.Context, ev Event, log *logrus.Entry) moderation.Decision {
	msg := moderation.Message{
		ChatID:             ev.ChatID,
		ChatKind:           ev.ChatKind,
		MessageID:          ev.MessageID,
		SenderID:           ev.Sender.UserID,
		SenderIsSuperAdmin: e.policy.IsSuperAdmin(ev.Sender.UserID),
		Text:               ev.Text,
		Caption:            ev.Caption,
		HasDocument:        ev.HasDocument,
		DocumentName:       ev.DocumentName,
	}

	if e.pipeline.ExemptsGroupAdmins() && ev.ChatKind.IsGroup() && !msg.SenderIsSuperAdmin && ev.Sender.UserID != 0 {
		admin, err := e.policy.IsGroupAdmin(ctx, ev.ChatID, ev.Sender.UserID)
		if err != nil {
			e.fail("group_admin", err, log)
		}
		msg.SenderIsGroupAdmin = admin
	}

	decision, err := e.pipeline.Check(ctx, msg)
	if err != nil {
		e.fail("moderation", err, log)
		return moderation.Decision{}
	}
	return decision
}

func (e *Engine) enforce(ctx context.Context, ev Event, d moderation.Decision, log *logrus.Entry) {
	log = log.WithFields(logrus.Fields{
		"action": d.Action.String(),
		"reason": string(d.Reason),
	})

	err := e.gateway.DeleteMessage(ctx, ev.ChatID, ev.MessageID)
	e.countStep("delete", err)
	if err != nil {
		log.WithError(err).WithField("event", "enforce_delete_failed").Warn("could not delete message")
	}

	switch d.Action {
	case moderation.ActionDelete:
		if err != nil {
			return
		}
		notice := fmt.Sprintf("❌ File %s was deleted for safety.", html.EscapeString(d.FileName))
		e.postNotice(ctx, ev.ChatID, notice, e.fileDelay, log)

	case moderation.ActionDeleteAndRestrict:
		until := e.now().Add(d.RestrictFor)
		err := e.gateway.Restrict(ctx, ev.ChatID, ev.Sender.UserID, until)
		e.countStep("restrict", err)
		if err != nil {
			log.WithError(err).WithField("event", "enforce_restrict_failed").Warn("could not restrict sender")
			return
		}

		log.WithFields(logrus.Fields{
			"event":   "member_restricted",
			"minutes": int(d.RestrictFor / time.Minute),
			"until":   until.UTC().Format(time.RFC3339),
		}).Info("sender muted")

		notice := fmt.Sprintf("🚫 <a href=\"tg://user?id=%d\">%s</a> was muted for %d minutes.",
			ev.Sender.UserID, html.EscapeString(ev.Sender.DisplayName()), int(d.RestrictFor/time.Minute))
		e.postNotice(ctx, ev.ChatID, notice, e.muteDelay, log)
	}
}

// postNotice sends a short-lived notice and deletes it after delay.
func (e *Engine) postNotice(ctx context.Context, chatID int64, text string, delay time.Duration, log *logrus.Entry) {
	msgID, err := e.gateway.SendText(ctx, chatID, text, domain.FormatHTML)
	e.countStep("notice", err)
	if err != nil {
		log.WithError(err).WithField("event", "notice_failed").Warn("could not post notice")
		return
	}

	e.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer e.pending.Done()

		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()

		err := e.gateway.DeleteMessage(cleanupCtx, chatID, msgID)
		e.countStep("notice_cleanup", err)
		if err != nil {
			log.WithError(err).WithField("event", "notice_cleanup_failed").Debug("could not delete notice")
		}
	})
}

func (e *Engine) fallbackHint(ev Event) *Reply {
	if ev.ChatKind != domain.ChatPrivate || strings.TrimSpace(ev.Text) == "" {
		return nil
	}
	if !e.policy.IsSuperAdmin(ev.Sender.UserID) {
		return nil
	}
	menu := conversation.MainMenu()
	menu.Text = "❗ Please choose an action from the menu."
	return &menu
}

func (e *Engine) notify(ctx context.Context, key conversation.Key, reply Reply) {
	if reply.Empty() {
		return
	}
	if _, err := e.gateway.SendText(ctx, key.ChatID, reply.Text, domain.FormatHTML); err != nil {
		e.fail("notify", err, logging.With(e.logger, logging.Context{
			UserID: key.ActorID,
			ChatID: key.ChatID,
		}))
	}
}

func (e *Engine) fail(stage string, err error, log *logrus.Entry) {
	e.metrics.GetOrCreateCounter(fmt.Sprintf(ErrorMetric, stage)).Inc()
	log.WithError(err).WithFields(logrus.Fields{
		"event": "engine_error",
		"stage": stage,
		"kind":  string(domain.KindOf(err)),
	}).Warn("event processing step failed")
}

func (e *Engine) countStep(step string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.GetOrCreateCounter(fmt.Sprintf(EnforcementMetric, step, outcome)).Inc()
}
