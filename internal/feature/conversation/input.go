package conversation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/feature/broadcast"
)

var (
	minutesPattern = regexp.MustCompile(`^\d{1,4}$`)
	userIDPattern  = regexp.MustCompile(`^\d+$`)
)

// HandleInput offers a message to the actor's active session. handled is
// false when there is no session, so the caller can fall back to a hint.
// Validation failures keep the session at the same step.
func (m *Machine) HandleInput(ctx context.Context, in Input) (reply Reply, handled bool, err error) {
	if ctx == nil {
		return Reply{}, false, errors.New("context is nil")
	}

	key := in.key()
	sl, ok := m.sessions.slots.Load(key)
	if !ok {
		return Reply{}, false, nil
	}

	sl.mu.Lock()
	if sl.session == nil {
		sl.mu.Unlock()
		return Reply{}, false, nil
	}

	session := *sl.session
	log := m.logger.WithFields(logrus.Fields{
		"actor_id": in.UserID,
		"chat_id":  in.ChatID,
		"flow":     string(session.Flow),
		"step":     string(session.Step),
	})

	if session.Flow == FlowBroadcast && session.Step == StepAwaitContent {
		reply, start, err := m.prepareBroadcast(ctx, sl, in)
		sl.mu.Unlock()
		if err != nil {
			logRejected(log, err)
			return reply, true, err
		}
		start()
		return reply, true, nil
	}

	reply, err = m.applyInput(ctx, sl, in)
	if err != nil && domain.KindOf(err) == domain.KindPermissionDenied {
		sl.session = nil
	}
	if err == nil && sl.session != nil {
		m.touch(sl)
	}
	sl.mu.Unlock()

	if err != nil {
		logRejected(log, err)
		return reply, true, err
	}
	log.WithField("event", "input_handled").Debug("session input handled")
	return reply, true, nil
}

func logRejected(log *logrus.Entry, err error) {
	entry := log.WithError(err).WithFields(logrus.Fields{
		"event": "input_rejected",
		"kind":  string(domain.KindOf(err)),
	})
	if domain.KindOf(err) == domain.KindValidation {
		entry.Debug("session input rejected")
		return
	}
	entry.Warn("session input rejected")
}

func (m *Machine) applyInput(ctx context.Context, sl *slot, in Input) (Reply, error) {
	session := sl.session
	text := strings.TrimSpace(in.Text)

	switch session.Step {
	case StepAwaitWords:
		return m.applyWords(ctx, sl, in.Actor, text)
	case StepChooseChat:
		return Reply{Text: promptPickChat}, domain.Errorf(domain.KindValidation, "choose chat", "expected a chat button, got text")
	case StepEnterMinutes:
		return m.applyMinutes(ctx, sl, text)
	case StepEnterUserID:
		return m.applyWhitelist(ctx, sl, text)
	}

	sl.session = nil
	return Reply{}, domain.Errorf(domain.KindValidation, "session input", "unexpected step %q", session.Step)
}

func (m *Machine) applyWords(ctx context.Context, sl *slot, actor Actor, text string) (Reply, error) {
	op := "add banned words"
	if sl.session.Flow == FlowRemoveBannedWords {
		op = "remove banned words"
	}

	scope, err := m.wordScope(ctx, actor, op)
	if err != nil {
		return Reply{Text: textGroupAdminNeeded}, err
	}

	words := domain.NormalizeWords(domain.SplitWordList(text))
	if len(words) == 0 {
		return Reply{Text: textWordsNeeded}, domain.Errorf(domain.KindValidation, op, "no words in input")
	}

	where := "globally"
	if !scope.IsGlobal() {
		where = "in this chat"
	}

	var n int
	var verb string
	if sl.session.Flow == FlowRemoveBannedWords {
		n, err = m.registry.RemoveBannedWords(ctx, scope, words)
		verb = "Removed"
	} else {
		n, err = m.registry.AddBannedWords(ctx, scope, words)
		verb = "Added"
	}
	if err != nil {
		return failureReply(), err
	}

	sl.session = nil
	m.logger.WithFields(logrus.Fields{
		"event":   "banned_words_changed",
		"op":      op,
		"scope":   scope.String(),
		"changed": n,
		"words":   len(words),
	}).Info("banned words updated")

	return Reply{
		Text:    fmt.Sprintf("✅ %s %d of %d word(s) %s.", verb, n, len(words), where),
		Buttons: backRow(),
	}, nil
}

func (m *Machine) applyMinutes(ctx context.Context, sl *slot, text string) (Reply, error) {
	if !minutesPattern.MatchString(text) {
		return Reply{Text: fmt.Sprintf("Send a whole number of minutes between %d and %d.", m.limits.Min, m.limits.Max)},
			domain.Errorf(domain.KindValidation, "set mute", "%q is not a number of minutes", text)
	}
	minutes, _ := strconv.Atoi(text)
	if !m.limits.Contains(minutes) {
		return Reply{Text: fmt.Sprintf("The duration must be between %d and %d minutes.", m.limits.Min, m.limits.Max)},
			domain.Errorf(domain.KindValidation, "set mute", "%d minutes out of range", minutes)
	}

	chatID := sl.session.TargetChatID
	stored, err := m.registry.SetMuteMinutes(ctx, chatID, minutes)
	if err != nil {
		return failureReply(), err
	}

	sl.session = nil
	m.logger.WithFields(logrus.Fields{
		"event":   "mute_changed",
		"chat_id": chatID,
		"minutes": stored,
	}).Info("mute duration updated")

	return Reply{
		Text:    fmt.Sprintf("✅ Offenders in <b>%s</b> are now muted for %d minutes.", html.EscapeString(m.chatTitle(ctx, chatID)), stored),
		Buttons: backRow(),
	}, nil
}

func (m *Machine) applyWhitelist(ctx context.Context, sl *slot, text string) (Reply, error) {
	op := "whitelist add"
	if sl.session.Flow == FlowWhitelistRemove {
		op = "whitelist remove"
	}

	if !userIDPattern.MatchString(text) {
		return Reply{Text: textUserIDInvalid}, domain.Errorf(domain.KindValidation, op, "%q is not a user id", text)
	}
	userID, err := strconv.ParseInt(text, 10, 64)
	if err != nil || userID <= 0 {
		return Reply{Text: textUserIDInvalid}, domain.Errorf(domain.KindValidation, op, "%q is not a user id", text)
	}

	chatID := sl.session.TargetChatID
	title := html.EscapeString(m.chatTitle(ctx, chatID))

	var changed bool
	var msg string
	if sl.session.Flow == FlowWhitelistRemove {
		changed, err = m.registry.RemoveWhitelist(ctx, chatID, userID)
		if changed {
			msg = fmt.Sprintf("✅ User <code>%d</code> removed from the whitelist of <b>%s</b>.", userID, title)
		} else {
			msg = fmt.Sprintf("User <code>%d</code> was not whitelisted in <b>%s</b>.", userID, title)
		}
	} else {
		changed, err = m.registry.AddWhitelist(ctx, chatID, userID)
		if changed {
			msg = fmt.Sprintf("✅ User <code>%d</code> whitelisted in <b>%s</b>.", userID, title)
		} else {
			msg = fmt.Sprintf("User <code>%d</code> is already whitelisted in <b>%s</b>.", userID, title)
		}
	}
	if err != nil {
		return failureReply(), err
	}

	sl.session = nil
	m.logger.WithFields(logrus.Fields{
		"event":   "whitelist_changed",
		"op":      op,
		"chat_id": chatID,
		"user_id": userID,
		"changed": changed,
	}).Info("whitelist updated")

	return Reply{Text: msg, Buttons: backRow()}, nil
}

// prepareBroadcast ends the session and returns a func that runs the
// broadcast in the background. It must be called with the slot locked; the
// returned func must be called after unlocking.
func (m *Machine) prepareBroadcast(ctx context.Context, sl *slot, in Input) (Reply, func(), error) {
	if in.Content == nil || !in.Content.Valid() {
		return Reply{Text: textContentInvalid}, nil, domain.Errorf(domain.KindValidation, "broadcast", "unsupported content")
	}
	if m.broadcaster == nil {
		sl.session = nil
		return failureReply(), nil, errors.New("broadcast: no broadcaster configured")
	}

	chats, err := m.registry.ListChats(ctx)
	if err != nil {
		return failureReply(), nil, err
	}

	content := *in.Content
	key := in.key()
	runCtx, cancel := context.WithCancel(m.baseCtx)
	run := &broadcastRun{cancel: cancel}
	sl.session = nil
	sl.run = run
	m.runs.Add(1)

	start := func() {
		go m.runBroadcast(runCtx, sl, run, key, content, chats)
	}

	return Reply{
		Text:    fmt.Sprintf("📣 Broadcasting to %d chat(s). Open the main menu to stop.", len(chats)),
		Buttons: backRow(),
	}, start, nil
}

func (m *Machine) runBroadcast(ctx context.Context, sl *slot, run *broadcastRun, key Key, content domain.Content, chats []domain.Chat) {
	defer m.runs.Done()
	defer run.cancel()

	result, err := m.broadcaster.Send(ctx, content, chats)

	sl.mu.Lock()
	if sl.run == run {
		sl.run = nil
	}
	sl.mu.Unlock()

	reply := Reply{Text: summaryText(result)}
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"event":    "broadcast_failed",
			"actor_id": key.ActorID,
		}).Error("broadcast failed")
		reply = failureReply()
	}

	if notify := m.notifier(); notify != nil {
		notify(context.WithoutCancel(ctx), key, reply)
	}
}

func summaryText(r broadcast.Result) string {
	head := "📣 Broadcast finished"
	if r.Aborted {
		head = "🛑 Broadcast stopped"
	}
	return fmt.Sprintf("%s\nDelivered: %d (as plain text: %d)\nFailed: %d\nSkipped: %d",
		head, r.Sent(), r.SentPlain, len(r.Failed), r.Skipped)
}
