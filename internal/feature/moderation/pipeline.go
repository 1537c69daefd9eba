// Package moderation decides what to do with an inbound group message: leave
// it, delete it for an unsafe attachment, or delete it and mute the sender for
// a banned word.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/logging"
)

// DecisionMetric counts pipeline outcomes by action and reason.
const DecisionMetric = `guard_moderation_decisions_total{action="%s",reason="%s"}`

// DefaultUnsafeExtensions are attachment extensions deleted on sight.
var DefaultUnsafeExtensions = []string{"apk", "js", "bat", "exe", "scr", "vbs", "cmd", "msi", "reg", "ps1"}

// Action is the enforcement the host must carry out.
type Action int

const (
	ActionNone Action = iota
	ActionDelete
	ActionDeleteAndRestrict
)

func (a Action) String() string {
	switch a {
	case ActionDelete:
		return "delete"
	case ActionDeleteAndRestrict:
		return "delete_and_restrict"
	default:
		return "none"
	}
}

// Reason explains a non-none decision.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonUnsafeFile Reason = "unsafe-file"
	ReasonBadWord    Reason = "bad-word"
)

// Decision is the pipeline verdict for one message.
type Decision struct {
	Action      Action
	Reason      Reason
	RestrictFor time.Duration
	MatchedWord string
	FileName    string
}

// Message is the slice of an inbound message the pipeline inspects.
type Message struct {
	ChatID             int64
	ChatKind           domain.ChatKind
	MessageID          int
	SenderID           int64
	SenderIsSuperAdmin bool
	SenderIsGroupAdmin bool
	Text               string
	Caption            string
	HasDocument        bool
	DocumentName       string
}

// body returns the primary text, falling back to the caption.
func (m Message) body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

type snapshotReader interface {
	ModerationSnapshot(ctx context.Context, chatID, userID int64) (domain.ModerationSnapshot, error)
}

// Options tune the pipeline. Zero values fall back to defaults.
type Options struct {
	UnsafeExtensions   []string
	DefaultMuteMinutes int
	ExemptGroupAdmins  bool
	PatternCacheSize   int
	PatternCacheTTL    time.Duration
}

// Pipeline evaluates messages against the registry's moderation settings.
type Pipeline struct {
	registry snapshotReader
	unsafe   map[string]struct{}
	defMute  int
	exemptGA bool
	patterns *expirable.LRU[string, *regexp.Regexp]
	metrics  *metrics.Set
	logger   *logrus.Entry
}

// NewPipeline constructs a Pipeline. metricSet may be nil.
func NewPipeline(registry snapshotReader, opts Options, metricSet *metrics.Set, logger *logrus.Entry) *Pipeline {
	exts := opts.UnsafeExtensions
	if len(exts) == 0 {
		exts = DefaultUnsafeExtensions
	}
	unsafe := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		unsafe[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))] = struct{}{}
	}

	defMute := opts.DefaultMuteMinutes
	if defMute <= 0 {
		defMute = domain.DefaultMuteMinutes
	}
	size := opts.PatternCacheSize
	if size <= 0 {
		size = 256
	}
	ttl := opts.PatternCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if metricSet == nil {
		metricSet = metrics.NewSet()
	}

	return &Pipeline{
		registry: registry,
		unsafe:   unsafe,
		defMute:  defMute,
		exemptGA: opts.ExemptGroupAdmins,
		patterns: expirable.NewLRU[string, *regexp.Regexp](size, nil, ttl),
		metrics:  metricSet,
		logger:   logging.Component(logger, "moderation"),
	}
}

// ExemptsGroupAdmins reports whether group administrators bypass the filters.
func (p *Pipeline) ExemptsGroupAdmins() bool {
	return p.exemptGA
}

// Check loads the registry snapshot when a rule can apply and evaluates msg.
func (p *Pipeline) Check(ctx context.Context, msg Message) (Decision, error) {
	if p == nil || p.registry == nil {
		return Decision{}, errors.New("moderation pipeline is not initialized")
	}
	if p.exempt(msg) || !p.needsSnapshot(msg) {
		return p.record(Decision{}), nil
	}

	snap, err := p.registry.ModerationSnapshot(ctx, msg.ChatID, msg.SenderID)
	if err != nil {
		return Decision{}, fmt.Errorf("load moderation snapshot: %w", err)
	}

	decision := p.record(p.Evaluate(msg, snap))
	if decision.Action != ActionNone {
		p.logger.WithFields(logging.Fields{
			"event":        "moderation_decision",
			"chat_id":      msg.ChatID,
			"user_id":      msg.SenderID,
			"action":       decision.Action.String(),
			"reason":       string(decision.Reason),
			"matched_word": decision.MatchedWord,
			"file_name":    decision.FileName,
		}).Info("message violates policy")
	}
	return decision, nil
}

// Evaluate applies the rules to msg using snap. It performs no I/O.
func (p *Pipeline) Evaluate(msg Message, snap domain.ModerationSnapshot) Decision {
	if p.exempt(msg) {
		return Decision{}
	}

	if msg.HasDocument && !snap.Whitelisted && p.IsUnsafeFile(msg.DocumentName) {
		return Decision{
			Action:   ActionDelete,
			Reason:   ReasonUnsafeFile,
			FileName: msg.DocumentName,
		}
	}

	if !msg.ChatKind.IsGroup() {
		return Decision{}
	}

	word, ok := p.MatchWord(msg.body(), snap.BannedWords)
	if !ok {
		return Decision{}
	}

	minutes := snap.MuteMinutes
	if minutes <= 0 {
		minutes = p.defMute
	}
	return Decision{
		Action:      ActionDeleteAndRestrict,
		Reason:      ReasonBadWord,
		RestrictFor: time.Duration(minutes) * time.Minute,
		MatchedWord: word,
	}
}

// IsUnsafeFile reports whether the final extension of name is on the unsafe
// list. Names without an extension never match.
func (p *Pipeline) IsUnsafeFile(name string) bool {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	if ext == "" || ext == "." {
		return false
	}
	_, ok := p.unsafe[strings.TrimPrefix(ext, ".")]
	return ok
}

// MatchWord finds the first banned word occurring in text as a whole word:
// not preceded or followed by a letter, digit, or underscore.
func (p *Pipeline) MatchWord(text string, words []string) (string, bool) {
	if text == "" || len(words) == 0 {
		return "", false
	}

	re := p.pattern(words)
	if re == nil {
		return "", false
	}

	m := re.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (p *Pipeline) pattern(words []string) *regexp.Regexp {
	key := strings.Join(words, "\x00")
	if re, ok := p.patterns.Get(key); ok {
		return re
	}

	re := compileWordPattern(words)
	if re != nil {
		p.patterns.Add(key, re)
	}
	return re
}

func compileWordPattern(words []string) *regexp.Regexp {
	alts := make([]string, 0, len(words))
	for _, w := range words {
		if w = domain.NormalizeWord(w); w != "" {
			alts = append(alts, w)
		}
	}
	if len(alts) == 0 {
		return nil
	}

	// longest first so overlapping words report the most specific match
	sort.SliceStable(alts, func(i, j int) bool { return len(alts[i]) > len(alts[j]) })
	for i, w := range alts {
		alts[i] = regexp.QuoteMeta(w)
	}

	const boundary = `[^\p{L}\p{N}_]`
	return regexp.MustCompile(`(?i)(?:^|` + boundary + `)(` + strings.Join(alts, "|") + `)(?:` + boundary + `|$)`)
}

func (p *Pipeline) exempt(msg Message) bool {
	return msg.SenderIsSuperAdmin || (p.exemptGA && msg.SenderIsGroupAdmin)
}

func (p *Pipeline) needsSnapshot(msg Message) bool {
	if msg.HasDocument && p.IsUnsafeFile(msg.DocumentName) {
		return true
	}
	return msg.ChatKind.IsGroup() && msg.body() != ""
}

func (p *Pipeline) record(d Decision) Decision {
	reason := string(d.Reason)
	if reason == "" {
		reason = "none"
	}
	p.metrics.GetOrCreateCounter(fmt.Sprintf(DecisionMetric, d.Action.String(), reason)).Inc()
	return d
}
