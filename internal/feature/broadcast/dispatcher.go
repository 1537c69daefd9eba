// Package broadcast fans one admin post out to every known chat at a paced
// rate, falling back to plain text when formatting is refused.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/logging"
)

// DeliveryMetric counts per-chat broadcast outcomes.
const DeliveryMetric = `guard_broadcast_deliveries_total{outcome="%s"}`

const (
	outcomeRich    = "rich"
	outcomePlain   = "plain"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// DefaultInterval spaces consecutive sends.
const DefaultInterval = 60 * time.Millisecond

type sender interface {
	SendText(ctx context.Context, chatID int64, text string, format domain.Format) (int, error)
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string, format domain.Format) (int, error)
	SendVideo(ctx context.Context, chatID int64, fileID, caption string, format domain.Format) (int, error)
	SendAnimation(ctx context.Context, chatID int64, fileID, caption string, format domain.Format) (int, error)
	SendDocument(ctx context.Context, chatID int64, fileID, caption string, format domain.Format) (int, error)
}

// Result summarizes one broadcast run.
type Result struct {
	RunID     string
	Kind      domain.ContentKind
	SentRich  int
	SentPlain int
	Failed    []int64
	Skipped   int
	Aborted   bool
	Elapsed   time.Duration
}

// Sent is the number of chats that received the post in either format.
func (r Result) Sent() int {
	return r.SentRich + r.SentPlain
}

// Options configure pacing and parallelism.
type Options struct {
	Interval time.Duration
	Workers  int
}

// Dispatcher delivers broadcasts through a chat gateway.
type Dispatcher struct {
	gw       sender
	interval time.Duration
	workers  int
	metrics  *metrics.Set
	logger   *logrus.Entry
}

// NewDispatcher builds a Dispatcher. A zero interval disables pacing; fewer
// than one worker means one.
func NewDispatcher(gw sender, opts Options, metricSet *metrics.Set, logger *logrus.Entry) *Dispatcher {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if metricSet == nil {
		metricSet = metrics.NewSet()
	}

	return &Dispatcher{
		gw:       gw,
		interval: opts.Interval,
		workers:  workers,
		metrics:  metricSet,
		logger:   logging.Component(logger, "broadcast"),
	}
}

// Send delivers content to every chat once. It only returns an error for
// invalid content; per-chat failures are reported in Result.Failed.
// Canceling ctx stops the run and counts undelivered chats as skipped.
func (d *Dispatcher) Send(ctx context.Context, content domain.Content, chats []domain.Chat) (Result, error) {
	if d == nil || d.gw == nil {
		return Result{}, errors.New("broadcast dispatcher is not initialized")
	}
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	if !content.Valid() {
		return Result{}, domain.Errorf(domain.KindValidation, "broadcast", "unsupported or empty %q content", content.Kind)
	}

	started := time.Now()
	res := Result{RunID: uuid.NewString(), Kind: content.Kind}
	targets := uniqueChatIDs(chats)

	log := d.logger.WithFields(logging.Fields{
		"run_id": res.RunID,
		"kind":   string(content.Kind),
	})
	log.WithFields(logging.Fields{
		"event":   "broadcast_start",
		"targets": len(targets),
		"workers": d.workers,
	}).Info("starting broadcast")

	limit := rate.Inf
	if d.interval > 0 {
		limit = rate.Every(d.interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.workers)

	tally := func(chatID int64, outcome string) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeRich:
			res.SentRich++
		case outcomePlain:
			res.SentPlain++
		case outcomeFailed:
			res.Failed = append(res.Failed, chatID)
		case outcomeSkipped:
			res.Skipped++
		}
		d.metrics.GetOrCreateCounter(fmt.Sprintf(DeliveryMetric, outcome)).Inc()
	}

	for _, chatID := range targets {
		chatID := chatID
		if ctx.Err() != nil {
			tally(chatID, outcomeSkipped)
			continue
		}

		g.Go(func() error {
			tally(chatID, d.deliver(ctx, limiter, chatID, content, log))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i] < res.Failed[j] })
	res.Aborted = ctx.Err() != nil
	res.Elapsed = time.Since(started)

	log.WithFields(logging.Fields{
		"event":      "broadcast_done",
		"sent_rich":  res.SentRich,
		"sent_plain": res.SentPlain,
		"failed":     len(res.Failed),
		"skipped":    res.Skipped,
		"aborted":    res.Aborted,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}).Info("broadcast finished")

	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, limiter *rate.Limiter, chatID int64, content domain.Content, log *logrus.Entry) string {
	if err := limiter.Wait(ctx); err != nil {
		return outcomeSkipped
	}

	err := d.sendOnce(ctx, chatID, content, domain.FormatHTML)
	if err == nil {
		return outcomeRich
	}

	if !errors.Is(err, domain.ErrDeliveryFormatRejected) {
		if ctx.Err() != nil {
			return outcomeSkipped
		}
		log.WithFields(logging.Fields{
			"event":   "broadcast_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("broadcast delivery failed")
		return outcomeFailed
	}

	if err := limiter.Wait(ctx); err != nil {
		return outcomeSkipped
	}
	if err := d.sendOnce(ctx, chatID, content, domain.FormatPlain); err != nil {
		log.WithFields(logging.Fields{
			"event":   "broadcast_failed",
			"chat_id": chatID,
			"retry":   "plain",
		}).WithError(err).Warn("broadcast plain retry failed")
		return outcomeFailed
	}
	return outcomePlain
}

func (d *Dispatcher) sendOnce(ctx context.Context, chatID int64, content domain.Content, format domain.Format) error {
	var err error
	caption := content.CaptionFor(format)
	switch content.Kind {
	case domain.ContentText:
		_, err = d.gw.SendText(ctx, chatID, content.TextFor(format), format)
	case domain.ContentPhoto:
		_, err = d.gw.SendPhoto(ctx, chatID, content.FileID, caption, format)
	case domain.ContentVideo:
		_, err = d.gw.SendVideo(ctx, chatID, content.FileID, caption, format)
	case domain.ContentAnimation:
		_, err = d.gw.SendAnimation(ctx, chatID, content.FileID, caption, format)
	case domain.ContentDocument:
		_, err = d.gw.SendDocument(ctx, chatID, content.FileID, caption, format)
	default:
		err = domain.Errorf(domain.KindValidation, "broadcast", "unsupported content %q", content.Kind)
	}
	return err
}

func uniqueChatIDs(chats []domain.Chat) []int64 {
	seen := make(map[int64]struct{}, len(chats))
	out := make([]int64, 0, len(chats))
	for _, c := range chats {
		if c.ChatID == 0 {
			continue
		}
		if _, ok := seen[c.ChatID]; ok {
			continue
		}
		seen[c.ChatID] = struct{}{}
		out = append(out, c.ChatID)
	}
	return out
}
