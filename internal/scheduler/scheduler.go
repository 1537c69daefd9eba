// Package scheduler runs the bot's periodic housekeeping on gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/logging"
)

const (
	JobSessionSweep  = "session_sweep"
	JobRegistryStats = "registry_stats"

	DefaultSweepInterval = time.Minute
	DefaultStatsInterval = 5 * time.Minute

	statsTimeout = 10 * time.Second
)

// Gauges published from the registry_stats job.
const (
	ChatsGauge      = `guard_registry_chats`
	AdminChatsGauge = `guard_registry_admin_chats`
	UsersGauge      = `guard_registry_users`
	SessionsGauge   = `guard_sessions_active`
)

type sessionSweeper interface {
	ExpireIdle(ttl time.Duration) int
	ActiveSessions() int
}

// Options configure job cadence.
type Options struct {
	SessionTTL    time.Duration
	SweepInterval time.Duration
	StatsInterval time.Duration
}

// Scheduler owns the gocron scheduler and the jobs registered on it.
type Scheduler struct {
	cron     gocron.Scheduler
	sessions sessionSweeper
	registry domain.Registry
	ttl      time.Duration
	logger   *logrus.Entry

	chats      atomic.Int64
	adminChats atomic.Int64
	users      atomic.Int64

	mu      sync.Mutex
	running bool
}

// New registers the housekeeping jobs without starting them.
func New(sessions sessionSweeper, registry domain.Registry, opts Options, metricSet *metrics.Set, logger *logrus.Entry) (*Scheduler, error) {
	if sessions == nil {
		return nil, errors.New("scheduler: session sweeper is required")
	}
	if registry == nil {
		return nil, errors.New("scheduler: registry is required")
	}
	if opts.SessionTTL <= 0 {
		return nil, errors.New("scheduler: session ttl must be positive")
	}
	if logger == nil {
		logger = logging.Logger()
	}
	if metricSet == nil {
		metricSet = metrics.NewSet()
	}
	sweepEvery := opts.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepInterval
	}
	statsEvery := opts.StatsInterval
	if statsEvery <= 0 {
		statsEvery = DefaultStatsInterval
	}

	log := logging.Component(logger, "scheduler")
	cron, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logging.NewGocronLogger(log)),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Scheduler{
		cron:     cron,
		sessions: sessions,
		registry: registry,
		ttl:      opts.SessionTTL,
		logger:   log,
	}

	metricSet.GetOrCreateGauge(ChatsGauge, func() float64 { return float64(s.chats.Load()) })
	metricSet.GetOrCreateGauge(AdminChatsGauge, func() float64 { return float64(s.adminChats.Load()) })
	metricSet.GetOrCreateGauge(UsersGauge, func() float64 { return float64(s.users.Load()) })
	metricSet.GetOrCreateGauge(SessionsGauge, func() float64 { return float64(sessions.ActiveSessions()) })

	jobs := []struct {
		name  string
		every time.Duration
		task  func()
	}{
		{name: JobSessionSweep, every: sweepEvery, task: func() { s.SweepSessions() }},
		{name: JobRegistryStats, every: statsEvery, task: func() { s.RefreshStats(context.Background()) }},
	}
	for _, job := range jobs {
		_, err := cron.NewJob(
			gocron.DurationJob(job.every),
			gocron.NewTask(job.task),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = cron.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
		log.WithFields(logging.Fields{
			"event":    "job_scheduled",
			"job":      job.name,
			"interval": job.every.String(),
		}).Debug("job scheduled")
	}

	return s, nil
}

// Start begins running jobs. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.WithField("event", "scheduler_started").Info("scheduler started")
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.running = false
	s.logger.WithField("event", "scheduler_stopped").Info("scheduler stopped")
	return nil
}

// SweepSessions drops admin dialogs idle for longer than the session TTL.
func (s *Scheduler) SweepSessions() int {
	expired := s.sessions.ExpireIdle(s.ttl)
	if expired > 0 {
		s.logger.WithFields(logging.Fields{
			"event":   "sessions_swept",
			"expired": expired,
		}).Info("expired idle sessions")
	}
	return expired
}

// RefreshStats recounts the registry and publishes the totals as gauges.
func (s *Scheduler) RefreshStats(ctx context.Context) (domain.RegistryStats, error) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	stats, err := domain.CollectStats(ctx, s.registry)
	if err != nil {
		s.logger.WithField("event", "registry_stats_failed").WithError(err).Warn("collect registry stats failed")
		return domain.RegistryStats{}, err
	}

	s.chats.Store(int64(stats.Chats))
	s.adminChats.Store(int64(stats.AdminChats))
	s.users.Store(int64(stats.Users))

	s.logger.WithFields(logging.Fields{
		"event":       "registry_stats",
		"chats":       stats.Chats,
		"admin_chats": stats.AdminChats,
		"users":       stats.Users,
	}).Debug("registry stats refreshed")
	return stats, nil
}
