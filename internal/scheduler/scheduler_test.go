package scheduler

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/store/memstore"
)

type fakeSweeper struct {
	mu      sync.Mutex
	ttls    []time.Duration
	expire  int
	active  int
	sweeped chan struct{}
}

func (f *fakeSweeper) ExpireIdle(ttl time.Duration) int {
	f.mu.Lock()
	f.ttls = append(f.ttls, ttl)
	f.mu.Unlock()
	if f.sweeped != nil {
		select {
		case f.sweeped <- struct{}{}:
		default:
		}
	}
	return f.expire
}

func (f *fakeSweeper) ActiveSessions() int {
	return f.active
}

func TestNewValidatesInputs(t *testing.T) {
	reg := memstore.New(domain.DefaultMuteLimits())

	_, err := New(nil, reg, Options{SessionTTL: time.Minute}, nil, nil)
	assert.Error(t, err)

	_, err = New(&fakeSweeper{}, nil, Options{SessionTTL: time.Minute}, nil, nil)
	assert.Error(t, err)

	_, err = New(&fakeSweeper{}, reg, Options{}, nil, nil)
	assert.Error(t, err)
}

func TestSweepSessionsUsesTTLAndLogs(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	sweeper := &fakeSweeper{expire: 2}
	s, err := New(sweeper, memstore.New(domain.DefaultMuteLimits()), Options{SessionTTL: 15 * time.Minute}, nil, logrus.NewEntry(hookLogger))
	require.NoError(t, err)

	assert.Equal(t, 2, s.SweepSessions())
	assert.Equal(t, []time.Duration{15 * time.Minute}, sweeper.ttls)

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "sessions_swept" {
			found = true
			assert.Equal(t, 2, entry.Data["expired"])
		}
	}
	assert.True(t, found, "expected sessions_swept log entry")
}

func TestRefreshStatsPublishesGauges(t *testing.T) {
	ctx := context.Background()
	reg := memstore.New(domain.DefaultMuteLimits())
	_, err := reg.UpsertChat(ctx, domain.Chat{ChatID: -1, Kind: domain.ChatGroup, BotIsAdmin: true})
	require.NoError(t, err)
	_, err = reg.UpsertChat(ctx, domain.Chat{ChatID: -2, Kind: domain.ChatSupergroup})
	require.NoError(t, err)
	_, err = reg.UpsertUser(ctx, domain.User{UserID: 5})
	require.NoError(t, err)

	set := metrics.NewSet()
	s, err := New(&fakeSweeper{active: 4}, reg, Options{SessionTTL: time.Minute}, set, nil)
	require.NoError(t, err)

	stats, err := s.RefreshStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistryStats{Chats: 2, AdminChats: 1, Users: 1}, stats)

	var buf bytes.Buffer
	set.WritePrometheus(&buf)
	out := buf.String()
	assert.Contains(t, out, "guard_registry_chats 2")
	assert.Contains(t, out, "guard_registry_admin_chats 1")
	assert.Contains(t, out, "guard_registry_users 1")
	assert.Contains(t, out, "guard_sessions_active 4")
}

func TestRefreshStatsReportsStoreErrors(t *testing.T) {
	s, err := New(&fakeSweeper{}, memstore.New(domain.DefaultMuteLimits()), Options{SessionTTL: time.Minute}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.RefreshStats(ctx)
	assert.Error(t, err)
}

func TestStartRunsSweepJob(t *testing.T) {
	sweeper := &fakeSweeper{sweeped: make(chan struct{}, 1)}
	s, err := New(sweeper, memstore.New(domain.DefaultMuteLimits()), Options{
		SessionTTL:    time.Minute,
		SweepInterval: 20 * time.Millisecond,
		StatsInterval: time.Hour,
	}, nil, nil)
	require.NoError(t, err)

	s.Start()
	s.Start()
	defer func() { require.NoError(t, s.Shutdown()) }()

	select {
	case <-sweeper.sweeped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected session sweep to run")
	}
}
