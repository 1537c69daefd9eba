package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// FlowKind names a multi-step admin dialog.
type FlowKind string

const (
	FlowAddBannedWords    FlowKind = "add_banned_words"
	FlowRemoveBannedWords FlowKind = "remove_banned_words"
	FlowSetMute           FlowKind = "set_mute"
	FlowWhitelistAdd      FlowKind = "whitelist_add"
	FlowWhitelistRemove   FlowKind = "whitelist_remove"
	FlowBroadcast         FlowKind = "broadcast"
)

// Step is the position inside a flow.
type Step string

const (
	StepAwaitWords   Step = "await_words"
	StepChooseChat   Step = "choose_chat"
	StepEnterMinutes Step = "enter_minutes"
	StepEnterUserID  Step = "enter_user_id"
	StepAwaitContent Step = "await_content"
)

// Key identifies a session: one actor in one chat.
type Key struct {
	ActorID int64
	ChatID  int64
}

// Session is the in-progress state of a flow.
type Session struct {
	Flow         FlowKind
	Step         Step
	TargetChatID int64
	Page         int
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// slot serialises every event for a single key. Slots are never removed from
// the map so two goroutines can't end up holding different locks for one key;
// only the session inside a slot expires.
type slot struct {
	mu      sync.Mutex
	session *Session
	run     *broadcastRun
}

type broadcastRun struct {
	cancel context.CancelFunc
}

type sessions struct {
	slots *xsync.MapOf[Key, *slot]
}

func newSessions() *sessions {
	return &sessions{slots: xsync.NewMapOf[Key, *slot]()}
}

func (s *sessions) slotFor(key Key) *slot {
	sl, _ := s.slots.LoadOrCompute(key, func() *slot {
		return &slot{}
	})
	return sl
}

// lookup returns a copy of the current session for key.
func (s *sessions) lookup(key Key) (Session, bool) {
	sl, ok := s.slots.Load(key)
	if !ok {
		return Session{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.session == nil {
		return Session{}, false
	}
	return *sl.session, true
}

func (s *sessions) active() int {
	count := 0
	s.slots.Range(func(_ Key, sl *slot) bool {
		sl.mu.Lock()
		if sl.session != nil {
			count++
		}
		sl.mu.Unlock()
		return true
	})
	return count
}

func (s *sessions) expire(now time.Time, ttl time.Duration) int {
	expired := 0
	s.slots.Range(func(_ Key, sl *slot) bool {
		sl.mu.Lock()
		if sl.session != nil && now.Sub(sl.session.UpdatedAt) > ttl {
			sl.session = nil
			expired++
		}
		sl.mu.Unlock()
		return true
	})
	return expired
}

func (s *sessions) cancelAll() {
	s.slots.Range(func(_ Key, sl *slot) bool {
		sl.mu.Lock()
		if sl.run != nil {
			sl.run.cancel()
		}
		sl.mu.Unlock()
		return true
	})
}
