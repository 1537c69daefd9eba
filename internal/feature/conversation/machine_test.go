package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/feature/broadcast"
	"tg_guard_bot/internal/store/memstore"
)

const (
	superID  int64 = 1
	adminID  int64 = 2
	memberID int64 = 3
	groupID  int64 = -100
)

type fakePolicy struct {
	supers map[int64]bool
	admins map[int64]map[int64]bool
	err    error
}

func (p *fakePolicy) IsSuperAdmin(userID int64) bool {
	return p.supers[userID]
}

func (p *fakePolicy) IsGroupAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.admins[chatID][userID], nil
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	calls   []domain.Content
	targets [][]domain.Chat
	block   chan struct{}
}

func (b *fakeBroadcaster) Send(ctx context.Context, content domain.Content, chats []domain.Chat) (broadcast.Result, error) {
	b.mu.Lock()
	b.calls = append(b.calls, content)
	b.targets = append(b.targets, chats)
	block := b.block
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return broadcast.Result{Kind: content.Kind, Skipped: len(chats), Aborted: true}, nil
		}
	}
	return broadcast.Result{Kind: content.Kind, SentRich: len(chats)}, nil
}

type harness struct {
	machine     *Machine
	registry    *memstore.Store
	policy      *fakePolicy
	broadcaster *fakeBroadcaster
	clock       time.Time

	mu       sync.Mutex
	notified []Reply
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger, _ := logtest.NewNullLogger()
	h := &harness{
		registry: memstore.New(domain.DefaultMuteLimits()),
		policy: &fakePolicy{
			supers: map[int64]bool{superID: true},
			admins: map[int64]map[int64]bool{groupID: {adminID: true}},
		},
		broadcaster: &fakeBroadcaster{},
		clock:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.machine = NewMachine(h.registry, h.policy, h.broadcaster, Options{
		PageSize: 2,
		Now:      func() time.Time { return h.clock },
	}, logrus.NewEntry(logger))
	h.machine.SetNotifier(func(_ context.Context, _ Key, reply Reply) {
		h.mu.Lock()
		h.notified = append(h.notified, reply)
		h.mu.Unlock()
	})

	t.Cleanup(func() {
		_ = h.machine.Close(context.Background())
	})
	return h
}

func (h *harness) addGroups(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := h.registry.UpsertChat(context.Background(), domain.Chat{
			ChatID: id,
			Title:  fmt.Sprintf("group %d", -id),
			Kind:   domain.ChatSupergroup,
		})
		require.NoError(t, err)
	}
}

func private(userID int64) Actor {
	return Actor{UserID: userID, ChatID: userID, ChatKind: domain.ChatPrivate}
}

func inGroup(userID int64) Actor {
	return Actor{UserID: userID, ChatID: groupID, ChatKind: domain.ChatSupergroup}
}

func textInput(actor Actor, text string) Input {
	return Input{Actor: actor, Text: text}
}

func actions(reply Reply) []string {
	var out []string
	for _, row := range reply.Buttons {
		for _, b := range row {
			out = append(out, b.Action)
		}
	}
	return out
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name                 string
		total, page, size    int
		wantIndex, wantPages int
		wantStart, wantEnd   int
		wantPrev, wantNext   bool
	}{
		{name: "empty", total: 0, page: 0, size: 5, wantIndex: 0, wantPages: 1},
		{name: "first of three", total: 11, page: 0, size: 5, wantPages: 3, wantEnd: 5, wantNext: true},
		{name: "middle", total: 11, page: 1, size: 5, wantIndex: 1, wantPages: 3, wantStart: 5, wantEnd: 10, wantPrev: true, wantNext: true},
		{name: "last partial", total: 11, page: 2, size: 5, wantIndex: 2, wantPages: 3, wantStart: 10, wantEnd: 11, wantPrev: true},
		{name: "past end clamps", total: 11, page: 9, size: 5, wantIndex: 2, wantPages: 3, wantStart: 10, wantEnd: 11, wantPrev: true},
		{name: "negative clamps", total: 3, page: -4, size: 5, wantIndex: 0, wantPages: 1, wantEnd: 3},
		{name: "exact multiple", total: 10, page: 1, size: 5, wantIndex: 1, wantPages: 2, wantStart: 5, wantEnd: 10, wantPrev: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paginate(tt.total, tt.page, tt.size)
			assert.Equal(t, tt.wantIndex, p.Index)
			assert.Equal(t, tt.wantPages, p.Pages)
			assert.Equal(t, tt.wantStart, p.Start)
			assert.Equal(t, tt.wantEnd, p.End)
			assert.Equal(t, tt.wantPrev, p.HasPrev)
			assert.Equal(t, tt.wantNext, p.HasNext)
		})
	}
}

func TestMainMenuRequiresSuperAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	superMenu, err := h.machine.HandleAction(ctx, private(superID), "menu:main")
	require.NoError(t, err)
	assert.Contains(t, actions(superMenu), "media:start")
	assert.Contains(t, actions(superMenu), "stats")

	_, err = h.machine.HandleAction(ctx, inGroup(adminID), "bw:add")
	require.NoError(t, err)

	denied, err := h.machine.HandleAction(ctx, inGroup(adminID), "menu:main")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.True(t, denied.Alert)

	_, ok := h.machine.Session(inGroup(adminID).key())
	assert.False(t, ok)
}

func TestIntroReplyLinksToBot(t *testing.T) {
	reply := IntroReply("guard_bot")
	require.NotEmpty(t, reply.Buttons)
	assert.Equal(t, "https://t.me/guard_bot?startgroup=new", reply.Buttons[0][0].URL)

	assert.Equal(t, []string{"help_info"}, actions(IntroReply("")))
}

func TestSuperOnlyActionsDenyOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, token := range []string{"stats", "mute:menu", "wh:menu", "wh:list", "media:start", "users:page:0", "user:detail:5", "bw:list:g"} {
		reply, err := h.machine.HandleAction(ctx, private(memberID), token)
		require.Error(t, err, token)
		assert.True(t, errors.Is(err, domain.ErrPermissionDenied), token)
		assert.True(t, reply.Alert, token)
	}
}

func TestPermissionDeniedClearsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := private(memberID)

	_, err := h.machine.HandleAction(ctx, actor, "bw:add")
	require.NoError(t, err)
	_, ok := h.machine.Session(actor.key())
	require.True(t, ok)

	_, err = h.machine.HandleAction(ctx, actor, "stats")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, ok = h.machine.Session(actor.key())
	assert.False(t, ok)
}

func TestUnknownTokenIsHarmless(t *testing.T) {
	h := newHarness(t)

	reply, err := h.machine.HandleAction(context.Background(), private(superID), "nope:what")
	require.NoError(t, err)
	assert.Equal(t, textUnknown, reply.Text)

	reply, err = h.machine.HandleAction(context.Background(), private(memberID), "nope:what")
	require.NoError(t, err)
	assert.Equal(t, textUnknown, reply.Text)
}

func TestSuperAdminAddsGlobalWords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := private(superID)

	_, err := h.machine.HandleAction(ctx, actor, "bw:add")
	require.NoError(t, err)

	reply, handled, err := h.machine.HandleInput(ctx, textInput(actor, "Spam, scam ,, spam"))
	require.NoError(t, err)
	require.True(t, handled)
	assert.Contains(t, reply.Text, "Added 2 of 2")
	assert.Contains(t, reply.Text, "globally")

	words, err := h.registry.ListBannedWords(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, []string{"scam", "spam"}, words)

	_, ok := h.machine.Session(actor.key())
	assert.False(t, ok, "session should end after a successful edit")
}

func TestGroupAdminEditsChatScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := inGroup(adminID)

	_, err := h.machine.HandleAction(ctx, actor, "bw:add")
	require.NoError(t, err)
	_, _, err = h.machine.HandleInput(ctx, textInput(actor, "casino"))
	require.NoError(t, err)

	chatWords, err := h.registry.ListBannedWords(ctx, domain.ChatScope(groupID))
	require.NoError(t, err)
	assert.Equal(t, []string{"casino"}, chatWords)

	global, err := h.registry.ListBannedWords(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.Empty(t, global)

	_, err = h.machine.HandleAction(ctx, actor, "bw:remove")
	require.NoError(t, err)
	reply, _, err := h.machine.HandleInput(ctx, textInput(actor, "casino, missing"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Removed 1 of 2")

	list, err := h.machine.HandleAction(ctx, actor, "bw:list:c")
	require.NoError(t, err)
	assert.Contains(t, list.Text, "(none)")
}

func TestNonAdminWordEditIsDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, actor := range []Actor{inGroup(memberID), private(memberID)} {
		_, err := h.machine.HandleAction(ctx, actor, "bw:add")
		require.NoError(t, err)

		reply, handled, err := h.machine.HandleInput(ctx, textInput(actor, "casino"))
		require.True(t, handled)
		require.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.Equal(t, textGroupAdminNeeded, reply.Text)

		_, ok := h.machine.Session(actor.key())
		assert.False(t, ok)
	}

	words, err := h.registry.ListBannedWords(ctx, domain.ChatScope(groupID))
	require.NoError(t, err)
	assert.Empty(t, words)
}

func TestGroupAdminLookupFailureDenies(t *testing.T) {
	h := newHarness(t)
	h.policy.err = errors.New("telegram down")
	ctx := context.Background()
	actor := inGroup(adminID)

	_, err := h.machine.HandleAction(ctx, actor, "bw:add")
	require.NoError(t, err)

	_, _, err = h.machine.HandleInput(ctx, textInput(actor, "casino"))
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestEmptyWordListKeepsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := private(superID)

	_, err := h.machine.HandleAction(ctx, actor, "bw:add")
	require.NoError(t, err)

	reply, handled, err := h.machine.HandleInput(ctx, textInput(actor, " , ,"))
	require.True(t, handled)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, textWordsNeeded, reply.Text)

	session, ok := h.machine.Session(actor.key())
	require.True(t, ok)
	assert.Equal(t, StepAwaitWords, session.Step)
}

func TestInputWithoutSessionIsNotHandled(t *testing.T) {
	h := newHarness(t)

	_, handled, err := h.machine.HandleInput(context.Background(), textInput(private(superID), "hello"))
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestSetMuteFlow(t *testing.T) {
	h := newHarness(t)
	h.addGroups(t, -101, -102, -103)
	ctx := context.Background()
	actor := private(superID)

	reply, err := h.machine.HandleAction(ctx, actor, "mute:menu")
	require.NoError(t, err)
	assert.Equal(t, []string{"mute:chat:-103", "mute:chat:-102", "mute:page:1", "menu:main"}, actions(reply))

	reply, err = h.machine.HandleAction(ctx, actor, "mute:page:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mute:chat:-101", "mute:page:0", "menu:main"}, actions(reply))

	reply, err = h.machine.HandleAction(ctx, actor, "mute:chat:-101")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "10 minutes")

	for _, bad := range []string{"abc", "0", "4321", "12345", "-5"} {
		_, handled, err := h.machine.HandleInput(ctx, textInput(actor, bad))
		require.True(t, handled, bad)
		require.ErrorIs(t, err, domain.ErrValidation, bad)
	}

	session, ok := h.machine.Session(actor.key())
	require.True(t, ok)
	assert.Equal(t, StepEnterMinutes, session.Step)
	assert.Equal(t, int64(-101), session.TargetChatID)

	reply, _, err = h.machine.HandleInput(ctx, textInput(actor, " 45 "))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "45 minutes")

	minutes, err := h.registry.MuteMinutes(ctx, -101)
	require.NoError(t, err)
	assert.Equal(t, 45, minutes)

	_, ok = h.machine.Session(actor.key())
	assert.False(t, ok)
}

func TestStartingFlowReplacesMuteSession(t *testing.T) {
	h := newHarness(t)
	h.addGroups(t, -101)
	ctx := context.Background()
	actor := private(superID)

	_, err := h.machine.HandleAction(ctx, actor, "mute:menu")
	require.NoError(t, err)
	_, err = h.machine.HandleAction(ctx, actor, "mute:chat:-101")
	require.NoError(t, err)

	session, ok := h.machine.Session(actor.key())
	require.True(t, ok)
	require.Equal(t, StepEnterMinutes, session.Step)
	require.Equal(t, int64(-101), session.TargetChatID)

	_, err = h.machine.HandleAction(ctx, actor, "wh:add:choose_chat")
	require.NoError(t, err)

	session, ok = h.machine.Session(actor.key())
	require.True(t, ok)
	assert.Equal(t, FlowWhitelistAdd, session.Flow)
	assert.Equal(t, StepChooseChat, session.Step)
	assert.Zero(t, session.TargetChatID)
	assert.Zero(t, session.Page)

	reply, handled, err := h.machine.HandleInput(ctx, textInput(actor, "45"))
	require.True(t, handled)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, promptPickChat, reply.Text)

	minutes, err := h.registry.MuteMinutes(ctx, -101)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMuteLimits().Default, minutes, "minutes from the replaced flow are not applied")
}

func TestStalePickerTokensAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.addGroups(t, -101)
	ctx := context.Background()
	actor := private(superID)

	reply, err := h.machine.HandleAction(ctx, actor, "mute:chat:-101")
	require.NoError(t, err)
	assert.True(t, reply.Empty())

	_, err = h.machine.HandleAction(ctx, actor, "wh:add:choose_chat")
	require.NoError(t, err)

	reply, err = h.machine.HandleAction(ctx, actor, "mute:page:1")
	require.NoError(t, err)
	assert.True(t, reply.Empty())

	session, ok := h.machine.Session(actor.key())
	require.True(t, ok)
	assert.Equal(t, FlowWhitelistAdd, session.Flow)
}

func TestTextDuringChatChoiceReprompts(t *testing.T) {
	h := newHarness(t)
	h.addGroups(t, -101)
	ctx := context.Background()
	actor := private(superID)

	_, err := h.machine.HandleAction(ctx, actor, "wh:rem:choose_chat")
	require.NoError(t, err)

	reply, handled, err := h.machine.HandleInput(ctx, textInput(actor, "-101"))
	require.True(t, handled)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, promptPickChat, reply.Text)
}

func TestPickerWithoutGroupsEndsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := private(superID)

	_, err := h.registry.UpsertChat(ctx, domain.Chat{ChatID: 55, Kind: domain.ChatPrivate})
	require.NoError(t, err)

	reply, err := h.machine.HandleAction(ctx, actor, "mute:menu")
	require.NoError(t, err)
	assert.Equal(t, textNoChats, reply.Text)

	_, ok := h.machine.Session(actor.key())
	assert.False(t, ok)
}

func TestWhitelistFlow(t *testing.T) {
	h := newHarness(t)
	h.addGroups(t, -101)
	ctx := context.Background()
	actor := private(superID)

	_, err := h.machine.HandleAction(ctx, actor, "wh:add:choose_chat")
	require.NoError(t, err)
	_, err = h.machine.HandleAction(ctx, actor, "wh:add:chat:-101")
	require.NoError(t, err)

	for _, bad := range []string{"abc", "0", "-7", "99999999999999999999"} {
		_, _, err := h.machine.HandleInput(ctx, textInput(actor, bad))
		require.ErrorIs(t, err, domain.ErrValidation, bad)
	}

	reply, _, err := h.machine.HandleInput(ctx, textInput(actor, "777"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "whitelisted in")

	ok, err := h.registry.IsWhitelisted(ctx, -101, 777)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := h.machine.HandleAction(ctx, actor, "wh:list")
	require.NoError(t, err)
	assert.Contains(t, list.Text, "<code>777</code>")

	_, err = h.machine.HandleAction(ctx, actor, "wh:rem:choose_chat")
	require.NoError(t, err)
	_, err = h.machine.HandleAction(ctx, actor, "wh:rem:chat:-101")
	require.NoError(t, err)
	reply, _, err = h.machine.HandleInput(ctx, textInput(actor, "777"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "removed")

	ok, err = h.registry.IsWhitelisted(ctx, -101, 777)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionsAreIsolatedPerChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.machine.HandleAction(ctx, inGroup(superID), "bw:add")
	require.NoError(t, err)

	_, handled, err := h.machine.HandleInput(ctx, textInput(private(superID), "spam"))
	require.NoError(t, err)
	assert.False(t, handled)

	_, ok := h.machine.Session(inGroup(superID).key())
	assert.True(t, ok)
}

func TestMainMenuResetsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := private(superID)

	_, err := h.machine.HandleAction(ctx, actor, "bw:add")
	require.NoError(t, err)
	_, err = h.machine.HandleAction(ctx, actor, "menu:main")
	require.NoError(t, err)

	_, ok := h.machine.Session(actor.key())
	assert.False(t, ok)
}

func TestExpireIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.machine.HandleAction(ctx, private(superID), "bw:add")
	require.NoError(t, err)
	h.clock = h.clock.Add(20 * time.Minute)
	_, err = h.machine.HandleAction(ctx, inGroup(adminID), "bw:add")
	require.NoError(t, err)
	require.Equal(t, 2, h.machine.ActiveSessions())

	h.clock = h.clock.Add(15 * time.Minute)
	assert.Equal(t, 1, h.machine.ExpireIdle(30*time.Minute))
	assert.Equal(t, 1, h.machine.ActiveSessions())

	_, ok := h.machine.Session(inGroup(adminID).key())
	assert.True(t, ok)
	assert.Equal(t, 0, h.machine.ExpireIdle(0))
}

func TestStatsAndUsersViews(t *testing.T) {
	h := newHarness(t)
	h.addGroups(t, -101)
	ctx := context.Background()

	for i, name := range []string{"Ann", "Bob", "Cid"} {
		_, err := h.registry.UpsertUser(ctx, domain.User{
			UserID:    int64(10 + i),
			FirstName: name,
		})
		require.NoError(t, err)
	}

	stats, err := h.machine.HandleAction(ctx, private(superID), "stats")
	require.NoError(t, err)
	assert.Contains(t, stats.Text, "Chats: 1")
	assert.Contains(t, stats.Text, "Users: 3")

	page, err := h.machine.HandleAction(ctx, private(superID), "users:page:1")
	require.NoError(t, err)
	assert.Contains(t, page.Text, "page 2/2")
	assert.Contains(t, actions(page), "users:page:0")

	detail, err := h.machine.HandleAction(ctx, private(superID), "user:detail:11")
	require.NoError(t, err)
	assert.Contains(t, detail.Text, "Bob")
	assert.Contains(t, detail.Text, "<code>11</code>")

	_, err = h.machine.HandleAction(ctx, private(superID), "user:detail:999")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBroadcastFlow(t *testing.T) {
	h := newHarness(t)
	h.addGroups(t, -101, -102)
	ctx := context.Background()
	actor := private(superID)

	_, err := h.machine.HandleAction(ctx, actor, "media:start")
	require.NoError(t, err)

	_, handled, err := h.machine.HandleInput(ctx, Input{Actor: actor})
	require.True(t, handled)
	require.ErrorIs(t, err, domain.ErrValidation)

	content := domain.Content{Kind: domain.ContentPhoto, FileID: "file-1", Caption: "<b>hi</b>"}
	reply, handled, err := h.machine.HandleInput(ctx, Input{Actor: actor, Content: &content})
	require.NoError(t, err)
	require.True(t, handled)
	assert.Contains(t, reply.Text, "2 chat(s)")

	h.machine.Wait()

	h.broadcaster.mu.Lock()
	require.Len(t, h.broadcaster.calls, 1)
	assert.Equal(t, content, h.broadcaster.calls[0])
	assert.Len(t, h.broadcaster.targets[0], 2)
	h.broadcaster.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.notified, 1)
	assert.Contains(t, h.notified[0].Text, "Delivered: 2")

	_, ok := h.machine.Session(actor.key())
	assert.False(t, ok)
}

func TestMainMenuAbortsBroadcast(t *testing.T) {
	h := newHarness(t)
	h.addGroups(t, -101, -102)
	h.broadcaster.block = make(chan struct{})
	ctx := context.Background()
	actor := private(superID)

	_, err := h.machine.HandleAction(ctx, actor, "media:start")
	require.NoError(t, err)
	content := domain.Content{Kind: domain.ContentText, Text: "news"}
	_, _, err = h.machine.HandleInput(ctx, Input{Actor: actor, Content: &content})
	require.NoError(t, err)

	reply, err := h.machine.HandleAction(ctx, actor, "media:start")
	require.NoError(t, err)
	assert.Equal(t, textBroadcastRunning, reply.Text)

	_, err = h.machine.HandleAction(ctx, actor, "menu:main")
	require.NoError(t, err)
	h.machine.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.notified, 1)
	assert.Contains(t, h.notified[0].Text, "stopped")
	assert.Contains(t, h.notified[0].Text, "Skipped: 2")
}

func TestConcurrentActionsSerializePerKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := private(superID)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := "bw:add"
			if i%2 == 1 {
				token = "bw:remove"
			}
			_, err := h.machine.HandleAction(ctx, actor, token)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	session, ok := h.machine.Session(actor.key())
	require.True(t, ok)
	assert.Contains(t, []FlowKind{FlowAddBannedWords, FlowRemoveBannedWords}, session.Flow)
	assert.Equal(t, 1, h.machine.ActiveSessions())
}

func TestNilContextIsRejected(t *testing.T) {
	h := newHarness(t)

	//nolint:staticcheck // nil context is the case under test
	_, err := h.machine.HandleAction(nil, private(superID), "menu:main")
	require.Error(t, err)

	//nolint:staticcheck // nil context is the case under test
	_, _, err = h.machine.HandleInput(nil, textInput(private(superID), "x"))
	require.Error(t, err)
}
