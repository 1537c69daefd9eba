// Package registrytest holds behavior checks shared by every domain.Registry
// backend.
package registrytest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg_guard_bot/internal/domain"
)

// Factory returns a fresh, empty registry configured with the default mute
// limits.
type Factory func(t *testing.T) domain.Registry

// Run exercises the registry contract against the backend built by newReg.
func Run(t *testing.T, newReg Factory) {
	t.Run("UpsertChatReportsCreation", func(t *testing.T) { testUpsertChat(t, newReg(t)) })
	t.Run("UpsertUserKeepsFirstSeen", func(t *testing.T) { testUpsertUser(t, newReg(t)) })
	t.Run("EnsureOwnerDemotesPrevious", func(t *testing.T) { testEnsureOwner(t, newReg(t)) })
	t.Run("GetUserNotFound", func(t *testing.T) { testGetUserNotFound(t, newReg(t)) })
	t.Run("BannedWordScopes", func(t *testing.T) { testBannedWordScopes(t, newReg(t)) })
	t.Run("BannedWordRemoval", func(t *testing.T) { testBannedWordRemoval(t, newReg(t)) })
	t.Run("MuteMinutesClampOnWrite", func(t *testing.T) { testMuteClamp(t, newReg(t)) })
	t.Run("WhitelistUniqueness", func(t *testing.T) { testWhitelist(t, newReg(t)) })
	t.Run("ModerationSnapshot", func(t *testing.T) { testSnapshot(t, newReg(t)) })
	t.Run("ConcurrentAdds", func(t *testing.T) { testConcurrentAdds(t, newReg(t)) })
}

func testUpsertChat(t *testing.T, reg domain.Registry) {
	ctx := context.Background()

	created, err := reg.UpsertChat(ctx, domain.Chat{ChatID: -100, Title: "One", Kind: domain.ChatSupergroup})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = reg.UpsertChat(ctx, domain.Chat{ChatID: -100, Title: "Renamed", Kind: domain.ChatSupergroup, BotIsAdmin: true})
	require.NoError(t, err)
	assert.False(t, created)

	chats, err := reg.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Renamed", chats[0].Title)
	assert.True(t, chats[0].BotIsAdmin)
	assert.Equal(t, domain.ChatSupergroup, chats[0].Kind)
}

func testUpsertUser(t *testing.T, reg domain.Registry) {
	ctx := context.Background()

	created, err := reg.UpsertUser(ctx, domain.User{UserID: 7, FirstName: "Ann"})
	require.NoError(t, err)
	assert.True(t, created)

	first, err := reg.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, first.Role)

	created, err = reg.UpsertUser(ctx, domain.User{UserID: 7, FirstName: "Anna", Username: "anna"})
	require.NoError(t, err)
	assert.False(t, created)

	second, err := reg.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Anna", second.FirstName)
	assert.Equal(t, "anna", second.Username)
	assert.True(t, second.FirstSeenAt.Equal(first.FirstSeenAt), "first_seen_at must not move")
	assert.False(t, second.LastSeenAt.Before(first.LastSeenAt))

	users, err := reg.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func testEnsureOwner(t *testing.T, reg domain.Registry) {
	ctx := context.Background()

	_, err := reg.EnsureOwner(ctx, 1)
	require.NoError(t, err)

	demoted, err := reg.EnsureOwner(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), demoted)

	prev, err := reg.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, prev.Role)

	owner, err := reg.GetUser(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, owner.Role)

	// a profile refresh must not downgrade the owner
	_, err = reg.UpsertUser(ctx, domain.User{UserID: 2, FirstName: "Boss"})
	require.NoError(t, err)
	owner, err = reg.GetUser(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, owner.Role)
}

func testGetUserNotFound(t *testing.T, reg domain.Registry) {
	_, err := reg.GetUser(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testBannedWordScopes(t *testing.T, reg domain.Registry) {
	ctx := context.Background()

	added, err := reg.AddBannedWords(ctx, domain.GlobalScope(), []string{"Spam", " eggs "})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = reg.AddBannedWords(ctx, domain.GlobalScope(), []string{"spam"})
	require.NoError(t, err)
	assert.Equal(t, 0, added, "duplicate in same scope is not added")

	added, err = reg.AddBannedWords(ctx, domain.ChatScope(-1), []string{"spam", "local", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, added, "same word in a different scope is distinct")

	global, err := reg.ListBannedWords(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, []string{"eggs", "spam"}, global)

	local, err := reg.ListBannedWords(ctx, domain.ChatScope(-1))
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "spam"}, local)

	effective, err := reg.EffectiveBannedWords(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"eggs", "local", "spam"}, effective)

	other, err := reg.EffectiveBannedWords(ctx, -2)
	require.NoError(t, err)
	assert.Equal(t, []string{"eggs", "spam"}, other, "chat words do not leak to other chats")
}

func testBannedWordRemoval(t *testing.T, reg domain.Registry) {
	ctx := context.Background()

	_, err := reg.AddBannedWords(ctx, domain.GlobalScope(), []string{"spam"})
	require.NoError(t, err)
	_, err = reg.AddBannedWords(ctx, domain.ChatScope(-1), []string{"spam"})
	require.NoError(t, err)

	removed, err := reg.RemoveBannedWords(ctx, domain.ChatScope(-1), []string{"SPAM", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	global, err := reg.ListBannedWords(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, []string{"spam"}, global, "removal is scoped")
}

func testMuteClamp(t *testing.T, reg domain.Registry) {
	ctx := context.Background()

	minutes, err := reg.MuteMinutes(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMuteMinutes, minutes)

	for in, want := range map[int]int{0: 1, -3: 1, 5000: 4320, 30: 30} {
		stored, err := reg.SetMuteMinutes(ctx, -1, in)
		require.NoError(t, err)
		assert.Equal(t, want, stored, "stored value for %d", in)

		read, err := reg.MuteMinutes(ctx, -1)
		require.NoError(t, err)
		assert.Equal(t, want, read)
	}
}

func testWhitelist(t *testing.T, reg domain.Registry) {
	ctx := context.Background()

	added, err := reg.AddWhitelist(ctx, -1, 5)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = reg.AddWhitelist(ctx, -1, 5)
	require.NoError(t, err)
	assert.False(t, added)

	ok, err := reg.IsWhitelisted(ctx, -1, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.IsWhitelisted(ctx, -2, 5)
	require.NoError(t, err)
	assert.False(t, ok, "whitelist is per chat")

	entries, err := reg.ListWhitelist(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(5), entries[0].UserID)

	removed, err := reg.RemoveWhitelist(ctx, -1, 5)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = reg.RemoveWhitelist(ctx, -1, 5)
	require.NoError(t, err)
	assert.False(t, removed)
}

func testSnapshot(t *testing.T, reg domain.Registry) {
	ctx := context.Background()

	_, err := reg.AddBannedWords(ctx, domain.GlobalScope(), []string{"spam"})
	require.NoError(t, err)
	_, err = reg.AddBannedWords(ctx, domain.ChatScope(-1), []string{"ham"})
	require.NoError(t, err)
	_, err = reg.SetMuteMinutes(ctx, -1, 15)
	require.NoError(t, err)
	_, err = reg.AddWhitelist(ctx, -1, 9)
	require.NoError(t, err)

	snap, err := reg.ModerationSnapshot(ctx, -1, 9)
	require.NoError(t, err)
	assert.True(t, snap.Whitelisted)
	assert.Equal(t, []string{"ham", "spam"}, snap.BannedWords)
	assert.Equal(t, 15, snap.MuteMinutes)

	snap, err = reg.ModerationSnapshot(ctx, -2, 9)
	require.NoError(t, err)
	assert.False(t, snap.Whitelisted)
	assert.Equal(t, []string{"spam"}, snap.BannedWords)
	assert.Equal(t, domain.DefaultMuteMinutes, snap.MuteMinutes)
}

func testConcurrentAdds(t *testing.T, reg domain.Registry) {
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := reg.AddBannedWords(ctx, domain.GlobalScope(), []string{"race"})
			assert.NoError(t, err)
			results[i] = n
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range results {
		total += n
	}
	assert.Equal(t, 1, total, "exactly one concurrent add wins")

	words, err := reg.ListBannedWords(ctx, domain.GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, []string{"race"}, words)
}
