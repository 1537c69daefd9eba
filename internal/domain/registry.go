package domain

import "context"

// Registry is the durable store of chats, users and moderation settings.
// Every method is atomic per call and safe for concurrent use.
type Registry interface {
	// UpsertChat inserts or refreshes a chat and reports whether it was new.
	UpsertChat(ctx context.Context, chat Chat) (bool, error)
	// UpsertUser inserts or refreshes a user profile and reports whether it was new.
	UpsertUser(ctx context.Context, user User) (bool, error)
	// EnsureOwner promotes ownerID to owner and demotes other owners to admin,
	// returning how many were demoted.
	EnsureOwner(ctx context.Context, ownerID int64) (int64, error)
	GetUser(ctx context.Context, userID int64) (User, error)
	ListChats(ctx context.Context) ([]Chat, error)
	ListUsers(ctx context.Context) ([]User, error)

	// AddBannedWords stores normalized words in scope and returns how many
	// were newly added.
	AddBannedWords(ctx context.Context, scope Scope, words []string) (int, error)
	// RemoveBannedWords deletes normalized words from scope and returns how
	// many existed.
	RemoveBannedWords(ctx context.Context, scope Scope, words []string) (int, error)
	// ListBannedWords returns the words stored exactly in scope, sorted.
	ListBannedWords(ctx context.Context, scope Scope) ([]string, error)
	// EffectiveBannedWords returns chat-scoped plus global words, sorted and
	// de-duplicated.
	EffectiveBannedWords(ctx context.Context, chatID int64) ([]string, error)

	// MuteMinutes returns the chat's mute duration or the default.
	MuteMinutes(ctx context.Context, chatID int64) (int, error)
	// SetMuteMinutes clamps and stores the duration, returning the stored value.
	SetMuteMinutes(ctx context.Context, chatID int64, minutes int) (int, error)

	AddWhitelist(ctx context.Context, chatID, userID int64) (bool, error)
	RemoveWhitelist(ctx context.Context, chatID, userID int64) (bool, error)
	ListWhitelist(ctx context.Context) ([]WhitelistEntry, error)
	IsWhitelisted(ctx context.Context, chatID, userID int64) (bool, error)

	// ModerationSnapshot reads everything the pipeline needs for one message.
	ModerationSnapshot(ctx context.Context, chatID, userID int64) (ModerationSnapshot, error)

	Ping(ctx context.Context) error
}

// RegistryStats is a coarse summary used by the admin stats view.
type RegistryStats struct {
	Chats      int
	AdminChats int
	Users      int
}

// StatsSource is implemented by registries that can count without listing.
type StatsSource interface {
	Stats(ctx context.Context) (RegistryStats, error)
}

// CollectStats returns registry counters, preferring a StatsSource and
// falling back to list calls.
func CollectStats(ctx context.Context, reg Registry) (RegistryStats, error) {
	if src, ok := reg.(StatsSource); ok {
		return src.Stats(ctx)
	}

	chats, err := reg.ListChats(ctx)
	if err != nil {
		return RegistryStats{}, err
	}
	users, err := reg.ListUsers(ctx)
	if err != nil {
		return RegistryStats{}, err
	}

	stats := RegistryStats{Chats: len(chats), Users: len(users)}
	for _, c := range chats {
		if c.BotIsAdmin {
			stats.AdminChats++
		}
	}
	return stats, nil
}
