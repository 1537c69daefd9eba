package domain

import (
	"sort"
	"strings"
	"time"
)

// Mute duration bounds in minutes.
const (
	DefaultMuteMinutes = 10
	MinMuteMinutes     = 1
	MaxMuteMinutes     = 4320
)

// MuteLimits bounds the per-chat mute duration.
type MuteLimits struct {
	Default int
	Min     int
	Max     int
}

// DefaultMuteLimits returns the stock bounds (1..4320, default 10).
func DefaultMuteLimits() MuteLimits {
	return MuteLimits{Default: DefaultMuteMinutes, Min: MinMuteMinutes, Max: MaxMuteMinutes}
}

// Clamp forces minutes into [Min, Max].
func (l MuteLimits) Clamp(minutes int) int {
	if minutes < l.Min {
		return l.Min
	}
	if minutes > l.Max {
		return l.Max
	}
	return minutes
}

// Contains reports whether minutes is inside [Min, Max] without clamping.
func (l MuteLimits) Contains(minutes int) bool {
	return minutes >= l.Min && minutes <= l.Max
}

// ChatSettings holds per-chat moderation settings.
type ChatSettings struct {
	ChatID      int64 `bson:"chat_id" json:"chat_id" db:"chat_id"`
	MuteMinutes int   `bson:"mute_minutes" json:"mute_minutes" db:"mute_minutes"`
}

// BannedWord is a normalized word within a scope.
type BannedWord struct {
	Scope Scope
	Word  string
}

// WhitelistEntry exempts a user from the unsafe-file filter in one chat.
type WhitelistEntry struct {
	ChatID    int64     `bson:"chat_id" json:"chat_id" db:"chat_id"`
	UserID    int64     `bson:"user_id" json:"user_id" db:"user_id"`
	CreatedAt time.Time `bson:"created_at" json:"created_at" db:"created_at"`
}

// ModerationSnapshot is the registry view the moderation pipeline needs for
// one (chat, user) message.
type ModerationSnapshot struct {
	Whitelisted bool
	BannedWords []string
	MuteMinutes int
}

// NormalizeWord trims and lower-cases a word. Empty results are invalid.
func NormalizeWord(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// NormalizeWords normalizes, drops empties and de-duplicates while keeping
// first-seen order.
func NormalizeWords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		n := NormalizeWord(w)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// SplitWordList parses a comma-separated admin input into normalized words.
func SplitWordList(input string) []string {
	return NormalizeWords(strings.Split(input, ","))
}

// MergeWords returns the sorted union of the provided word sets.
func MergeWords(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, w := range set {
			seen[w] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
