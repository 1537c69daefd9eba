// Package memstore is an in-process Registry used for development runs and
// tests. Data does not survive restarts.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"tg_guard_bot/internal/domain"
)

type wordKey struct {
	scope domain.Scope
	word  string
}

type whitelistKey struct {
	chatID int64
	userID int64
}

// Store implements domain.Registry with maps guarded by one RWMutex.
type Store struct {
	mu        sync.RWMutex
	limits    domain.MuteLimits
	chats     map[int64]domain.Chat
	users     map[int64]domain.User
	words     map[wordKey]struct{}
	mutes     map[int64]int
	whitelist map[whitelistKey]time.Time
	now       func() time.Time
}

// New returns an empty store using the provided mute limits.
func New(limits domain.MuteLimits) *Store {
	return &Store{
		limits:    limits,
		chats:     make(map[int64]domain.Chat),
		users:     make(map[int64]domain.User),
		words:     make(map[wordKey]struct{}),
		mutes:     make(map[int64]int),
		whitelist: make(map[whitelistKey]time.Time),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ domain.Registry = (*Store)(nil)

func (s *Store) UpsertChat(ctx context.Context, chat domain.Chat) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	if chat.ChatID == 0 {
		return false, domain.Errorf(domain.KindValidation, "upsert chat", "chat id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, found := s.chats[chat.ChatID]
	if found {
		chat.JoinedAt = existing.JoinedAt
		if chat.Title == "" {
			chat.Title = existing.Title
		}
		if chat.Kind == "" {
			chat.Kind = existing.Kind
		}
	} else if chat.JoinedAt.IsZero() {
		chat.JoinedAt = now
	}
	chat.LastSeenAt = now
	s.chats[chat.ChatID] = chat

	return !found, nil
}

func (s *Store) UpsertUser(ctx context.Context, user domain.User) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	if user.UserID == 0 {
		return false, domain.Errorf(domain.KindValidation, "upsert user", "user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, found := s.users[user.UserID]
	if found {
		user.FirstSeenAt = existing.FirstSeenAt
		user.Role = existing.Role
	} else {
		user.FirstSeenAt = now
		if user.Role == "" {
			user.Role = domain.RoleUser
		}
	}
	user.LastSeenAt = now
	s.users[user.UserID] = user

	return !found, nil
}

func (s *Store) EnsureOwner(ctx context.Context, ownerID int64) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	if ownerID == 0 {
		return 0, domain.Errorf(domain.KindValidation, "ensure owner", "owner id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var demoted int64
	for id, u := range s.users {
		if id != ownerID && u.Role == domain.RoleOwner {
			u.Role = domain.RoleAdmin
			s.users[id] = u
			demoted++
		}
	}

	owner, found := s.users[ownerID]
	if !found {
		owner = domain.User{UserID: ownerID, FirstSeenAt: s.now()}
	}
	owner.Role = domain.RoleOwner
	s.users[ownerID] = owner

	return demoted, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	if err := checkCtx(ctx); err != nil {
		return domain.User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.Errorf(domain.KindNotFound, "get user", "user %d not found", userID)
	}
	return u, nil
}

func (s *Store) ListChats(ctx context.Context) ([]domain.Chat, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	// newest first, matching the admin users view
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].FirstSeenAt.After(out[j].FirstSeenAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) AddBannedWords(ctx context.Context, scope domain.Scope, words []string) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}

	normalized := domain.NormalizeWords(words)

	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, w := range normalized {
		key := wordKey{scope: scope, word: w}
		if _, ok := s.words[key]; ok {
			continue
		}
		s.words[key] = struct{}{}
		added++
	}
	return added, nil
}

func (s *Store) RemoveBannedWords(ctx context.Context, scope domain.Scope, words []string) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}

	normalized := domain.NormalizeWords(words)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, w := range normalized {
		key := wordKey{scope: scope, word: w}
		if _, ok := s.words[key]; !ok {
			continue
		}
		delete(s.words, key)
		removed++
	}
	return removed, nil
}

func (s *Store) ListBannedWords(ctx context.Context, scope domain.Scope) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wordsLocked(scope), nil
}

func (s *Store) EffectiveBannedWords(ctx context.Context, chatID int64) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.effectiveLocked(chatID), nil
}

func (s *Store) MuteMinutes(ctx context.Context, chatID int64) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.muteLocked(chatID), nil
}

func (s *Store) SetMuteMinutes(ctx context.Context, chatID int64, minutes int) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}

	stored := s.limits.Clamp(minutes)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutes[chatID] = stored
	return stored, nil
}

func (s *Store) AddWhitelist(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	if userID <= 0 {
		return false, domain.Errorf(domain.KindValidation, "add whitelist", "user id must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := whitelistKey{chatID: chatID, userID: userID}
	if _, ok := s.whitelist[key]; ok {
		return false, nil
	}
	s.whitelist[key] = s.now()
	return true, nil
}

func (s *Store) RemoveWhitelist(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := whitelistKey{chatID: chatID, userID: userID}
	if _, ok := s.whitelist[key]; !ok {
		return false, nil
	}
	delete(s.whitelist, key)
	return true, nil
}

func (s *Store) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WhitelistEntry, 0, len(s.whitelist))
	for k, at := range s.whitelist {
		out = append(out, domain.WhitelistEntry{ChatID: k.chatID, UserID: k.userID, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) IsWhitelisted(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.whitelist[whitelistKey{chatID: chatID, userID: userID}]
	return ok, nil
}

// ModerationSnapshot reads under a single read lock, so the view is consistent.
func (s *Store) ModerationSnapshot(ctx context.Context, chatID, userID int64) (domain.ModerationSnapshot, error) {
	if err := checkCtx(ctx); err != nil {
		return domain.ModerationSnapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, whitelisted := s.whitelist[whitelistKey{chatID: chatID, userID: userID}]
	return domain.ModerationSnapshot{
		Whitelisted: whitelisted,
		BannedWords: s.effectiveLocked(chatID),
		MuteMinutes: s.muteLocked(chatID),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return checkCtx(ctx)
}

func (s *Store) wordsLocked(scope domain.Scope) []string {
	out := make([]string, 0)
	for k := range s.words {
		if k.scope == scope {
			out = append(out, k.word)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) effectiveLocked(chatID int64) []string {
	return domain.MergeWords(s.wordsLocked(domain.ChatScope(chatID)), s.wordsLocked(domain.GlobalScope()))
}

func (s *Store) muteLocked(chatID int64) int {
	if m, ok := s.mutes[chatID]; ok {
		return m
	}
	return s.limits.Default
}

func checkCtx(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	return ctx.Err()
}
