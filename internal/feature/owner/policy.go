package owner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/logging"
)

const (
	defaultAdminCacheSize = 1024
	defaultAdminCacheTTL  = time.Minute
)

type memberLookup interface {
	GetChatMember(ctx context.Context, chatID, userID int64) (domain.MemberStatus, error)
}

type adminKey struct {
	chatID int64
	userID int64
}

// Policy answers authorization questions: the static super-admin set from
// configuration and per-chat administrator status looked up on Telegram.
type Policy struct {
	supers  map[int64]struct{}
	members memberLookup
	cache   *expirable.LRU[adminKey, bool]
	logger  *logrus.Entry
}

// PolicyOptions tune the administrator cache. Zero values use defaults.
type PolicyOptions struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewPolicy builds a Policy. members may be nil, in which case nobody is a
// group administrator.
func NewPolicy(superAdmins []int64, members memberLookup, opts PolicyOptions, logger *logrus.Entry) *Policy {
	if logger == nil {
		logger = logging.Logger()
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultAdminCacheSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultAdminCacheTTL
	}

	supers := make(map[int64]struct{}, len(superAdmins))
	for _, id := range superAdmins {
		if id > 0 {
			supers[id] = struct{}{}
		}
	}

	return &Policy{
		supers:  supers,
		members: members,
		cache:   expirable.NewLRU[adminKey, bool](size, nil, ttl),
		logger:  logging.Component(logger, "policy"),
	}
}

// IsSuperAdmin reports whether userID is the owner or a configured super-admin.
func (p *Policy) IsSuperAdmin(userID int64) bool {
	if p == nil {
		return false
	}
	_, ok := p.supers[userID]
	return ok
}

// IsGroupAdmin reports whether userID administers chatID. Positive and
// negative answers are cached briefly; lookup errors are not cached.
func (p *Policy) IsGroupAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if p == nil || p.members == nil {
		return false, errors.New("authorization policy is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}

	key := adminKey{chatID: chatID, userID: userID}
	if admin, ok := p.cache.Get(key); ok {
		return admin, nil
	}

	status, err := p.members.GetChatMember(ctx, chatID, userID)
	if err != nil {
		p.logger.WithError(err).WithFields(logging.Fields{
			"event":   "admin_lookup_failed",
			"chat_id": chatID,
			"user_id": userID,
		}).Warn("chat member lookup failed")
		return false, fmt.Errorf("get chat member: %w", err)
	}

	admin := status.IsAdmin()
	p.cache.Add(key, admin)
	return admin, nil
}

// Forget drops any cached administrator status for userID in chatID.
func (p *Policy) Forget(chatID, userID int64) {
	if p == nil {
		return
	}
	p.cache.Remove(adminKey{chatID: chatID, userID: userID})
}
