package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_guard_bot/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider counts documents server-side so the admin stats view does not
// have to load every chat and user.
type StatsProvider struct {
	users countCollection
	chats countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided user and
// chat collections.
func NewStatsProvider(users, chats countCollection) *StatsProvider {
	return &StatsProvider{
		users: users,
		chats: chats,
	}
}

// CountUsers returns the number of documents in the users collection.
func (p *StatsProvider) CountUsers(ctx context.Context) (int64, error) {
	if err := p.ready(ctx); err != nil {
		return 0, err
	}

	count, err := p.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}

	return count, nil
}

// CountChats returns the number of known chats.
func (p *StatsProvider) CountChats(ctx context.Context) (int64, error) {
	if err := p.ready(ctx); err != nil {
		return 0, err
	}

	count, err := p.chats.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count chats: %w", err)
	}

	return count, nil
}

// CountAdminChats returns the number of chats where the bot holds admin rights.
func (p *StatsProvider) CountAdminChats(ctx context.Context) (int64, error) {
	if err := p.ready(ctx); err != nil {
		return 0, err
	}

	count, err := p.chats.CountDocuments(ctx, bson.M{"bot_is_admin": true})
	if err != nil {
		return 0, fmt.Errorf("count admin chats: %w", err)
	}

	return count, nil
}

// Stats gathers all counters into a domain.RegistryStats.
func (p *StatsProvider) Stats(ctx context.Context) (domain.RegistryStats, error) {
	users, err := p.CountUsers(ctx)
	if err != nil {
		return domain.RegistryStats{}, err
	}
	chats, err := p.CountChats(ctx)
	if err != nil {
		return domain.RegistryStats{}, err
	}
	admin, err := p.CountAdminChats(ctx)
	if err != nil {
		return domain.RegistryStats{}, err
	}

	return domain.RegistryStats{Chats: int(chats), AdminChats: int(admin), Users: int(users)}, nil
}

func (p *StatsProvider) ready(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if p == nil || p.users == nil || p.chats == nil {
		return errors.New("stats provider is not initialized")
	}
	return nil
}
