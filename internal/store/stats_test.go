package store

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestStatsProviderCountsUsersAndChats(t *testing.T) {
	users := &stubCountCollection{count: 12}
	chats := &stubCountCollection{count: 5}

	provider := NewStatsProvider(users, chats)

	ctx := context.Background()

	userCount, err := provider.CountUsers(ctx)
	if err != nil {
		t.Fatalf("expected user count to succeed, got error: %v", err)
	}
	if userCount != 12 {
		t.Fatalf("expected 12 users, got %d", userCount)
	}
	if users.calls != 1 {
		t.Fatalf("expected users count to be called once, got %d", users.calls)
	}

	chatCount, err := provider.CountChats(ctx)
	if err != nil {
		t.Fatalf("expected chat count to succeed, got error: %v", err)
	}
	if chatCount != 5 {
		t.Fatalf("expected 5 chats, got %d", chatCount)
	}
	if chats.calls != 1 {
		t.Fatalf("expected chats count to be called once, got %d", chats.calls)
	}
}

func TestStatsProviderRequiresContext(t *testing.T) {
	provider := NewStatsProvider(&stubCountCollection{}, &stubCountCollection{})

	if _, err := provider.CountUsers(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if _, err := provider.CountChats(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestStatsProviderRequiresInitialization(t *testing.T) {
	var provider *StatsProvider

	if _, err := provider.CountUsers(context.Background()); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := provider.CountChats(context.Background()); err == nil {
		t.Fatalf("expected error for nil provider")
	}
}

func TestStatsProviderPropagatesErrors(t *testing.T) {
	expectedErr := errors.New("count failed")
	provider := NewStatsProvider(
		&stubCountCollection{err: expectedErr},
		&stubCountCollection{err: expectedErr},
	)

	if _, err := provider.CountUsers(context.Background()); err == nil {
		t.Fatalf("expected error from user count")
	}
	if _, err := provider.CountChats(context.Background()); err == nil {
		t.Fatalf("expected error from chat count")
	}
}

func TestStatsProviderAggregates(t *testing.T) {
	provider := NewStatsProvider(&stubCountCollection{count: 3}, &stubCountCollection{count: 2})

	stats, err := provider.Stats(context.Background())
	if err != nil {
		t.Fatalf("expected stats to succeed, got error: %v", err)
	}
	if stats.Users != 3 || stats.Chats != 2 || stats.AdminChats != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

type stubCountCollection struct {
	count int64
	err   error
	calls int
}

func (s *stubCountCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	s.calls++
	return s.count, s.err
}
