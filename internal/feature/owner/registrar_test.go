package owner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/store/memstore"
)

func TestEnsureOwnerDemotesPreviousAndPromotesConfiguredOwner(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	store := memstore.New(domain.DefaultMuteLimits())
	ctx := context.Background()

	for _, id := range []int64{10, 20, 999} {
		if _, err := store.UpsertUser(ctx, domain.User{UserID: id}); err != nil {
			t.Fatalf("seed user %d: %v", id, err)
		}
	}
	if _, err := store.EnsureOwner(ctx, 10); err != nil {
		t.Fatalf("seed owner: %v", err)
	}

	registrar := NewRegistrar(store, logrus.NewEntry(hookLogger))

	ownerID := int64(999)
	if err := registrar.EnsureOwner(ctx, ownerID); err != nil {
		t.Fatalf("EnsureOwner returned error: %v", err)
	}

	owner, err := store.GetUser(ctx, ownerID)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if owner.Role != domain.RoleOwner {
		t.Fatalf("expected role %s, got %s", domain.RoleOwner, owner.Role)
	}

	previous, err := store.GetUser(ctx, 10)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if previous.Role != domain.RoleAdmin {
		t.Fatalf("expected previous owner demoted to %s, got %s", domain.RoleAdmin, previous.Role)
	}

	entry := findLogEvent(hook.AllEntries(), "owner_bootstrap")
	if entry == nil {
		t.Fatalf("expected owner_bootstrap log entry")
	}
	if entry.Data["owner_id"] != ownerID {
		t.Fatalf("expected log owner_id %d, got %v", ownerID, entry.Data["owner_id"])
	}
	if entry.Data["demoted_owners"] != int64(1) {
		t.Fatalf("expected demoted_owners=1, got %v", entry.Data["demoted_owners"])
	}
}

func TestEnsureOwnerCreatesMissingOwner(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	store := memstore.New(domain.DefaultMuteLimits())
	registrar := NewRegistrar(store, logrus.NewEntry(hookLogger))

	if err := registrar.EnsureOwner(context.Background(), 42); err != nil {
		t.Fatalf("EnsureOwner returned error: %v", err)
	}

	owner, err := store.GetUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected owner to be created, got %v", err)
	}
	if owner.Role != domain.RoleOwner {
		t.Fatalf("expected role %s, got %s", domain.RoleOwner, owner.Role)
	}
}

func TestEnsureOwnerValidatesAndPropagatesErrors(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	tests := []struct {
		name      string
		registrar *Registrar
		ctx       context.Context
		ownerID   int64
		expectErr string
	}{
		{
			name:      "nil registrar",
			registrar: nil,
			ctx:       context.Background(),
			ownerID:   1,
			expectErr: "owner registrar",
		},
		{
			name:      "nil store",
			registrar: NewRegistrar(nil, logrus.NewEntry(hookLogger)),
			ctx:       context.Background(),
			ownerID:   1,
			expectErr: "registrar is not initialized",
		},
		{
			name:      "nil context",
			registrar: NewRegistrar(&fakeOwnerStore{}, logrus.NewEntry(hookLogger)),
			ctx:       nil,
			ownerID:   1,
			expectErr: "context is required",
		},
		{
			name:      "zero owner id",
			registrar: NewRegistrar(&fakeOwnerStore{}, logrus.NewEntry(hookLogger)),
			ctx:       context.Background(),
			ownerID:   0,
			expectErr: "owner id is required",
		},
		{
			name: "store error",
			registrar: NewRegistrar(&fakeOwnerStore{
				err: errors.New("demote fail"),
			}, logrus.NewEntry(hookLogger)),
			ctx:       context.Background(),
			ownerID:   99,
			expectErr: "demote fail",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.registrar.EnsureOwner(tt.ctx, tt.ownerID)
			if err == nil || !strings.Contains(err.Error(), tt.expectErr) {
				t.Fatalf("expected error containing %q, got %v", tt.expectErr, err)
			}
		})
	}
}

type fakeOwnerStore struct {
	calls []int64
	err   error
}

func (f *fakeOwnerStore) EnsureOwner(_ context.Context, ownerID int64) (int64, error) {
	f.calls = append(f.calls, ownerID)
	if f.err != nil {
		return 0, f.err
	}
	return 0, nil
}

func findLogEvent(entries []*logrus.Entry, event string) *logrus.Entry {
	for _, entry := range entries {
		if entry.Data["event"] == event {
			return entry
		}
	}
	return nil
}
