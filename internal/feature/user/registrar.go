// Package user provides helpers for user registration and lifecycle updates.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/logging"
)

type userStore interface {
	UpsertUser(ctx context.Context, user domain.User) (bool, error)
}

// Registrar ensures users are present in the registry and keeps their profile
// and last-seen timestamp updated on every interaction.
type Registrar struct {
	users  userStore
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar for the provided registry.
func NewRegistrar(users userStore, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		logger: logger,
	}
}

// EnsureUser upserts the user profile. The role and first_seen_at of existing
// users are left untouched.
func (r *Registrar) EnsureUser(ctx context.Context, profile domain.User) (bool, error) {
	if r == nil || r.users == nil {
		return false, errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if profile.UserID == 0 {
		return false, errors.New("user id is required")
	}

	profile.FirstName = strings.TrimSpace(profile.FirstName)
	profile.LastName = strings.TrimSpace(profile.LastName)
	profile.Username = strings.TrimPrefix(strings.TrimSpace(profile.Username), "@")
	profile.Role = ""

	created, err := r.users.UpsertUser(ctx, profile)
	if err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}

	if created {
		r.logger.WithFields(logging.Fields{
			"event":   "user_registered",
			"user_id": profile.UserID,
		}).Info("registered new user")
		return true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_seen",
		"user_id": profile.UserID,
	}).Debug("updated user last seen")

	return false, nil
}
