// Package owner provides startup helpers for ensuring the configured bot owner
// exists in the registry with the correct role, and the authorization policy
// derived from it.
package owner

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/logging"
)

type ownerStore interface {
	EnsureOwner(ctx context.Context, ownerID int64) (int64, error)
}

// Registrar bootstraps the configured bot owner record.
type Registrar struct {
	store  ownerStore
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar for the provided registry.
func NewRegistrar(store ownerStore, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		store:  store,
		logger: logger,
	}
}

// EnsureOwner marks ownerID as owner and demotes any previous owners to admin.
func (r *Registrar) EnsureOwner(ctx context.Context, ownerID int64) error {
	if r == nil || r.store == nil {
		return errors.New("owner registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if ownerID <= 0 {
		return domain.Errorf(domain.KindValidation, "ensure owner", "owner id is required")
	}

	demoted, err := r.store.EnsureOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("ensure owner: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":          "owner_bootstrap",
		"owner_id":       ownerID,
		"demoted_owners": demoted,
	}).Info("ensured bot owner")

	return nil
}
