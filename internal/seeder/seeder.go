package seeder

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mindgains/orchestrator/internal/auth"
)

const (
	DevClientKey = "mg-dev-key-12345"
	DevClientID  = "mindgains-dev"
	DevRateLimit = 1000000
)

// SeedDevClientKey registers the well-known development client key. An
// existing key is left untouched.
func SeedDevClientKey(ctx context.Context, store auth.Store, logger *zap.Logger) error {
	key := &auth.ClientKey{
		ClientID:  DevClientID,
		KeyHash:   auth.HashKey(DevClientKey),
		RateLimit: DevRateLimit,
		Active:    true,
	}

	err := store.Create(ctx, key)
	if errors.Is(err, auth.ErrKeyExists) {
		logger.Info("dev client key already seeded", zap.String("client_id", DevClientID))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("dev client key seeded",
		zap.String("client_id", DevClientID),
		zap.String("key_id", key.ID),
		zap.String("key", DevClientKey),
	)
	return nil
}
