package seeder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mindgains/orchestrator/internal/auth"
)

type createStore struct {
	created []*auth.ClientKey
	err     error
}

func (s *createStore) GetByKey(context.Context, string) (*auth.ClientKey, error) {
	return nil, auth.ErrKeyNotFound
}

func (s *createStore) Create(_ context.Context, k *auth.ClientKey) error {
	if s.err != nil {
		return s.err
	}
	k.ID = "key-1"
	s.created = append(s.created, k)
	return nil
}

func (s *createStore) Revoke(context.Context, string) error { return nil }

func TestSeedDevClientKey(t *testing.T) {
	store := &createStore{}
	require.NoError(t, SeedDevClientKey(context.Background(), store, zaptest.NewLogger(t)))

	require.Len(t, store.created, 1)
	k := store.created[0]
	assert.Equal(t, DevClientID, k.ClientID)
	assert.Equal(t, auth.HashKey(DevClientKey), k.KeyHash)
	assert.True(t, k.Active)
	assert.Equal(t, int64(DevRateLimit), k.RateLimit)
}

func TestSeedDevClientKey_AlreadySeeded(t *testing.T) {
	store := &createStore{err: auth.ErrKeyExists}
	assert.NoError(t, SeedDevClientKey(context.Background(), store, zaptest.NewLogger(t)))
}

func TestSeedDevClientKey_StoreError(t *testing.T) {
	store := &createStore{err: errors.New("db down")}
	assert.Error(t, SeedDevClientKey(context.Background(), store, zaptest.NewLogger(t)))
}
