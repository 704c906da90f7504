package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

func TestOracleCachedTrueFastPath(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Set(domain.KeyPremiumCache, "1"))

	oracle := NewEntitlementOracle(&fakeEntClient{}, store, zap.NewNop())
	oracle.Bootstrap()

	// Answer is true before any network round trip.
	assert.True(t, oracle.IsPremium())
}

func TestOracleStaleCacheCorrectedNotRevoked(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Set(domain.KeyPremiumCache, "1"))
	client := &fakeEntClient{active: nil} // subscription lapsed

	oracle := NewEntitlementOracle(client, store, zap.NewNop())
	oracle.Bootstrap()
	res := oracle.Reconcile(context.Background())
	oracle.ApplyReconcile(res)

	// In-memory answer never downgrades mid-run; the cache is corrected.
	assert.True(t, oracle.IsPremium())
	raw, ok, _ := store.Get(domain.KeyPremiumCache)
	require.True(t, ok)
	assert.Equal(t, "0", raw)
}

func TestOracleNoCacheQueriesAndCaches(t *testing.T) {
	store := newMemStore()
	client := &fakeEntClient{active: []string{domain.EntitlementPro}}

	oracle := NewEntitlementOracle(client, store, zap.NewNop())
	oracle.Bootstrap()
	assert.False(t, oracle.IsPremium())

	oracle.ApplyReconcile(oracle.Reconcile(context.Background()))

	assert.True(t, oracle.IsPremium())
	raw, _, _ := store.Get(domain.KeyPremiumCache)
	assert.Equal(t, "1", raw)
}

func TestOracleQueryFailureDefaultsToFree(t *testing.T) {
	store := newMemStore()
	client := &fakeEntClient{queryErr: errors.New("network down")}

	oracle := NewEntitlementOracle(client, store, zap.NewNop())
	oracle.Bootstrap()
	oracle.ApplyReconcile(oracle.Reconcile(context.Background()))

	assert.False(t, oracle.IsPremium())
	// Failure must not poison the cache.
	_, ok, _ := store.Get(domain.KeyPremiumCache)
	assert.False(t, ok)
}

func TestOracleQueryFailureKeepsCachedTrue(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Set(domain.KeyPremiumCache, "1"))
	client := &fakeEntClient{queryErr: errors.New("timeout")}

	oracle := NewEntitlementOracle(client, store, zap.NewNop())
	oracle.Bootstrap()
	oracle.ApplyReconcile(oracle.Reconcile(context.Background()))

	assert.True(t, oracle.IsPremium())
}

func TestOraclePurchaseUpgradesImmediately(t *testing.T) {
	store := newMemStore()
	client := &fakeEntClient{active: []string{domain.EntitlementPro}}

	oracle := NewEntitlementOracle(client, store, zap.NewNop())
	changed := []bool{}
	oracle.OnChange(func(p bool) { changed = append(changed, p) })

	active, err := oracle.Purchase(context.Background())
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, []string{domain.ProductMonthlySub}, client.purchased)

	oracle.ApplyPurchaseResult(active)
	assert.True(t, oracle.IsPremium())
	assert.Equal(t, []bool{true}, changed)
	raw, _, _ := store.Get(domain.KeyPremiumCache)
	assert.Equal(t, "1", raw)
}

func TestOracleRestoreWithoutSubscription(t *testing.T) {
	store := newMemStore()
	client := &fakeEntClient{active: nil}

	oracle := NewEntitlementOracle(client, store, zap.NewNop())
	active, err := oracle.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestOracleNilClient(t *testing.T) {
	oracle := NewEntitlementOracle(nil, newMemStore(), zap.NewNop())

	assert.False(t, oracle.Bootstrap())
	res := oracle.Reconcile(context.Background())
	assert.ErrorIs(t, res.Err, domain.ErrEntitlementCheck)
	_, err := oracle.Purchase(context.Background())
	assert.ErrorIs(t, err, domain.ErrEntitlementCheck)
}
