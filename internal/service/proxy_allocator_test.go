package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinetic-apps/automation-platform/setup-service/internal/client"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

func newAllocatorRig() (*ProxyAllocator, *fakeProxies, *fakeProvider) {
	proxies := newFakeProxies()
	provider := &fakeProvider{}
	logs := &fakeLogs{}
	return NewProxyAllocator(proxies, provider, logs), proxies, provider
}

func TestAllocate_ManualSelector(t *testing.T) {
	alloc, proxies, _ := newAllocatorRig()
	proxies.seed(2)

	claim, err := alloc.Allocate(context.Background(), "acc-1", &models.ProxySelector{
		Manual: &models.ManualProxy{Scheme: "socks5", Host: "1.2.3.4", Port: 9050, Username: "u", Password: "p"},
	}, nil, false)

	require.NoError(t, err)
	assert.Equal(t, models.ProxySourceManual, claim.Source)
	assert.Equal(t, "1.2.3.4", claim.Config.Server)
	assert.Equal(t, 9050, claim.Config.Port)
	// Pool untouched
	assert.Equal(t, 0, proxies.assignedCount())
}

func TestAllocate_PoolByID(t *testing.T) {
	alloc, proxies, _ := newAllocatorRig()
	proxies.seed(3)
	target := proxies.rows[1].ID

	claims := NewClaimSet()
	claim, err := alloc.Allocate(context.Background(), "acc-1", &models.ProxySelector{
		PoolProxyID: target,
	}, claims, false)

	require.NoError(t, err)
	assert.Equal(t, models.ProxySourcePool, claim.Source)
	assert.Equal(t, target, claim.PoolID)
	assert.Contains(t, claims.Snapshot(), target)
}

func TestAllocate_PoolFirstThenProvider(t *testing.T) {
	alloc, proxies, provider := newAllocatorRig()
	provider.ListProxiesFunc = func(ctx context.Context) ([]client.ProviderProxy, error) {
		return []client.ProviderProxy{
			{ID: "prov-1", Scheme: "socks5", Server: "5.6.7.8", Port: 1080},
		}, nil
	}

	// Pool has one proxy: first claim comes from the pool
	proxies.seed(1)
	first, err := alloc.Allocate(context.Background(), "acc-1", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.ProxySourcePool, first.Source)

	// Pool exhausted: second claim falls back to the provider inventory
	second, err := alloc.Allocate(context.Background(), "acc-2", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.ProxySourceProvider, second.Source)
	assert.Equal(t, "5.6.7.8", second.Config.Server)
	assert.Empty(t, second.PoolID)
}

func TestAllocate_ProviderSkipsUsedInBatch(t *testing.T) {
	alloc, _, provider := newAllocatorRig()
	provider.ListProxiesFunc = func(ctx context.Context) ([]client.ProviderProxy, error) {
		return []client.ProviderProxy{
			{ID: "prov-1", Server: "5.6.7.1", Port: 1080},
			{ID: "prov-2", Server: "5.6.7.2", Port: 1080},
		}, nil
	}

	claims := NewClaimSet()
	first, err := alloc.Allocate(context.Background(), "acc-1", nil, claims, false)
	require.NoError(t, err)
	second, err := alloc.Allocate(context.Background(), "acc-2", nil, claims, false)
	require.NoError(t, err)

	assert.NotEqual(t, first.Config.Server, second.Config.Server)

	// Inventory exhausted without reuse allowed
	_, err = alloc.Allocate(context.Background(), "acc-3", nil, claims, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no proxy available")
}

func TestAllocate_ExhaustionReusesAssignedWhenAllowed(t *testing.T) {
	alloc, proxies, _ := newAllocatorRig()
	proxies.seed(1)

	claims := NewClaimSet()
	first, err := alloc.Allocate(context.Background(), "acc-1", nil, claims, true)
	require.NoError(t, err)

	second, err := alloc.Allocate(context.Background(), "acc-2", nil, claims, true)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Proxy.ID, second.Proxy.ID)
	// Reused claims are never released back
	assert.Empty(t, second.PoolID)
}

func TestAllocate_ConcurrentClaimsAreDistinct(t *testing.T) {
	alloc, proxies, _ := newAllocatorRig()
	proxies.seed(10)

	claims := NewClaimSet()
	var wg sync.WaitGroup
	results := make([]*ProxyClaim, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claim, err := alloc.Allocate(context.Background(), fmt.Sprintf("acc-%d", n), nil, claims, false)
			if err == nil {
				results[n] = claim
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, claim := range results {
		require.NotNil(t, claim, "claim %d missing", i)
		assert.False(t, seen[claim.PoolID], "proxy %s claimed twice", claim.PoolID)
		seen[claim.PoolID] = true
	}
	assert.Equal(t, 10, proxies.assignedCount())
}

func TestRelease_OnlyReturnsPoolClaims(t *testing.T) {
	alloc, proxies, _ := newAllocatorRig()
	proxies.seed(1)

	claim, err := alloc.Allocate(context.Background(), "acc-1", nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, proxies.assignedCount())

	alloc.Release(context.Background(), claim)
	assert.Equal(t, 0, proxies.assignedCount())

	// Manual claims have nothing to release
	alloc.Release(context.Background(), &ProxyClaim{Source: models.ProxySourceManual})
	assert.Equal(t, 0, proxies.assignedCount())
}

func TestRecordManual_PersistsAssignedRow(t *testing.T) {
	alloc, proxies, _ := newAllocatorRig()

	p, err := alloc.RecordManual(context.Background(), "acc-1", &client.ProxyConfig{
		Scheme: "http", Server: "9.9.9.9", Port: 8080, Username: "u", Password: "p",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProxySourceManual, p.Source)

	stored, err := proxies.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AssignedAccountID)
	assert.Equal(t, "acc-1", *stored.AssignedAccountID)
	assert.Equal(t, "9.9.9.9:8080", stored.Address())
}
