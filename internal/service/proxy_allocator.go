package service

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/client"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/repository"
)

// ClaimSet tracks proxy ids already claimed or tried within one batch so
// every account gets a distinct proxy while the pool lasts. Tried ids are
// passed into each claim, never read back from shared mutable state
// mid-decision.
type ClaimSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func NewClaimSet() *ClaimSet {
	return &ClaimSet{ids: make(map[string]bool)}
}

func (c *ClaimSet) Add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[id] = true
}

func (c *ClaimSet) Snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	return out
}

// ProxyClaim is one allocated proxy, ready to pass to profile creation.
// PoolID is set only for pool claims and is what gets released on retry.
type ProxyClaim struct {
	Source string
	PoolID string
	Proxy  *models.Proxy
	Config *client.ProxyConfig
	Reused bool
}

// ProxyAllocator resolves a proxy for an account: explicit selector first,
// then the managed pool, then the provider inventory.
type ProxyAllocator struct {
	proxies  ProxyStore
	provider DeviceProvider
	logs     SetupLogger
}

func NewProxyAllocator(proxies ProxyStore, provider DeviceProvider, logs SetupLogger) *ProxyAllocator {
	return &ProxyAllocator{
		proxies:  proxies,
		provider: provider,
		logs:     logs,
	}
}

// Allocate claims a proxy for accountID. claims carries the ids already
// taken or tried in the current batch; allowReuse permits falling back to
// a random already-assigned pool proxy once everything else is exhausted.
func (a *ProxyAllocator) Allocate(ctx context.Context, accountID string, sel *models.ProxySelector, claims *ClaimSet, allowReuse bool) (*ProxyClaim, error) {
	if sel != nil {
		if sel.Manual != nil {
			return &ProxyClaim{
				Source: models.ProxySourceManual,
				Config: &client.ProxyConfig{
					Scheme:   sel.Manual.Scheme,
					Server:   sel.Manual.Host,
					Port:     sel.Manual.Port,
					Username: sel.Manual.Username,
					Password: sel.Manual.Password,
				},
			}, nil
		}

		if sel.PoolProxyID != "" {
			p, err := a.proxies.ClaimByID(ctx, sel.PoolProxyID, accountID)
			if err != nil {
				return nil, fmt.Errorf("claim proxy %s: %w", sel.PoolProxyID, err)
			}
			if claims != nil {
				claims.Add(p.ID)
			}
			return a.poolClaim(p), nil
		}

		if sel.ProviderProxyID != "" {
			return a.fromProvider(ctx, sel.ProviderProxyID, claims)
		}
	}

	var groupName *string
	if sel != nil && sel.GroupName != "" {
		groupName = &sel.GroupName
	}

	var exclude []string
	if claims != nil {
		exclude = claims.Snapshot()
	}

	// Pool first
	p, err := a.proxies.ClaimNext(ctx, accountID, groupName, exclude)
	if err == nil {
		if claims != nil {
			claims.Add(p.ID)
		}
		return a.poolClaim(p), nil
	}
	if err != repository.ErrNotFound {
		return nil, fmt.Errorf("claim pool proxy: %w", err)
	}

	// Provider inventory next
	claim, provErr := a.fromProvider(ctx, "", claims)
	if provErr == nil {
		return claim, nil
	}

	// Batch exhaustion: re-use a random assigned pool proxy rather than
	// failing the remaining accounts.
	if allowReuse {
		reused, reuseErr := a.proxies.GetRandomAssigned(ctx, groupName)
		if reuseErr == nil {
			log.Printf("[ProxyAllocator] Pool exhausted, re-using proxy %s for account %s", reused.ID, accountID)
			a.logs.Log(ctx, "warning", "proxy-allocator", accountID,
				fmt.Sprintf("Proxy pool exhausted, re-using proxy %s", reused.Address()))
			c := a.poolClaim(reused)
			c.Reused = true
			c.PoolID = "" // not a fresh claim, nothing to release
			return c, nil
		}
	}

	return nil, fmt.Errorf("no proxy available: %w", provErr)
}

// PoolHeadroom reports how many unassigned pool proxies are left to claim
func (a *ProxyAllocator) PoolHeadroom(ctx context.Context, groupName *string) (int, error) {
	return a.proxies.CountUnassigned(ctx, groupName)
}

// Release returns a pool claim so another account can take it
func (a *ProxyAllocator) Release(ctx context.Context, claim *ProxyClaim) {
	if claim == nil || claim.PoolID == "" {
		return
	}
	if err := a.proxies.Release(ctx, claim.PoolID); err != nil {
		log.Printf("[ProxyAllocator] Failed to release proxy %s: %v", claim.PoolID, err)
	}
}

func (a *ProxyAllocator) poolClaim(p *models.Proxy) *ProxyClaim {
	cfg := &client.ProxyConfig{
		Scheme: p.Scheme,
		Server: p.Host,
		Port:   p.Port,
	}
	if p.Username != nil {
		cfg.Username = *p.Username
	}
	if p.Password != nil {
		cfg.Password = *p.Password
	}
	return &ProxyClaim{
		Source: models.ProxySourcePool,
		PoolID: p.ID,
		Proxy:  p,
		Config: cfg,
	}
}

// fromProvider picks a proxy from the provider inventory. With an empty id
// it takes the first entry not yet used in this batch.
func (a *ProxyAllocator) fromProvider(ctx context.Context, providerProxyID string, claims *ClaimSet) (*ProxyClaim, error) {
	list, err := a.provider.ListProxies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list provider proxies: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("provider proxy inventory is empty")
	}

	used := map[string]bool{}
	if claims != nil {
		for _, id := range claims.Snapshot() {
			used[id] = true
		}
	}

	var picked *client.ProviderProxy
	for i := range list {
		if providerProxyID != "" {
			if list[i].ID == providerProxyID {
				picked = &list[i]
				break
			}
			continue
		}
		if !used["provider:"+list[i].ID] {
			picked = &list[i]
			break
		}
	}
	if picked == nil {
		if providerProxyID != "" {
			return nil, fmt.Errorf("provider proxy not found: %s", providerProxyID)
		}
		return nil, fmt.Errorf("provider proxy inventory exhausted")
	}

	if claims != nil {
		claims.Add("provider:" + picked.ID)
	}

	return &ProxyClaim{
		Source: models.ProxySourceProvider,
		Config: &client.ProxyConfig{
			Scheme:   picked.Scheme,
			Server:   picked.Server,
			Port:     picked.Port,
			Username: picked.Username,
			Password: picked.Password,
		},
	}, nil
}

// RecordManual persists a manual proxy so the account row can reference it
func (a *ProxyAllocator) RecordManual(ctx context.Context, accountID string, cfg *client.ProxyConfig) (*models.Proxy, error) {
	p := &models.Proxy{
		ID:                uuid.New().String(),
		Source:            models.ProxySourceManual,
		Scheme:            cfg.Scheme,
		Host:              cfg.Server,
		Port:              cfg.Port,
		AssignedAccountID: &accountID,
		IsActive:          true,
	}
	if cfg.Username != "" {
		p.Username = &cfg.Username
	}
	if cfg.Password != "" {
		p.Password = &cfg.Password
	}
	if err := a.proxies.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
