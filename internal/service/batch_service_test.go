package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kinetic-apps/automation-platform/setup-service/internal/client"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
)

func newBatchRig() (*BatchService, *rig) {
	r := newRig()
	b := NewBatchService(r.svc, r.logs, 4)
	b.limiter = rate.NewLimiter(rate.Inf, 1) // no pacing in tests
	return b, r
}

func TestBatchRun_AllSucceed(t *testing.T) {
	b, r := newBatchRig()
	r.proxies.seed(5)

	summary, err := b.Run(context.Background(), &models.SetupRequest{
		Mode:     models.ModeNumberRental,
		Quantity: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Requested)
	assert.Equal(t, 5, summary.ProfilesCreated)
	assert.Equal(t, 0, summary.ProfilesFailed)
	assert.Equal(t, 5, summary.SetupsStarted)
	assert.Equal(t, 0, summary.SetupsFailed)
	assert.NotEmpty(t, summary.BatchID)
	require.Len(t, summary.Items, 5)
	for i, item := range summary.Items {
		assert.True(t, item.Success, "item %d: %+v", i, item)
		assert.NotEmpty(t, item.AccountID)
		assert.NotEmpty(t, item.ProfileID)
	}

	// Accounts carry their batch membership
	acc := r.accounts.get(summary.Items[3].AccountID)
	assert.Equal(t, summary.BatchID, acc.Meta["batch_id"])
	assert.Equal(t, 3, acc.Meta["batch_index"])
}

func TestBatchRun_OneProfileFailureDoesNotSinkTheBatch(t *testing.T) {
	b, r := newBatchRig()
	r.proxies.seed(5)

	var mu sync.Mutex
	n := 0
	r.provider.CreateProfilesFunc = func(ctx context.Context, req *client.CreateProfilesRequest) (*client.CreateProfilesResult, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 3 {
			return nil, assert.AnError
		}
		return &client.CreateProfilesResult{
			TotalAmount: 1, SuccessAmount: 1,
			Details: []client.ProfileDetail{{Code: 0, ID: uniqueProfileID(n), ProfileName: uniqueProfileID(n)}},
		}, nil
	}

	summary, err := b.Run(context.Background(), &models.SetupRequest{
		Mode:     models.ModeNumberRental,
		Quantity: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.ProfilesCreated)
	assert.Equal(t, 1, summary.ProfilesFailed)
	assert.Equal(t, 4, summary.SetupsStarted)
	assert.Equal(t, 0, summary.SetupsFailed)

	assert.False(t, summary.Items[2].Success)
	assert.NotEmpty(t, summary.Items[2].Error)
	for _, i := range []int{0, 1, 3, 4} {
		assert.True(t, summary.Items[i].Success, "item %d", i)
	}
}

func uniqueProfileID(n int) string {
	return "profile-batch-" + string(rune('a'+n))
}

func TestBatchRun_DistinctProxiesPerAccount(t *testing.T) {
	b, r := newBatchRig()
	r.proxies.seed(5)

	summary, err := b.Run(context.Background(), &models.SetupRequest{
		Mode:     models.ModeNumberRental,
		Quantity: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 5, summary.ProfilesCreated)

	seen := map[string]bool{}
	for _, item := range summary.Items {
		p := r.proxies.assignedTo(item.AccountID)
		require.NotNil(t, p, "account %s has no proxy", item.AccountID)
		assert.False(t, seen[p.ID], "proxy %s assigned twice", p.ID)
		seen[p.ID] = true
	}
}

func TestBatchRun_PoolExhaustionFallsBackToReuse(t *testing.T) {
	b, r := newBatchRig()
	r.proxies.seed(2)

	summary, err := b.Run(context.Background(), &models.SetupRequest{
		Mode:     models.ModeNumberRental,
		Quantity: 3,
	})
	require.NoError(t, err)

	// Third account rides on an already-assigned proxy instead of failing
	assert.Equal(t, 3, summary.ProfilesCreated)
	assert.Equal(t, 3, summary.SetupsStarted)
	assert.Equal(t, 2, r.proxies.assignedCount())
	assert.True(t, r.logs.has("warning", "re-using proxy"))
	// The shortage was flagged before phase 1 started
	assert.True(t, r.logs.has("warning", "Proxy pool short"))
}

func TestBatchRun_RejectsZeroQuantity(t *testing.T) {
	b, _ := newBatchRig()

	_, err := b.Run(context.Background(), &models.SetupRequest{
		Mode:     models.ModeNumberRental,
		Quantity: 0,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantity")
}

func TestBatchRun_OneActivationFailureDoesNotSinkTheBatch(t *testing.T) {
	b, r := newBatchRig()
	r.proxies.seed(5)

	// Profiles are created sequentially, so item 2 owns profile-3. Its
	// device refuses to start while the other four activate normally.
	r.provider.StartPhonesFunc = func(ctx context.Context, ids []string) error {
		if len(ids) == 1 && ids[0] == "profile-3" {
			return assert.AnError
		}
		return nil
	}

	summary, err := b.Run(context.Background(), &models.SetupRequest{
		Mode:     models.ModeNumberRental,
		Quantity: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.ProfilesCreated)
	assert.Equal(t, 0, summary.ProfilesFailed)
	assert.Equal(t, 4, summary.SetupsStarted)
	assert.Equal(t, 1, summary.SetupsFailed)

	assert.False(t, summary.Items[2].Success)
	assert.Contains(t, summary.Items[2].Error, "start phone")
	for _, i := range []int{0, 1, 3, 4} {
		assert.True(t, summary.Items[i].Success, "item %d: %+v", i, summary.Items[i])
	}

	// The failed account keeps the phase it died in
	acc := r.accounts.get(summary.Items[2].AccountID)
	assert.Equal(t, models.AccountStatusStartingPhone, acc.Status)
	require.NotNil(t, acc.LastError)
}
