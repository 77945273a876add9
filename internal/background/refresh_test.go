package background

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcrelay/cagateway/internal/account"
)

func newTestStore(t *testing.T) *account.Store {
	t.Helper()
	s := account.NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, s.Load())
	return s
}

func TestCycleRefreshesAccountsDueWithinThreshold(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	require.NoError(t, store.Add(&account.Account{
		Email:        "due@example.com",
		RefreshToken: "rt-due",
		IssuedAtMs:   now.UnixMilli() - 58*60*1000, // issued 58m ago
		ExpiresIn:    3600,                         // expires in 1h total -> 2m from now, inside the threshold
		Enabled:      true,
	}))
	require.NoError(t, store.Add(&account.Account{
		Email:        "fresh@example.com",
		RefreshToken: "rt-fresh",
		IssuedAtMs:   now.UnixMilli(),
		ExpiresIn:    3600,
		Enabled:      true,
	}))

	var refreshed int32
	refresh := func(ctx context.Context, acc *account.Account) error {
		atomic.AddInt32(&refreshed, 1)
		acc.AccessToken = "new-token"
		return nil
	}

	r := NewTokenRefresher(store, refresh)
	_, err := r.cycle(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&refreshed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCycleReturnsEmptyStoreSleepWhenNoAccounts(t *testing.T) {
	store := newTestStore(t)
	r := NewTokenRefresher(store, func(ctx context.Context, acc *account.Account) error { return nil })

	sleep, err := r.cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, emptyStoreSleep, sleep)
}

func TestCycleSkipsDisabledAccounts(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	require.NoError(t, store.Add(&account.Account{
		Email:        "disabled@example.com",
		RefreshToken: "rt-disabled",
		IssuedAtMs:   now.UnixMilli() - 55*60*1000,
		ExpiresIn:    3600,
		Enabled:      false,
	}))

	var refreshed int32
	refresh := func(ctx context.Context, acc *account.Account) error {
		atomic.AddInt32(&refreshed, 1)
		return nil
	}

	r := NewTokenRefresher(store, refresh)
	_, err := r.cycle(context.Background())
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, atomic.LoadInt32(&refreshed))
}
