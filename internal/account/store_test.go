package account

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "accounts.json"))
}

func TestLoadMissingFileIsEmptyNotError(t *testing.T) {
	s := newTempStore(t)
	require.NoError(t, s.Load())
	require.Empty(t, s.Snapshot())
}

func TestLoadCorruptFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	s := NewStore(path)
	err := s.Load()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrStoreCorrupt)
	require.Empty(t, s.Snapshot())
}

func TestAddDeduplicatesOnEmailPreservingCreatedAt(t *testing.T) {
	s := newTempStore(t)
	first := &Account{Email: "a@example.com", AccessToken: "t1", Enabled: true}
	require.NoError(t, s.Add(first))
	createdAt := s.Snapshot()[0].CreatedAt

	second := &Account{Email: "a@example.com", AccessToken: "t2", Enabled: true}
	require.NoError(t, s.Add(second))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "t2", snap[0].AccessToken)
	require.Equal(t, createdAt, snap[0].CreatedAt)
}

func TestRoundTripPreservesAccountsModuloSessionID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	s := NewStore(path)
	require.NoError(t, s.Add(&Account{Email: "a@example.com", AccessToken: "t1", Enabled: true}))
	require.NoError(t, s.Add(&Account{Email: "b@example.com", AccessToken: "t2", Enabled: true}))

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	snap := reloaded.Snapshot()
	require.Len(t, snap, 2)
	for _, a := range snap {
		require.NotEmpty(t, a.SessionID)
	}
	// Reloading twice must assign fresh session ids each time.
	again := NewStore(path)
	require.NoError(t, again.Load())
	for i := range snap {
		require.NotEqual(t, snap[i].SessionID, again.Snapshot()[i].SessionID)
	}
}

func TestDisableBySessionIDExcludesFromSelection(t *testing.T) {
	s := newTempStore(t)
	require.NoError(t, s.Add(&Account{Email: "a@example.com", Enabled: true}))
	sessionID := s.Snapshot()[0].SessionID

	require.NoError(t, s.DisableBySessionID(sessionID))
	_, err := s.GetToken()
	require.ErrorIs(t, err, ErrNoTokensAvailable)
}

func TestFifthConsecutiveFailureDisablesAccount(t *testing.T) {
	s := newTempStore(t)
	require.NoError(t, s.Add(&Account{Email: "a@example.com", Enabled: true}))
	sessionID := s.Snapshot()[0].SessionID

	failingRefresh := func(ctx context.Context, acc *Account) error {
		return errors.New("boom")
	}

	var last RefreshResult
	for i := 0; i < 5; i++ {
		last = s.RefreshSession(context.Background(), sessionID, failingRefresh)
	}
	require.Equal(t, DisabledAfterFailures, last)

	// Sixth call short-circuits without invoking the network.
	called := false
	sixth := s.RefreshSession(context.Background(), sessionID, func(ctx context.Context, acc *Account) error {
		called = true
		return nil
	})
	require.Equal(t, SkippedDisabled, sixth)
	require.False(t, called)
}

func TestRefreshSessionDeduplicatesConcurrentCalls(t *testing.T) {
	s := newTempStore(t)
	require.NoError(t, s.Add(&Account{Email: "a@example.com", Enabled: true}))
	sessionID := s.Snapshot()[0].SessionID

	start := make(chan struct{})
	release := make(chan struct{})
	go func() {
		s.RefreshSession(context.Background(), sessionID, func(ctx context.Context, acc *Account) error {
			close(start)
			<-release
			return nil
		})
	}()
	<-start
	result := s.RefreshSession(context.Background(), sessionID, func(ctx context.Context, acc *Account) error {
		return nil
	})
	require.Equal(t, SkippedAlreadyRefreshing, result)
	close(release)
}

func TestIsExpiredSafetyMargin(t *testing.T) {
	now := time.Now()
	acc := &Account{
		IssuedAtMs: now.UnixMilli(),
		ExpiresIn:  300, // exactly the safety margin
	}
	require.True(t, acc.IsExpired(now))

	acc2 := &Account{
		IssuedAtMs: now.UnixMilli(),
		ExpiresIn:  3600,
	}
	require.False(t, acc2.IsExpired(now))
}

func TestGetTokenForModelExcludingFallsThroughWithoutPool(t *testing.T) {
	s := newTempStore(t)
	require.NoError(t, s.Add(&Account{Email: "a@example.com", Enabled: true}))
	acc, err := s.GetTokenForModelExcluding("gemini-2.5-flash", nil, "Gemini 2.5 Pro/Flash/Lite", nil)
	require.NoError(t, err)
	require.NotNil(t, acc)
}

type stalePool struct{ calls int }

func (p *stalePool) SelectExcluding(group string, exclude map[string]struct{}) (string, bool) {
	p.calls++
	if p.calls <= 2 {
		return "stale-session-id", true
	}
	return "", false
}

func TestGetTokenForModelExcludingDropsStalePoolSessions(t *testing.T) {
	s := newTempStore(t)
	require.NoError(t, s.Add(&Account{Email: "a@example.com", Enabled: true}))
	pool := &stalePool{}
	acc, err := s.GetTokenForModelExcluding("gemini-2.5-flash", pool, "Gemini 2.5 Pro/Flash/Lite", nil)
	require.NoError(t, err)
	require.NotNil(t, acc)
	require.True(t, pool.calls >= 1)
}
