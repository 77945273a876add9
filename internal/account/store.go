package account

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arcrelay/cagateway/internal/quota"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// PoolLookup is the subset of the quota pool's selector the store needs for
// model-aware selection. Implemented by *quota.Pool without either package
// importing the other's concrete type.
type PoolLookup interface {
	SelectExcluding(group string, exclude map[string]struct{}) (sessionID string, ok bool)
}

// RefreshFunc performs the actual network round-trip to refresh an account's
// tokens in place. It is supplied by the oauth package at call sites so this
// package stays free of HTTP/OAuth concerns.
type RefreshFunc func(ctx context.Context, acc *Account) error

// Store is the credential store described in §4.1. All writes serialise
// through saveMu so concurrent adds/refreshes cannot lose updates; the
// account list and round-robin cursor are protected by mu.
type Store struct {
	mu       sync.RWMutex
	saveMu   sync.Mutex
	path     string
	accounts []*Account
	cursor   int

	refreshMu   sync.Mutex
	refreshing  map[string]struct{}

	mirror *PostgresMirror
}

// SetPostgresMirror attaches an optional Postgres mirror; every persist()
// also best-effort syncs the account list to it. Passing nil disables
// mirroring.
func (s *Store) SetPostgresMirror(m *PostgresMirror) {
	s.mu.Lock()
	s.mirror = m
	s.mu.Unlock()
}

// NewStore creates a store bound to the given accounts.json path. Call Load
// to populate it.
func NewStore(path string) *Store {
	return &Store{path: path, refreshing: make(map[string]struct{})}
}

// Load reads the accounts file. A missing file is not an error (empty
// store); a corrupt file clears all in-memory state and returns
// ErrStoreCorrupt. Every loaded account is assigned a fresh session id.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.accounts = nil
			s.cursor = 0
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("account: read accounts file: %w", err)
	}
	if len(data) == 0 {
		s.mu.Lock()
		s.accounts = nil
		s.cursor = 0
		s.mu.Unlock()
		return nil
	}
	accounts, err := unmarshalList(data)
	if err != nil {
		s.mu.Lock()
		s.accounts = nil
		s.cursor = 0
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}
	for _, a := range accounts {
		a.SessionID = uuid.NewString()
	}
	s.mu.Lock()
	s.accounts = accounts
	s.cursor = 0
	s.mu.Unlock()
	return nil
}

// snapshot returns a cloned copy of the account list for lock-free iteration
// by callers (e.g. the background refreshers, the admin view).
func (s *Store) snapshot() []*Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, len(s.accounts))
	for i, a := range s.accounts {
		out[i] = a.Clone()
	}
	return out
}

// Snapshot is the exported form of snapshot, used by admin/read-only flows.
func (s *Store) Snapshot() []*Account { return s.snapshot() }

// EnabledCount returns the number of enabled accounts, used by the gateway to
// size its retry budget.
func (s *Store) EnabledCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.accounts {
		if a.Enabled {
			n++
		}
	}
	return n
}

// SessionIDs returns every session id currently in the store, used by the
// quota pool's sync_valid_sessions sweep.
func (s *Store) SessionIDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.accounts))
	for _, a := range s.accounts {
		out[a.SessionID] = struct{}{}
	}
	return out
}

// Accounts implements quota.AccountLister, giving the quota refresher a
// read-only view of the store without a direct dependency the other way.
func (s *Store) Accounts() []quota.AccountView {
	snap := s.snapshot()
	out := make([]quota.AccountView, len(snap))
	for i, a := range snap {
		out[i] = quota.AccountView{
			SessionID:   a.SessionID,
			Enabled:     a.Enabled,
			ProjectID:   a.ProjectID,
			AccessToken: a.AccessToken,
			Email:       a.Email,
		}
	}
	return out
}

// Add de-duplicates on email OR refresh token; on a match it overwrites the
// existing entry while preserving CreatedAt, otherwise it appends. A fresh
// session id is always assigned. The full list is persisted afterward.
func (s *Store) Add(acc *Account) error {
	if acc == nil {
		return fmt.Errorf("account: nil account")
	}
	s.mu.Lock()
	var existing *Account
	for _, a := range s.accounts {
		if acc.Email != "" && a.Email == acc.Email {
			existing = a
			break
		}
		if acc.RefreshToken != "" && a.RefreshToken == acc.RefreshToken {
			existing = a
			break
		}
	}
	if existing != nil {
		createdAt := existing.CreatedAt
		*existing = *acc
		existing.CreatedAt = createdAt
		existing.SessionID = uuid.NewString()
	} else {
		if acc.CreatedAt.IsZero() {
			acc.CreatedAt = time.Now().UTC()
		}
		acc.SessionID = uuid.NewString()
		s.accounts = append(s.accounts, acc)
	}
	s.mu.Unlock()
	return s.persist()
}

// Delete removes the account at the given index and persists the change.
func (s *Store) Delete(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.accounts) {
		s.mu.Unlock()
		return fmt.Errorf("account: index out of range")
	}
	s.accounts = append(s.accounts[:index], s.accounts[index+1:]...)
	if s.cursor >= len(s.accounts) {
		s.cursor = 0
	}
	s.mu.Unlock()
	return s.persist()
}

// SetEnable toggles an account's enabled flag and persists the change.
func (s *Store) SetEnable(index int, enabled bool) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.accounts) {
		s.mu.Unlock()
		return fmt.Errorf("account: index out of range")
	}
	s.accounts[index].Enabled = enabled
	if enabled {
		s.accounts[index].failureCount = 0
	}
	s.mu.Unlock()
	return s.persist()
}

// DisableBySessionID disables the account matching sessionID, if any.
func (s *Store) DisableBySessionID(sessionID string) error {
	s.mu.Lock()
	found := false
	for _, a := range s.accounts {
		if a.SessionID == sessionID {
			a.Enabled = false
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return nil
	}
	return s.persist()
}

// GetToken returns an enabled account, advancing the round-robin cursor
// exactly once regardless of how many entries are skipped.
func (s *Store) GetToken() (*Account, error) {
	return s.GetTokenExcluding(nil)
}

// GetTokenExcluding is GetToken with a set of session ids to skip. It does
// not refresh expired tokens on the hot path — the background refresher owns
// that responsibility; an expired token is logged and returned as-is.
func (s *Store) GetTokenExcluding(exclude map[string]struct{}) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.accounts)
	if n == 0 {
		return nil, ErrNoTokensAvailable
	}
	start := s.cursor
	s.cursor = (s.cursor + 1) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		a := s.accounts[idx]
		if !a.Enabled {
			continue
		}
		if exclude != nil {
			if _, skip := exclude[a.SessionID]; skip {
				continue
			}
		}
		if a.IsExpired(time.Now()) {
			log.Debugf("account: returning expired token for session %s; background refresher will catch up", a.SessionID)
		}
		return a.Clone(), nil
	}
	return nil, ErrNoTokensAvailable
}

// GetTokenForModelExcluding implements the model-aware selection algorithm of
// §4.1: try the quota pool up to three times (dropping stale pool sessions
// that no longer exist in the store), then fall through to plain
// round-robin excluding the set.
func (s *Store) GetTokenForModelExcluding(model string, pool PoolLookup, group string, exclude map[string]struct{}) (*Account, error) {
	if pool != nil {
		tried := make(map[string]struct{}, 4)
		for attempt := 0; attempt < 3; attempt++ {
			poolExclude := mergeSets(exclude, tried)
			sessionID, ok := pool.SelectExcluding(group, poolExclude)
			if !ok {
				break
			}
			acc := s.findBySessionID(sessionID)
			if acc == nil {
				// Stale pool entry: the session no longer exists in the
				// store. Drop it from consideration and retry.
				tried[sessionID] = struct{}{}
				continue
			}
			if !acc.Enabled {
				tried[sessionID] = struct{}{}
				continue
			}
			return acc.Clone(), nil
		}
	}
	return s.GetTokenExcluding(exclude)
}

func mergeSets(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func (s *Store) findBySessionID(sessionID string) *Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.SessionID == sessionID {
			return a
		}
	}
	return nil
}

// RefreshSession is the only path that mutates a token. Concurrent calls for
// the same session id are de-duplicated by a mutex-guarded in-flight set: the
// first caller performs the refresh, every concurrent duplicate returns
// SkippedAlreadyRefreshing immediately without touching the network.
func (s *Store) RefreshSession(ctx context.Context, sessionID string, refresh RefreshFunc) RefreshResult {
	s.mu.RLock()
	var acc *Account
	for _, a := range s.accounts {
		if a.SessionID == sessionID {
			acc = a
			break
		}
	}
	s.mu.RUnlock()
	if acc == nil {
		return Failed
	}
	if !acc.Enabled {
		return SkippedDisabled
	}

	s.refreshMu.Lock()
	if _, inFlight := s.refreshing[sessionID]; inFlight {
		s.refreshMu.Unlock()
		return SkippedAlreadyRefreshing
	}
	s.refreshing[sessionID] = struct{}{}
	s.refreshMu.Unlock()
	defer func() {
		s.refreshMu.Lock()
		delete(s.refreshing, sessionID)
		s.refreshMu.Unlock()
	}()

	// refresh runs network I/O against a clone, never the shared *Account, so
	// concurrent readers (GetTokenExcluding, persist) never observe a partial
	// write; the result is applied back to acc in one short critical section.
	work := acc.Clone()
	if err := refresh(ctx, work); err != nil {
		s.mu.Lock()
		acc.failureCount++
		failureCount := acc.failureCount
		disable := failureCount >= maxConsecutiveFailures
		if disable {
			acc.Enabled = false
		}
		s.mu.Unlock()

		log.WithError(err).Warnf("account: refresh failed for session %s (failure %d/%d)", sessionID, failureCount, maxConsecutiveFailures)
		if disable {
			_ = s.persist()
			return DisabledAfterFailures
		}
		return Failed
	}

	s.mu.Lock()
	*acc = *work
	acc.failureCount = 0
	s.mu.Unlock()
	_ = s.persist()
	return Refreshed
}

// TriggerBackgroundRefresh fires a refresh without blocking the caller. Used
// from auth-failure paths on the hot path.
func (s *Store) TriggerBackgroundRefresh(sessionID string, refresh RefreshFunc) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		s.RefreshSession(ctx, sessionID, refresh)
	}()
}

// RefreshAll triggers a refresh for every enabled account sequentially,
// returning the per-session results. Used by the admin refresh-all callable.
func (s *Store) RefreshAll(ctx context.Context, refresh RefreshFunc) map[string]RefreshResult {
	out := make(map[string]RefreshResult)
	for _, a := range s.snapshot() {
		if !a.Enabled {
			continue
		}
		out[a.SessionID] = s.RefreshSession(ctx, a.SessionID, refresh)
	}
	return out
}

// persist serialises the full account list to disk under saveMu.
func (s *Store) persist() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.RLock()
	data, err := marshalList(s.accounts)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("account: marshal accounts: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err = os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("account: create data dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("account: write accounts file: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("account: rename accounts file: %w", err)
	}

	s.mu.RLock()
	mirror := s.mirror
	s.mu.RUnlock()
	if mirror != nil {
		snap := s.snapshot()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := mirror.Sync(ctx, snap); err != nil {
				log.WithError(err).Warn("account: postgres mirror sync failed")
			}
		}()
	}
	return nil
}
