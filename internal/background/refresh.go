// Package background runs the gateway's long-lived maintenance tasks: a
// proactive token-refresh loop that re-schedules itself around each
// account's actual expiry, and a daily signature-retention sweep.
package background

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/arcrelay/cagateway/internal/account"
)

const (
	refreshBeforeExpiry    = 5 * time.Minute
	maxConcurrentRefreshes = 3
	minRefreshSleep        = 1 * time.Second
	maxRefreshSleep        = 30 * time.Minute
	emptyStoreSleep        = 5 * time.Minute
)

// TokenRefresher proactively refreshes accounts before their access token
// expires, dynamically re-scheduling itself around whichever account is
// next due rather than polling on a fixed tick.
type TokenRefresher struct {
	store   *account.Store
	refresh account.RefreshFunc
}

// NewTokenRefresher builds a TokenRefresher.
func NewTokenRefresher(store *account.Store, refresh account.RefreshFunc) *TokenRefresher {
	return &TokenRefresher{store: store, refresh: refresh}
}

// Run blocks until ctx is cancelled, running refresh cycles and sleeping
// the computed interval between them.
func (r *TokenRefresher) Run(ctx context.Context) {
	for {
		sleep, err := r.cycle(ctx)
		if err != nil {
			log.WithError(err).Warn("background: token refresh cycle failed")
			sleep = time.Minute
		}
		if sleep < minRefreshSleep {
			sleep = minRefreshSleep
		}
		if sleep > maxRefreshSleep {
			sleep = maxRefreshSleep
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// cycle refreshes every enabled account already within refreshBeforeExpiry
// of its expiry, bounded to maxConcurrentRefreshes in flight, and reports
// how long to sleep before the next cycle.
func (r *TokenRefresher) cycle(ctx context.Context) (time.Duration, error) {
	accounts := r.store.Snapshot()
	if len(accounts) == 0 {
		return emptyStoreSleep, nil
	}

	sem := semaphore.NewWeighted(maxConcurrentRefreshes)
	now := time.Now()
	earliestDue := maxRefreshSleep

	for _, acc := range accounts {
		if !acc.Enabled || acc.SessionID == "" {
			continue
		}
		dueAt := acc.IssuedAtMs + acc.ExpiresIn*1000 - refreshBeforeExpiry.Milliseconds()
		if now.UnixMilli() >= dueAt {
			sessionID := acc.SessionID
			if err := sem.Acquire(ctx, 1); err != nil {
				return 0, err
			}
			go func() {
				defer sem.Release(1)
				refreshCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				defer cancel()
				r.store.RefreshSession(refreshCtx, sessionID, r.refresh)
			}()
			continue
		}
		if remaining := time.Until(time.UnixMilli(dueAt)); remaining < earliestDue {
			earliestDue = remaining
		}
	}

	// Wait for this cycle's in-flight refreshes before reporting back, so a
	// caller observing RefreshSession's effects sees them applied.
	if err := sem.Acquire(ctx, maxConcurrentRefreshes); err != nil {
		return 0, err
	}
	sem.Release(maxConcurrentRefreshes)

	return earliestDue, nil
}
