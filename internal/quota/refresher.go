package quota

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	refreshInterval = 10 * time.Minute
	perAccountDelay = 200 * time.Millisecond // caps per-account queries at 5/sec
)

// AccountView is the subset of account state the refresher needs per
// session, kept independent of the account package's concrete type.
type AccountView struct {
	SessionID   string
	Enabled     bool
	ProjectID   string
	AccessToken string
	Email       string
}

// AccountLister supplies the enabled accounts to sweep each tick.
type AccountLister interface {
	Accounts() []AccountView
}

// ModelsFetcher fetches the upstream's available-models response for one
// account, returning the raw JSON body for ParseModelsResponse.
type ModelsFetcher interface {
	FetchAvailableModels(ctx context.Context, projectID, accessToken, email string) ([]byte, error)
}

// OnAuthFailure is invoked with the offending session id when a models
// fetch fails with an authentication error, so the caller can trigger a
// background token refresh without this package depending on oauth/account.
type OnAuthFailure func(sessionID string)

// Refresher drives the periodic quota sweep described in §4.4.
type Refresher struct {
	pool     *Pool
	accounts AccountLister
	fetcher  ModelsFetcher
	onAuth   OnAuthFailure
}

// NewRefresher builds a Refresher. onAuthFailure may be nil.
func NewRefresher(pool *Pool, accounts AccountLister, fetcher ModelsFetcher, onAuthFailure OnAuthFailure) *Refresher {
	return &Refresher{pool: pool, accounts: accounts, fetcher: fetcher, onAuth: onAuthFailure}
}

// Run blocks, performing an immediate sweep and then one every
// refreshInterval, until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	r.sweepOnce(ctx)
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Refresher) sweepOnce(ctx context.Context) {
	accounts := r.accounts.Accounts()
	if len(accounts) == 0 {
		r.pool.SyncValidSessions(map[string]struct{}{})
		return
	}

	enabledSessions := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		if a.Enabled && a.SessionID != "" {
			enabledSessions[a.SessionID] = struct{}{}
		}
	}
	r.pool.SyncValidSessions(enabledSessions)

	if due := r.pool.DueCooldownSessions(); len(due) > 0 {
		log.Debugf("quota: %d session(s) reached cooldown reset, will refresh this sweep", len(due))
	}

	ok, failed := 0, 0
	for _, a := range accounts {
		if ctx.Err() != nil {
			return
		}
		if !a.Enabled || a.SessionID == "" {
			continue
		}

		body, err := r.fetcher.FetchAvailableModels(ctx, a.ProjectID, a.AccessToken, a.Email)
		if err != nil {
			failed++
			log.WithError(err).Warnf("quota: refresh failed for session %s", a.SessionID)
			if isAuthError(err) && r.onAuth != nil {
				r.onAuth(a.SessionID)
			}
		} else {
			r.pool.UpdateFromQuota(a.SessionID, ParseModelsResponse(body))
			ok++
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(perAccountDelay):
		}
	}
	log.Debugf("quota: sweep complete, ok=%d failed=%d", ok, failed)
}

// authError is implemented by upstream errors that carry an HTTP status, so
// the refresher can detect 401s without importing the upstream package.
type authError interface {
	StatusCode() int
}

func isAuthError(err error) bool {
	ae, ok := err.(authError)
	return ok && ae.StatusCode() == 401
}
