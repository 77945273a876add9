// Package gateway wires the credential store, quota pool, signature cache,
// and upstream client into the client-facing HTTP surface (§4.8): the
// OpenAI and Anthropic dialect handlers, the models listing, health check,
// and the admin callables.
package gateway

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/arcrelay/cagateway/internal/account"
	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/arcrelay/cagateway/internal/quota"
	"github.com/arcrelay/cagateway/internal/signature"
	"github.com/arcrelay/cagateway/internal/upstream"
)

// overloadedMessage is the canned response once model-capacity exhaustion
// has been observed five times in a single request's retry loop.
const overloadedMessage = "模型已过载，请稍后再试"

const maxCapacityFailures = 5

// Gateway holds every long-lived collaborator the HTTP handlers need.
type Gateway struct {
	Store    *account.Store
	Pool     *quota.Pool
	Cache    *signature.Cache
	Upstream *upstream.Client
	Refresh  account.RefreshFunc
}

// New constructs a Gateway. Refresh may be nil in tests that never exercise
// the 401 background-refresh path.
func New(store *account.Store, pool *quota.Pool, cache *signature.Cache, up *upstream.Client, refresh account.RefreshFunc) *Gateway {
	return &Gateway{Store: store, Pool: pool, Cache: cache, Upstream: up, Refresh: refresh}
}

// attemptBudget is max(enabled_account_count, 1) per §4.8 step 3.
func (g *Gateway) attemptBudget() int {
	n := g.Store.EnabledCount()
	if n < 1 {
		return 1
	}
	return n
}

// shouldRetryWithNextToken classifies an upstream error per §4.8 step 6:
// retry with the next credential on 401/403/429 or model-capacity
// exhaustion, otherwise the caller should stop.
func shouldRetryWithNextToken(err error) bool {
	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		if upErr.ModelCapacityExhausted {
			return true
		}
		switch upErr.Status {
		case 401, 403, 429:
			return true
		}
	}
	return false
}

func isCapacityExhausted(err error) bool {
	var upErr *upstream.Error
	return errors.As(err, &upErr) && upErr.ModelCapacityExhausted
}

func isUnauthorized(err error) bool {
	var upErr *upstream.Error
	return errors.As(err, &upErr) && upErr.Status == 401
}

func errorStatus(err error, fallback int) int {
	var upErr *upstream.Error
	if errors.As(err, &upErr) && upErr.Status > 0 {
		return upErr.Status
	}
	return fallback
}

// pickAccount selects the next credential for the given model, excluding
// sessions already tried this request, and overwrites the caller's
// placeholder project/session ids on the upstream request in place.
func (g *Gateway) pickAccount(canonical string, used map[string]struct{}, projectID, sessionID *string) (*account.Account, error) {
	group := modelid.GroupKey(canonical)
	acc, err := g.Store.GetTokenForModelExcluding(canonical, g.Pool, group, used)
	if err != nil {
		return nil, err
	}
	used[acc.SessionID] = struct{}{}
	if acc.ProjectID != "" {
		*projectID = acc.ProjectID
	}
	*sessionID = acc.SessionID
	return acc, nil
}

// triggerRefreshOnAuthFailure fires a non-blocking background refresh when
// the upstream reports the credential as unauthorized.
func (g *Gateway) triggerRefreshOnAuthFailure(sessionID string, err error) {
	if g.Refresh == nil || sessionID == "" || !isUnauthorized(err) {
		return
	}
	g.Store.TriggerBackgroundRefresh(sessionID, g.Refresh)
}

// requestContext derives a bounded context for one upstream attempt from the
// client's request context, so a single slow attempt cannot outlive the
// overall gateway timeout budget.
func requestContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

func logAttemptFailure(dialect, model string, attempt int, err error) {
	log.WithFields(log.Fields{
		"dialect": dialect,
		"model":   model,
		"attempt": attempt,
	}).WithError(err).Warn("gateway: upstream attempt failed")
}
