package gateway

import (
	"context"
	"errors"

	"github.com/arcrelay/cagateway/internal/translator/upstreamreq"
	"github.com/arcrelay/cagateway/internal/upstream"
)

// ErrOverloaded is returned once model-capacity exhaustion has been observed
// maxCapacityFailures times within a single request's retry loop; handlers
// map it to the canned overload message regardless of dialect.
var ErrOverloaded = errors.New(overloadedMessage)

// runWithRetry drives the §4.8 orchestration loop: pick a credential,
// stamp the upstream request's project/session, run one attempt, and
// classify the result. attempt is called once per loop iteration with the
// freshly-selected account; it returns the attempt's error (nil on success).
func (g *Gateway) runWithRetry(canonical string, attempt func(acc accountLike) error) error {
	budget := g.attemptBudget()
	used := make(map[string]struct{}, budget)
	capacityFailures := 0

	var lastErr error
	for i := 0; i < budget; i++ {
		var projectID, sessionID string
		acc, err := g.pickAccount(canonical, used, &projectID, &sessionID)
		if err != nil {
			return err
		}

		attemptErr := attempt(accountLike{AccessToken: acc.AccessToken, ProjectID: projectID, SessionID: sessionID})
		if attemptErr == nil {
			return nil
		}

		lastErr = attemptErr
		g.triggerRefreshOnAuthFailure(sessionID, attemptErr)

		if isCapacityExhausted(attemptErr) {
			capacityFailures++
		} else {
			capacityFailures = 0
		}
		if capacityFailures >= maxCapacityFailures {
			return ErrOverloaded
		}
		if !shouldRetryWithNextToken(attemptErr) {
			return attemptErr
		}
	}
	if lastErr == nil {
		return upstream.ParseError(503, nil)
	}
	return lastErr
}

// accountLike carries just the fields an orchestration attempt needs to
// stamp onto the upstream request, keeping runWithRetry free of the
// account package's concrete type.
type accountLike struct {
	AccessToken string
	ProjectID   string
	SessionID   string
}

// CallUnary runs the retry loop for a non-streamed call, returning the raw
// upstream response body.
func (g *Gateway) CallUnary(ctx context.Context, req *upstreamreq.Request, canonical string) ([]byte, error) {
	var body []byte
	err := g.runWithRetry(canonical, func(acc accountLike) error {
		req.ProjectID = acc.ProjectID
		req.SessionID = acc.SessionID
		wire, marshalErr := upstreamreq.Marshal(req)
		if marshalErr != nil {
			return marshalErr
		}
		attemptCtx, cancel := requestContext(ctx, 0)
		defer cancel()
		data, _, callErr := g.Upstream.CallUnary(attemptCtx, g.Upstream.GenerateContentURL(), acc.AccessToken, wire)
		if callErr != nil {
			return callErr
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// CallStream runs the retry loop for a streaming call, returning the opened
// upstream stream response. Streaming never retries mid-flight (the stream
// may have already emitted bytes); retry only covers failures before the
// stream opens.
func (g *Gateway) CallStream(ctx context.Context, req *upstreamreq.Request, canonical string) (*upstream.StreamResponse, error) {
	var resp *upstream.StreamResponse
	err := g.runWithRetry(canonical, func(acc accountLike) error {
		req.ProjectID = acc.ProjectID
		req.SessionID = acc.SessionID
		wire, marshalErr := upstreamreq.Marshal(req)
		if marshalErr != nil {
			return marshalErr
		}
		r, callErr := g.Upstream.CallStream(ctx, g.Upstream.StreamGenerateContentURL(), acc.AccessToken, wire)
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
