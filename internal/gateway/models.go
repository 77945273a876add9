package gateway

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/arcrelay/cagateway/internal/quota"
	"github.com/arcrelay/cagateway/internal/translator/claude"
	"github.com/arcrelay/cagateway/internal/translator/openai"
	"github.com/arcrelay/cagateway/internal/upstream"
)

// Models handles the single GET /v1/models route shared by both dialects.
// Anthropic's real API requires every request, including this one, to
// carry an anthropic-version header; OpenAI-compatible clients never send
// it, so it doubles as the dialect signal §6 needs to pick a response
// format without a second path.
func (g *Gateway) Models(c *gin.Context) {
	if c.GetHeader("anthropic-version") != "" {
		g.ModelsClaude(c)
		return
	}
	g.ModelsOpenAI(c)
}

// ModelsOpenAI handles GET /v1/models for the chat-completions surface.
func (g *Gateway) ModelsOpenAI(c *gin.Context) {
	ids, err := g.listModelIDs(c.Request.Context())
	if err != nil {
		status, msg := classifyError(err)
		c.JSON(status, openaiErrorBody(msg))
		return
	}
	c.Data(http.StatusOK, "application/json", openai.BuildModelsResponse(ids))
}

// ModelsClaude handles GET /v1/models for the messages-API surface.
func (g *Gateway) ModelsClaude(c *gin.Context) {
	ids, err := g.listModelIDs(c.Request.Context())
	if err != nil {
		status, msg := classifyError(err)
		c.JSON(status, claudeErrorBody(msg))
		return
	}
	c.Data(http.StatusOK, "application/json", claude.BuildModelsResponse(ids))
}

// listModelIDs fetches the upstream's available-models listing (trying up
// to attemptBudget accounts, same retry classification as the request path)
// and folds in the virtual ids whose base model is present.
func (g *Gateway) listModelIDs(ctx context.Context) ([]string, error) {
	budget := g.attemptBudget()

	var body []byte
	var lastErr error
	for i := 0; i < budget; i++ {
		acc, err := g.Store.GetToken()
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		data, fetchErr := g.Upstream.FetchAvailableModels(ctx, acc.ProjectID, acc.AccessToken, acc.Email)
		if fetchErr == nil {
			body = data
			lastErr = nil
			break
		}
		lastErr = fetchErr
		if !shouldRetryWithNextToken(fetchErr) {
			break
		}
	}
	if body == nil {
		if lastErr == nil {
			lastErr = upstream.ParseError(http.StatusServiceUnavailable, nil)
		}
		return nil, lastErr
	}

	upstreamIDs := quota.ListModelIDs(body)
	present := make(map[string]struct{}, len(upstreamIDs))
	for _, id := range upstreamIDs {
		present[id] = struct{}{}
	}

	ids := append([]string{}, upstreamIDs...)
	for _, vm := range modelid.VirtualModels {
		if _, ok := present[vm.Base]; ok {
			if _, exists := present[vm.Virtual]; !exists {
				ids = append(ids, vm.Virtual)
				present[vm.Virtual] = struct{}{}
			}
		}
	}
	return dedupSorted(ids), nil
}

func dedupSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
