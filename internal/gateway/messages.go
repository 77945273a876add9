package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/arcrelay/cagateway/internal/stream"
	"github.com/arcrelay/cagateway/internal/tokencount"
	"github.com/arcrelay/cagateway/internal/translator/claude"
	"github.com/arcrelay/cagateway/internal/translator/upstreamreq"
	"github.com/arcrelay/cagateway/internal/translator/upstreamresp"
)

// claudeErrorBody is the {type:"error", error:{type, message}} shape §6
// requires for the messages-API surface.
func claudeErrorBody(message string) gin.H {
	return gin.H{"type": "error", "error": gin.H{"type": "api_error", "message": message}}
}

// Messages handles POST /v1/messages (and the trailing-slash variant).
// Claude-family requests are always streamed internally even when the
// client asked for stream:false, per §4.8 step 3 — the unary path below
// only runs for non-Claude models that also declined streaming.
func (g *Gateway) Messages(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, claudeErrorBody("invalid request body"))
		return
	}

	canonical := modelid.Canonical(gjson.GetBytes(raw, "model").String())
	clientWantsStream := gjson.GetBytes(raw, "stream").Bool()
	forceStream := modelid.IsClaudeFamily(canonical)

	req := claude.Translate(raw, g.Cache)

	if clientWantsStream || forceStream {
		g.streamMessage(c, req, canonical, clientWantsStream, raw)
		return
	}

	body, err := g.CallUnary(c.Request.Context(), req, canonical)
	if err != nil {
		status, msg := classifyError(err)
		c.JSON(status, claudeErrorBody(msg))
		return
	}

	candidates, usage := upstreamresp.ParseUnary(body)
	if usage == nil {
		usage = tokencount.Estimate(canonical, raw, candidates)
	}
	out := claude.BuildMessage(req.RequestID, displayModel(canonical), candidates, usage, g.Cache)
	c.Data(http.StatusOK, "application/json", out)
}

// streamMessage drives the dialect-B SSE writer. clientWantsStream controls
// nothing about the wire format (both cases stream identically); it exists
// only because a future caller may want to distinguish forced- from
// requested-streaming in logs.
func (g *Gateway) streamMessage(c *gin.Context, req *upstreamreq.Request, canonical string, clientWantsStream bool, raw []byte) {
	_ = clientWantsStream

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, claudeErrorBody("streaming not supported"))
		return
	}

	resp, err := g.CallStream(c.Request.Context(), req, canonical)
	if err != nil {
		status, _ := classifyError(err)
		c.Status(status)
		c.Header("Content-Type", "text/event-stream")
		flusher.Flush()
		_, msg := classifyError(err)
		writeSSE(c, flusher, stream.ErrorFrameB(msg))
		return
	}
	defer resp.Body.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	writer := stream.NewWriterB(displayModel(canonical))
	clientGone := false

	// message_start is deferred until the first part arrives, mirroring the
	// upstream behavior of reporting whatever prompt-token count an earlier
	// usage-only frame carried. A frame's usage updates inputTokens as long
	// as the start event hasn't gone out yet; once it has, later usage only
	// feeds the final message_delta via lastUsage.
	started := false
	inputTokens := 0

	sawToolCall := false
	reader := newUpstreamSSEReader(resp)
	var lastUsage *stream.Usage
	var completionText strings.Builder
	for {
		line, readErr := reader.Next()
		if readErr != nil {
			break
		}
		parts, _, usage := upstreamresp.ParseStreamLine(line)
		if usage != nil {
			lastUsage = usage
			if !started && usage.PromptTokens > 0 {
				inputTokens = usage.PromptTokens
			}
		}
		if !started && len(parts) > 0 {
			writeSSE(c, flusher, []string{writer.Start(inputTokens)})
			started = true
		}
		for _, p := range parts {
			if p.Kind == stream.PartFunctionCall {
				sawToolCall = true
			}
			if p.Kind == stream.PartTextDelta || p.Kind == stream.PartThoughtDelta {
				completionText.WriteString(p.TextDelta)
			}
		}
		events, sigs := writer.Feed(stream.Chunk{Parts: parts})
		g.persistSignatures(req.RequestID, displayModel(canonical), sigs)
		if !clientGone {
			if !writeSSE(c, flusher, events) {
				clientGone = true
			}
		}
	}
	if !started {
		writeSSE(c, flusher, []string{writer.Start(inputTokens)})
	}
	if lastUsage == nil {
		lastUsage = tokencount.EstimateFromText(canonical, tokencount.PromptText(raw), completionText.String())
	}
	if !clientGone {
		stopReason := "end_turn"
		if sawToolCall {
			stopReason = "tool_use"
		}
		writeSSE(c, flusher, writer.Finish(stopReason, lastUsage))
	}
}
