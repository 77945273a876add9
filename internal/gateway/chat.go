package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/arcrelay/cagateway/internal/stream"
	"github.com/arcrelay/cagateway/internal/tokencount"
	"github.com/arcrelay/cagateway/internal/translator/openai"
	"github.com/arcrelay/cagateway/internal/translator/upstreamreq"
	"github.com/arcrelay/cagateway/internal/translator/upstreamresp"
)

// openaiErrorBody is the {error:{message,type}} shape §6 requires for the
// chat-completions surface.
func openaiErrorBody(message string) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": "server_error"}}
}

// ChatCompletions handles POST /v1/chat/completions (and the trailing-slash
// variant, registered by the caller against the same handler).
func (g *Gateway) ChatCompletions(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, openaiErrorBody("invalid request body"))
		return
	}

	canonical := modelid.Canonical(gjson.GetBytes(raw, "model").String())
	isStream := gjson.GetBytes(raw, "stream").Bool()

	req := openai.Translate(raw, g.Cache)

	if isStream {
		g.streamChatCompletion(c, req, canonical, raw)
		return
	}

	body, err := g.CallUnary(c.Request.Context(), req, canonical)
	if err != nil {
		status, msg := classifyError(err)
		c.JSON(status, openaiErrorBody(msg))
		return
	}

	candidates, usage := upstreamresp.ParseUnary(body)
	if usage == nil {
		usage = tokencount.Estimate(canonical, raw, candidates)
	}
	out := openai.BuildChatCompletion(req.RequestID, displayModel(canonical), candidates, usage, g.Cache)
	c.Data(http.StatusOK, "application/json", out)
}

func (g *Gateway) streamChatCompletion(c *gin.Context, req *upstreamreq.Request, canonical string, raw []byte) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, openaiErrorBody("streaming not supported"))
		return
	}

	resp, err := g.CallStream(c.Request.Context(), req, canonical)
	if err != nil {
		status, msg := classifyError(err)
		c.JSON(status, openaiErrorBody(msg))
		return
	}
	defer resp.Body.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	isClaudeThinking := modelid.IsClaudeThinking(canonical)
	writer := stream.NewWriterA(displayModel(canonical), nowUnix(), isClaudeThinking)

	sawToolCall := false
	reader := newUpstreamSSEReader(resp)
	clientGone := false

	var lastUsage *stream.Usage
	var completionText strings.Builder
	for {
		line, readErr := reader.Next()
		if readErr != nil {
			break
		}
		parts, rawFinish, usage := upstreamresp.ParseStreamLine(line)
		if usage != nil {
			lastUsage = usage
		}
		for _, p := range parts {
			if p.Kind == stream.PartFunctionCall {
				sawToolCall = true
			}
			if p.Kind == stream.PartTextDelta || p.Kind == stream.PartThoughtDelta {
				completionText.WriteString(p.TextDelta)
			}
		}
		chunk := stream.Chunk{Parts: parts}
		if rawFinish != "" {
			chunk.FinishReason = finishReasonA(sawToolCall)
			chunk.Usage = usage
		}
		events, sigs := writer.Feed(chunk)
		g.persistSignatures(req.RequestID, displayModel(canonical), sigs)
		if !clientGone {
			if !writeSSE(c, flusher, events) {
				clientGone = true
			}
		}
	}
	if lastUsage == nil {
		lastUsage = tokencount.EstimateFromText(canonical, tokencount.PromptText(raw), completionText.String())
	}
	if !clientGone {
		events := writer.Finish(finishReasonA(sawToolCall), lastUsage)
		writeSSE(c, flusher, events)
	}
}

func finishReasonA(sawToolCall bool) string {
	if sawToolCall {
		return "tool_calls"
	}
	return "stop"
}

// displayModel is the model id echoed back to the client: the canonical
// (possibly virtual) id the client asked for, not the resolved backend id.
func displayModel(canonical string) string { return canonical }
