package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arcrelay/cagateway/internal/stream"
	"github.com/arcrelay/cagateway/internal/upstream"
)

// classifyError maps an orchestration error to an HTTP status and a
// client-facing message, per §7's UpstreamTransient/overload handling.
func classifyError(err error) (int, string) {
	if err == ErrOverloaded {
		return http.StatusServiceUnavailable, overloadedMessage
	}
	return errorStatus(err, http.StatusServiceUnavailable), err.Error()
}

// nowUnix is the single clock read each stream writer anchors its `created`
// timestamp to; factored out so tests can see where non-determinism enters.
func nowUnix() int64 { return time.Now().Unix() }

// newUpstreamSSEReader wraps a StreamResponse's body for line-by-line
// `data: ...` extraction.
func newUpstreamSSEReader(resp *upstream.StreamResponse) *upstream.SSEReader {
	return upstream.NewSSEReader(resp.Body)
}

// writeSSE writes and flushes each event, reporting whether the client is
// still reachable. A write error means the client disconnected; the caller
// stops forwarding but the upstream drain (and signature persistence) keeps
// running regardless, per §5's cancellation rules.
func writeSSE(c *gin.Context, flusher http.Flusher, events []string) bool {
	for _, ev := range events {
		if _, err := c.Writer.WriteString(ev); err != nil {
			return false
		}
	}
	flusher.Flush()
	return true
}

// persistSignatures saves every signature a stream writer observed. Empty
// reasoning is intentional here: the writers never retain enough buffered
// thinking text by the time a tool call arrives to attach it (see
// stream.WriterA/WriterB), so persistence matches the same contract.
func (g *Gateway) persistSignatures(requestID, model string, sigs []stream.SignatureSave) {
	if g.Cache == nil {
		return
	}
	for _, s := range sigs {
		g.Cache.SaveImage(requestID, s.ToolCallID, s.Signature, s.Reasoning, model, s.IsImageKey)
	}
}
