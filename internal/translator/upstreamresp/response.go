// Package upstreamresp parses the upstream's wire-format JSON responses
// (both the single-shot unary body and each `alt=sse` streamed line) into
// the dialect-agnostic stream.Part/stream.Chunk shapes the stream writers
// and unary response builders consume. Parsing tolerates unknown or absent
// fields throughout — gjson returns the zero value for absent paths, which
// is treated as "not present" per the ambient error-handling stance.
package upstreamresp

import (
	"github.com/tidwall/gjson"

	"github.com/arcrelay/cagateway/internal/stream"
)

// Candidate is one upstream candidate, pre-split into the writer's Part
// vocabulary. RawFinishReason is the verbatim upstream string ("STOP",
// "MAX_TOKENS", ...), empty when the candidate is not yet final; callers
// decide how to map it into a dialect's own finish/stop vocabulary since
// that decision also depends on whether a tool call was seen across the
// whole response, which this package does not track.
type Candidate struct {
	Parts           []stream.Part
	RawFinishReason string
	Index           int
}

// candidatesPath tries the upstream's {"response":{"candidates":[...]}}
// envelope first, falling back to a bare top-level "candidates" array for
// robustness against shape drift.
func candidatesAndUsage(body []byte) (gjson.Result, gjson.Result) {
	root := gjson.ParseBytes(body)
	if env := root.Get("response"); env.Exists() {
		return env.Get("candidates"), env.Get("usageMetadata")
	}
	return root.Get("candidates"), root.Get("usageMetadata")
}

// ParseUnary parses a complete (non-streamed) upstream response body into
// one Candidate per upstream candidate plus the overall usage, if present.
func ParseUnary(body []byte) ([]Candidate, *stream.Usage) {
	candidatesJSON, usageJSON := candidatesAndUsage(body)
	var out []Candidate
	candidatesJSON.ForEach(func(_, c gjson.Result) bool {
		out = append(out, parseCandidate(c))
		return true
	})
	return out, parseUsage(usageJSON)
}

// ParseStreamLine parses one `data: {...}` line's JSON payload (already
// stripped of the "data: " prefix) into a Chunk. Each upstream SSE event
// carries the same envelope shape as the unary body, normally with exactly
// one candidate. RawFinishReason on the resulting candidate, if any, is left
// for the caller to fold into Chunk.FinishReason however the dialect needs.
func ParseStreamLine(data []byte) (parts []stream.Part, rawFinishReason string, usage *stream.Usage) {
	candidatesJSON, usageJSON := candidatesAndUsage(data)
	arr := candidatesJSON.Array()
	if len(arr) == 0 {
		return nil, "", parseUsage(usageJSON)
	}
	cand := parseCandidate(arr[0])
	return cand.Parts, cand.RawFinishReason, parseUsage(usageJSON)
}

func parseCandidate(c gjson.Result) Candidate {
	cand := Candidate{
		RawFinishReason: c.Get("finishReason").String(),
		Index:           int(c.Get("index").Int()),
	}
	c.Get("content.parts").ForEach(func(_, p gjson.Result) bool {
		cand.Parts = append(cand.Parts, parsePart(p)...)
		return true
	})
	return cand
}

// parsePart may expand a single wire part into zero, one, or two stream
// Parts: a thought part carrying only a signature (no text) surfaces as a
// standalone PartSignature, matching how the stream writers distinguish a
// bare signature event from a thought-text delta.
func parsePart(p gjson.Result) []stream.Part {
	sig := p.Get("thoughtSignature").String()

	if fc := p.Get("functionCall"); fc.Exists() {
		return []stream.Part{{
			Kind:      stream.PartFunctionCall,
			CallID:    fc.Get("id").String(),
			CallName:  fc.Get("name").String(),
			ArgsJSON:  argsToJSON(fc.Get("args")),
			Signature: sig,
		}}
	}
	if inline := p.Get("inlineData"); inline.Exists() {
		return []stream.Part{{
			Kind:       stream.PartInlineData,
			MimeType:   inline.Get("mimeType").String(),
			DataBase64: inline.Get("data").String(),
			Signature:  sig,
		}}
	}

	text := p.Get("text").String()
	if p.Get("thought").Bool() {
		if text == "" && sig != "" {
			return []stream.Part{{Kind: stream.PartSignature, Signature: sig}}
		}
		return []stream.Part{{Kind: stream.PartThoughtDelta, TextDelta: text, Signature: sig}}
	}
	if text == "" {
		return nil
	}
	return []stream.Part{{Kind: stream.PartTextDelta, TextDelta: text}}
}

func argsToJSON(args gjson.Result) string {
	if !args.Exists() || args.Raw == "" {
		return "{}"
	}
	return args.Raw
}

func parseUsage(u gjson.Result) *stream.Usage {
	if !u.Exists() {
		return nil
	}
	return &stream.Usage{
		PromptTokens:     int(u.Get("promptTokenCount").Int()),
		CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
		TotalTokens:      int(u.Get("totalTokenCount").Int()),
	}
}
