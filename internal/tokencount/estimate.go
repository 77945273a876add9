// Package tokencount estimates prompt/completion token counts with
// tiktoken-go when an upstream response arrives without usage_metadata
// (observed from the daily endpoint and some streamed error paths).
package tokencount

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"

	"github.com/arcrelay/cagateway/internal/stream"
	"github.com/arcrelay/cagateway/internal/translator/upstreamresp"
)

// CodecForModel returns the tiktoken codec closest to the client-facing
// model id. The upstream's own models (Gemini, Claude) have no published BPE
// vocabulary, so this is always an approximation; cl100k is tiktoken-go's
// general-purpose fallback for anything that isn't a recognized GPT id.
func CodecForModel(model string) tokenizer.Codec {
	sanitized := strings.ToLower(strings.TrimSpace(model))
	var codec tokenizer.Codec
	var err error
	switch {
	case strings.HasPrefix(sanitized, "gpt-5"):
		codec, err = tokenizer.ForModel(tokenizer.GPT5)
	case strings.HasPrefix(sanitized, "gpt-4.1"):
		codec, err = tokenizer.ForModel(tokenizer.GPT41)
	case strings.HasPrefix(sanitized, "gpt-4o"):
		codec, err = tokenizer.ForModel(tokenizer.GPT4o)
	case strings.HasPrefix(sanitized, "gpt-4"):
		codec, err = tokenizer.ForModel(tokenizer.GPT4)
	case strings.HasPrefix(sanitized, "gpt-3"):
		codec, err = tokenizer.ForModel(tokenizer.GPT35Turbo)
	default:
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
	}
	if err != nil || codec == nil {
		codec, _ = tokenizer.Get(tokenizer.Cl100kBase)
	}
	return codec
}

// count returns 0 on any encoder failure rather than propagating an error;
// a fallback estimate that occasionally undercounts is still more useful to
// the client than refusing to report usage at all.
func count(codec tokenizer.Codec, text string) int {
	text = strings.TrimSpace(text)
	if codec == nil || text == "" {
		return 0
	}
	n, err := codec.Count(text)
	if err != nil {
		return 0
	}
	return n
}

// PromptText flattens an OpenAI chat-completions or Anthropic messages-API
// request body into the text an estimator should count, pulling every
// message/content field regardless of dialect shape.
func PromptText(rawRequest []byte) string {
	root := gjson.ParseBytes(rawRequest)
	var segments []string

	addText := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}

	collectContent := func(content gjson.Result) {
		var walk func(gjson.Result)
		walk = func(v gjson.Result) {
			if v.Type == gjson.String {
				addText(v.String())
				return
			}
			if v.IsArray() {
				v.ForEach(func(_, item gjson.Result) bool {
					walk(item)
					return true
				})
				return
			}
			if v.IsObject() {
				addText(v.Get("text").String())
			}
		}
		walk(content)
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		addText(msg.Get("role").String())
		collectContent(msg.Get("content"))
		return true
	})
	collectContent(root.Get("system"))
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		addText(tool.Get("name").String())
		addText(tool.Get("description").String())
		return true
	})

	return strings.Join(segments, "\n")
}

// CompletionText flattens the upstream candidates' text/thought parts into
// the string an estimator should count for the completion side.
func CompletionText(candidates []upstreamresp.Candidate) string {
	var segments []string
	for _, cand := range candidates {
		for _, p := range cand.Parts {
			switch p.Kind {
			case stream.PartTextDelta, stream.PartThoughtDelta:
				if p.TextDelta != "" {
					segments = append(segments, p.TextDelta)
				}
			}
		}
	}
	return strings.Join(segments, "")
}

// Estimate builds a Usage from scratch when the upstream omitted
// usage_metadata entirely (unary or final streamed chunk).
func Estimate(model string, rawRequest []byte, candidates []upstreamresp.Candidate) *stream.Usage {
	return EstimateFromText(model, PromptText(rawRequest), CompletionText(candidates))
}

// EstimateFromText is Estimate's building block for callers that accumulate
// completion text incrementally (the streaming path has no []Candidate to
// hand back once the upstream closes the connection).
func EstimateFromText(model, promptText, completionText string) *stream.Usage {
	codec := CodecForModel(model)
	prompt := count(codec, promptText)
	completion := count(codec, completionText)
	return &stream.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
