package claude

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/arcrelay/cagateway/internal/stream"
	"github.com/arcrelay/cagateway/internal/translator/upstreamresp"
)

// sigSaver is the subset of *signature.Cache the response builder needs.
type sigSaver interface {
	SaveImage(requestID, toolCallID, sig, reasoning, model string, isImageKey bool)
}

const missingThoughtText = "[missing thought text]"

// BuildMessage assembles a non-streamed Anthropic Messages response from the
// upstream's parsed candidates. Content blocks are emitted in a fixed order
// (thinking, then text, then tool_use, matching the dialect's own
// convention), and a Claude model's thought signature is allowed to surface
// on the thinking part itself rather than the tool_use part that follows it
// — a placement quirk specific to Claude responses that Gemini never shows.
func BuildMessage(requestID, model string, candidates []upstreamresp.Candidate, usage *stream.Usage, cache sigSaver) []byte {
	out := map[string]any{
		"id":          "msg_" + requestID,
		"type":        "message",
		"role":        "assistant",
		"model":       model,
		"content":     []map[string]any{},
		"stop_reason": "end_turn",
	}
	inputTokens, outputTokens := 0, 0
	if usage != nil {
		inputTokens = usage.PromptTokens
		outputTokens = usage.CompletionTokens
	}
	out["usage"] = map[string]any{"input_tokens": inputTokens, "output_tokens": outputTokens}

	if len(candidates) == 0 {
		b, _ := json.Marshal(out)
		return b
	}

	isClaude := modelid.IsClaude(model)

	var text, thinking strings.Builder
	var thinkingSignature string
	var toolBlocks []map[string]any
	stopReason := "end_turn"

	for _, p := range candidates[0].Parts {
		switch p.Kind {
		case stream.PartThoughtDelta, stream.PartSignature:
			if isClaude && p.Signature != "" {
				thinkingSignature = p.Signature
			}
			if p.Kind == stream.PartThoughtDelta {
				thinking.WriteString(p.TextDelta)
			}
		case stream.PartTextDelta:
			text.WriteString(p.TextDelta)
		case stream.PartFunctionCall:
			toolID := p.CallID
			if toolID == "" {
				toolID = "toolu_" + uuid.NewString()
			}

			sig := p.Signature
			if sig == "" && isClaude {
				sig = thinkingSignature
			}
			if sig != "" && cache != nil {
				reasoning := strings.TrimSpace(thinking.String())
				if reasoning == "" {
					reasoning = missingThoughtText
				}
				cache.SaveImage(requestID, toolID, sig, reasoning, model, false)
			}

			toolBlocks = append(toolBlocks, map[string]any{
				"type":  "tool_use",
				"id":    toolID,
				"name":  p.CallName,
				"input": argsToObject(p.ArgsJSON),
			})
			stopReason = "tool_use"
		}
	}

	if thinkingSignature != "" && strings.TrimSpace(thinking.String()) == "" {
		thinking.Reset()
		thinking.WriteString(missingThoughtText)
	}

	blocks := make([]map[string]any, 0, 2+len(toolBlocks))
	if thinking.Len() > 0 || thinkingSignature != "" {
		block := map[string]any{"type": "thinking", "thinking": thinking.String()}
		if thinkingSignature != "" {
			block["signature"] = thinkingSignature
		}
		blocks = append(blocks, block)
	}
	if text.Len() > 0 {
		blocks = append(blocks, map[string]any{"type": "text", "text": text.String()})
	}
	blocks = append(blocks, toolBlocks...)

	out["content"] = blocks
	out["stop_reason"] = stopReason

	b, _ := json.Marshal(out)
	return b
}

// ModelItem is one entry in the Anthropic-compatible /v1/models listing.
type ModelItem struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name,omitempty"`
}

// BuildModelsResponse renders the sorted, de-duplicated set of canonical
// model ids as an Anthropic-compatible models list.
func BuildModelsResponse(ids []string) []byte {
	items := make([]ModelItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, ModelItem{ID: id, Type: "model", DisplayName: id})
	}
	out := map[string]any{"data": items}
	b, _ := json.Marshal(out)
	return b
}

func argsToObject(argsJSON string) map[string]any {
	if argsJSON == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &m); err != nil {
		return map[string]any{}
	}
	return m
}
