package openai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/arcrelay/cagateway/internal/stream"
	"github.com/arcrelay/cagateway/internal/translator/upstreamresp"
)

// sigSaver is the subset of *signature.Cache the response builder needs.
// Keeping it as a narrow interface here (rather than importing the concrete
// type) avoids a dependency from translator -> signature for callers that
// only ever pass the real cache in.
type sigSaver interface {
	SaveImage(requestID, toolCallID, sig, reasoning, model string, isImageKey bool)
}

// signatureKeyPrefixBytes bounds the synthetic cache key derived from an
// image part's base64 payload, mirroring the inline-data signature key the
// stream writer uses for the same purpose.
const signatureKeyPrefixBytes = 50

// BuildChatCompletion assembles a non-streamed chat.completion response from
// the upstream's parsed candidates, replaying the same accumulation and
// signature-binding rules the streaming writer applies incrementally: a
// Claude-thinking model's thought signature binds to the tool call that
// immediately follows it, everything else saves its own part signature
// directly.
func BuildChatCompletion(requestID, model string, candidates []upstreamresp.Candidate, usage *stream.Usage, cache sigSaver) []byte {
	choice := map[string]any{
		"index": 0,
		"message": map[string]any{
			"role":    "assistant",
			"content": "",
		},
		"finish_reason": "stop",
	}
	out := map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{choice},
	}
	if usage != nil {
		out["usage"] = map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		}
	}
	if len(candidates) == 0 {
		b, _ := json.Marshal(out)
		return b
	}

	isClaudeThinking := modelid.IsClaudeThinking(model)

	var content, reasoning strings.Builder
	var toolCalls []map[string]any
	var pendingSig, pendingReasoning string

	flushReasoning := func() string {
		r := pendingReasoning
		pendingReasoning = ""
		return r
	}

	for _, p := range candidates[0].Parts {
		switch p.Kind {
		case stream.PartThoughtDelta:
			reasoning.WriteString(p.TextDelta)
			pendingReasoning += p.TextDelta
			if isClaudeThinking && p.Signature != "" {
				pendingSig = p.Signature
			}
		case stream.PartSignature:
			if isClaudeThinking && p.Signature != "" {
				pendingSig = p.Signature
			}
		case stream.PartTextDelta:
			content.WriteString(p.TextDelta)
		case stream.PartInlineData:
			if p.Signature != "" && cache != nil {
				cache.SaveImage(requestID, imageSignatureKey(p.DataBase64), p.Signature, flushReasoning(), model, true)
			}
			content.WriteString(fmt.Sprintf("![image](data:%s;base64,%s)", p.MimeType, p.DataBase64))
		case stream.PartFunctionCall:
			toolCallID := p.CallID
			if toolCallID == "" {
				toolCallID = "call_" + uuid.NewString()
			}

			saved := false
			if isClaudeThinking {
				if pendingSig != "" {
					if cache != nil {
						cache.SaveImage(requestID, toolCallID, pendingSig, flushReasoning(), model, false)
					}
					pendingSig = ""
					saved = true
				} else if p.Signature != "" {
					if cache != nil {
						cache.SaveImage(requestID, toolCallID, p.Signature, flushReasoning(), model, false)
					}
					saved = true
				}
			} else if p.Signature != "" {
				if cache != nil {
					cache.SaveImage(requestID, toolCallID, p.Signature, flushReasoning(), model, false)
				}
				saved = true
			}
			if saved {
				pendingReasoning = ""
			}

			args := p.ArgsJSON
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   toolCallID,
				"type": "function",
				"function": map[string]any{
					"name":      p.CallName,
					"arguments": args,
				},
			})
		}
	}

	message := map[string]any{"role": "assistant", "content": content.String()}
	if reasoning.Len() > 0 {
		message["reasoning_content"] = reasoning.String()
	}
	finish := "stop"
	if len(toolCalls) > 0 {
		finish = "tool_calls"
		message["tool_calls"] = toolCalls
	}
	choice["message"] = message
	choice["finish_reason"] = finish

	b, _ := json.Marshal(out)
	return b
}

func imageSignatureKey(dataBase64 string) string {
	if len(dataBase64) <= signatureKeyPrefixBytes {
		return dataBase64
	}
	return dataBase64[:signatureKeyPrefixBytes]
}

// ModelItem is one entry in the OpenAI-compatible /v1/models listing.
type ModelItem struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// BuildModelsResponse renders the sorted, de-duplicated set of canonical
// model ids (including any virtual ids the caller has already folded in) as
// an OpenAI-compatible models list.
func BuildModelsResponse(ids []string) []byte {
	items := make([]ModelItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, ModelItem{
			ID:      id,
			Object:  "model",
			OwnedBy: ownedBy(id),
		})
	}
	out := map[string]any{
		"object": "list",
		"data":   items,
	}
	b, _ := json.Marshal(out)
	return b
}

func ownedBy(id string) string {
	lower := strings.ToLower(id)
	switch {
	case strings.HasPrefix(lower, "claude-"):
		return "anthropic"
	case strings.HasPrefix(lower, "gpt-"):
		return "openai"
	default:
		return "google"
	}
}
