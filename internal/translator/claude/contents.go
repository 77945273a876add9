package claude

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/arcrelay/cagateway/internal/signature"
	"github.com/arcrelay/cagateway/internal/translator/upstreamreq"
)

const missingThoughtPlaceholder = "[missing thought text]"

// sigCache is the subset of *signature.Cache the translator needs; keeping
// it as a small interface avoids the translator package depending on the
// disk-backed cache's concrete type.
type sigCache interface {
	Lookup(requestID, toolCallID string) (signature.Entry, bool)
	LookupByToolCallID(toolCallID string) (signature.Entry, bool)
}

// buildContents translates the messages-API request body's top-level
// "messages" array into upstream Contents, per §4.6.1.
func buildContents(requestID string, messagesJSON gjson.Result, isClaudeModel bool, cache sigCache) []upstreamreq.Content {
	var out []upstreamreq.Content
	messagesJSON.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := msg.Get("content")

		switch role {
		case "assistant":
			parts := extractContentParts(requestID, content, out, isClaudeModel, cache)
			if len(parts) > 0 {
				out = append(out, upstreamreq.Content{Role: "model", Parts: parts})
			}
		case "user":
			parts := extractContentParts(requestID, content, out, isClaudeModel, cache)
			if len(parts) > 0 {
				out = appendToLastUserOrNew(out, parts)
			}
		}
		return true
	})
	return out
}

// appendToLastUserOrNew appends FunctionResponse-only parts to the previous
// content if it is already a user turn (tool results following tool_use in
// the same logical turn), otherwise starts a new user content.
func appendToLastUserOrNew(contents []upstreamreq.Content, parts []upstreamreq.Part) []upstreamreq.Content {
	allResponses := true
	for _, p := range parts {
		if p.Kind != upstreamreq.PartFunctionResponse {
			allResponses = false
			break
		}
	}
	if allResponses && len(contents) > 0 && contents[len(contents)-1].Role == "user" {
		last := &contents[len(contents)-1]
		last.Parts = append(last.Parts, parts...)
		return contents
	}
	return append(contents, upstreamreq.Content{Role: "user", Parts: parts})
}

func extractContentParts(requestID string, content gjson.Result, contentsSoFar []upstreamreq.Content, isClaudeModel bool, cache sigCache) []upstreamreq.Part {
	var out []upstreamreq.Part

	if content.Type == gjson.String {
		if s := content.String(); s != "" {
			out = append(out, upstreamreq.Part{Kind: upstreamreq.PartText, Text: s})
		}
		return out
	}
	if !content.IsArray() {
		return out
	}

	blocks := content.Array()
	for i, block := range blocks {
		switch block.Get("type").String() {
		case "text":
			if t := block.Get("text").String(); t != "" {
				out = append(out, upstreamreq.Part{Kind: upstreamreq.PartText, Text: t})
			}

		case "thinking":
			thinking := block.Get("thinking").String()
			sig := strings.TrimSpace(block.Get("signature").String())
			if isClaudeModel {
				sig = recoverSignature(requestID, sig, lookaheadToolUseID(blocks, i+1), cache)
				if sig == "" {
					continue
				}
				if strings.TrimSpace(thinking) == "" {
					thinking = missingThoughtPlaceholder
				}
				out = append(out, upstreamreq.Part{Kind: upstreamreq.PartThought, Text: thinking, Signature: sig})
				continue
			}
			if thinking != "" {
				out = append(out, upstreamreq.Part{Kind: upstreamreq.PartThought, Text: thinking})
			}

		case "redacted_thinking":
			data := strings.TrimSpace(block.Get("data").String())
			if isClaudeModel {
				data = recoverSignature(requestID, data, lookaheadToolUseID(blocks, i+1), cache)
				if data == "" {
					continue
				}
				out = append(out, upstreamreq.Part{Kind: upstreamreq.PartThought, Text: "", Signature: data})
				continue
			}
			out = append(out, upstreamreq.Part{Kind: upstreamreq.PartThought, Text: ""})

		case "tool_use":
			toolCallID := strings.TrimSpace(block.Get("id").String())
			if toolCallID == "" {
				toolCallID = uuid.NewString()
			}
			name := block.Get("name").String()
			args := jsonObjectToMap(block.Get("input"))

			var sig string
			if !isClaudeModel {
				if cache != nil {
					if e, ok := cache.LookupByToolCallID(toolCallID); ok {
						sig = strings.TrimSpace(e.Signature)
					}
				}
			}
			out = append(out, upstreamreq.Part{
				Kind: upstreamreq.PartFunctionCall, CallID: toolCallID, CallName: name, Args: args,
				Signature: sig,
			})

		case "tool_result":
			toolUseID := strings.TrimSpace(block.Get("tool_use_id").String())
			if toolUseID == "" {
				continue
			}
			funcName := strings.TrimSpace(findFunctionName(contentsSoFar, toolUseID))
			if funcName == "" {
				continue
			}
			output := extractTextFromContent(block.Get("content"))
			out = append(out, upstreamreq.Part{
				Kind: upstreamreq.PartFunctionResponse, ResponseID: toolUseID, ResponseName: funcName,
				ResponseResponse: map[string]any{"output": output},
			})
		}
	}
	return out
}

func recoverSignature(requestID, sig, toolUseID string, cache sigCache) string {
	if cache == nil || toolUseID == "" {
		return sig
	}
	if sig == "" {
		if e, ok := cache.LookupByToolCallID(toolUseID); ok {
			return strings.TrimSpace(e.Signature)
		}
		return sig
	}
	if len(sig) <= 50 {
		// sig is a truncated stub the client echoed back; only trust a cache
		// hit whose full signature actually starts with that stub, since a
		// tool_use_id can be replayed across turns against a different
		// signature and a stale/unrelated entry must not be substituted in.
		if e, ok := cache.LookupByToolCallID(toolUseID); ok {
			if full := strings.TrimSpace(e.Signature); strings.HasPrefix(full, sig) {
				return full
			}
		}
	}
	return sig
}

func lookaheadToolUseID(blocks []gjson.Result, start int) string {
	for i := start; i < len(blocks); i++ {
		if blocks[i].Get("type").String() == "tool_use" {
			return strings.TrimSpace(blocks[i].Get("id").String())
		}
	}
	return ""
}

func findFunctionName(contents []upstreamreq.Content, toolUseID string) string {
	for i := len(contents) - 1; i >= 0; i-- {
		for _, p := range contents[i].Parts {
			if p.Kind == upstreamreq.PartFunctionCall && p.CallID == toolUseID {
				return p.CallName
			}
		}
	}
	return ""
}

func extractTextFromContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var sb strings.Builder
		for _, block := range content.Array() {
			if block.Get("type").String() == "text" {
				sb.WriteString(block.Get("text").String())
			}
		}
		return sb.String()
	}
	return ""
}

func jsonObjectToMap(v gjson.Result) map[string]any {
	out := map[string]any{}
	if !v.IsObject() {
		return out
	}
	v.ForEach(func(k, val gjson.Result) bool {
		out[k.String()] = val.Value()
		return true
	})
	return out
}
