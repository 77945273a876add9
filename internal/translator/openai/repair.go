package openai

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/arcrelay/cagateway/internal/signature"
)

// sigCache mirrors claude.sigCache so this package does not import claude.
type sigCache interface {
	Lookup(requestID, toolCallID string) (signature.Entry, bool)
	LookupByToolCallID(toolCallID string) (signature.Entry, bool)
}

// repairToolOnlyAssistantMessages implements the §4.6.1 dialect-A repair: a
// tool-only assistant message (no text, no reasoning, only tool_calls)
// immediately followed by a tool message, where the cache has no signature
// for that tool_call id, is merged into the nearest prior assistant turn
// whose first tool-call has a cached signature. Operates on the raw
// "messages" array and returns the repaired array's JSON.
func repairToolOnlyAssistantMessages(messagesJSON []byte, cache sigCache) []byte {
	msgs := gjson.ParseBytes(messagesJSON).Array()
	raws := make([]string, len(msgs))
	for i, m := range msgs {
		raws[i] = m.Raw
	}

	i := 0
	for i < len(raws) {
		cur := gjson.Parse(raws[i])
		if !isToolOnlyAssistantMessage(cur) {
			i++
			continue
		}
		if i+1 >= len(raws) || gjson.Parse(raws[i+1]).Get("role").String() != "tool" {
			i++
			continue
		}
		if hasSignatureForFirstToolCall(cur, cache) {
			i++
			continue
		}

		anchor := -1
		for j := i - 1; j >= 0; j-- {
			m := gjson.Parse(raws[j])
			if m.Get("role").String() != "assistant" || !m.Get("tool_calls").IsArray() || len(m.Get("tool_calls").Array()) == 0 {
				continue
			}
			if hasSignatureForFirstToolCall(m, cache) {
				anchor = j
				break
			}
		}
		if anchor < 0 {
			i++
			continue
		}

		anchorCalls := gjson.Parse(raws[anchor]).Get("tool_calls").Raw
		curCalls := cur.Get("tool_calls")
		merged, err := mergeToolCallsArrays(anchorCalls, curCalls)
		if err == nil {
			if set, err := sjson.SetRaw(raws[anchor], "tool_calls", merged); err == nil {
				raws[anchor] = set
			}
		}
		raws = append(raws[:i], raws[i+1:]...)
	}

	out := "[]"
	for _, r := range raws {
		out, _ = sjson.SetRaw(out, "-1", r)
	}
	return []byte(out)
}

func isToolOnlyAssistantMessage(m gjson.Result) bool {
	if m.Get("role").String() != "assistant" {
		return false
	}
	toolCalls := m.Get("tool_calls")
	if !toolCalls.IsArray() || len(toolCalls.Array()) == 0 {
		return false
	}
	if strings.TrimSpace(m.Get("reasoning").String()) != "" {
		return false
	}
	if strings.TrimSpace(m.Get("reasoning_content").String()) != "" {
		return false
	}
	content := m.Get("content")
	if content.Type == gjson.String {
		return strings.TrimSpace(content.String()) == ""
	}
	if content.IsArray() {
		var sb strings.Builder
		for _, block := range content.Array() {
			sb.WriteString(block.Get("text").String())
		}
		return strings.TrimSpace(sb.String()) == ""
	}
	return true
}

func hasSignatureForFirstToolCall(m gjson.Result, cache sigCache) bool {
	if cache == nil {
		return false
	}
	calls := m.Get("tool_calls")
	if !calls.IsArray() || len(calls.Array()) == 0 {
		return false
	}
	id := strings.TrimSpace(calls.Array()[0].Get("id").String())
	if id == "" {
		return false
	}
	_, ok := cache.LookupByToolCallID(id)
	return ok
}

func mergeToolCallsArrays(anchorRaw string, incoming gjson.Result) (string, error) {
	merged := anchorRaw
	for _, tc := range incoming.Array() {
		next, err := sjson.SetRaw(merged, "-1", tc.Raw)
		if err != nil {
			return "", err
		}
		merged = next
	}
	return merged, nil
}
