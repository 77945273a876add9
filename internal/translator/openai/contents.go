package openai

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/arcrelay/cagateway/internal/translator/upstreamreq"
)

const (
	markdownImagePrefix = "![image](data:"
	markdownBase64Mark  = ";base64,"
	missingThoughtText  = "[missing thought text]"
	signatureKeyBytes   = 50
)

// buildContents translates the chat-completions request body's (already
// tool-only-repaired) "messages" array into upstream Contents, per §4.6.1
// dialect A.
func buildContents(messagesJSON []byte, isClaudeThinking, isGemini bool, cache sigCache) []upstreamreq.Content {
	var out []upstreamreq.Content
	gjson.ParseBytes(messagesJSON).ForEach(func(_, m gjson.Result) bool {
		switch m.Get("role").String() {
		case "system":
			// handled separately as system_instruction
		case "user":
			parts := extractUserParts(m.Get("content"), cache)
			out = append(out, upstreamreq.Content{Role: "user", Parts: parts})
		case "assistant":
			parts := extractAssistantParts(m, isClaudeThinking, isGemini, cache)
			if len(parts) > 0 {
				out = append(out, upstreamreq.Content{Role: "model", Parts: parts})
			}
		case "tool":
			funcName := findFunctionName(out, m.Get("tool_call_id").String())
			output := extractTextFromContent(m.Get("content"), "\n")
			part := upstreamreq.Part{
				Kind: upstreamreq.PartFunctionResponse, ResponseID: m.Get("tool_call_id").String(),
				ResponseName: funcName, ResponseResponse: map[string]any{"output": output},
			}
			out = appendFunctionResponse(out, part)
		}
		return true
	})
	return out
}

func extractUserParts(content gjson.Result, cache sigCache) []upstreamreq.Part {
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
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			if t := block.Get("text").String(); t != "" {
				out = append(out, upstreamreq.Part{Kind: upstreamreq.PartText, Text: t})
			}
		case "image_url":
			url := block.Get("image_url.url").String()
			if inline, ok := inlineDataFromDataURL(url); ok {
				out = append(out, inline)
			}
		}
	}
	return out
}

func extractAssistantParts(m gjson.Result, isClaudeThinking, isGemini bool, cache sigCache) []upstreamreq.Part {
	var parts []upstreamreq.Part

	thinkingText := strings.TrimSpace(m.Get("reasoning").String())
	if thinkingText == "" {
		thinkingText = strings.TrimSpace(m.Get("reasoning_content").String())
	}

	toolCalls := m.Get("tool_calls").Array()
	var firstToolSig, firstToolReasoning string
	if len(toolCalls) > 0 && cache != nil {
		if e, ok := cache.LookupByToolCallID(strings.TrimSpace(toolCalls[0].Get("id").String())); ok {
			firstToolSig = strings.TrimSpace(e.Signature)
			firstToolReasoning = e.Reasoning
		}
	}

	if isClaudeThinking {
		injectedText := thinkingText
		if injectedText == "" {
			injectedText = strings.TrimSpace(firstToolReasoning)
		}
		if firstToolSig != "" && injectedText == "" && len(toolCalls) > 0 {
			injectedText = missingThoughtText
		}
		if firstToolSig != "" && injectedText != "" {
			parts = append(parts, upstreamreq.Part{Kind: upstreamreq.PartThought, Text: injectedText, Signature: firstToolSig})
		}
	} else if thinkingText != "" {
		parts = append(parts, upstreamreq.Part{Kind: upstreamreq.PartThought, Text: thinkingText})
	}

	text := extractTextFromContent(m.Get("content"), "\n")
	if text != "" {
		parts = append(parts, splitMarkdownImages(text, cache)...)
	}

	for i, tc := range toolCalls {
		id := strings.TrimSpace(tc.Get("id").String())
		name := tc.Get("function.name").String()
		args := parseArgsJSON(tc.Get("function.arguments").String())

		var sig string
		if isGemini && cache != nil {
			if e, ok := cache.LookupByToolCallID(id); ok {
				sig = strings.TrimSpace(e.Signature)
			}
			if i != 0 {
				sig = ""
			}
		}
		parts = append(parts, upstreamreq.Part{Kind: upstreamreq.PartFunctionCall, CallID: id, CallName: name, Args: args, Signature: sig})
	}

	return parts
}

func splitMarkdownImages(text string, cache sigCache) []upstreamreq.Part {
	matches := findMarkdownImageMatches(text)
	if len(matches) == 0 {
		return []upstreamreq.Part{{Kind: upstreamreq.PartText, Text: text}}
	}
	var out []upstreamreq.Part
	last := 0
	for _, m := range matches {
		if m.start > last {
			if seg := text[last:m.start]; seg != "" {
				out = append(out, upstreamreq.Part{Kind: upstreamreq.PartText, Text: seg})
			}
		}
		sig := imageSignature(m.data, cache)
		out = append(out, upstreamreq.Part{Kind: upstreamreq.PartInlineData, MimeType: m.mimeType, DataBase64: m.data, Signature: sig})
		last = m.end
	}
	if last < len(text) {
		if seg := text[last:]; seg != "" {
			out = append(out, upstreamreq.Part{Kind: upstreamreq.PartText, Text: seg})
		}
	}
	return out
}

func imageSignature(base64Data string, cache sigCache) string {
	if cache == nil {
		return ""
	}
	key := base64Data
	if len(key) > signatureKeyBytes {
		key = key[:signatureKeyBytes]
	}
	if key == "" {
		return ""
	}
	if e, ok := cache.LookupByToolCallID(key); ok {
		return e.Signature
	}
	return ""
}

type markdownImageMatch struct {
	mimeType   string
	data       string
	start, end int
}

func findMarkdownImageMatches(content string) []markdownImageMatch {
	var out []markdownImageMatch
	i := 0
	for {
		pos := strings.Index(content[i:], markdownImagePrefix)
		if pos < 0 {
			break
		}
		start := i + pos
		j := start + len(markdownImagePrefix)
		markRel := strings.Index(content[j:], markdownBase64Mark)
		if markRel < 0 {
			break
		}
		mark := j + markRel
		mimeType := content[j:mark]
		if mimeType == "" {
			i = mark
			continue
		}
		j = mark + len(markdownBase64Mark)
		endRel := strings.Index(content[j:], ")")
		if endRel < 0 {
			break
		}
		end := j + endRel + 1
		data := content[j : end-1]
		if data == "" {
			i = end
			continue
		}
		out = append(out, markdownImageMatch{mimeType: mimeType, data: data, start: start, end: end})
		i = end
	}
	return out
}

func inlineDataFromDataURL(url string) (upstreamreq.Part, bool) {
	const dataPrefix = "data:"
	if !strings.HasPrefix(url, dataPrefix) || !strings.HasPrefix(url, "data:image/") {
		return upstreamreq.Part{}, false
	}
	marker := strings.Index(url, markdownBase64Mark)
	if marker < len(dataPrefix) {
		return upstreamreq.Part{}, false
	}
	mimeType := url[len(dataPrefix):marker]
	data := url[marker+len(markdownBase64Mark):]
	if mimeType == "" || data == "" {
		return upstreamreq.Part{}, false
	}
	return upstreamreq.Part{Kind: upstreamreq.PartInlineData, MimeType: mimeType, DataBase64: data}, true
}

func appendFunctionResponse(contents []upstreamreq.Content, part upstreamreq.Part) []upstreamreq.Content {
	if len(contents) > 0 {
		last := &contents[len(contents)-1]
		if last.Role == "model" {
			return append(contents, upstreamreq.Content{Role: "user", Parts: []upstreamreq.Part{part}})
		}
		if last.Role == "user" {
			last.Parts = append(last.Parts, part)
			return contents
		}
	}
	return append(contents, upstreamreq.Content{Role: "user", Parts: []upstreamreq.Part{part}})
}

func findFunctionName(contents []upstreamreq.Content, toolCallID string) string {
	for i := len(contents) - 1; i >= 0; i-- {
		for _, p := range contents[i].Parts {
			if p.Kind == upstreamreq.PartFunctionCall && p.CallID == toolCallID {
				return p.CallName
			}
		}
	}
	return ""
}

func extractTextFromContent(content gjson.Result, sep string) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var parts []string
		for _, block := range content.Array() {
			if block.Get("type").String() == "text" {
				parts = append(parts, block.Get("text").String())
			}
		}
		return strings.Join(parts, sep)
	}
	return ""
}

func parseArgsJSON(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	gjson.Parse(raw).ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.Value()
		return true
	})
	return out
}
