// Package openai translates OpenAI-style chat-completions requests into the
// dialect-agnostic upstream Request (§4.6, dialect A).
package openai

import (
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/arcrelay/cagateway/internal/translator/common"
	"github.com/arcrelay/cagateway/internal/translator/schema"
	"github.com/arcrelay/cagateway/internal/translator/upstreamreq"
)

// Translate builds an upstream Request from a raw chat-completions JSON
// body. cache may be nil.
func Translate(rawJSON []byte, cache sigCache) *upstreamreq.Request {
	body := gjson.ParseBytes(rawJSON)

	canonical := modelid.Canonical(body.Get("model").String())
	backend := modelid.ResolveBackend(canonical)
	isClaudeThinking := modelid.IsClaudeFamily(canonical)
	isGemini := modelid.IsGeminiFamily(canonical)

	messagesJSON := []byte(body.Get("messages").Raw)
	repaired := repairToolOnlyAssistantMessages(messagesJSON, cache)

	contents := buildContents(repaired, isClaudeThinking, isGemini, cache)
	contents = common.SanitizeContents(contents)

	req := &upstreamreq.Request{
		BackendModelID: backend.ModelID,
		RequestID:      uuid.NewString(),
		Contents:       contents,
		Tools:          buildTools(body.Get("tools")),
	}

	system := systemInstructionFromMessages(gjson.ParseBytes(repaired))
	req.SystemInstruction = common.InjectAgentSystemPrompt(canonical, system)

	hint := thinkingHintFromOpenAI(body)
	var maxTokens int
	if v := body.Get("max_tokens"); v.Exists() {
		maxTokens = int(v.Int())
	} else if v := body.Get("max_completion_tokens"); v.Exists() {
		maxTokens = int(v.Int())
	}
	var temperature, topP *float64
	if v := body.Get("temperature"); v.Exists() {
		f := v.Float()
		temperature = &f
	}
	if v := body.Get("top_p"); v.Exists() {
		f := v.Float()
		topP = &f
	}
	// stop_sequences is deliberately not forwarded to generation_config for
	// this dialect; preserved from the reference behaviour (see DESIGN.md).
	req.GenerationConfig = common.BuildGenerationConfig(canonical, backend, hint, maxTokens, temperature, topP, nil)

	return req
}

func systemInstructionFromMessages(messages gjson.Result) *upstreamreq.Content {
	var parts []upstreamreq.Part
	messages.ForEach(func(_, m gjson.Result) bool {
		if m.Get("role").String() != "system" {
			return true
		}
		if t := extractTextFromContent(m.Get("content"), "\n"); t != "" {
			parts = append(parts, upstreamreq.Part{Kind: upstreamreq.PartText, Text: t})
		}
		return true
	})
	if len(parts) == 0 {
		return nil
	}
	return &upstreamreq.Content{Role: "user", Parts: parts}
}

func thinkingHintFromOpenAI(body gjson.Result) common.ThinkingHint {
	if effort := body.Get("reasoning_effort"); effort.Exists() && effort.String() != "" {
		return common.ThinkingHint{Present: true, Effort: effort.String()}
	}
	if budget := body.Get("thinking_budget"); budget.Exists() {
		if n := int(budget.Int()); n > 0 {
			return common.ThinkingHint{Present: true, Budget: n}
		}
	}
	return common.ThinkingHint{}
}

func buildTools(toolsJSON gjson.Result) []upstreamreq.Tool {
	if !toolsJSON.IsArray() {
		return nil
	}
	var decls []upstreamreq.FunctionDeclaration
	for _, t := range toolsJSON.Array() {
		fn := t.Get("function")
		name := fn.Get("name").String()
		if name == "" {
			continue
		}
		decls = append(decls, upstreamreq.FunctionDeclaration{
			Name:        name,
			Description: fn.Get("description").String(),
			Parameters:  schema.Sanitize([]byte(fn.Get("parameters").Raw)),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []upstreamreq.Tool{{FunctionDeclarations: decls}}
}
