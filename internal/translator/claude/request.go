// Package claude translates Anthropic messages-API requests into the
// dialect-agnostic upstream Request (§4.6, dialect B).
package claude

import (
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/arcrelay/cagateway/internal/translator/common"
	"github.com/arcrelay/cagateway/internal/translator/schema"
	"github.com/arcrelay/cagateway/internal/translator/upstreamreq"
)

// Translate builds an upstream Request from a raw messages-API JSON body.
// cache may be nil (signature repair/merge is then skipped, which is always
// safe — it only ever suppresses data, never fabricates it).
func Translate(rawJSON []byte, cache sigCache) *upstreamreq.Request {
	body := gjson.ParseBytes(rawJSON)

	canonical := modelid.Canonical(body.Get("model").String())
	backend := modelid.ResolveBackend(canonical)
	isClaudeModel := modelid.IsClaudeFamily(canonical)

	requestID := uuid.NewString()

	contents := buildContents(requestID, body.Get("messages"), isClaudeModel, cache)
	contents = common.SanitizeContents(contents)

	req := &upstreamreq.Request{
		BackendModelID: backend.ModelID,
		RequestID:      requestID,
		Contents:       contents,
		Tools:          buildTools(body.Get("tools")),
	}

	var system *upstreamreq.Content
	if sys := body.Get("system"); sys.Exists() {
		system = systemInstructionFromClaude(sys)
	}
	req.SystemInstruction = common.InjectAgentSystemPrompt(canonical, system)

	hint := thinkingHintFromClaude(body)
	var maxTokens int
	if v := body.Get("max_tokens"); v.Exists() {
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
	var stop []string
	if v := body.Get("stop_sequences"); v.IsArray() {
		for _, s := range v.Array() {
			stop = append(stop, s.String())
		}
	}
	req.GenerationConfig = common.BuildGenerationConfig(canonical, backend, hint, maxTokens, temperature, topP, stop)

	return req
}

func systemInstructionFromClaude(sys gjson.Result) *upstreamreq.Content {
	if sys.Type == gjson.String {
		if s := sys.String(); s != "" {
			return &upstreamreq.Content{Role: "user", Parts: []upstreamreq.Part{{Kind: upstreamreq.PartText, Text: s}}}
		}
		return nil
	}
	if sys.IsArray() {
		var parts []upstreamreq.Part
		for _, block := range sys.Array() {
			if t := block.Get("text").String(); t != "" {
				parts = append(parts, upstreamreq.Part{Kind: upstreamreq.PartText, Text: t})
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return &upstreamreq.Content{Role: "user", Parts: parts}
	}
	return nil
}

func thinkingHintFromClaude(body gjson.Result) common.ThinkingHint {
	thinking := body.Get("thinking")
	if !thinking.Exists() {
		return common.ThinkingHint{}
	}
	typ := thinking.Get("type").String()
	if typ != "enabled" {
		return common.ThinkingHint{}
	}
	budget := int(thinking.Get("budget_tokens").Int())
	return common.ThinkingHint{Present: true, Budget: budget}
}

func buildTools(toolsJSON gjson.Result) []upstreamreq.Tool {
	if !toolsJSON.IsArray() {
		return nil
	}
	var decls []upstreamreq.FunctionDeclaration
	for _, t := range toolsJSON.Array() {
		name := t.Get("name").String()
		if name == "" {
			continue
		}
		params := schema.Sanitize([]byte(t.Get("input_schema").Raw))
		decls = append(decls, upstreamreq.FunctionDeclaration{
			Name:        name,
			Description: t.Get("description").String(),
			Parameters:  params,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []upstreamreq.Tool{{FunctionDeclarations: decls}}
}
