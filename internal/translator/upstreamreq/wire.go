package upstreamreq

import "encoding/json"

// requestType and userAgent are fixed per the upstream's agent surface; every
// request identifies itself the same way regardless of dialect.
const (
	wireRequestType = "agent"
	wireUserAgent   = "antigravity"
)

// Marshal serialises a Request into the upstream's wire JSON shape. It
// builds a plain map tree rather than a strict DTO (§9 design note: dynamic
// JSON stays untyped at this boundary), which also gives deterministic
// alphabetical key ordering for free via encoding/json's map handling.
func Marshal(req *Request) ([]byte, error) {
	inner := map[string]any{
		"contents":  marshalContents(req.Contents),
		"sessionId": req.SessionID,
	}
	if req.SystemInstruction != nil {
		inner["systemInstruction"] = marshalSystemInstruction(*req.SystemInstruction)
	}
	inner["generationConfig"] = marshalGenerationConfig(req.GenerationConfig)
	if len(req.Tools) > 0 {
		inner["tools"] = marshalTools(req.Tools)
		inner["toolConfig"] = map[string]any{
			"functionCallingConfig": map[string]any{"mode": "AUTO"},
		}
	}

	out := map[string]any{
		"project":     req.ProjectID,
		"model":       req.BackendModelID,
		"requestId":   req.RequestID,
		"requestType": wireRequestType,
		"userAgent":   wireUserAgent,
		"request":     inner,
	}
	return json.Marshal(out)
}

func marshalContents(contents []Content) []map[string]any {
	out := make([]map[string]any, 0, len(contents))
	for _, c := range contents {
		out = append(out, map[string]any{
			"role":  c.Role,
			"parts": marshalParts(c.Parts),
		})
	}
	return out
}

func marshalSystemInstruction(c Content) map[string]any {
	return map[string]any{
		"role":  c.Role,
		"parts": marshalParts(c.Parts),
	}
}

func marshalParts(parts []Part) []map[string]any {
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, marshalPart(p))
	}
	return out
}

func marshalPart(p Part) map[string]any {
	m := map[string]any{}
	switch p.Kind {
	case PartThought:
		if p.Text != "" {
			m["text"] = p.Text
		}
		m["thought"] = true
		if p.Signature != "" {
			m["thoughtSignature"] = p.Signature
		}
	case PartFunctionCall:
		args := p.Args
		if args == nil {
			args = map[string]any{}
		}
		fc := map[string]any{"name": p.CallName, "args": args}
		if p.CallID != "" {
			fc["id"] = p.CallID
		}
		m["functionCall"] = fc
		if p.Signature != "" {
			m["thoughtSignature"] = p.Signature
		}
	case PartFunctionResponse:
		resp := p.ResponseResponse
		if resp == nil {
			resp = map[string]any{}
		}
		fr := map[string]any{"name": p.ResponseName, "response": resp}
		if p.ResponseID != "" {
			fr["id"] = p.ResponseID
		}
		m["functionResponse"] = fr
	case PartInlineData:
		m["inlineData"] = map[string]any{"mimeType": p.MimeType, "data": p.DataBase64}
		if p.Signature != "" {
			m["thoughtSignature"] = p.Signature
		}
	default: // PartText
		m["text"] = p.Text
	}
	return m
}

func marshalGenerationConfig(cfg GenerationConfig) map[string]any {
	out := map[string]any{}
	if cfg.MaxOutputTokens > 0 {
		out["maxOutputTokens"] = cfg.MaxOutputTokens
	}
	if cfg.Temperature != nil {
		out["temperature"] = *cfg.Temperature
	}
	if cfg.TopP != nil {
		out["topP"] = *cfg.TopP
	}
	if len(cfg.StopSequences) > 0 {
		out["stopSequences"] = cfg.StopSequences
	}
	if cfg.ThinkingConfig != nil {
		tc := map[string]any{
			"includeThoughts": cfg.ThinkingConfig.IncludeThoughts,
			// thinkingLevel is never set by this gateway, so thinkingBudget is
			// always emitted (mirrors the reference encoder's compatibility
			// fallback for that case).
			"thinkingBudget": cfg.ThinkingConfig.ThinkingBudget,
		}
		out["thinkingConfig"] = tc
	}
	if cfg.ImageConfig != nil && cfg.ImageConfig.Size != "" {
		out["imageConfig"] = map[string]any{"imageSize": cfg.ImageConfig.Size}
	}
	if cfg.MediaResolution != "" {
		out["mediaResolution"] = cfg.MediaResolution
	}
	return out
}

func marshalTools(tools []Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		decls := make([]map[string]any, 0, len(t.FunctionDeclarations))
		for _, d := range t.FunctionDeclarations {
			decl := map[string]any{"name": d.Name}
			if d.Description != "" {
				decl["description"] = d.Description
			}
			if len(d.Parameters) > 0 {
				decl["parameters"] = d.Parameters
			}
			decls = append(decls, decl)
		}
		out = append(out, map[string]any{"functionDeclarations": decls})
	}
	return out
}
