// Package modelid resolves client-facing model identifiers into canonical
// and backend-facing forms, and groups them into the quota pool's closed set
// of group keys.
package modelid

import "strings"

// Canonical strips the "models/" prefix and surrounding whitespace the way
// the upstream dialects both tolerate.
func Canonical(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "models/")
	return id
}

// Backend describes the result of translating a canonical model id into the
// concrete identifier and generation hints the upstream backend expects.
type Backend struct {
	ModelID            string
	ForcedThinkingHigh bool
	ThinkingBudget      int
	ImageSize          string // "1k", "2k", "4k" or ""
}

// ResolveBackend applies the virtual-model translation table from the
// glossary: synthetic ids injected into /v1/models fan back out into a real
// backend model id plus forced generation hints.
func ResolveBackend(canonical string) Backend {
	lower := strings.ToLower(canonical)
	switch {
	case lower == "gemini-3-flash-thinking":
		return Backend{ModelID: "gemini-3-flash", ForcedThinkingHigh: true}
	case lower == "gemini-3-pro-image-1k":
		return Backend{ModelID: "gemini-3-pro-image", ImageSize: "1k"}
	case lower == "gemini-3-pro-image-2k":
		return Backend{ModelID: "gemini-3-pro-image", ImageSize: "2k"}
	case lower == "gemini-3-pro-image-4k":
		return Backend{ModelID: "gemini-3-pro-image", ImageSize: "4k"}
	case lower == "claude-opus-4-5":
		return Backend{ModelID: "claude-opus-4-5-thinking", ThinkingBudget: 0}
	default:
		return Backend{ModelID: canonical}
	}
}

// VirtualModels lists the synthetic ids that should be injected into
// /v1/models whenever their base model is present in the upstream listing.
// base -> virtual id.
var VirtualModels = []struct {
	Base    string
	Virtual string
}{
	{Base: "gemini-3-flash", Virtual: "gemini-3-flash-thinking"},
	{Base: "gemini-3-pro-image", Virtual: "gemini-3-pro-image-1k"},
	{Base: "gemini-3-pro-image", Virtual: "gemini-3-pro-image-2k"},
	{Base: "gemini-3-pro-image", Virtual: "gemini-3-pro-image-4k"},
	{Base: "claude-opus-4-5-thinking", Virtual: "claude-opus-4-5"},
}

// IsClaudeFamily reports whether the canonical model id belongs to the
// Claude/GPT-compatible family routed through the upstream's Claude surface.
func IsClaudeFamily(canonical string) bool {
	lower := strings.ToLower(canonical)
	return strings.HasPrefix(lower, "claude-") || strings.HasPrefix(lower, "gpt-")
}

// IsClaude reports whether the canonical model id is specifically a Claude
// model (not the wider Claude/GPT routing family IsClaudeFamily covers) —
// used where a signature fallback rule applies only to Claude's own
// thinking-part signature placement.
func IsClaude(canonical string) bool {
	return strings.HasPrefix(strings.ToLower(canonical), "claude-")
}

// IsClaudeThinking reports whether the canonical model id is a Claude
// variant with thinking enabled by name (the "-thinking" / "-thinking-"
// suffix), which changes how response converters bind thought signatures to
// the tool call that follows them.
func IsClaudeThinking(canonical string) bool {
	lower := strings.ToLower(canonical)
	if !strings.HasPrefix(lower, "claude-") {
		return false
	}
	return strings.HasSuffix(lower, "-thinking") || strings.Contains(lower, "-thinking-")
}

// IsGeminiFamily reports whether the canonical model id is a Gemini model.
func IsGeminiFamily(canonical string) bool {
	return strings.HasPrefix(strings.ToLower(canonical), "gemini-")
}

// IsImageModel reports whether the canonical model id targets image
// generation/editing rather than text/tool-use.
func IsImageModel(canonical string) bool {
	return strings.Contains(strings.ToLower(canonical), "-image")
}

// IsGemini3Flash reports whether the canonical model is any Gemini 3 Flash
// variant (used to decide whether the agent system prompt is injected).
func IsGemini3Flash(canonical string) bool {
	lower := strings.ToLower(canonical)
	return strings.HasPrefix(lower, "gemini-3-flash")
}

// GroupKey derives the quota pool group name for a canonical model id, per
// the glossary's closed set.
func GroupKey(canonical string) string {
	lower := strings.ToLower(canonical)
	switch {
	case strings.HasPrefix(lower, "claude-"), strings.HasPrefix(lower, "gpt-"):
		return "Claude/GPT"
	case strings.HasPrefix(lower, "gemini-3-pro-high"):
		return "Gemini 3 Pro"
	case strings.HasPrefix(lower, "gemini-3-flash"):
		return "Gemini 3 Flash"
	case strings.HasPrefix(lower, "gemini-3-pro-image"):
		return "Gemini 3 Pro Image"
	default:
		return "Gemini 2.5 Pro/Flash/Lite"
	}
}

// MaxOutputTokensDefault returns the family-specific default ceiling applied
// when the caller does not request thinking, per §4.6 step 4.
func MaxOutputTokensDefault(canonical string) int {
	switch {
	case IsClaudeFamily(canonical):
		return 64000
	case IsGeminiFamily(canonical):
		return 65535
	default:
		return 8192
	}
}

// ReasoningEffortBudget maps a Claude-thinking reasoning-effort hint to a
// thinking-token budget per the glossary table. Numeric strings pass through
// verbatim (parsed by the caller).
func ReasoningEffortBudget(effort string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(effort)) {
	case "low":
		return 1024, true
	case "medium":
		return 4096, true
	case "high", "max":
		return 32000, true
	default:
		return 0, false
	}
}
