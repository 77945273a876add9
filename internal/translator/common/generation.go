// Package common holds the generation-config math, system-prompt injection,
// and contents sanitisation shared by the OpenAI and Claude translators
// (§4.6 common steps).
package common

import (
	"strconv"
	"strings"

	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/arcrelay/cagateway/internal/translator/upstreamreq"
)

const (
	thinkingBudgetHeadroomTokens = 1024
	thinkingMaxOutputOverhead    = 4096
	thinkingBudgetMinTokens      = 1024
)

// AgentSystemPrompt is prepended to every non-image, non-Gemini-3-Flash
// request's system_instruction.
const AgentSystemPrompt = `You are an agentic coding assistant pair-programming with a developer to solve their task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.
- Proactiveness: take the actions required to fully resolve the user's request, including reasonable follow-up actions, without asking for confirmation on every step.`

// ThinkingHint carries the caller's explicit thinking/reasoning request,
// translated from whichever dialect's own vocabulary.
type ThinkingHint struct {
	Present bool
	// Budget is an explicit numeric token budget, when the caller gave one.
	Budget int
	// Effort is a named level ("low","medium","high","max") or a numeric
	// string passed through verbatim.
	Effort string
}

// BuildGenerationConfig applies step 4 of §4.6: family ceilings, carried-over
// sampling params, the thinking-budget/max-output-tokens coupling, and
// virtual-model-derived image hints.
func BuildGenerationConfig(canonical string, backend modelid.Backend, hint ThinkingHint, callerMaxTokens int, temperature, topP *float64, stop []string) upstreamreq.GenerationConfig {
	cfg := upstreamreq.GenerationConfig{
		Temperature:   temperature,
		TopP:          topP,
		StopSequences: stop,
	}

	switch {
	case modelid.IsClaudeFamily(canonical):
		cfg.MaxOutputTokens = 64000
	case modelid.IsGeminiFamily(canonical):
		cfg.MaxOutputTokens = 65535
	default:
		if callerMaxTokens > 0 {
			cfg.MaxOutputTokens = callerMaxTokens
		} else {
			cfg.MaxOutputTokens = 8192
		}
	}
	if callerMaxTokens > 0 && callerMaxTokens < cfg.MaxOutputTokens {
		cfg.MaxOutputTokens = callerMaxTokens
	}

	tc := resolveThinkingConfig(canonical, backend, hint)
	if tc == nil && backend.ForcedThinkingHigh {
		budget, _ := modelid.ReasoningEffortBudget("high")
		tc = &upstreamreq.ThinkingConfig{Enabled: true, ThinkingBudget: budget, IncludeThoughts: true}
	}
	cfg.ThinkingConfig = tc

	if tc != nil && tc.ThinkingBudget > 0 {
		applyThinkingBudgetCoupling(&cfg, tc)
	}

	if backend.ImageSize != "" {
		cfg.ImageConfig = &upstreamreq.ImageConfig{Size: backend.ImageSize}
	}

	return cfg
}

func resolveThinkingConfig(canonical string, backend modelid.Backend, hint ThinkingHint) *upstreamreq.ThinkingConfig {
	if backend.ThinkingBudget > 0 {
		return &upstreamreq.ThinkingConfig{Enabled: true, ThinkingBudget: backend.ThinkingBudget, IncludeThoughts: true}
	}
	if !hint.Present {
		return nil
	}
	if hint.Budget > 0 {
		return &upstreamreq.ThinkingConfig{Enabled: true, ThinkingBudget: hint.Budget, IncludeThoughts: true}
	}
	if hint.Effort == "" {
		return &upstreamreq.ThinkingConfig{Enabled: true, IncludeThoughts: true}
	}
	if n, err := strconv.Atoi(strings.TrimSpace(hint.Effort)); err == nil && n > 0 {
		return &upstreamreq.ThinkingConfig{Enabled: true, ThinkingBudget: n, IncludeThoughts: true}
	}
	if !modelid.IsClaudeFamily(canonical) {
		return &upstreamreq.ThinkingConfig{Enabled: true, IncludeThoughts: true}
	}
	budget, ok := modelid.ReasoningEffortBudget(hint.Effort)
	if !ok {
		return &upstreamreq.ThinkingConfig{Enabled: true, IncludeThoughts: true}
	}
	return &upstreamreq.ThinkingConfig{Enabled: true, ThinkingBudget: budget, IncludeThoughts: true}
}

// applyThinkingBudgetCoupling enforces: max_output_tokens >= thinking_budget
// + headroom(1024) + overhead(4096) when max was unset by the family/caller
// defaults path above having left it at the computed default; and clamps
// thinking_budget <= max - headroom, never below 1024.
func applyThinkingBudgetCoupling(cfg *upstreamreq.GenerationConfig, tc *upstreamreq.ThinkingConfig) {
	if cfg.MaxOutputTokens <= tc.ThinkingBudget {
		cfg.MaxOutputTokens = tc.ThinkingBudget + thinkingBudgetHeadroomTokens + thinkingMaxOutputOverhead
		return
	}
	maxBudget := cfg.MaxOutputTokens - thinkingBudgetHeadroomTokens
	if maxBudget < thinkingBudgetMinTokens {
		maxBudget = thinkingBudgetMinTokens
	}
	if tc.ThinkingBudget > maxBudget {
		tc.ThinkingBudget = maxBudget
	}
}

// InjectAgentSystemPrompt applies §4.6 step 7: skipped for image and
// Gemini-3-Flash models, otherwise prepended with a blank-line separator
// when a caller system instruction already exists.
func InjectAgentSystemPrompt(canonical string, existing *upstreamreq.Content) *upstreamreq.Content {
	if modelid.IsImageModel(canonical) || modelid.IsGemini3Flash(canonical) {
		return existing
	}
	if existing == nil || len(existing.Parts) == 0 {
		return &upstreamreq.Content{Role: "user", Parts: []upstreamreq.Part{{Kind: upstreamreq.PartText, Text: AgentSystemPrompt}}}
	}
	combined := *existing
	combined.Parts = append([]upstreamreq.Part{}, existing.Parts...)
	if combined.Parts[0].Kind == upstreamreq.PartText {
		existingText := combined.Parts[0].Text
		if strings.TrimSpace(existingText) == "" {
			combined.Parts[0].Text = AgentSystemPrompt
		} else {
			combined.Parts[0].Text = AgentSystemPrompt + "\n\n" + existingText
		}
	} else {
		combined.Parts = append([]upstreamreq.Part{{Kind: upstreamreq.PartText, Text: AgentSystemPrompt}}, combined.Parts...)
	}
	return &combined
}

// SanitizeContents drops entries whose parts become empty and drops
// text-less, signatureless thought parts (§4.6 step 6).
func SanitizeContents(contents []upstreamreq.Content) []upstreamreq.Content {
	out := make([]upstreamreq.Content, 0, len(contents))
	for _, c := range contents {
		parts := make([]upstreamreq.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			switch p.Kind {
			case upstreamreq.PartFunctionCall, upstreamreq.PartFunctionResponse, upstreamreq.PartInlineData:
				parts = append(parts, p)
			case upstreamreq.PartThought:
				if p.Text == "" && p.Signature == "" {
					continue
				}
				parts = append(parts, p)
			default:
				if p.Text == "" {
					continue
				}
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		c.Parts = parts
		out = append(out, c)
	}
	return out
}
