package claude

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcrelay/cagateway/internal/signature"
	"github.com/arcrelay/cagateway/internal/translator/upstreamreq"
)

type fakeCache struct {
	byTool map[string]signature.Entry
}

func (f *fakeCache) Lookup(requestID, toolCallID string) (signature.Entry, bool) {
	return f.LookupByToolCallID(toolCallID)
}

func (f *fakeCache) LookupByToolCallID(toolCallID string) (signature.Entry, bool) {
	e, ok := f.byTool[toolCallID]
	return e, ok
}

func TestTranslateSimpleTextMessage(t *testing.T) {
	body := []byte(`{"model":"claude-opus-4-5","max_tokens":1024,"messages":[{"role":"user","content":"hello"}]}`)
	req := Translate(body, nil)
	require.Len(t, req.Contents, 1)
	require.Equal(t, "user", req.Contents[0].Role)
	require.Equal(t, "hello", req.Contents[0].Parts[0].Text)
	require.Equal(t, "claude-opus-4-5-thinking", req.BackendModelID)
}

func TestTranslateSkipsThinkingBlockWithoutRecoverableSignature(t *testing.T) {
	body := []byte(`{
		"model":"claude-opus-4-5",
		"messages":[
			{"role":"user","content":"do it"},
			{"role":"assistant","content":[
				{"type":"thinking","thinking":"let me think","signature":""},
				{"type":"tool_use","id":"call_1","name":"run","input":{}}
			]}
		]
	}`)
	req := Translate(body, &fakeCache{byTool: map[string]signature.Entry{}})
	var sawThought bool
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.Kind == upstreamreq.PartThought {
				sawThought = true
			}
		}
	}
	require.False(t, sawThought, "a claude-family thought with no recoverable signature must be skipped")
}

func TestTranslateRecoversSignatureFromCacheByUpcomingToolUseID(t *testing.T) {
	body := []byte(`{
		"model":"claude-opus-4-5",
		"messages":[
			{"role":"user","content":"do it"},
			{"role":"assistant","content":[
				{"type":"thinking","thinking":"let me think","signature":""},
				{"type":"tool_use","id":"call_1","name":"run","input":{}}
			]}
		]
	}`)
	cache := &fakeCache{byTool: map[string]signature.Entry{
		"call_1": {Signature: "recovered-sig", CreatedAt: time.Now()},
	}}
	req := Translate(body, cache)
	var thoughtSig string
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.Kind == upstreamreq.PartThought {
				thoughtSig = p.Signature
			}
		}
	}
	require.Equal(t, "recovered-sig", thoughtSig)
}

func TestTranslateRecoversSignatureFromStubWhenCacheEntryMatchesPrefix(t *testing.T) {
	body := []byte(`{
		"model":"claude-opus-4-5",
		"messages":[
			{"role":"user","content":"do it"},
			{"role":"assistant","content":[
				{"type":"thinking","thinking":"let me think","signature":"short-stub"},
				{"type":"tool_use","id":"call_1","name":"run","input":{}}
			]}
		]
	}`)
	cache := &fakeCache{byTool: map[string]signature.Entry{
		"call_1": {Signature: "short-stub-the-rest-of-the-full-signature", CreatedAt: time.Now()},
	}}
	req := Translate(body, cache)
	var thoughtSig string
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.Kind == upstreamreq.PartThought {
				thoughtSig = p.Signature
			}
		}
	}
	require.Equal(t, "short-stub-the-rest-of-the-full-signature", thoughtSig)
}

func TestTranslateRejectsStubRecoveryWhenCacheEntryPrefixMismatches(t *testing.T) {
	body := []byte(`{
		"model":"claude-opus-4-5",
		"messages":[
			{"role":"user","content":"do it"},
			{"role":"assistant","content":[
				{"type":"thinking","thinking":"let me think","signature":"short-stub"},
				{"type":"tool_use","id":"call_1","name":"run","input":{}}
			]}
		]
	}`)
	// call_1's cached signature belongs to a different, replayed tool_use_id:
	// it does not start with the client's stub, so the lookup must be
	// rejected and the original stub kept instead of a wrong substitution.
	cache := &fakeCache{byTool: map[string]signature.Entry{
		"call_1": {Signature: "unrelated-signature-value", CreatedAt: time.Now()},
	}}
	req := Translate(body, cache)
	var thoughtSig string
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.Kind == upstreamreq.PartThought {
				thoughtSig = p.Signature
			}
		}
	}
	require.Equal(t, "short-stub", thoughtSig)
}

func TestTranslateToolResultLooksUpFunctionNameFromPriorToolUse(t *testing.T) {
	body := []byte(`{
		"model":"claude-sonnet-4",
		"messages":[
			{"role":"user","content":"run the tool"},
			{"role":"assistant","content":[{"type":"tool_use","id":"call_1","name":"search","input":{"q":"x"}}]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"call_1","content":"result text"}]}
		]
	}`)
	req := Translate(body, nil)
	var found bool
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.Kind == upstreamreq.PartFunctionResponse {
				require.Equal(t, "search", p.ResponseName)
				found = true
			}
		}
	}
	require.True(t, found)
}

func TestTranslateDropsToolResultWithUnknownFunctionName(t *testing.T) {
	body := []byte(`{
		"model":"claude-sonnet-4",
		"messages":[
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"never_seen","content":"x"}]}
		]
	}`)
	req := Translate(body, nil)
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			require.NotEqual(t, upstreamreq.PartFunctionResponse, p.Kind)
		}
	}
}

func TestTranslateThinkingBudgetCouplingWithMaxTokens(t *testing.T) {
	body := []byte(`{
		"model":"claude-sonnet-4",
		"max_tokens":2000,
		"thinking":{"type":"enabled","budget_tokens":5000},
		"messages":[{"role":"user","content":"hi"}]
	}`)
	req := Translate(body, nil)
	require.NotNil(t, req.GenerationConfig.ThinkingConfig)
	require.LessOrEqual(t, req.GenerationConfig.ThinkingConfig.ThinkingBudget, req.GenerationConfig.MaxOutputTokens-1024)
}

func TestTranslateToolSchemaIsSanitized(t *testing.T) {
	body := []byte(`{
		"model":"claude-sonnet-4",
		"messages":[{"role":"user","content":"hi"}],
		"tools":[{"name":"search","description":"search the web","input_schema":{"type":"object","properties":{"q":{"type":"string","pattern":"^a"}}}}]
	}`)
	req := Translate(body, nil)
	require.Len(t, req.Tools, 1)
	require.Len(t, req.Tools[0].FunctionDeclarations, 1)
	props, ok := req.Tools[0].FunctionDeclarations[0].Parameters["properties"].(map[string]any)
	require.True(t, ok)
	q, ok := props["q"].(map[string]any)
	require.True(t, ok)
	_, hasPattern := q["pattern"]
	require.False(t, hasPattern)
}

func TestTranslateAgentSystemPromptPrependedForNonFlashModel(t *testing.T) {
	body := []byte(`{"model":"claude-sonnet-4","system":"be terse","messages":[{"role":"user","content":"hi"}]}`)
	req := Translate(body, nil)
	require.NotNil(t, req.SystemInstruction)
	require.Contains(t, req.SystemInstruction.Parts[0].Text, "be terse")
}

func TestTranslateSkipsAgentSystemPromptForGemini3Flash(t *testing.T) {
	body := []byte(`{"model":"gemini-3-flash","messages":[{"role":"user","content":"hi"}]}`)
	req := Translate(body, nil)
	require.Nil(t, req.SystemInstruction)
}
