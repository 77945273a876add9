package openai

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

func TestTranslateSimpleUserMessage(t *testing.T) {
	body := []byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hello"}]}`)
	req := Translate(body, nil)
	require.Len(t, req.Contents, 1)
	require.Equal(t, "user", req.Contents[0].Role)
	require.Equal(t, "hello", req.Contents[0].Parts[0].Text)
}

func TestTranslateMarkdownImageLiftedFromAssistantText(t *testing.T) {
	body := []byte(`{"model":"gpt-5","messages":[
		{"role":"user","content":"draw a cat"},
		{"role":"assistant","content":"here: ![image](data:image/png;base64,QUJD) done"}
	]}`)
	req := Translate(body, nil)
	var sawImage bool
	var textBefore, textAfter string
	for _, c := range req.Contents {
		for i, p := range c.Parts {
			if p.Kind == upstreamreq.PartInlineData {
				sawImage = true
				require.Equal(t, "image/png", p.MimeType)
				require.Equal(t, "QUJD", p.DataBase64)
				if i > 0 {
					textBefore = c.Parts[i-1].Text
				}
				if i+1 < len(c.Parts) {
					textAfter = c.Parts[i+1].Text
				}
			}
		}
	}
	require.True(t, sawImage)
	require.Contains(t, textBefore, "here:")
	require.Contains(t, textAfter, "done")
}

func TestTranslateToolOnlyAssistantMergesIntoPriorSignedTurn(t *testing.T) {
	body := []byte(`{
		"model":"claude-opus-4-5",
		"messages":[
			{"role":"user","content":"step 1"},
			{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"a","arguments":"{}"}}]},
			{"role":"tool","tool_call_id":"call_1","content":"ok"},
			{"role":"assistant","content":"","tool_calls":[{"id":"call_2","type":"function","function":{"name":"b","arguments":"{}"}}]},
			{"role":"tool","tool_call_id":"call_2","content":"ok"}
		]
	}`)
	cache := &fakeCache{byTool: map[string]signature.Entry{
		"call_1": {Signature: "sig-1", CreatedAt: time.Now()},
	}}
	req := Translate(body, cache)

	var modelTurns int
	var callIDs []string
	for _, c := range req.Contents {
		if c.Role != "model" {
			continue
		}
		modelTurns++
		for _, p := range c.Parts {
			if p.Kind == upstreamreq.PartFunctionCall {
				callIDs = append(callIDs, p.CallID)
			}
		}
	}
	require.Equal(t, 1, modelTurns, "the unsigned tool-only turn must be merged into the signed turn")
	require.ElementsMatch(t, []string{"call_1", "call_2"}, callIDs)
}

func TestTranslateKeepsSeparateTurnsWhenBothHaveSignatures(t *testing.T) {
	body := []byte(`{
		"model":"claude-opus-4-5",
		"messages":[
			{"role":"user","content":"step 1"},
			{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"a","arguments":"{}"}}]},
			{"role":"tool","tool_call_id":"call_1","content":"ok"},
			{"role":"assistant","content":"","tool_calls":[{"id":"call_2","type":"function","function":{"name":"b","arguments":"{}"}}]},
			{"role":"tool","tool_call_id":"call_2","content":"ok"}
		]
	}`)
	cache := &fakeCache{byTool: map[string]signature.Entry{
		"call_1": {Signature: "sig-1", CreatedAt: time.Now()},
		"call_2": {Signature: "sig-2", CreatedAt: time.Now()},
	}}
	req := Translate(body, cache)

	var modelTurns int
	for _, c := range req.Contents {
		if c.Role == "model" {
			modelTurns++
		}
	}
	require.Equal(t, 2, modelTurns)
}

func TestTranslateToolCallArgsParsedFromJSONString(t *testing.T) {
	body := []byte(`{"model":"gpt-5","messages":[
		{"role":"user","content":"go"},
		{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"q\":\"weather\"}"}}]}
	]}`)
	req := Translate(body, nil)
	var args map[string]any
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.Kind == upstreamreq.PartFunctionCall {
				args = p.Args
			}
		}
	}
	require.Equal(t, "weather", args["q"])
}

func TestTranslateToolSchemaSanitized(t *testing.T) {
	body := []byte(`{
		"model":"gpt-5",
		"messages":[{"role":"user","content":"hi"}],
		"tools":[{"type":"function","function":{"name":"search","parameters":{"type":"object","properties":{"q":{"type":"string","minLength":1}}}}}]
	}`)
	req := Translate(body, nil)
	require.Len(t, req.Tools, 1)
	props := req.Tools[0].FunctionDeclarations[0].Parameters["properties"].(map[string]any)
	q := props["q"].(map[string]any)
	_, hasMinLength := q["minLength"]
	require.False(t, hasMinLength)
}
