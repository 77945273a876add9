package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func parseEvents(t *testing.T, events []string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range events {
		lines := strings.SplitN(e, "\n", 2)
		require.Len(t, lines, 2)
		dataLine := strings.TrimPrefix(lines[1], "data: ")
		dataLine = strings.TrimSpace(dataLine)
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(dataLine), &m))
		out = append(out, m)
	}
	return out
}

func TestWriterBToolUseBurstEventOrder(t *testing.T) {
	w := NewWriterB("claude-opus-4-5")
	start := w.Start(42)

	feedEvents, sigs := w.Feed(Chunk{Parts: []Part{
		{Kind: PartThoughtDelta, TextDelta: "let me think"},
		{Kind: PartSignature, Signature: "sig-1"},
		{Kind: PartFunctionCall, CallID: "toolu_x", CallName: "Bash", ArgsJSON: `{"command":"ls"}`},
	}})
	finishEvents := w.Finish("tool_use", &Usage{CompletionTokens: 10})

	all := append([]string{start}, feedEvents...)
	all = append(all, finishEvents...)
	parsed := parseEvents(t, all)

	var types []string
	for _, p := range parsed {
		types = append(types, p["type"].(string))
	}
	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, types)

	require.Len(t, sigs, 1)
	require.Equal(t, "toolu_x", sigs[0].ToolCallID)
	require.Equal(t, "sig-1", sigs[0].Signature)

	// content_block_start/stop pairs share the same index.
	require.Equal(t, parsed[1]["index"], parsed[4]["index"])
	require.Equal(t, parsed[5]["index"], parsed[7]["index"])
	require.NotEqual(t, parsed[1]["index"], parsed[5]["index"])
}

func TestWriterBInjectsPlaceholderWhenSignatureArrivesWithoutText(t *testing.T) {
	w := NewWriterB("claude-sonnet-4")
	events, _ := w.Feed(Chunk{Parts: []Part{{Kind: PartSignature, Signature: "sig-only"}}})
	parsed := parseEvents(t, events)

	require.Equal(t, "content_block_start", parsed[0]["type"])
	delta1 := parsed[1]["delta"].(map[string]any)
	require.Equal(t, "thinking_delta", delta1["type"])
	require.Equal(t, missingThoughtPlaceholder, delta1["thinking"])
	delta2 := parsed[2]["delta"].(map[string]any)
	require.Equal(t, "signature_delta", delta2["type"])
	require.Equal(t, "sig-only", delta2["signature"])
}

func TestWriterBClosesThinkingBeforeOpeningText(t *testing.T) {
	w := NewWriterB("claude-sonnet-4")
	events, _ := w.Feed(Chunk{Parts: []Part{
		{Kind: PartThoughtDelta, TextDelta: "thinking..."},
		{Kind: PartTextDelta, TextDelta: "the answer"},
	}})
	parsed := parseEvents(t, events)
	var types []string
	for _, p := range parsed {
		types = append(types, p["type"].(string))
	}
	require.Equal(t, []string{
		"content_block_start", "content_block_delta", "content_block_stop",
		"content_block_start", "content_block_delta",
	}, types)
}

func TestErrorFrameBEndsWithMessageStop(t *testing.T) {
	events := ErrorFrameB("boom")
	parsed := parseEvents(t, events)
	require.Equal(t, "error", parsed[0]["type"])
	require.Equal(t, "message_stop", parsed[1]["type"])
}
