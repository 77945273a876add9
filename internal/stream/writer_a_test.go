package stream

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestWriterAConcatenatesTextAcrossChunks(t *testing.T) {
	w := NewWriterA("gemini-2.5-flash", 1000, false)

	var got strings.Builder
	feed := func(text string) {
		events, _ := w.Feed(Chunk{Parts: []Part{{Kind: PartTextDelta, TextDelta: text}}})
		for _, e := range events {
			if i := strings.Index(e, `"content":"`); i >= 0 {
				rest := e[i+len(`"content":"`):]
				j := strings.Index(rest, `"`)
				got.WriteString(rest[:j])
			}
		}
	}
	feed("hel")
	feed("lo wor")
	feed("ld")

	require.Equal(t, "hello world", got.String())
}

func TestWriterANeverEmitsInvalidUTF8AcrossBoundary(t *testing.T) {
	w := NewWriterA("gemini-2.5-flash", 1000, false)
	// "é" is 2 bytes (0xC3 0xA9); feed it split across two Feed calls.
	full := "héllo"
	b := []byte(full)

	events1, _ := w.Feed(Chunk{Parts: []Part{{Kind: PartTextDelta, TextDelta: string(b[:2])}}})
	events2, _ := w.Feed(Chunk{Parts: []Part{{Kind: PartTextDelta, TextDelta: string(b[2:])}}})

	for _, e := range append(events1, events2...) {
		require.True(t, utf8.ValidString(e))
	}
}

func TestWriterAFlushesToolCallsOnFinishReason(t *testing.T) {
	w := NewWriterA("gpt-5", 1000, false)
	events, sigs := w.Feed(Chunk{
		Parts:        []Part{{Kind: PartFunctionCall, CallID: "call_1", CallName: "search", ArgsJSON: `{"q":"x"}`}},
		FinishReason: "tool_calls",
	})
	require.Empty(t, sigs)
	require.Contains(t, events[len(events)-1], "[DONE]")
	var sawToolCalls bool
	for _, e := range events {
		if strings.Contains(e, `"tool_calls"`) {
			sawToolCalls = true
			require.Contains(t, e, `"call_1"`)
		}
	}
	require.True(t, sawToolCalls)
}

func TestWriterABindsPendingSignatureToFirstToolCallOnly(t *testing.T) {
	w := NewWriterA("claude-opus-4-5", 1000, true)
	_, sigs1 := w.Feed(Chunk{Parts: []Part{
		{Kind: PartSignature, Signature: "sig-abc"},
		{Kind: PartFunctionCall, CallID: "call_1", CallName: "a", ArgsJSON: "{}"},
	}})
	require.Len(t, sigs1, 1)
	require.Equal(t, "sig-abc", sigs1[0].Signature)

	_, sigs2 := w.Feed(Chunk{Parts: []Part{
		{Kind: PartFunctionCall, CallID: "call_2", CallName: "b", ArgsJSON: "{}"},
	}})
	require.Empty(t, sigs2, "second call in the same burst must not get the first call's signature")
}

func TestWriterAEmitsRoleOnlyOnce(t *testing.T) {
	w := NewWriterA("gpt-5", 1000, false)
	events1, _ := w.Feed(Chunk{Parts: []Part{{Kind: PartTextDelta, TextDelta: "a"}}})
	events2, _ := w.Feed(Chunk{Parts: []Part{{Kind: PartTextDelta, TextDelta: "b"}}})
	require.Contains(t, events1[0], `"role":"assistant"`)
	require.NotContains(t, events2[0], `"role"`)
}

func TestErrorFrameAEndsWithDone(t *testing.T) {
	events := ErrorFrameA("boom")
	require.Len(t, events, 2)
	require.Contains(t, events[0], "server_error")
	require.Equal(t, doneSentinel, events[1])
}
