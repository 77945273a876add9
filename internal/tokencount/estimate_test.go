package tokencount

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcrelay/cagateway/internal/stream"
	"github.com/arcrelay/cagateway/internal/translator/upstreamresp"
)

func TestPromptTextFlattensOpenAIMessages(t *testing.T) {
	body := []byte(`{
		"model": "gpt-5",
		"messages": [
			{"role": "user", "content": "what is the capital of France"},
			{"role": "assistant", "content": [{"type": "text", "text": "Paris"}]}
		]
	}`)
	text := PromptText(body)
	require.Contains(t, text, "what is the capital of France")
	require.Contains(t, text, "Paris")
}

func TestPromptTextFlattensClaudeSystemAndMessages(t *testing.T) {
	body := []byte(`{
		"model": "claude-opus-4-5",
		"system": "be terse",
		"messages": [{"role": "user", "content": "hello"}]
	}`)
	text := PromptText(body)
	require.Contains(t, text, "be terse")
	require.Contains(t, text, "hello")
}

func TestCompletionTextJoinsTextAndThoughtParts(t *testing.T) {
	candidates := []upstreamresp.Candidate{{
		Parts: []stream.Part{
			{Kind: stream.PartThoughtDelta, TextDelta: "thinking... "},
			{Kind: stream.PartTextDelta, TextDelta: "Paris"},
			{Kind: stream.PartFunctionCall, CallName: "lookup"},
		},
	}}
	text := CompletionText(candidates)
	require.Equal(t, "thinking... Paris", text)
}

func TestEstimateFromTextProducesNonZeroTotalForNonEmptyInput(t *testing.T) {
	usage := EstimateFromText("gpt-5", "hello world, this is a test prompt", "a short completion")
	require.Greater(t, usage.PromptTokens, 0)
	require.Greater(t, usage.CompletionTokens, 0)
	require.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
}

func TestEstimateFromTextEmptyInputYieldsZero(t *testing.T) {
	usage := EstimateFromText("gpt-5", "", "")
	require.Equal(t, &stream.Usage{}, usage)
}

func TestCodecForModelNeverReturnsNil(t *testing.T) {
	for _, model := range []string{"gpt-5", "gpt-4.1", "gpt-4o", "gpt-4", "gpt-3.5-turbo", "claude-opus-4-5", "gemini-2.5-flash", ""} {
		require.NotNil(t, CodecForModel(model), "model %q", model)
	}
}
