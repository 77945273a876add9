package stream

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

const doneSentinel = "data: [DONE]\n\n"

// signatureKeyBytes matches the prefix length used by the request
// translator when keying markdown-embedded images by base64 prefix.
const signatureKeyBytes = 50

// WriterA turns upstream Chunks into OpenAI-compatible chat-completion-chunk
// SSE events (§4.7, dialect A).
type WriterA struct {
	id      string
	model   string
	created int64

	isClaudeThinking bool

	roleSent bool

	contentBuf   []byte
	reasoningBuf []byte

	toolCalls        []toolCallStaging
	pendingSignature string
	firstCallBound   bool
}

type toolCallStaging struct {
	index int
	id    string
	name  string
	args  string
}

// NewWriterA constructs a writer for one completion. createdUnix is the
// caller-supplied creation timestamp (callers own the clock so the writer
// stays deterministic for tests).
func NewWriterA(model string, createdUnix int64, isClaudeThinking bool) *WriterA {
	return &WriterA{
		id:               "chatcmpl-" + uuid.NewString(),
		model:            model,
		created:          createdUnix,
		isClaudeThinking: isClaudeThinking,
	}
}

// Feed consumes one upstream Chunk, returning SSE lines to send to the
// client and signatures observed along the way for async persistence.
func (w *WriterA) Feed(chunk Chunk) (events []string, sigs []SignatureSave) {
	for _, p := range chunk.Parts {
		switch p.Kind {
		case PartTextDelta:
			w.contentBuf = append(w.contentBuf, p.TextDelta...)
			ready, pending := utf8SafeSplit(w.contentBuf)
			w.contentBuf = pending
			if len(ready) > 0 {
				events = append(events, w.emitDelta(map[string]any{"content": string(ready)}))
			}
		case PartThoughtDelta:
			w.reasoningBuf = append(w.reasoningBuf, p.TextDelta...)
			ready, pending := utf8SafeSplit(w.reasoningBuf)
			w.reasoningBuf = pending
			if len(ready) > 0 {
				events = append(events, w.emitDelta(map[string]any{"reasoning_content": string(ready)}))
			}
		case PartSignature:
			w.pendingSignature = p.Signature
		case PartFunctionCall:
			sig := p.Signature
			if w.isClaudeThinking && !w.firstCallBound {
				if w.pendingSignature != "" {
					sig = w.pendingSignature
				}
				w.firstCallBound = true
				w.pendingSignature = ""
			}
			idx := len(w.toolCalls)
			w.toolCalls = append(w.toolCalls, toolCallStaging{index: idx, id: p.CallID, name: p.CallName, args: p.ArgsJSON})
			if sig != "" {
				sigs = append(sigs, SignatureSave{ToolCallID: p.CallID, Signature: sig, Model: w.model})
			}
		case PartInlineData:
			md := fmt.Sprintf("![image](data:%s;base64,%s)", p.MimeType, p.DataBase64)
			events = append(events, w.emitDelta(map[string]any{"content": md}))
			if p.Signature != "" {
				key := p.DataBase64
				if len(key) > signatureKeyBytes {
					key = key[:signatureKeyBytes]
				}
				sigs = append(sigs, SignatureSave{ToolCallID: key, Signature: p.Signature, IsImageKey: true, Model: w.model})
			}
		}
	}

	if chunk.FinishReason != "" {
		events = append(events, w.flushToolCalls()...)
		events = append(events, w.finalChunk(chunk.FinishReason, chunk.Usage))
		events = append(events, doneSentinel)
	}
	return events, sigs
}

// Finish is called when the upstream stream ends without the upstream ever
// sending an explicit finish_reason (e.g. connection closed cleanly after
// the last content chunk); it emits the same termination sequence as a
// finish_reason-carrying Feed call.
func (w *WriterA) Finish(finishReason string, usage *Usage) []string {
	var events []string
	events = append(events, w.flushToolCalls()...)
	events = append(events, w.finalChunk(finishReason, usage))
	events = append(events, doneSentinel)
	return events
}

func (w *WriterA) flushToolCalls() []string {
	if len(w.toolCalls) == 0 {
		return nil
	}
	arr := make([]map[string]any, 0, len(w.toolCalls))
	for _, tc := range w.toolCalls {
		arr = append(arr, map[string]any{
			"index": tc.index,
			"id":    tc.id,
			"type":  "function",
			"function": map[string]any{
				"name":      tc.name,
				"arguments": tc.args,
			},
		})
	}
	w.toolCalls = nil
	return []string{w.emitDelta(map[string]any{"tool_calls": arr})}
}

func (w *WriterA) emitDelta(delta map[string]any) string {
	if !w.roleSent {
		delta["role"] = "assistant"
		w.roleSent = true
	}
	return w.buildChunk(delta, nil, nil)
}

func (w *WriterA) finalChunk(finishReason string, usage *Usage) string {
	return w.buildChunk(map[string]any{}, &finishReason, usage)
}

func (w *WriterA) buildChunk(delta map[string]any, finishReason *string, usage *Usage) string {
	choice := map[string]any{
		"index":         0,
		"delta":         delta,
		"finish_reason": nil,
	}
	if finishReason != nil {
		choice["finish_reason"] = *finishReason
	}
	payload := map[string]any{
		"id":      w.id,
		"object":  "chat.completion.chunk",
		"created": w.created,
		"model":   w.model,
		"choices": []map[string]any{choice},
	}
	if usage != nil {
		payload["usage"] = map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		}
	}
	b, _ := json.Marshal(payload)
	return fmt.Sprintf("data: %s\n\n", b)
}

// ErrorFrameA builds the dialect A SSE error framing: one JSON error chunk
// then the [DONE] sentinel.
func ErrorFrameA(message string) []string {
	payload := map[string]any{"error": map[string]any{"message": message, "type": "server_error"}}
	b, _ := json.Marshal(payload)
	return []string{fmt.Sprintf("data: %s\n\n", b), doneSentinel}
}

// utf8SafeSplit returns the longest prefix of buf that is safe to emit and
// the remaining suffix (at most 3 bytes) that might be the start of a
// not-yet-complete multi-byte rune still arriving from the upstream.
func utf8SafeSplit(buf []byte) (ready, pending []byte) {
	if len(buf) == 0 {
		return nil, nil
	}
	maxBack := 4
	if maxBack > len(buf) {
		maxBack = len(buf)
	}
	for back := 1; back <= maxBack; back++ {
		start := len(buf) - back
		if !utf8.RuneStart(buf[start]) {
			continue
		}
		if utf8.FullRune(buf[start:]) {
			return buf, nil
		}
		return buf[:start], buf[start:]
	}
	return buf, nil
}
