package stream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const missingThoughtPlaceholder = "[missing thought text]"

type blockKind int

const (
	blockNone blockKind = iota
	blockThinking
	blockText
)

// WriterB turns upstream Chunks into Anthropic messages-API SSE events
// (§4.7, dialect B).
type WriterB struct {
	model string

	nextIndex int
	open      blockKind
	openIndex int

	pendingSignature string
	sawThinkingText  bool
	firstToolBound   bool
}

// NewWriterB constructs a writer for one message.
func NewWriterB(model string) *WriterB {
	return &WriterB{model: model}
}

// Start emits the message_start event. inputTokens must be known before the
// first byte is sent.
func (w *WriterB) Start(inputTokens int) string {
	return event(map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":          "msg_" + uuid.NewString(),
			"type":        "message",
			"role":        "assistant",
			"model":       w.model,
			"content":     []any{},
			"stop_reason": nil,
			"usage": map[string]any{
				"input_tokens":  inputTokens,
				"output_tokens": 0,
			},
		},
	})
}

// Feed consumes one upstream Chunk, returning SSE events and any signatures
// observed for async persistence.
func (w *WriterB) Feed(chunk Chunk) (events []string, sigs []SignatureSave) {
	for _, p := range chunk.Parts {
		switch p.Kind {
		case PartThoughtDelta:
			events = append(events, w.ensureThinkingBlock()...)
			events = append(events, event(map[string]any{
				"type": "content_block_delta", "index": w.openIndex,
				"delta": map[string]any{"type": "thinking_delta", "thinking": p.TextDelta},
			}))
			w.sawThinkingText = true
			if p.Signature != "" {
				events = append(events, w.flushSignature(p.Signature)...)
			}
		case PartSignature:
			events = append(events, w.ensureThinkingBlock()...)
			events = append(events, w.flushSignature(p.Signature)...)
		case PartTextDelta:
			events = append(events, w.ensureTextBlock()...)
			events = append(events, event(map[string]any{
				"type": "content_block_delta", "index": w.openIndex,
				"delta": map[string]any{"type": "text_delta", "text": p.TextDelta},
			}))
		case PartFunctionCall:
			carriedSignature := w.pendingSignature
			events = append(events, w.closeOpenBlock()...)

			sig := p.Signature
			if sig == "" && !w.firstToolBound && carriedSignature != "" {
				sig = carriedSignature
				w.pendingSignature = ""
			}
			w.firstToolBound = true
			if sig != "" {
				sigs = append(sigs, SignatureSave{ToolCallID: p.CallID, Signature: sig, Model: w.model})
			}

			idx := w.nextIndex
			w.nextIndex++
			events = append(events, event(map[string]any{
				"type": "content_block_start", "index": idx,
				"content_block": map[string]any{"type": "tool_use", "id": p.CallID, "name": p.CallName, "input": map[string]any{}},
			}))
			events = append(events, event(map[string]any{
				"type": "content_block_delta", "index": idx,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": p.ArgsJSON},
			}))
			events = append(events, event(map[string]any{"type": "content_block_stop", "index": idx}))
		}
	}
	return events, sigs
}

// Finish flushes any open block and emits message_delta/message_stop.
func (w *WriterB) Finish(stopReason string, usage *Usage) []string {
	var events []string
	events = append(events, w.closeOpenBlock()...)
	delta := map[string]any{"stop_reason": stopReason}
	payload := map[string]any{"type": "message_delta", "delta": delta}
	if usage != nil {
		payload["usage"] = map[string]any{"output_tokens": usage.CompletionTokens}
	}
	events = append(events, event(payload))
	events = append(events, event(map[string]any{"type": "message_stop"}))
	return events
}

func (w *WriterB) ensureThinkingBlock() []string {
	if w.open == blockThinking {
		return nil
	}
	events := w.closeOpenBlock()
	idx := w.nextIndex
	w.nextIndex++
	w.openIndex = idx
	w.open = blockThinking
	w.sawThinkingText = false
	w.pendingSignature = ""
	events = append(events, event(map[string]any{
		"type": "content_block_start", "index": idx,
		"content_block": map[string]any{"type": "thinking", "thinking": ""},
	}))
	return events
}

func (w *WriterB) ensureTextBlock() []string {
	if w.open == blockText {
		return nil
	}
	events := w.closeOpenBlock()
	idx := w.nextIndex
	w.nextIndex++
	w.openIndex = idx
	w.open = blockText
	events = append(events, event(map[string]any{
		"type": "content_block_start", "index": idx,
		"content_block": map[string]any{"type": "text", "text": ""},
	}))
	return events
}

// flushSignature emits at most one signature_delta for the currently open
// thinking block, injecting a placeholder thought first if none was seen.
// The signature itself is retained in pendingSignature so it can still be
// bound to the first subsequent tool-use for persistence purposes.
func (w *WriterB) flushSignature(sig string) []string {
	var events []string
	if !w.sawThinkingText {
		events = append(events, event(map[string]any{
			"type": "content_block_delta", "index": w.openIndex,
			"delta": map[string]any{"type": "thinking_delta", "thinking": missingThoughtPlaceholder},
		}))
		w.sawThinkingText = true
	}
	events = append(events, event(map[string]any{
		"type": "content_block_delta", "index": w.openIndex,
		"delta": map[string]any{"type": "signature_delta", "signature": sig},
	}))
	w.pendingSignature = sig
	return events
}

func (w *WriterB) closeOpenBlock() []string {
	if w.open == blockNone {
		return nil
	}
	events := []string{event(map[string]any{"type": "content_block_stop", "index": w.openIndex})}
	w.open = blockNone
	return events
}

func event(payload map[string]any) string {
	b, _ := json.Marshal(payload)
	t, _ := payload["type"].(string)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", t, b)
}

// ErrorFrameB builds the dialect B SSE error framing: an error event then
// message_stop.
func ErrorFrameB(message string) []string {
	return []string{
		event(map[string]any{"type": "error", "error": map[string]any{"type": "api_error", "message": message}}),
		event(map[string]any{"type": "message_stop"}),
	}
}
