// Package stream holds the two dialect-specific SSE writers that turn a
// lazy sequence of upstream stream parts into dialect-specific SSE events
// (§4.7).
package stream

// PartKind discriminates the kinds of content a streamed upstream part can
// carry. It mirrors upstreamreq.PartKind but stays independent since stream
// parts carry deltas, not complete values.
type PartKind int

const (
	PartTextDelta PartKind = iota
	PartThoughtDelta
	PartSignature
	PartFunctionCall
	PartInlineData
)

// Part is one upstream-emitted content fragment within a Chunk.
type Part struct {
	Kind PartKind

	TextDelta string

	// FunctionCall fields: ArgsJSON is the complete serialised arguments
	// object for this call (the upstream does not stream partial args).
	CallID    string
	CallName  string
	ArgsJSON  string
	Signature string

	MimeType   string
	DataBase64 string
}

// Usage mirrors the upstream's usage_metadata.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Chunk is one upstream StreamDataPart: zero or more Parts plus an optional
// terminal finish reason and usage.
type Chunk struct {
	Parts        []Part
	FinishReason string // "stop", "tool_calls"/"tool_use", "" if not final
	Usage        *Usage
}

// SignatureSave is a signature observed mid-stream, to be persisted
// asynchronously by the handler so emitting events is never blocked on
// disk I/O.
type SignatureSave struct {
	ToolCallID string
	Signature  string
	Reasoning  string
	IsImageKey bool
	Model      string
}
