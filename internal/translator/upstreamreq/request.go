// Package upstreamreq defines the dialect-agnostic upstream request shape
// (§3) that both the OpenAI and Claude translators build and that the
// upstream client serialises onto the wire.
package upstreamreq

// Part is a tagged variant mirroring the upstream's Part union. Exactly one
// of the payload fields is meaningful, selected by Kind.
type Part struct {
	Kind PartKind

	Text string

	// Thought fields.
	Signature string

	// FunctionCall fields.
	CallID   string
	CallName string
	Args     map[string]any

	// FunctionResponse fields.
	ResponseID       string
	ResponseName     string
	ResponseResponse map[string]any

	// InlineData fields.
	MimeType   string
	DataBase64 string
}

// PartKind discriminates the Part union.
type PartKind int

const (
	PartText PartKind = iota
	PartThought
	PartFunctionCall
	PartFunctionResponse
	PartInlineData
)

// Content is one turn of the conversation, in upstream role vocabulary
// (user|model).
type Content struct {
	Role  string
	Parts []Part
}

// ThinkingConfig carries the upstream's extended-thinking generation hints.
type ThinkingConfig struct {
	Enabled         bool
	ThinkingBudget  int
	IncludeThoughts bool
}

// ImageConfig carries image-generation sizing hints for image-capable models.
type ImageConfig struct {
	Size string // "1k", "2k", "4k"
}

// GenerationConfig mirrors the upstream's generation_config object.
type GenerationConfig struct {
	MaxOutputTokens int
	Temperature     *float64
	TopP            *float64
	StopSequences   []string
	ThinkingConfig  *ThinkingConfig
	ImageConfig     *ImageConfig
	MediaResolution string
}

// FunctionDeclaration is one tool's sanitised schema.
type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Tool groups the function declarations the model may call.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration
}

// Request is the dialect-agnostic upstream request (§3). ProjectID and
// SessionID are placeholders filled in by the gateway per attempt.
type Request struct {
	ProjectID         string
	BackendModelID    string
	RequestID         string
	SessionID         string
	Contents          []Content
	SystemInstruction *Content
	GenerationConfig  GenerationConfig
	Tools             []Tool
}
