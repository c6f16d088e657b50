package core

// Part represents a polymorphic segment of message content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface {
	isPart()

	// PartType returns the stable discriminant tag for this variant
	// (e.g. "text", "tool_call"). Useful for logging and serialization.
	PartType() string
}

// Text is a plain text content segment.
type Text struct {
	Text string `json:"text"` // Plain UTF-8 text
}

func (Text) isPart() {}

// PartType implements Part.
func (Text) PartType() string { return "text" }

// Image is an image content segment with inlined bytes.
type Image struct {
	Data     []byte `json:"data"`      // Raw image bytes
	MimeType string `json:"mime_type"` // e.g. "image/png"
}

func (Image) isPart() {}

// PartType implements Part.
func (Image) PartType() string { return "image" }

// ImagePartial is the accumulating view of an image that is still streaming.
// It carries the correlation id of the stream unit producing it so callers
// can distinguish concurrent image units.
type ImagePartial struct {
	ID       string `json:"id"`
	Data     []byte `json:"data"` // Bytes received so far
	MimeType string `json:"mime_type"`
}

func (ImagePartial) isPart() {}

// PartType implements Part.
func (ImagePartial) PartType() string { return "image_partial" }

// Audio is an audio content segment with inlined bytes.
type Audio struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"` // e.g. "audio/wav"
}

func (Audio) isPart() {}

// PartType implements Part.
func (Audio) PartType() string { return "audio" }

// Document is a document attachment segment (e.g. a PDF page range).
type Document struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
	Name     string `json:"name,omitempty"` // Original filename hint
}

func (Document) isPart() {}

// PartType implements Part.
func (Document) PartType() string { return "document" }

// Thought is model reasoning content surfaced by providers that expose it.
// Signature is an opaque provider token required to replay the thought in a
// continuation on the same provider; it is empty for providers without one.
type Thought struct {
	Thought   string `json:"thought"`
	Signature string `json:"signature,omitempty"`
}

func (Thought) isPart() {}

// PartType implements Part.
func (Thought) PartType() string { return "thought" }

// ToolCall is a request by the model to invoke a named tool. Args holds the
// raw JSON-encoded argument object exactly as produced by the provider.
type ToolCall struct {
	ID   string `json:"id"`   // Provider-assigned (or generated) call id
	Name string `json:"name"` // Registered tool name
	Args string `json:"args"` // JSON object string
}

func (ToolCall) isPart() {}

// PartType implements Part.
func (ToolCall) PartType() string { return "tool_call" }

// ToolOutput is the result of executing one ToolCall. Result always carries a
// model-visible value, even on failure, so the model receives some textual
// outcome for every call it issued. Error is set when the tool implementation
// failed; its kind is always KindToolExecution.
type ToolOutput struct {
	ID     string `json:"id"`   // Matches the originating ToolCall.ID
	Name   string `json:"name"` // Tool name
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

func (ToolOutput) isPart() {}

// PartType implements Part.
func (ToolOutput) PartType() string { return "tool_output" }

// TextOf concatenates the text of all Text parts in order.
func TextOf(parts []Part) string {
	var out string
	for _, p := range parts {
		if t, ok := p.(Text); ok {
			out += t.Text
		}
	}
	return out
}
