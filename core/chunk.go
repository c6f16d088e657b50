package core

// Chunk is one provider-normalized streaming event. Provider decoders must
// fully translate their native event grammar into these variants before
// anything reaches the stream aggregator; the aggregator never sees vendor
// payloads. Content chunks correlate into logical units via their ID and are
// closed either by an explicit Final marker or by the end of the stream.
type Chunk interface {
	isChunk()

	// ChunkType returns the stable discriminant tag for this variant.
	ChunkType() string
}

// ContentChunk is implemented by the chunk variants that accumulate into a
// terminal content Part (as opposed to stream-level control chunks).
type ContentChunk interface {
	Chunk

	// UnitID returns the correlation id of the logical unit this chunk
	// belongs to. Chunks sharing an id reconstruct one terminal part.
	UnitID() string

	// IsFinal reports whether this chunk closes its unit.
	IsFinal() bool
}

// TextChunk is a streamed text delta.
type TextChunk struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
	Final bool   `json:"final,omitempty"`
}

func (TextChunk) isChunk() {}

// ChunkType implements Chunk.
func (TextChunk) ChunkType() string { return "text_chunk" }

// UnitID implements ContentChunk.
func (c TextChunk) UnitID() string { return c.ID }

// IsFinal implements ContentChunk.
func (c TextChunk) IsFinal() bool { return c.Final }

// ThinkingChunk is a streamed reasoning delta. Signature, when present,
// arrives on the closing chunk for providers that sign thinking blocks.
type ThinkingChunk struct {
	ID        string `json:"id"`
	Delta     string `json:"delta"`
	Signature string `json:"signature,omitempty"`
	Final     bool   `json:"final,omitempty"`
}

func (ThinkingChunk) isChunk() {}

// ChunkType implements Chunk.
func (ThinkingChunk) ChunkType() string { return "thinking_chunk" }

// UnitID implements ContentChunk.
func (c ThinkingChunk) UnitID() string { return c.ID }

// IsFinal implements ContentChunk.
func (c ThinkingChunk) IsFinal() bool { return c.Final }

// ToolCallChunk is a streamed tool call fragment. Name is usually only set on
// the first chunk of a unit. ArgsDelta extends the accumulated JSON argument
// string; ArgsPartial is the aggregator-computed best-effort parse of the
// accumulated string and is always a syntactically valid (possibly
// incomplete-tree) object at every chunk boundary.
type ToolCallChunk struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	ArgsDelta   string         `json:"args_delta"`
	ArgsPartial map[string]any `json:"args_partial,omitempty"`
	Final       bool           `json:"final,omitempty"`
}

func (ToolCallChunk) isChunk() {}

// ChunkType implements Chunk.
func (ToolCallChunk) ChunkType() string { return "tool_call_chunk" }

// UnitID implements ContentChunk.
func (c ToolCallChunk) UnitID() string { return c.ID }

// IsFinal implements ContentChunk.
func (c ToolCallChunk) IsFinal() bool { return c.Final }

// ImageChunk is a streamed image byte delta.
type ImageChunk struct {
	ID       string `json:"id"`
	Delta    []byte `json:"delta"`
	MimeType string `json:"mime_type,omitempty"`
	Final    bool   `json:"final,omitempty"`
}

func (ImageChunk) isChunk() {}

// ChunkType implements Chunk.
func (ImageChunk) ChunkType() string { return "image_chunk" }

// UnitID implements ContentChunk.
func (c ImageChunk) UnitID() string { return c.ID }

// IsFinal implements ContentChunk.
func (c ImageChunk) IsFinal() bool { return c.Final }

// AudioChunk is a streamed audio byte delta.
type AudioChunk struct {
	ID       string `json:"id"`
	Delta    []byte `json:"delta"`
	MimeType string `json:"mime_type,omitempty"`
	Final    bool   `json:"final,omitempty"`
}

func (AudioChunk) isChunk() {}

// ChunkType implements Chunk.
func (AudioChunk) ChunkType() string { return "audio_chunk" }

// UnitID implements ContentChunk.
func (c AudioChunk) UnitID() string { return c.ID }

// IsFinal implements ContentChunk.
func (c AudioChunk) IsFinal() bool { return c.Final }

// FinishChunk reports the finish reason. Providers may emit it more than once
// before the true final event; the latest value always wins.
type FinishChunk struct {
	Reason FinishReason `json:"reason"`
}

func (FinishChunk) isChunk() {}

// ChunkType implements Chunk.
func (FinishChunk) ChunkType() string { return "finish_chunk" }

// UsageChunk reports token usage. Counts are cumulative totals as of this
// chunk, never increments; the latest value always replaces prior ones.
type UsageChunk struct {
	Usage Usage `json:"usage"`
}

func (UsageChunk) isChunk() {}

// ChunkType implements Chunk.
func (UsageChunk) ChunkType() string { return "usage_chunk" }
