package core

// FinishReason explains why generation stopped.
type FinishReason string

const (
	// FinishEndTurn means the model finished its turn naturally.
	FinishEndTurn FinishReason = "end_turn"
	// FinishMaxTokens means generation hit the output token limit.
	FinishMaxTokens FinishReason = "max_tokens"
	// FinishStop means a stop sequence was generated.
	FinishStop FinishReason = "stop"
	// FinishToolUse means the model stopped to request tool calls.
	FinishToolUse FinishReason = "tool_use"
	// FinishRefusal means the model refused to produce the requested output.
	FinishRefusal FinishReason = "refusal"
	// FinishUnknown means the provider reported a reason with no canonical
	// equivalent (or none at all).
	FinishUnknown FinishReason = "unknown"
)

// Usage captures token accounting for one exchange. Counts are totals for the
// exchange; a nil *Usage means the provider reported nothing.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
	ReasoningTokens  int64 `json:"reasoning_tokens,omitempty"`
}
