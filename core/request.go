package core

// ToolSchema is the wire-visible contract of one tool: what a provider
// encoder embeds into its native tool/function-calling format. It carries no
// executable behavior; the tool package derives these from registered tools.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict,omitempty"`
}

// Params are the common, provider-independent sampling parameters of a call.
// Nil pointer fields mean "provider default".
type Params struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	MaxTokens     *int64   `json:"max_tokens,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}
