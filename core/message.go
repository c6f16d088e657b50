package core

// Message represents one conversation turn. Concrete message types implement
// the unexported isMessage marker enabling a closed set. Message order is
// conversation order.
type Message interface {
	isMessage()

	// Role returns the conversational role ("system", "user", "assistant").
	Role() string
}

// SystemMessage carries system-level instructions as a single text segment.
type SystemMessage struct {
	Content Text `json:"content"`
}

func (SystemMessage) isMessage() {}

// Role implements Message.
func (SystemMessage) Role() string { return "system" }

// UserMessage is an ordered sequence of user-supplied content. Valid parts
// are Text, Image, Audio, Document and ToolOutput.
type UserMessage struct {
	Parts []Part `json:"parts"`
}

func (UserMessage) isMessage() {}

// Role implements Message.
func (UserMessage) Role() string { return "user" }

// AssistantMessage is an ordered sequence of model-produced content plus the
// provenance of the model that produced it. Raw preserves the provider's
// original wire payload; it is opaque to the canonical layer and is only ever
// re-consumed by the same provider's encoder. Cross-provider continuation
// reconstructs requests purely from Parts.
type AssistantMessage struct {
	Parts             []Part `json:"parts"`
	ProviderID        string `json:"provider_id,omitempty"`
	ModelID           string `json:"model_id,omitempty"`
	ProviderModelName string `json:"provider_model_name,omitempty"`
	Raw               any    `json:"-"`
}

func (AssistantMessage) isMessage() {}

// Role implements Message.
func (AssistantMessage) Role() string { return "assistant" }

// Text returns the concatenated text content of the assistant turn.
func (m AssistantMessage) Text() string { return TextOf(m.Parts) }

// System constructs a SystemMessage from plain text.
func System(text string) SystemMessage {
	return SystemMessage{Content: Text{Text: text}}
}

// User constructs a UserMessage from content parts.
func User(parts ...Part) UserMessage {
	return UserMessage{Parts: parts}
}

// UserText constructs a UserMessage from plain text.
func UserText(text string) UserMessage {
	return UserMessage{Parts: []Part{Text{Text: text}}}
}

// Assistant constructs a bare AssistantMessage from content parts. Provenance
// fields are filled in by the layer that produced the message.
func Assistant(parts ...Part) AssistantMessage {
	return AssistantMessage{Parts: parts}
}
