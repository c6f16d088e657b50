package response

import (
	"strings"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/internal/partialjson"
)

// unitKind discriminates the in-flight accumulation state machines.
type unitKind int

const (
	unitText unitKind = iota
	unitThinking
	unitToolCall
	unitImage
	unitAudio
)

// unit is the accumulation state for one logical content unit. Units move
// NotStarted -> Started -> Accumulating -> Finished; a unit exists in the
// aggregator map exactly while it is in flight and is appended to the content
// sequence when finished.
type unit struct {
	id   string
	kind unitKind

	text strings.Builder // text / thinking deltas

	name        string // tool call name
	args        strings.Builder
	argsPartial map[string]any

	signature string // thinking signature
	mimeType  string
	data      []byte // image / audio deltas
}

// finish converts the accumulated state into its terminal content part.
func (u *unit) finish() core.Part {
	switch u.kind {
	case unitText:
		return core.Text{Text: u.text.String()}
	case unitThinking:
		return core.Thought{Thought: u.text.String(), Signature: u.signature}
	case unitToolCall:
		args := u.args.String()
		if args == "" {
			args = "{}"
		}
		return core.ToolCall{ID: u.id, Name: u.name, Args: args}
	case unitImage:
		return core.Image{Data: u.data, MimeType: u.mimeType}
	case unitAudio:
		return core.Audio{Data: u.data, MimeType: u.mimeType}
	default:
		return core.Text{Text: u.text.String()}
	}
}

// aggregator folds an ordered chunk sequence into content parts, finish
// reason and usage. All in-flight state is keyed by unit id, never by
// position, so interleaved units (a tool call opening before a thinking unit
// closes) accumulate independently. Finished units are appended to parts in
// the order they finish, which is arrival order of their closing chunk.
type aggregator struct {
	units map[string]*unit
	open  []string // in-flight unit ids in open order

	parts  []core.Part
	finish core.FinishReason
	usage  *core.Usage
	chunks []core.Chunk
}

func newAggregator() *aggregator {
	return &aggregator{units: make(map[string]*unit)}
}

// apply folds one chunk into the accumulation state and returns the chunk as
// consumers should see it. Tool call chunks come back enriched: the name
// backfilled from the unit and ArgsPartial recomputed over the accumulated
// argument string.
func (a *aggregator) apply(chunk core.Chunk) core.Chunk {
	switch c := chunk.(type) {
	case core.TextChunk:
		u := a.unitFor(c.ID, unitText)
		u.text.WriteString(c.Delta)
		if c.Final {
			a.finishUnit(c.ID)
		}
	case core.ThinkingChunk:
		u := a.unitFor(c.ID, unitThinking)
		u.text.WriteString(c.Delta)
		if c.Signature != "" {
			u.signature = c.Signature
		}
		if c.Final {
			a.finishUnit(c.ID)
		}
	case core.ToolCallChunk:
		u := a.unitFor(c.ID, unitToolCall)
		if c.Name != "" {
			u.name = c.Name
		}
		if c.ArgsDelta != "" {
			u.args.WriteString(c.ArgsDelta)
			u.argsPartial = partialjson.ObjectOf(u.args.String())
		}
		c.Name = u.name
		c.ArgsPartial = u.argsPartial
		chunk = c
		if c.Final {
			a.finishUnit(c.ID)
		}
	case core.ImageChunk:
		u := a.unitFor(c.ID, unitImage)
		u.data = append(u.data, c.Delta...)
		if c.MimeType != "" {
			u.mimeType = c.MimeType
		}
		if c.Final {
			a.finishUnit(c.ID)
		}
	case core.AudioChunk:
		u := a.unitFor(c.ID, unitAudio)
		u.data = append(u.data, c.Delta...)
		if c.MimeType != "" {
			u.mimeType = c.MimeType
		}
		if c.Final {
			a.finishUnit(c.ID)
		}
	case core.FinishChunk:
		// Overwrite, never merge: the latest reported reason wins.
		a.finish = c.Reason
	case core.UsageChunk:
		// Usage arrives as a cumulative total; replace wholesale.
		usage := c.Usage
		a.usage = &usage
	}

	a.chunks = append(a.chunks, chunk)
	return chunk
}

// unitFor returns the in-flight unit for id, opening it if needed. Decoders
// that never send end markers rely on the same-kind rule: opening a new unit
// of a kind that streams exclusively (text, thinking, tool call from the same
// content block grammar) does not close others; only Final markers and end
// of stream do, keeping interleaved units intact.
func (a *aggregator) unitFor(id string, kind unitKind) *unit {
	if u, ok := a.units[id]; ok {
		return u
	}
	u := &unit{id: id, kind: kind}
	a.units[id] = u
	a.open = append(a.open, id)
	return u
}

// finishUnit closes one in-flight unit and appends its terminal part.
func (a *aggregator) finishUnit(id string) {
	u, ok := a.units[id]
	if !ok {
		return
	}
	delete(a.units, id)
	for i, openID := range a.open {
		if openID == id {
			a.open = append(a.open[:i], a.open[i+1:]...)
			break
		}
	}
	a.parts = append(a.parts, u.finish())
}

// finishAll closes every unit still in flight, in open order. Called at end
// of stream, and on cancellation to leave a defined partial state.
func (a *aggregator) finishAll() {
	for len(a.open) > 0 {
		a.finishUnit(a.open[0])
	}
}

// snapshotParts returns the finalized parts plus a read-only projection of
// the still-accumulating units, in open order. Streaming consumers use this
// to observe progress without disturbing the accumulation state.
func (a *aggregator) snapshotParts() []core.Part {
	parts := make([]core.Part, len(a.parts), len(a.parts)+len(a.open))
	copy(parts, a.parts)
	for _, id := range a.open {
		u := a.units[id]
		switch u.kind {
		case unitText:
			parts = append(parts, core.Text{Text: u.text.String()})
		case unitThinking:
			parts = append(parts, core.Thought{Thought: u.text.String(), Signature: u.signature})
		case unitToolCall:
			parts = append(parts, core.ToolCall{ID: u.id, Name: u.name, Args: u.args.String()})
		case unitImage:
			parts = append(parts, core.ImagePartial{ID: u.id, Data: u.data, MimeType: u.mimeType})
		case unitAudio:
			parts = append(parts, core.Audio{Data: u.data, MimeType: u.mimeType})
		}
	}
	return parts
}

// structuredText returns the accumulated text of the unit carrying structured
// output. In tool mode that is the sentinel tool call's args; otherwise it is
// the concatenation of all text accumulated so far.
func (a *aggregator) structuredText(sentinelTool string) string {
	if sentinelTool != "" {
		for _, p := range a.parts {
			if tc, ok := p.(core.ToolCall); ok && tc.Name == sentinelTool {
				return tc.Args
			}
		}
		for _, id := range a.open {
			u := a.units[id]
			if u.kind == unitToolCall && u.name == sentinelTool {
				return u.args.String()
			}
		}
		return ""
	}

	var sb strings.Builder
	for _, p := range a.parts {
		if t, ok := p.(core.Text); ok {
			sb.WriteString(t.Text)
		}
	}
	for _, id := range a.open {
		u := a.units[id]
		if u.kind == unitText {
			sb.WriteString(u.text.String())
		}
	}
	return sb.String()
}
