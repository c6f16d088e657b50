package partialjson

import (
	"testing"

	"github.com/anyllm/anyllm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Locate Tests --------------------

func TestLocateFencedBlock(t *testing.T) {
	payload, err := Locate("Sure! ```json\n{\"key\": \"value\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, `{"key": "value"}`, payload)
}

func TestLocateFencedBlockUnterminated(t *testing.T) {
	payload, err := Locate("Here you go:\n```json\n{\"key\": \"val")
	require.NoError(t, err)
	assert.Equal(t, `{"key": "val`, payload)
}

func TestLocateLastFencedBlockWins(t *testing.T) {
	text := "```json\n{\"first\": 1}\n```\nCorrection:\n```json\n{\"second\": 2}\n```"
	payload, err := Locate(text)
	require.NoError(t, err)
	assert.Equal(t, `{"second": 2}`, payload)
}

func TestLocateFenceInsideStringIgnored(t *testing.T) {
	// The backticks inside the string value must not close the block.
	text := "```json\n{\"snippet\": \"use ```json fences\", \"n\": 1}\n```"
	payload, err := Locate(text)
	require.NoError(t, err)
	assert.Equal(t, `{"snippet": "use `+"```"+`json fences", "n": 1}`, payload)
}

func TestLocateBareJSON(t *testing.T) {
	payload, err := Locate(`The answer is {"a": {"b": 2}} as requested.`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": 2}}`, payload)
}

func TestLocateBareTruncated(t *testing.T) {
	payload, err := Locate(`prefix {"a": [1, 2`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": [1, 2`, payload)
}

func TestLocateBraceInsideStringIgnored(t *testing.T) {
	payload, err := Locate(`{"text": "curly } brace"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"text": "curly } brace"}`, payload)
}

func TestLocateMissingBrace(t *testing.T) {
	_, err := Locate("no json here")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindMalformedOutput))
	assert.Contains(t, err.Error(), "missing '{'")
}

// -------------------- Complete Tests --------------------

func TestCompleteAlreadyValid(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, Complete(`{"a": 1}`))
}

func TestCompleteOpenString(t *testing.T) {
	assert.Equal(t, `{"title": "The"}`, Complete(`{"title": "The`))
}

func TestCompleteDanglingKey(t *testing.T) {
	// A bare key with no value is trimmed, along with its comma.
	assert.Equal(t, `{"a": 1}`, Complete(`{"a": 1, "b`))
	assert.Equal(t, `{"a": 1}`, Complete(`{"a": 1, "b":`))
}

func TestCompleteNestedContainers(t *testing.T) {
	assert.Equal(t, `{"a": [1, {"b": 2}]}`, Complete(`{"a": [1, {"b": 2`))
}

func TestCompleteEmptyInput(t *testing.T) {
	assert.Equal(t, "{}", Complete("   "))
}

func TestCompleteEscapedQuote(t *testing.T) {
	assert.Equal(t, `{"a": "say \"hi"}`, Complete(`{"a": "say \"hi`))
}

func TestCompleteTruncatedLiteral(t *testing.T) {
	// A cut-off literal drags its dangling key out with it.
	assert.Equal(t, `{}`, Complete(`{"done": tru`))
	assert.Equal(t, `{"a": 1}`, Complete(`{"a": 1, "done": fal`))
	assert.Equal(t, `{"a": 1}`, Complete(`{"a": 1, "b": nul`))
}

func TestCompleteTruncatedNumber(t *testing.T) {
	assert.Equal(t, `{}`, Complete(`{"n": 1e`))
	assert.Equal(t, `{}`, Complete(`{"n": -`))
	assert.Equal(t, `{"a": 1}`, Complete(`{"a": 1, "n": 2.`))
}

func TestCompleteKeepsWholeLiterals(t *testing.T) {
	assert.Equal(t, `{"done": true}`, Complete(`{"done": true`))
	assert.Equal(t, `{"n": 1e5}`, Complete(`{"n": 1e5`))
}

// -------------------- Parse Tests --------------------

func TestParseProseWrappedFence(t *testing.T) {
	v, err := Parse("Sure! ```json\n{\"key\": \"value\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "value"}, v)
}

func TestParseTruncated(t *testing.T) {
	v, err := Parse(`{"title": "The`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "The"}, v)
}

func TestParseNoJSON(t *testing.T) {
	_, err := Parse("just words")
	assert.True(t, core.IsKind(err, core.KindMalformedOutput))
}
