// Package response reconstructs complete logical responses from provider
// streams and wraps finished exchanges for continuation.
//
// A provider decoder normalizes its native event grammar into core chunk
// variants and hands them over as a ChunkSource. The stream aggregator folds
// those chunks into content parts keyed by correlation id, tolerating
// interleaved units, and a StreamResponse freezes into a terminal Response
// once the source is drained via Finish. A Response exposes derived views
// over the latest assistant turn (text, tool calls, thinking, parsed
// structured output) and the Resume operation, which appends a user turn and
// issues a new call, possibly against a different provider or model than the
// one that produced the prior turn.
package response
