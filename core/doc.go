// Package core defines the canonical, provider-agnostic data model shared by
// every other package: content parts, streaming chunks, messages, token usage,
// finish reasons and the canonical error taxonomy.
//
// All provider wire formats are translated into (and out of) these types at
// the provider boundary, so the rest of the library never branches on which
// vendor served a request. The content and chunk types form closed unions via
// unexported marker methods; consumers switch exhaustively over the concrete
// types and adding a variant is a compile-time exercise.
package core
