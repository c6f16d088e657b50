// Package partialjson locates and repairs truncated JSON documents produced
// by streaming model output. It backs partial structured-output parsing: the
// accumulated text of a still-streaming response is located, completed into a
// syntactically valid document, and parsed best-effort.
package partialjson

import (
	"encoding/json"
	"strings"

	"github.com/anyllm/anyllm/core"
	"github.com/tidwall/gjson"
)

const fenceTag = "```json"

// Locate extracts the JSON payload from model output text.
//
// Precedence: the last fenced code block tagged `json` (even if
// unterminated) wins over bare JSON detected by brace-balance scanning from
// the first '{' to its matching (or, if absent, the final) '}'. A fence
// appearing inside a matched string value does not terminate the block.
//
// If no opening '{' exists anywhere in the candidate payload, Locate returns
// a canonical MalformedOutput error.
func Locate(text string) (string, error) {
	if payload, ok := locateFenced(text); ok {
		if !strings.Contains(payload, "{") {
			return "", core.NewError(core.KindMalformedOutput, "missing '{'")
		}
		return strings.TrimSpace(payload), nil
	}
	return locateBare(text)
}

// locateFenced finds the content of the last ```json fenced block.
func locateFenced(text string) (string, bool) {
	start := strings.LastIndex(text, fenceTag)
	if start < 0 {
		return "", false
	}
	body := text[start+len(fenceTag):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	// Scan for the closing fence, ignoring fences inside JSON strings.
	var inString, escaped bool
	for i := 0; i < len(body); i++ {
		c := body[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '`':
			if strings.HasPrefix(body[i:], "```") {
				return body[:i], true
			}
		}
	}
	// Unterminated block: everything after the fence is the payload.
	return body, true
}

// locateBare scans from the first '{' to its matching close brace. The scan
// is quote and escape aware so braces inside string values do not count.
// A document truncated before balancing is returned as-is for the lenient
// completer to repair.
func locateBare(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", core.NewError(core.KindMalformedOutput, "missing '{'")
	}
	var inString, escaped bool
	depth := 0
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	if end := strings.LastIndexByte(text, '}'); end > start && depth == 0 {
		return text[start : end+1], nil
	}
	return text[start:], nil
}

// Complete repairs a truncated JSON document by tracking parse state and
// appending the closing tokens the truncation cut off. Dangling commas,
// colons and bare object keys are trimmed so the result always parses.
func Complete(s string) string {
	var (
		inString bool
		escaped  bool
		stack    []byte // tracks pending '}' and ']'
	)

	end := len(s)
	for end > 0 && isSpace(s[end-1]) {
		end--
	}
	if end == 0 {
		return "{}"
	}
	s = s[:end]

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	buf := make([]byte, 0, len(s)+len(stack)+2)
	buf = append(buf, s...)

	if inString || escaped {
		buf = append(buf, '"')
	}

	// Iteratively trim trailing fragments that do not form valid values:
	// commas, colons, bare object keys (a quoted string preceded by ','
	// or '{'), and truncated literal or number tokens.
	for {
		n := len(buf)
		if n == 0 {
			break
		}
		last := buf[n-1]

		if isSpace(last) || last == ',' || last == ':' {
			buf = buf[:n-1]
			continue
		}

		if isTokenChar(last) {
			start := n - 1
			for start > 0 && isTokenChar(buf[start-1]) {
				start--
			}
			// A cut-off "tru" or "1e" cannot be closed, only removed.
			if !json.Valid(buf[start:n]) {
				buf = buf[:start]
				continue
			}
		}

		if last == '"' {
			i := n - 2
			for i >= 0 {
				if buf[i] == '"' && (i == 0 || buf[i-1] != '\\') {
					break
				}
				i--
			}
			if i >= 0 {
				before := i - 1
				for before >= 0 && isSpace(buf[before]) {
					before--
				}
				if before >= 0 && buf[before] == ',' {
					buf = buf[:before]
					continue
				}
				if before >= 0 && buf[before] == '{' {
					buf = buf[:before+1]
					continue
				}
			}
		}

		break
	}

	for i := len(stack) - 1; i >= 0; i-- {
		buf = append(buf, stack[i])
	}

	return string(buf)
}

// Parse locates the JSON payload in text, repairs truncation and unmarshals
// the result. The returned error is canonical: MalformedOutput when no JSON
// could be located, FormatValidation when even the repaired document does not
// parse.
func Parse(text string) (any, error) {
	payload, err := Locate(text)
	if err != nil {
		return nil, err
	}

	var value any
	if err := json.Unmarshal([]byte(payload), &value); err == nil {
		return value, nil
	}

	completed := Complete(payload)
	if err := json.Unmarshal([]byte(completed), &value); err != nil {
		return nil, core.WrapError(core.KindFormatValidation, "unparseable JSON payload", err)
	}
	return value, nil
}

// ObjectOf best-effort parses a truncated JSON object string into a map. It
// always returns a usable (possibly empty) object, never nil: the result of
// repairing the input is a syntactically valid incomplete-tree document at
// every prefix boundary. Used by the stream aggregator to maintain the
// accumulated args_partial view of a streaming tool call.
func ObjectOf(s string) map[string]any {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}
	}
	completed := Complete(s)
	if !gjson.Valid(completed) {
		return map[string]any{}
	}
	if obj, ok := gjson.Parse(completed).Value().(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// isTokenChar reports whether c can appear in a bare JSON literal or number
// token (true, false, null, digits, sign, exponent, decimal point).
func isTokenChar(c byte) bool {
	return c >= '0' && c <= '9' ||
		c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c == '+' || c == '-' || c == '.'
}
