// Package extract pulls structured JSON out of free-form model output.
//
// Model responses are untrusted text: the JSON we asked for may arrive wrapped
// in a fenced code block, surrounded by prose, or not at all. Extraction never
// fails with an error; it returns a tagged Result and the caller decides what a
// malformed response means for its own pipeline.
package extract

import (
	"encoding/json"
	"strings"
)

// Result is the outcome of extracting JSON from raw model text.
// Exactly one of the two states holds: Parsed with the raw JSON bytes,
// or malformed with the original text preserved for logging.
type Result struct {
	parsed bool
	data   []byte
	raw    string
}

// Parsed reports whether valid JSON was found.
func (r Result) Parsed() bool { return r.parsed }

// Bytes returns the extracted JSON. Only meaningful when Parsed is true.
func (r Result) Bytes() []byte { return r.data }

// Raw returns the original model text, useful for diagnostics when malformed.
func (r Result) Raw() string { return r.raw }

// Unmarshal decodes the extracted JSON into v. Returns false without touching v
// when the result is malformed or the JSON does not fit the target shape.
func (r Result) Unmarshal(v any) bool {
	if !r.parsed {
		return false
	}
	return json.Unmarshal(r.data, v) == nil
}

// JSON locates a single JSON object in raw model text.
//
// Policy: a fenced block tagged json wins; otherwise the first fenced block of
// any language; otherwise the whole text is assumed to be JSON. As a last
// resort the outermost {...} span is tried, which covers models that prefix
// the object with prose.
func JSON(text string) Result {
	candidate := strings.TrimSpace(text)

	if block, ok := fencedBlock(candidate, "json"); ok {
		candidate = block
	} else if block, ok := fencedBlock(candidate, ""); ok {
		candidate = block
	}

	candidate = strings.TrimSpace(candidate)
	if json.Valid([]byte(candidate)) {
		return Result{parsed: true, data: []byte(candidate), raw: text}
	}

	// Fall back to the outermost object boundaries.
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		span := candidate[start : end+1]
		if json.Valid([]byte(span)) {
			return Result{parsed: true, data: []byte(span), raw: text}
		}
	}

	return Result{parsed: false, raw: text}
}

// fencedBlock returns the contents of the first ``` fence in s. When lang is
// non-empty only a fence opened with that language tag matches; when empty any
// fence matches (the opening line's tag is discarded).
func fencedBlock(s, lang string) (string, bool) {
	marker := "```" + lang
	start := strings.Index(s, marker)
	if start == -1 {
		return "", false
	}

	rest := s[start+len(marker):]
	if lang == "" {
		// Drop the language tag, if any, through the end of the opening line.
		if nl := strings.Index(rest, "\n"); nl >= 0 {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, "```")
	if end == -1 {
		// Unterminated fence: take everything after the opening marker.
		return rest, true
	}
	return rest[:end], true
}
