// Package encoding implements the value codec used by every dataset
// read and write path.
//
// Values are stored in nullable TEXT columns. Structured values (maps,
// slices) and non-string scalars are serialized to canonical JSON text;
// plain strings are stored as-is. Decoding attempts a JSON parse and
// falls back to returning the raw text unchanged, so a malformed stored
// value is treated as an opaque scalar rather than an error.
//
// The encoding is tag-free: a plain string that happens to parse as JSON
// ("25", "true", "[1,2]") is reinterpreted as the structured value on
// read. That ambiguity is what lets numeric values survive the round
// trip through TEXT columns, and it keeps the stored text directly
// readable with any SQLite client.
package encoding

import (
	"encoding/json"
	"fmt"
)

// EncodeValue converts a value to its stored representation.
// nil stays nil (stored as NULL) and plain strings pass through
// unchanged; everything else becomes canonical JSON text.
func EncodeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode value: %w", err)
		}
		return string(data), nil
	}
}

// DecodeValue interprets text read back from a TEXT column. It attempts
// a JSON parse first; on failure the raw text is returned unchanged.
// JSON numbers decode as float64, per encoding/json.
func DecodeValue(text string) any {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return text
	}
	return value
}
