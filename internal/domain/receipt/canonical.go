package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalBody encodes a receipt body deterministically: object keys sorted,
// no insignificant whitespace, shortest float representation, UTF-8 strings
// escaped the same way on every run. The encoding feeds the content hash, so
// two semantically equal bodies must always produce identical bytes.
//
// encoding/json already sorts map keys and emits compact numbers; the round
// trip through any normalises input that arrived as raw JSON so struct field
// order and formatting cannot leak into the hash.
func CanonicalBody(body map[string]any) ([]byte, error) {
	if len(body) == 0 {
		return []byte("{}"), nil
	}
	first, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	var normalized any
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	if err := dec.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("canonical normalize: %w", err)
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical re-encode: %w", err)
	}
	return out, nil
}
