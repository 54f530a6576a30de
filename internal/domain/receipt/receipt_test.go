package receipt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasLocatability(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		want bool
	}{
		{"nil body", nil, false},
		{"empty body", map[string]any{}, false},
		{"result only", map[string]any{"result_payload": map[string]any{"ok": true}}, false},
		{"artifacts", map[string]any{"artifacts": []any{"s3://bucket/out.json"}}, true},
		{"empty artifacts", map[string]any{"artifacts": []any{}}, false},
		{"delivery proof", map[string]any{"delivery_proof": map[string]any{"callback_status": 200}}, true},
		{"empty delivery proof", map[string]any{"delivery_proof": map[string]any{}}, false},
		{"artifacts wrong type", map[string]any{"artifacts": "s3://bucket/out.json"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasLocatability(tc.body))
		})
	}
}
