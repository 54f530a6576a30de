package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := &Cursor{CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC), ID: uuid.New()}
	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, c.ID, decoded.ID)
}

func TestNilCursorEncodesEmpty(t *testing.T) {
	var c *Cursor
	assert.Equal(t, "", c.Encode())

	decoded, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	for _, token := range []string{"garbage", "2025-03-01|not-a-uuid", "not-a-time|" + uuid.NewString()} {
		_, err := DecodeCursor(token)
		assert.True(t, IsCode(err, CodeValidation), "token %q should fail validation", token)
	}
}
