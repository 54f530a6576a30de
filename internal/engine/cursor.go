package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cursor is an opaque pagination position keyed by (created_at, id) so pages
// stay stable under concurrent inserts.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Encode renders the cursor as the wire token handed to clients.
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	return c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
}

// DecodeCursor parses a wire token. Empty input is a nil cursor.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	sep := strings.LastIndexByte(token, '|')
	if sep < 0 {
		return nil, NewValidation("cursor", "malformed cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, token[:sep])
	if err != nil {
		return nil, NewValidation("cursor", fmt.Sprintf("malformed cursor timestamp: %v", err))
	}
	id, err := uuid.Parse(token[sep+1:])
	if err != nil {
		return nil, NewValidation("cursor", fmt.Sprintf("malformed cursor id: %v", err))
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}
