package transactions_repo

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor pins a position in the newest-first listing: the creation time and
// id of the last row already returned. It travels as an opaque base64 token.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func EncodeCursor(c Cursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, fmt.Errorf("malformed cursor %q", token)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	return Cursor{CreatedAt: createdAt, ID: parts[1]}, nil
}
