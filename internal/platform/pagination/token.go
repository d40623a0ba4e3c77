package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor addresses the last row of a page ordered by (created_at desc, id desc).
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// EncodeToken serialises cursor into a URL-safe page token. The zero cursor encodes to "".
func EncodeToken(cursor Cursor) string {
	if cursor.IsZero() {
		return ""
	}
	data, _ := json.Marshal(cursor)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToken parses a token produced by EncodeToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if strings.TrimSpace(cursor.ID) == "" || cursor.CreatedAt.IsZero() {
		return Cursor{}, fmt.Errorf("%w: incomplete cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}
