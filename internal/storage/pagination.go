package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
)

// Listing limits for ListByOwner.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Cursor is the position after the last record of a page.
type Cursor struct {
	CreatedAt float64 `json:"created_at"`
	ID        string  `json:"capture_id"`
}

// PageSize applies the default and ceiling to a requested limit.
func PageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// EncodeCursor renders c as an opaque URL-safe token.
func EncodeCursor(c Cursor) string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields
// a zero cursor and ok=false.
func DecodeCursor(token string) (Cursor, bool, error) {
	if token == "" {
		return Cursor{}, false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("%w: malformed next_token", capture.ErrValidation)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" {
		return Cursor{}, false, fmt.Errorf("%w: malformed next_token", capture.ErrValidation)
	}
	return c, true, nil
}

// Before reports whether a record at (createdAt, id) sorts after c in
// reverse-chronological order, i.e. belongs on a later page.
func (c Cursor) Before(createdAt float64, id string) bool {
	if createdAt != c.CreatedAt {
		return createdAt < c.CreatedAt
	}
	return id < c.ID
}
