// Package pagination implements cursor-based pagination for list endpoints.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Pagination carries the client-supplied page parameters.
type Pagination struct {
	PageToken string `form:"page_token" json:"page_token"`
	PageSize  int    `form:"page_size" json:"page_size"`
}

// Cursor identifies the last row of a page.
type Cursor struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// PageInfo describes how to fetch the next page.
type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

var ErrInvalidPageToken = errors.New("invalid_page_token")

// EncodeCursor serializes a cursor into an opaque page token.
func EncodeCursor(cursor Cursor) (string, error) {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses an opaque page token back into a cursor.
func DecodeCursor(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, ErrInvalidPageToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrInvalidPageToken
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return Cursor{}, ErrInvalidPageToken
	}
	if cursor.ID == "" {
		return Cursor{}, ErrInvalidPageToken
	}
	return cursor, nil
}

// BuildCursorPageInfo derives the page info from an over-fetched result set.
// Callers fetch pageSize+1 rows; the extra row signals another page exists.
func BuildCursorPageInfo[T any](items []*T, pageSize int32, tokenFn func(*T) string) *PageInfo {
	if pageSize <= 0 || len(items) == 0 {
		return &PageInfo{}
	}
	info := &PageInfo{}
	if len(items) > int(pageSize) {
		info.HasMore = true
		last := items[pageSize-1]
		if last != nil && tokenFn != nil {
			info.NextPageToken = tokenFn(last)
		}
	}
	return info
}
