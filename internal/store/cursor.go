package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrBadCursor reports a pagination token that does not decode to a
// resumption point.
var ErrBadCursor = errors.New("bad cursor")

// cursor marks the exact resumption point of a keyset-paginated query:
// the next page picks up strictly after row (created, id) under
// created DESC, id DESC order. The encoded form is opaque to callers.
type cursor struct {
	Created time.Time `json:"c"`
	ID      int64     `json:"i"`
}

func encodeCursor(created time.Time, id int64) string {
	raw, _ := json.Marshal(cursor{Created: created, ID: id})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// nextPage derives the pagination tail of one keyset page: has_more is
// the page-full heuristic, true iff the page was filled to limit, and the
// next cursor resumes strictly after the page's last row. A short page is
// final: no cursor, has_more false.
func nextPage(items []Anno, limit int) (nextCursor string, hasMore bool) {
	if len(items) != limit || len(items) == 0 {
		return "", false
	}
	last := items[len(items)-1]
	return encodeCursor(last.Created, last.ID), true
}

func decodeCursor(token string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	if c.ID == 0 {
		return cursor{}, fmt.Errorf("%w: missing resumption point", ErrBadCursor)
	}
	return c, nil
}
