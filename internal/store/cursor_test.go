package store

import (
	"errors"
	"sort"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC)
	token := encodeCursor(created, 42)

	decoded, err := decodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Created.Equal(created) {
		t.Fatalf("created: got %v, want %v", decoded.Created, created)
	}
	if decoded.ID != 42 {
		t.Fatalf("id: got %d, want 42", decoded.ID)
	}
}

func TestDecodeCursorGarbage(t *testing.T) {
	for _, token := range []string{"not base64!!", "bm90IGpzb24", ""} {
		if _, err := decodeCursor(token); !errors.Is(err, ErrBadCursor) {
			t.Errorf("decodeCursor(%q): expected ErrBadCursor, got %v", token, err)
		}
	}
}

func TestDecodeCursorMissingID(t *testing.T) {
	// A structurally valid token without a resumption row is still bad.
	token := encodeCursor(time.Now(), 0)
	if _, err := decodeCursor(token); !errors.Is(err, ErrBadCursor) {
		t.Fatalf("expected ErrBadCursor for zero id, got %v", err)
	}
}

// keysetPage mirrors pageByCreated's row selection in memory: rows
// strictly after the cursor under (created DESC, id DESC), capped at
// limit, tail derived by nextPage. The database contributes only the
// WHERE/ORDER BY that this reproduces.
func keysetPage(all []Anno, token string, limit int) ([]Anno, string, bool, error) {
	sorted := make([]Anno, len(all))
	copy(sorted, all)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Created.Equal(sorted[j].Created) {
			return sorted[i].Created.After(sorted[j].Created)
		}
		return sorted[i].ID > sorted[j].ID
	})

	start := 0
	if token != "" {
		c, err := decodeCursor(token)
		if err != nil {
			return nil, "", false, err
		}
		for start < len(sorted) {
			row := sorted[start]
			if row.Created.Before(c.Created) || (row.Created.Equal(c.Created) && row.ID < c.ID) {
				break
			}
			start++
		}
	}

	end := start + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	page := sorted[start:end]
	nextCursor, hasMore := nextPage(page, limit)
	return page, nextCursor, hasMore, nil
}

func TestKeysetPaginationConcatenatesWithoutGaps(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var all []Anno
	for i := 1; i <= 25; i++ {
		// Pairs share a created timestamp so the id tie-break is exercised.
		all = append(all, Anno{
			ID:      int64(i),
			Created: base.Add(time.Duration(i/2) * time.Minute),
		})
	}

	const limit = 10
	seen := make(map[int64]bool)
	var collected []Anno
	token := ""
	pages := 0
	for {
		page, next, more, err := keysetPage(all, token, limit)
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		pages++
		for _, a := range page {
			if seen[a.ID] {
				t.Fatalf("page %d repeats anno %d", pages, a.ID)
			}
			seen[a.ID] = true
			collected = append(collected, a)
		}
		if !more {
			if next != "" {
				t.Fatalf("final page must not hand out a cursor, got %q", next)
			}
			break
		}
		if next == "" {
			t.Fatalf("page %d reports more results but no cursor", pages)
		}
		token = next
	}

	if len(collected) != len(all) {
		t.Fatalf("concatenated %d annos, want %d", len(collected), len(all))
	}
	if pages != 3 {
		t.Fatalf("walked %d pages, want 3 for 25 rows at limit %d", pages, limit)
	}

	for i := 1; i < len(collected); i++ {
		prev, curr := collected[i-1], collected[i]
		if curr.Created.After(prev.Created) {
			t.Fatalf("created order broken at position %d", i)
		}
		if curr.Created.Equal(prev.Created) && curr.ID > prev.ID {
			t.Fatalf("id tie-break broken at position %d", i)
		}
	}
}

func TestNextPageShortPageIsFinal(t *testing.T) {
	items := []Anno{{ID: 1, Created: time.Now()}, {ID: 2, Created: time.Now()}}

	if cursor, more := nextPage(items, 10); more || cursor != "" {
		t.Fatalf("short page must be final, got cursor=%q more=%v", cursor, more)
	}
	if cursor, more := nextPage(items, 2); !more || cursor == "" {
		t.Fatalf("full page must hand out a cursor, got cursor=%q more=%v", cursor, more)
	}
	if cursor, more := nextPage(nil, 0); more || cursor != "" {
		t.Fatalf("empty page must be final, got cursor=%q more=%v", cursor, more)
	}
}
