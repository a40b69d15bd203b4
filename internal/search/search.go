// Package search maintains the secondary full-text index of annotations
// and compiles free-text/app-scoped requests into its query grammar. The
// index is a rebuildable projection of the store, never authoritative.
package search

// SortKey selects the index-side ordering of a search.
type SortKey string

const (
	// SortRecent orders by creation time descending.
	SortRecent SortKey = "recent"
	// SortPopular orders by vote_count - flag_count descending.
	SortPopular SortKey = "popular"
	// SortActive orders by last update time descending.
	SortActive SortKey = "active"
)

// DefaultLimit is the page size applied when the caller supplies none.
const DefaultLimit = 20

// Document is the denormalized projection of one annotation held by the
// index, keyed by the decimal string form of the annotation ID. The stem
// arrays power the compiled filter grammar; popularity is precomputed
// because the index cannot sort by expression.
type Document struct {
	ID             string   `json:"id"`
	AppName        string   `json:"app_name"`
	AnnoText       string   `json:"anno_text"`
	AnnoTextStems  []string `json:"anno_text_stems"`
	AppNameStems   []string `json:"app_name_stems"`
	VoteCount      int      `json:"vote_count"`
	FlagCount      int      `json:"flag_count"`
	Popularity     int      `json:"popularity"`
	Created        int64    `json:"created"`
	LastUpdateTime int64    `json:"last_update_time"`
}

// Page is one slice of index hits. Only the IDs matter downstream: the
// caller re-fetches full records from the store.
type Page struct {
	IDs []int64
	// Offset to pass back on the next call (input offset + hits returned).
	Offset int
	// HasMore is the page-full heuristic: true iff hits == limit. It means
	// "at least one more probably exists", not an exact remaining count.
	HasMore bool
}

// Index is the secondary search repository.
type Index interface {
	Upsert(doc Document) error
	Delete(id string) error
	Search(query string, sort SortKey, limit, offset int) (Page, error)
	Rebuild(docs []Document) error
	Healthy() bool
}
