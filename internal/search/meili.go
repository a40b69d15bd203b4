package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxAnnos = "anno_index"

// Meili implements Index via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the anno index.
// The service keeps running without it: annos stay readable through the
// store-backed listings, only the search modes degrade.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxAnnos,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxAnnos, err)
	}

	index := m.client.Index(idxAnnos)

	filterable := []interface{}{"app_name", "anno_text_stems", "app_name_stems"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxAnnos, err)
	}
	sortable := []string{"created", "popularity", "last_update_time"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("search: update sortable attrs for %s: %v", idxAnnos, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// sortExpr maps a sort key to the index's sort expression.
func sortExpr(sort SortKey) string {
	switch sort {
	case SortPopular:
		return "popularity:desc"
	case SortActive:
		return "last_update_time:desc"
	default:
		return "created:desc"
	}
}

// retrievedFields is the fixed per-mode projection pulled back from the
// index: the text fields plus whatever the sort reads, for tie-break
// stability. Only the IDs matter downstream.
func retrievedFields(sort SortKey) []string {
	base := []string{"id", "anno_text", "app_name"}
	switch sort {
	case SortPopular:
		return append(base, "vote_count", "flag_count", "popularity")
	case SortActive:
		return append(base, "last_update_time")
	default:
		return append(base, "created")
	}
}

// Search executes a compiled query with offset pagination. A query equal
// to AlwaysFalse returns an empty page without a round trip: the grammar
// has no false literal, so the adapter is where the token bottoms out.
func (m *Meili) Search(query string, sort SortKey, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if query == AlwaysFalse {
		return Page{IDs: []int64{}, Offset: offset, HasMore: false}, nil
	}
	if !m.healthy.Load() {
		return Page{}, fmt.Errorf("meilisearch unhealthy")
	}

	req := &meili.SearchRequest{
		Limit:                int64(limit),
		Offset:               int64(offset),
		Sort:                 []string{sortExpr(sort)},
		AttributesToRetrieve: retrievedFields(sort),
	}
	if query != "" {
		req.Filter = query
	}

	resp, err := m.client.Index(idxAnnos).Search("", req)
	if err != nil {
		m.healthy.Store(false)
		return Page{}, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]int64, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		raw := decodeString(hit, "id")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Printf("search: non-numeric doc id %q in %s", raw, idxAnnos)
			continue
		}
		ids = append(ids, id)
	}

	return Page{
		IDs:     ids,
		Offset:  offset + len(resp.Hits),
		HasMore: len(resp.Hits) == limit,
	}, nil
}

// Upsert adds or replaces one annotation document.
func (m *Meili) Upsert(doc Document) error {
	_, err := m.client.Index(idxAnnos).AddDocuments([]Document{doc}, nil)
	return err
}

// Delete removes an annotation document by its string ID.
func (m *Meili) Delete(id string) error {
	_, err := m.client.Index(idxAnnos).DeleteDocument(id, nil)
	return err
}

// Rebuild bulk-upserts a full projection of the store, the recovery path
// for a drifted index.
func (m *Meili) Rebuild(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAnnos).AddDocuments(docs, nil)
	return err
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
