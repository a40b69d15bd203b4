package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/topcircler/anno/internal/blob"
	"github.com/topcircler/anno/internal/geo"
	"github.com/topcircler/anno/internal/search"
	"github.com/topcircler/anno/internal/store"
)

type annoStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUser(context.Context, int64) (store.User, error)
	InsertAnno(context.Context, store.AnnoInput, int64, string) (store.Anno, error)
	GetAnno(context.Context, int64) (store.Anno, error)
	MergeAnno(context.Context, int64, store.AnnoInput) (store.Anno, error)
	DeleteAnno(context.Context, int64) (string, bool, error)
	BumpCounter(context.Context, int64, string) (store.Anno, error)
	SetImageKey(context.Context, int64, string) error
	ByAppRecency(context.Context, string, int, string) ([]store.Anno, string, bool, error)
	ByPage(context.Context, int, string) ([]store.Anno, string, bool, error)
	ByVoteCount(context.Context, string) ([]store.Anno, error)
	ByFlagCount(context.Context, string) ([]store.Anno, error)
	ByActivityCount(context.Context, string) ([]store.Anno, error)
	ByLastActivity(context.Context, string) ([]store.Anno, error)
	ByCountry(context.Context, string) ([]store.Anno, error)
	ByCreator(context.Context, int64) ([]store.Anno, error)
	FindDuplicate(context.Context, int64, store.AnnoInput) (*store.Anno, error)
	LoadAllForIndex(context.Context) ([]store.Anno, error)
	Ping(ctx context.Context) error
}

// Service is the public operation surface of the annotation core. It
// enforces the dual-write invariant between the record store and the
// search index: every store write is followed by an index upsert or
// delete, and a failed index half surfaces as an inconsistency instead of
// rolling back committed user data.
type Service struct {
	store annoStore
	index search.Index
	geo   geo.Geocoder
	blobs blob.Store
}

// New wires the service. index, geocoder and blobs may be nil: the
// matching features degrade instead of blocking annotation writes.
func New(annoStore *store.AnnoStore, index search.Index, geocoder geo.Geocoder, blobs blob.Store) *Service {
	return &Service{
		store: annoStore,
		index: index,
		geo:   geocoder,
		blobs: blobs,
	}
}

// Bootstrap rebuilds the search index from the store when the index is
// reachable. The index is a rebuildable cache; this is also the repair
// path after a reported inconsistency.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.index == nil || !s.index.Healthy() {
		log.Printf("anno: search index unavailable, skipping bootstrap reindex")
		return nil
	}
	count, err := s.Reindex(ctx)
	if err != nil {
		return err
	}
	log.Printf("anno: bootstrap reindexed %d annos", count)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func searchDocument(a *store.Anno) search.Document {
	return search.Document{
		ID:             strconv.FormatInt(a.ID, 10),
		AppName:        a.AppName,
		AnnoText:       a.AnnoText,
		AnnoTextStems:  search.Stems(a.AnnoText),
		AppNameStems:   search.Stems(a.AppName),
		VoteCount:      a.VoteCount,
		FlagCount:      a.FlagCount,
		Popularity:     a.VoteCount - a.FlagCount,
		Created:        a.Created.Unix(),
		LastUpdateTime: a.LastUpdateTime.Unix(),
	}
}

// upsertIndex pushes the current projection of a into the search index.
// A failure here leaves the anno stored but search-invisible until the
// next upsert or reindex; the safe retry is this index half alone.
func (s *Service) upsertIndex(a *store.Anno) error {
	if s.index == nil {
		return inconsistencyError(fmt.Sprintf("anno %d stored but search index not configured", a.ID))
	}
	if err := s.index.Upsert(searchDocument(a)); err != nil {
		log.Printf("anno: index upsert %d: %v", a.ID, err)
		return inconsistencyError(fmt.Sprintf("anno %d stored but not indexed", a.ID))
	}
	return nil
}

func imageKey(id int64) string {
	return fmt.Sprintf("annos/%d", id)
}

func (s *Service) storeImage(ctx context.Context, a *store.Anno, image []byte) {
	if len(image) == 0 || s.blobs == nil {
		return
	}
	key := imageKey(a.ID)
	if err := s.blobs.Put(ctx, key, image); err != nil {
		log.Printf("anno: store image for %d: %v", a.ID, err)
		return
	}
	if a.ImageKey != key {
		if err := s.store.SetImageKey(ctx, a.ID, key); err != nil {
			log.Printf("anno: record image key for %d: %v", a.ID, err)
			return
		}
		a.ImageKey = key
	}
}

func validateCreate(req AnnoRequest) *DomainError {
	var missing []string
	if req.AnnoText == nil || *req.AnnoText == "" {
		missing = append(missing, "anno_text")
	}
	if req.SimpleX == nil {
		missing = append(missing, "simple_x")
	}
	if req.SimpleY == nil {
		missing = append(missing, "simple_y")
	}
	if req.SimpleCircleOnTop == nil {
		missing = append(missing, "simple_circle_on_top")
	}
	if req.SimpleIsMoved == nil {
		missing = append(missing, "simple_is_moved")
	}
	if req.Level == nil {
		missing = append(missing, "level")
	}
	if req.DeviceModel == nil || *req.DeviceModel == "" {
		missing = append(missing, "device_model")
	}
	if len(missing) > 0 {
		return validationError("missing required fields", missing)
	}
	return nil
}

// CreateAnno validates the request, resolves the country once from the
// coordinates, persists the record, stores the screenshot blob and
// upserts the search document. An error with code INCONSISTENCY comes
// back alongside a usable view: the anno exists but is temporarily
// unsearchable.
func (s *Service) CreateAnno(ctx context.Context, userName string, req AnnoRequest) (AnnoView, error) {
	if err := validateCreate(req); err != nil {
		return AnnoView{}, err
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return AnnoView{}, err
	}

	country := ""
	if req.Latitude != nil && req.Longitude != nil && s.geo != nil {
		country, err = s.geo.Country(ctx, *req.Latitude, *req.Longitude)
		if err != nil {
			// Creation must not block on the geocoder; the country just
			// stays empty for this anno.
			log.Printf("anno: geocode (%f, %f): %v", *req.Latitude, *req.Longitude, err)
			country = ""
		}
	}

	a, err := s.store.InsertAnno(ctx, req.storeInput(), user.ID, country)
	if err != nil {
		return AnnoView{}, err
	}

	s.storeImage(ctx, &a, req.Image)

	view := fullView(&a, &UserView{ID: user.ID, DisplayName: user.DisplayName})
	if err := s.upsertIndex(&a); err != nil {
		return view, err
	}
	return view, nil
}

// UpdateAnno merges the non-nil request fields onto the stored record and
// re-upserts the search document. The creator, coordinates and country are
// never touched; the country is not recomputed even when geo_position
// changes.
func (s *Service) UpdateAnno(ctx context.Context, id int64, req AnnoRequest) (AnnoView, error) {
	a, err := s.store.MergeAnno(ctx, id, req.storeInput())
	if errors.Is(err, sql.ErrNoRows) {
		return AnnoView{}, notFoundError(fmt.Sprintf("anno %d not found", id))
	}
	if err != nil {
		return AnnoView{}, err
	}

	s.storeImage(ctx, &a, req.Image)

	view, err := s.viewOf(ctx, &a)
	if err != nil {
		return AnnoView{}, err
	}
	if err := s.upsertIndex(&a); err != nil {
		return view, err
	}
	return view, nil
}

// DeleteAnno removes the record from the store, the index and the blob
// bucket. A second delete of the same ID reports not-found, nothing worse.
func (s *Service) DeleteAnno(ctx context.Context, id int64) error {
	key, deleted, err := s.store.DeleteAnno(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return notFoundError(fmt.Sprintf("anno %d not found", id))
	}

	if key != "" && s.blobs != nil {
		if err := s.blobs.Delete(ctx, key); err != nil {
			log.Printf("anno: delete image %s: %v", key, err)
		}
	}

	if s.index == nil {
		return nil
	}
	if err := s.index.Delete(strconv.FormatInt(id, 10)); err != nil {
		log.Printf("anno: index delete %d: %v", id, err)
		return inconsistencyError(fmt.Sprintf("anno %d deleted from store but may linger in the index", id))
	}
	return nil
}

// GetAnno returns the full response view of one annotation.
func (s *Service) GetAnno(ctx context.Context, id int64) (AnnoView, error) {
	a, err := s.store.GetAnno(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return AnnoView{}, notFoundError(fmt.Sprintf("anno %d not found", id))
	}
	if err != nil {
		return AnnoView{}, err
	}
	return s.viewOf(ctx, &a)
}

// Image returns the stored screenshot bytes for an annotation.
func (s *Service) Image(ctx context.Context, id int64) ([]byte, error) {
	a, err := s.store.GetAnno(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError(fmt.Sprintf("anno %d not found", id))
	}
	if err != nil {
		return nil, err
	}
	if a.ImageKey == "" || s.blobs == nil {
		return nil, notFoundError(fmt.Sprintf("anno %d has no image", id))
	}
	return s.blobs.Get(ctx, a.ImageKey)
}

// DuplicateCheck probes for an identical earlier submission by the same
// user. Callers run it before CreateAnno to make resubmission idempotent.
// The check-then-create pair is not locked: two concurrent identical
// submissions may both pass the probe and both be created.
func (s *Service) DuplicateCheck(ctx context.Context, userName string, req AnnoRequest) (*AnnoView, error) {
	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.FindDuplicate(ctx, user.ID, req.storeInput())
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	view, err := s.viewOf(ctx, existing)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// BumpCounter records one external vote/flag/follow-up event: the counter
// goes up, last_update_time and last_activity are re-touched, and the
// index document is refreshed.
func (s *Service) BumpCounter(ctx context.Context, id int64, kind string) (AnnoView, error) {
	switch kind {
	case store.CounterVote, store.CounterFlag, store.CounterFollowup:
	default:
		return AnnoView{}, validationError("unknown counter kind", kind)
	}

	a, err := s.store.BumpCounter(ctx, id, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return AnnoView{}, notFoundError(fmt.Sprintf("anno %d not found", id))
	}
	if err != nil {
		return AnnoView{}, err
	}

	view, err := s.viewOf(ctx, &a)
	if err != nil {
		return AnnoView{}, err
	}
	if err := s.upsertIndex(&a); err != nil {
		return view, err
	}
	return view, nil
}

// ListByAppRecency pages through an app's annos newest-first.
func (s *Service) ListByAppRecency(ctx context.Context, appName string, limit int, cursor string, projection []string) (AnnoListResponse, error) {
	items, next, more, err := s.store.ByAppRecency(ctx, appName, limit, cursor)
	if err != nil {
		return AnnoListResponse{}, mapCursorErr(err)
	}
	return s.listResponse(ctx, items, next, more, projection)
}

// ListPage pages through all annos newest-first.
func (s *Service) ListPage(ctx context.Context, limit int, cursor string, projection []string) (AnnoListResponse, error) {
	items, next, more, err := s.store.ByPage(ctx, limit, cursor)
	if err != nil {
		return AnnoListResponse{}, mapCursorErr(err)
	}
	return s.listResponse(ctx, items, next, more, projection)
}

// ListByVoteCount lists an app's annos by vote count descending.
func (s *Service) ListByVoteCount(ctx context.Context, appName string) (AnnoListResponse, error) {
	return s.unpaginated(ctx, s.store.ByVoteCount, appName)
}

// ListByFlagCount lists an app's flagged annos by flag count descending.
func (s *Service) ListByFlagCount(ctx context.Context, appName string) (AnnoListResponse, error) {
	return s.unpaginated(ctx, s.store.ByFlagCount, appName)
}

// ListByActivityCount lists an app's annos by combined
// vote+flag+followup count descending.
func (s *Service) ListByActivityCount(ctx context.Context, appName string) (AnnoListResponse, error) {
	return s.unpaginated(ctx, s.store.ByActivityCount, appName)
}

// ListByLastActivity lists an app's annos by last update time descending.
func (s *Service) ListByLastActivity(ctx context.Context, appName string) (AnnoListResponse, error) {
	return s.unpaginated(ctx, s.store.ByLastActivity, appName)
}

// ListByCountry lists an app's annos alphabetically by country.
func (s *Service) ListByCountry(ctx context.Context, appName string) (AnnoListResponse, error) {
	return s.unpaginated(ctx, s.store.ByCountry, appName)
}

// ListMine lists the calling user's annos by last update time descending.
func (s *Service) ListMine(ctx context.Context, userName string) (AnnoListResponse, error) {
	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return AnnoListResponse{}, err
	}
	items, err := s.store.ByCreator(ctx, user.ID)
	if err != nil {
		return AnnoListResponse{}, err
	}
	views, err := s.buildViews(ctx, items)
	if err != nil {
		return AnnoListResponse{}, err
	}
	return AnnoListResponse{Items: views}, nil
}

// SearchRecent runs an index-backed query ordered by creation time.
func (s *Service) SearchRecent(ctx context.Context, p SearchParams) (AnnoListResponse, error) {
	return s.searchByMode(ctx, search.SortRecent, p)
}

// SearchPopular runs an index-backed query ordered by votes minus flags.
func (s *Service) SearchPopular(ctx context.Context, p SearchParams) (AnnoListResponse, error) {
	return s.searchByMode(ctx, search.SortPopular, p)
}

// SearchActive runs an index-backed query ordered by last update time.
func (s *Service) SearchActive(ctx context.Context, p SearchParams) (AnnoListResponse, error) {
	return s.searchByMode(ctx, search.SortActive, p)
}

// searchByMode compiles the query, executes it against the index and
// re-fetches every hit from the store: the index only contributes IDs and
// order, the store remains the source of truth for response payloads. A
// hit with no store record is a stale index entry; it is logged and
// dropped, never passed through as a null item.
func (s *Service) searchByMode(ctx context.Context, sort search.SortKey, p SearchParams) (AnnoListResponse, error) {
	if s.index == nil {
		return AnnoListResponse{}, transientError("search index not configured")
	}

	compiled := search.Compile(search.Filter{
		Text:    p.Text,
		AppName: p.AppName,
		AppSet:  p.AppSet,
	})

	page, err := s.index.Search(compiled, sort, p.Limit, p.Offset)
	if err != nil {
		log.Printf("anno: search %s: %v", sort, err)
		return AnnoListResponse{}, transientError("search index unavailable")
	}

	annos := make([]store.Anno, 0, len(page.IDs))
	for _, id := range page.IDs {
		a, err := s.store.GetAnno(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("anno: search hit %d has no store record, dropping stale index entry", id)
			continue
		}
		if err != nil {
			return AnnoListResponse{}, err
		}
		annos = append(annos, a)
	}

	views, err := s.buildViews(ctx, annos)
	if err != nil {
		return AnnoListResponse{}, err
	}
	offset := page.Offset
	return AnnoListResponse{Items: views, Offset: &offset, HasMore: page.HasMore}, nil
}

// Reindex regenerates every index document from the store. This is the
// recovery path for dual-write inconsistencies.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, transientError("search index not configured")
	}
	annos, err := s.store.LoadAllForIndex(ctx)
	if err != nil {
		return 0, err
	}
	docs := make([]search.Document, 0, len(annos))
	for i := range annos {
		docs = append(docs, searchDocument(&annos[i]))
	}
	if err := s.index.Rebuild(docs); err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}
	return len(docs), nil
}

func (s *Service) unpaginated(ctx context.Context, query func(context.Context, string) ([]store.Anno, error), appName string) (AnnoListResponse, error) {
	items, err := query(ctx, appName)
	if err != nil {
		return AnnoListResponse{}, err
	}
	views, err := s.buildViews(ctx, items)
	if err != nil {
		return AnnoListResponse{}, err
	}
	return AnnoListResponse{Items: views}, nil
}

func (s *Service) listResponse(ctx context.Context, items []store.Anno, cursor string, hasMore bool, projection []string) (AnnoListResponse, error) {
	var (
		views []AnnoView
		err   error
	)
	if len(projection) > 0 {
		views, err = s.projectedViews(ctx, items, projection)
	} else {
		views, err = s.buildViews(ctx, items)
	}
	if err != nil {
		return AnnoListResponse{}, err
	}
	return AnnoListResponse{Items: views, Cursor: cursor, HasMore: hasMore}, nil
}

func mapCursorErr(err error) error {
	if errors.Is(err, store.ErrBadCursor) {
		return validationError("invalid pagination cursor", nil)
	}
	return err
}

// viewOf builds the full response view of a single anno, resolving its
// creator.
func (s *Service) viewOf(ctx context.Context, a *store.Anno) (AnnoView, error) {
	views, err := s.buildViews(ctx, []store.Anno{*a})
	if err != nil {
		return AnnoView{}, err
	}
	return views[0], nil
}

// buildViews materializes full views for a batch, resolving each distinct
// creator once.
func (s *Service) buildViews(ctx context.Context, annos []store.Anno) ([]AnnoView, error) {
	cache := make(map[int64]*UserView)
	views := make([]AnnoView, 0, len(annos))
	for i := range annos {
		creator, err := s.userView(ctx, cache, annos[i].CreatorID)
		if err != nil {
			return nil, err
		}
		views = append(views, fullView(&annos[i], creator))
	}
	return views, nil
}

// projectedViews materializes projection-only views: the ID plus exactly
// the named fields. Unknown field names are rejected up front.
func (s *Service) projectedViews(ctx context.Context, annos []store.Anno, projection []string) ([]AnnoView, error) {
	for _, field := range projection {
		if field == "creator" {
			continue
		}
		if _, ok := projectors[field]; !ok {
			return nil, validationError("unknown projection field", field)
		}
	}

	cache := make(map[int64]*UserView)
	views := make([]AnnoView, 0, len(annos))
	for i := range annos {
		view := AnnoView{ID: annos[i].ID}
		for _, field := range projection {
			if field == "creator" {
				creator, err := s.userView(ctx, cache, annos[i].CreatorID)
				if err != nil {
					return nil, err
				}
				view.Creator = creator
				continue
			}
			projectors[field](&view, &annos[i])
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) userView(ctx context.Context, cache map[int64]*UserView, userID int64) (*UserView, error) {
	if view, ok := cache[userID]; ok {
		return view, nil
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		// Creator records can lag behind imported annos; the view simply
		// omits the creator instead of failing the whole listing.
		cache[userID] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve creator %d: %w", userID, err)
	}
	view := &UserView{ID: user.ID, DisplayName: user.DisplayName}
	cache[userID] = view
	return view, nil
}
