package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/topcircler/anno/internal/search"
	"github.com/topcircler/anno/internal/store"
)

type fakeStore struct {
	ensureUserByNameFn func(context.Context, string) (store.User, error)
	getUserFn          func(context.Context, int64) (store.User, error)
	insertAnnoFn       func(context.Context, store.AnnoInput, int64, string) (store.Anno, error)
	getAnnoFn          func(context.Context, int64) (store.Anno, error)
	mergeAnnoFn        func(context.Context, int64, store.AnnoInput) (store.Anno, error)
	deleteAnnoFn       func(context.Context, int64) (string, bool, error)
	bumpCounterFn      func(context.Context, int64, string) (store.Anno, error)
	byAppRecencyFn     func(context.Context, string, int, string) ([]store.Anno, string, bool, error)
	byVoteCountFn      func(context.Context, string) ([]store.Anno, error)
	findDuplicateFn    func(context.Context, int64, store.AnnoInput) (*store.Anno, error)
	loadAllForIndexFn  func(context.Context) ([]store.Anno, error)
}

func (f *fakeStore) EnsureUserByName(ctx context.Context, name string) (store.User, error) {
	if f.ensureUserByNameFn != nil {
		return f.ensureUserByNameFn(ctx, name)
	}
	return store.User{ID: 1, DisplayName: name}, nil
}
func (f *fakeStore) GetUser(ctx context.Context, id int64) (store.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, id)
	}
	return store.User{ID: id, DisplayName: "someone"}, nil
}
func (f *fakeStore) InsertAnno(ctx context.Context, in store.AnnoInput, creatorID int64, country string) (store.Anno, error) {
	if f.insertAnnoFn != nil {
		return f.insertAnnoFn(ctx, in, creatorID, country)
	}
	return store.Anno{ID: 1, CreatorID: creatorID, Country: country}, nil
}
func (f *fakeStore) GetAnno(ctx context.Context, id int64) (store.Anno, error) {
	if f.getAnnoFn != nil {
		return f.getAnnoFn(ctx, id)
	}
	return store.Anno{ID: id, CreatorID: 1}, nil
}
func (f *fakeStore) MergeAnno(ctx context.Context, id int64, in store.AnnoInput) (store.Anno, error) {
	if f.mergeAnnoFn != nil {
		return f.mergeAnnoFn(ctx, id, in)
	}
	return store.Anno{ID: id, CreatorID: 1}, nil
}
func (f *fakeStore) DeleteAnno(ctx context.Context, id int64) (string, bool, error) {
	if f.deleteAnnoFn != nil {
		return f.deleteAnnoFn(ctx, id)
	}
	return "", true, nil
}
func (f *fakeStore) BumpCounter(ctx context.Context, id int64, kind string) (store.Anno, error) {
	if f.bumpCounterFn != nil {
		return f.bumpCounterFn(ctx, id, kind)
	}
	return store.Anno{ID: id, CreatorID: 1}, nil
}
func (f *fakeStore) SetImageKey(context.Context, int64, string) error { return nil }
func (f *fakeStore) ByAppRecency(ctx context.Context, appName string, limit int, cursor string) ([]store.Anno, string, bool, error) {
	if f.byAppRecencyFn != nil {
		return f.byAppRecencyFn(ctx, appName, limit, cursor)
	}
	return nil, "", false, nil
}
func (f *fakeStore) ByPage(context.Context, int, string) ([]store.Anno, string, bool, error) {
	return nil, "", false, nil
}
func (f *fakeStore) ByVoteCount(ctx context.Context, appName string) ([]store.Anno, error) {
	if f.byVoteCountFn != nil {
		return f.byVoteCountFn(ctx, appName)
	}
	return nil, nil
}
func (f *fakeStore) ByFlagCount(context.Context, string) ([]store.Anno, error)     { return nil, nil }
func (f *fakeStore) ByActivityCount(context.Context, string) ([]store.Anno, error) { return nil, nil }
func (f *fakeStore) ByLastActivity(context.Context, string) ([]store.Anno, error)  { return nil, nil }
func (f *fakeStore) ByCountry(context.Context, string) ([]store.Anno, error)       { return nil, nil }
func (f *fakeStore) ByCreator(context.Context, int64) ([]store.Anno, error)        { return nil, nil }
func (f *fakeStore) FindDuplicate(ctx context.Context, creatorID int64, in store.AnnoInput) (*store.Anno, error) {
	if f.findDuplicateFn != nil {
		return f.findDuplicateFn(ctx, creatorID, in)
	}
	return nil, nil
}
func (f *fakeStore) LoadAllForIndex(ctx context.Context) ([]store.Anno, error) {
	if f.loadAllForIndexFn != nil {
		return f.loadAllForIndexFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeIndex struct {
	upsertFn  func(search.Document) error
	deleteFn  func(string) error
	searchFn  func(string, search.SortKey, int, int) (search.Page, error)
	rebuildFn func([]search.Document) error
}

func (f *fakeIndex) Upsert(doc search.Document) error {
	if f.upsertFn != nil {
		return f.upsertFn(doc)
	}
	return nil
}
func (f *fakeIndex) Delete(id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(id)
	}
	return nil
}
func (f *fakeIndex) Search(query string, sort search.SortKey, limit, offset int) (search.Page, error) {
	if f.searchFn != nil {
		return f.searchFn(query, sort, limit, offset)
	}
	return search.Page{}, nil
}
func (f *fakeIndex) Rebuild(docs []search.Document) error {
	if f.rebuildFn != nil {
		return f.rebuildFn(docs)
	}
	return nil
}
func (f *fakeIndex) Healthy() bool { return true }

type fakeGeocoder struct {
	country string
	calls   int
}

func (f *fakeGeocoder) Country(context.Context, float64, float64) (string, error) {
	f.calls++
	return f.country, nil
}

func newTestService(st *fakeStore, idx *fakeIndex) *Service {
	svc := &Service{store: st}
	if idx != nil {
		svc.index = idx
	}
	return svc
}

func validCreateRequest() AnnoRequest {
	text := "the button keeps crashing"
	x, y := 10.5, 20.5
	circle, moved := true, false
	level := 1
	device := "Pixel 8"
	app := "notes"
	return AnnoRequest{
		AnnoText:          &text,
		SimpleX:           &x,
		SimpleY:           &y,
		SimpleCircleOnTop: &circle,
		SimpleIsMoved:     &moved,
		Level:             &level,
		DeviceModel:       &device,
		AppName:           &app,
	}
}

func TestCreateAnnoValidation(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeIndex{})

	_, err := svc.CreateAnno(context.Background(), "alice", AnnoRequest{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != CodeValidation {
		t.Fatalf("expected %s, got %s", CodeValidation, domainErr.Code)
	}
	missing, ok := domainErr.Details.([]string)
	if !ok {
		t.Fatalf("expected missing field list, got %#v", domainErr.Details)
	}
	for _, want := range []string{"anno_text", "simple_x", "simple_y", "level", "device_model"} {
		found := false
		for _, field := range missing {
			if field == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing fields %v should include %q", missing, want)
		}
	}
}

func TestCreateAnnoGeocodesAndIndexes(t *testing.T) {
	var inserted struct {
		country string
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		insertAnnoFn: func(_ context.Context, in store.AnnoInput, creatorID int64, country string) (store.Anno, error) {
			inserted.country = country
			return store.Anno{
				ID:             7,
				AnnoText:       *in.AnnoText,
				AppName:        *in.AppName,
				VoteCount:      0,
				FlagCount:      0,
				Created:        now,
				LastUpdateTime: now,
				CreatorID:      creatorID,
			}, nil
		},
	}
	var indexed *search.Document
	idx := &fakeIndex{
		upsertFn: func(doc search.Document) error {
			indexed = &doc
			return nil
		},
	}
	geocoder := &fakeGeocoder{country: "Japan"}
	svc := newTestService(st, idx)
	svc.geo = geocoder

	req := validCreateRequest()
	lat, lon := 35.6762, 139.6503
	req.Latitude = &lat
	req.Longitude = &lon

	view, err := svc.CreateAnno(context.Background(), "alice", req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if geocoder.calls != 1 {
		t.Fatalf("geocoder called %d times, want 1", geocoder.calls)
	}
	if inserted.country != "Japan" {
		t.Fatalf("inserted country %q, want Japan", inserted.country)
	}
	if view.ID != 7 {
		t.Fatalf("view id %d, want 7", view.ID)
	}

	if indexed == nil {
		t.Fatalf("index upsert never happened")
	}
	if indexed.ID != "7" {
		t.Fatalf("doc id %q, want \"7\"", indexed.ID)
	}
	if indexed.Created != now.Unix() || indexed.LastUpdateTime != now.Unix() {
		t.Fatalf("doc timestamps %d %d, want %d", indexed.Created, indexed.LastUpdateTime, now.Unix())
	}
	if indexed.Popularity != 0 {
		t.Fatalf("doc popularity %d, want 0", indexed.Popularity)
	}
	if len(indexed.AnnoTextStems) == 0 {
		t.Fatalf("doc has no text stems")
	}
}

func TestCreateAnnoSkipsGeocodeWithoutBothCoordinates(t *testing.T) {
	geocoder := &fakeGeocoder{country: "Nowhere"}
	svc := newTestService(&fakeStore{}, &fakeIndex{})
	svc.geo = geocoder

	req := validCreateRequest()
	lat := 10.0
	req.Latitude = &lat

	if _, err := svc.CreateAnno(context.Background(), "alice", req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if geocoder.calls != 0 {
		t.Fatalf("geocoder called %d times with only latitude set", geocoder.calls)
	}
}

func TestCreateAnnoIndexFailureIsInconsistency(t *testing.T) {
	idx := &fakeIndex{
		upsertFn: func(search.Document) error { return fmt.Errorf("connection refused") },
	}
	svc := newTestService(&fakeStore{}, idx)

	view, err := svc.CreateAnno(context.Background(), "alice", validCreateRequest())
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeInconsistency {
		t.Fatalf("expected inconsistency, got %v", err)
	}
	if view.ID == 0 {
		t.Fatalf("the stored anno must still come back with the inconsistency")
	}
}

func TestUpdateAnnoNotFound(t *testing.T) {
	st := &fakeStore{
		mergeAnnoFn: func(context.Context, int64, store.AnnoInput) (store.Anno, error) {
			return store.Anno{}, sql.ErrNoRows
		},
	}
	svc := newTestService(st, &fakeIndex{})

	_, err := svc.UpdateAnno(context.Background(), 99, AnnoRequest{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteAnnoIdempotent(t *testing.T) {
	st := &fakeStore{
		deleteAnnoFn: func(context.Context, int64) (string, bool, error) {
			return "", false, nil
		},
	}
	svc := newTestService(st, &fakeIndex{})

	err := svc.DeleteAnno(context.Background(), 42)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeNotFound {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestDeleteAnnoIndexFailureIsInconsistency(t *testing.T) {
	idx := &fakeIndex{
		deleteFn: func(string) error { return fmt.Errorf("timeout") },
	}
	svc := newTestService(&fakeStore{}, idx)

	err := svc.DeleteAnno(context.Background(), 42)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeInconsistency {
		t.Fatalf("expected inconsistency, got %v", err)
	}
}

func TestBumpCounterRejectsUnknownKind(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeIndex{})

	_, err := svc.BumpCounter(context.Background(), 1, "likes")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBumpCounterRefreshesIndex(t *testing.T) {
	st := &fakeStore{
		bumpCounterFn: func(_ context.Context, id int64, kind string) (store.Anno, error) {
			if kind != store.CounterVote {
				t.Fatalf("kind %q reached the store", kind)
			}
			return store.Anno{ID: id, VoteCount: 4, FlagCount: 1, CreatorID: 1}, nil
		},
	}
	var indexed *search.Document
	idx := &fakeIndex{
		upsertFn: func(doc search.Document) error {
			indexed = &doc
			return nil
		},
	}
	svc := newTestService(st, idx)

	view, err := svc.BumpCounter(context.Background(), 5, store.CounterVote)
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
	if view.VoteCount == nil || *view.VoteCount != 4 {
		t.Fatalf("view vote count: %v", view.VoteCount)
	}
	if indexed == nil || indexed.Popularity != 3 {
		t.Fatalf("index doc not refreshed with new popularity: %+v", indexed)
	}
}

func TestSearchPassesCompiledQuery(t *testing.T) {
	var gotQuery string
	var gotSort search.SortKey
	idx := &fakeIndex{
		searchFn: func(query string, sort search.SortKey, limit, offset int) (search.Page, error) {
			gotQuery = query
			gotSort = sort
			return search.Page{IDs: []int64{3}, Offset: offset + 1, HasMore: false}, nil
		},
	}
	svc := newTestService(&fakeStore{}, idx)

	_, err := svc.SearchPopular(context.Background(), SearchParams{Text: "hello", AppName: "notes"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotSort != search.SortPopular {
		t.Fatalf("sort %q, want %q", gotSort, search.SortPopular)
	}
	if !strings.Contains(gotQuery, `anno_text_stems = "hello"`) {
		t.Fatalf("query %q missing text clause", gotQuery)
	}
	if !strings.Contains(gotQuery, `(app_name = "notes")`) {
		t.Fatalf("query %q missing app clause", gotQuery)
	}
}

func TestSearchDropsStaleHits(t *testing.T) {
	idx := &fakeIndex{
		searchFn: func(string, search.SortKey, int, int) (search.Page, error) {
			return search.Page{IDs: []int64{1, 2, 3}, Offset: 3, HasMore: true}, nil
		},
	}
	st := &fakeStore{
		getAnnoFn: func(_ context.Context, id int64) (store.Anno, error) {
			if id == 2 {
				return store.Anno{}, sql.ErrNoRows
			}
			return store.Anno{ID: id, CreatorID: 1}, nil
		},
	}
	svc := newTestService(st, idx)

	resp, err := svc.SearchRecent(context.Background(), SearchParams{Text: "hello"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("got %d items, want 2 after dropping the stale hit", len(resp.Items))
	}
	if resp.Items[0].ID != 1 || resp.Items[1].ID != 3 {
		t.Fatalf("unexpected ids %d %d", resp.Items[0].ID, resp.Items[1].ID)
	}
	if resp.Offset == nil || *resp.Offset != 3 {
		t.Fatalf("offset must pass through the raw hit count: %v", resp.Offset)
	}
	if !resp.HasMore {
		t.Fatalf("has_more must pass through")
	}
}

func TestSearchWithoutIndexIsTransient(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)

	_, err := svc.SearchRecent(context.Background(), SearchParams{Text: "hello"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestListProjectionRejectsUnknownField(t *testing.T) {
	st := &fakeStore{
		byAppRecencyFn: func(context.Context, string, int, string) ([]store.Anno, string, bool, error) {
			return []store.Anno{{ID: 1, CreatorID: 1}}, "", false, nil
		},
	}
	svc := newTestService(st, &fakeIndex{})

	_, err := svc.ListByAppRecency(context.Background(), "notes", 10, "", []string{"anno_text", "bogus"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListProjectionReturnsOnlyRequestedFields(t *testing.T) {
	st := &fakeStore{
		byAppRecencyFn: func(context.Context, string, int, string) ([]store.Anno, string, bool, error) {
			return []store.Anno{{
				ID:        1,
				AnnoText:  "hello",
				AppName:   "notes",
				VoteCount: 9,
				CreatorID: 3,
			}}, "next-token", true, nil
		},
		getUserFn: func(_ context.Context, id int64) (store.User, error) {
			return store.User{ID: id, DisplayName: "carol"}, nil
		},
	}
	svc := newTestService(st, &fakeIndex{})

	resp, err := svc.ListByAppRecency(context.Background(), "notes", 10, "", []string{"anno_text", "creator"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("got %d items", len(resp.Items))
	}
	item := resp.Items[0]
	if item.AnnoText == nil || *item.AnnoText != "hello" {
		t.Fatalf("projected anno_text: %v", item.AnnoText)
	}
	if item.Creator == nil || item.Creator.DisplayName != "carol" {
		t.Fatalf("projected creator: %+v", item.Creator)
	}
	if item.AppName != nil || item.VoteCount != nil {
		t.Fatalf("unrequested fields leaked: %+v", item)
	}
	if resp.Cursor != "next-token" || !resp.HasMore {
		t.Fatalf("pagination fields lost: %q %v", resp.Cursor, resp.HasMore)
	}
}

func TestListBadCursorIsValidationError(t *testing.T) {
	st := &fakeStore{
		byAppRecencyFn: func(context.Context, string, int, string) ([]store.Anno, string, bool, error) {
			return nil, "", false, fmt.Errorf("%w: garbage", store.ErrBadCursor)
		},
	}
	svc := newTestService(st, &fakeIndex{})

	_, err := svc.ListByAppRecency(context.Background(), "notes", 10, "garbage", nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDuplicateCheck(t *testing.T) {
	existing := store.Anno{ID: 11, AnnoText: "same words", CreatorID: 1}
	st := &fakeStore{
		findDuplicateFn: func(_ context.Context, creatorID int64, in store.AnnoInput) (*store.Anno, error) {
			if in.AnnoText != nil && *in.AnnoText == "same words" {
				return &existing, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(st, &fakeIndex{})

	text := "same words"
	dup, err := svc.DuplicateCheck(context.Background(), "alice", AnnoRequest{AnnoText: &text})
	if err != nil {
		t.Fatalf("duplicate check: %v", err)
	}
	if dup == nil || dup.ID != 11 {
		t.Fatalf("expected the earlier anno, got %+v", dup)
	}

	other := "different words"
	dup, err = svc.DuplicateCheck(context.Background(), "alice", AnnoRequest{AnnoText: &other})
	if err != nil {
		t.Fatalf("duplicate check: %v", err)
	}
	if dup != nil {
		t.Fatalf("expected no duplicate, got %+v", dup)
	}
}

func TestListByVoteCountPreservesStoreOrder(t *testing.T) {
	// Vote counts 5, 3, 3, 1 with the tie broken by id descending; the
	// response must carry the store's order through untouched.
	st := &fakeStore{
		byVoteCountFn: func(context.Context, string) ([]store.Anno, error) {
			return []store.Anno{
				{ID: 4, VoteCount: 5, CreatorID: 1},
				{ID: 3, VoteCount: 3, CreatorID: 1},
				{ID: 2, VoteCount: 3, CreatorID: 1},
				{ID: 1, VoteCount: 1, CreatorID: 1},
			}, nil
		},
	}
	svc := newTestService(st, &fakeIndex{})

	resp, err := svc.ListByVoteCount(context.Background(), "notes")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantIDs := []int64{4, 3, 2, 1}
	wantVotes := []int{5, 3, 3, 1}
	if len(resp.Items) != len(wantIDs) {
		t.Fatalf("got %d items, want %d", len(resp.Items), len(wantIDs))
	}
	for i, item := range resp.Items {
		if item.ID != wantIDs[i] {
			t.Errorf("position %d: id %d, want %d", i, item.ID, wantIDs[i])
		}
		if item.VoteCount == nil || *item.VoteCount != wantVotes[i] {
			t.Errorf("position %d: vote count %v, want %d", i, item.VoteCount, wantVotes[i])
		}
	}
}

func TestCreateAnnoRoundTripsFields(t *testing.T) {
	now := time.Date(2024, 7, 4, 8, 0, 0, 0, time.UTC)
	st := &fakeStore{
		insertAnnoFn: func(_ context.Context, in store.AnnoInput, creatorID int64, country string) (store.Anno, error) {
			a := store.Anno{
				ID:             13,
				AnnoType:       "simple_comment",
				Country:        country,
				Created:        now,
				CreatorID:      creatorID,
				LastUpdateTime: now,
				LastActivity:   "create",
				LastUpdateType: "create",
			}
			a.ApplyInput(in)
			return a, nil
		},
		ensureUserByNameFn: func(_ context.Context, name string) (store.User, error) {
			return store.User{ID: 3, DisplayName: name}, nil
		},
		getUserFn: func(_ context.Context, id int64) (store.User, error) {
			return store.User{ID: id, DisplayName: "alice"}, nil
		},
	}
	svc := newTestService(st, &fakeIndex{})

	req := validCreateRequest()
	view, err := svc.CreateAnno(context.Background(), "alice", req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if view.ID != 13 {
		t.Fatalf("id %d, want 13", view.ID)
	}
	if view.AnnoText == nil || *view.AnnoText != *req.AnnoText {
		t.Errorf("anno_text: %v, want %q", view.AnnoText, *req.AnnoText)
	}
	if view.SimpleX == nil || *view.SimpleX != *req.SimpleX {
		t.Errorf("simple_x: %v, want %v", view.SimpleX, *req.SimpleX)
	}
	if view.Level == nil || *view.Level != *req.Level {
		t.Errorf("level: %v, want %d", view.Level, *req.Level)
	}
	if view.DeviceModel == nil || *view.DeviceModel != *req.DeviceModel {
		t.Errorf("device_model: %v, want %q", view.DeviceModel, *req.DeviceModel)
	}
	if view.AppName == nil || *view.AppName != *req.AppName {
		t.Errorf("app_name: %v, want %q", view.AppName, *req.AppName)
	}
	if view.AnnoType == nil || *view.AnnoType != "simple_comment" {
		t.Errorf("anno_type should default to simple_comment, got %v", view.AnnoType)
	}
	if view.Created == nil || !view.Created.Equal(now) {
		t.Errorf("created: %v, want %v", view.Created, now)
	}
	if view.Creator == nil || view.Creator.ID != 3 || view.Creator.DisplayName != "alice" {
		t.Errorf("creator: %+v", view.Creator)
	}
}

func TestReindexRebuildsEveryAnno(t *testing.T) {
	st := &fakeStore{
		loadAllForIndexFn: func(context.Context) ([]store.Anno, error) {
			return []store.Anno{
				{ID: 1, VoteCount: 2, FlagCount: 1},
				{ID: 2},
				{ID: 3},
			}, nil
		},
	}
	var rebuilt []search.Document
	idx := &fakeIndex{
		rebuildFn: func(docs []search.Document) error {
			rebuilt = docs
			return nil
		},
	}
	svc := newTestService(st, idx)

	count, err := svc.Reindex(context.Background())
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if count != 3 || len(rebuilt) != 3 {
		t.Fatalf("reindexed %d docs, rebuilt %d, want 3", count, len(rebuilt))
	}
	if rebuilt[0].ID != "1" || rebuilt[0].Popularity != 1 {
		t.Fatalf("first doc wrong: %+v", rebuilt[0])
	}
}
