package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AnnoStore is the primary transactional repository for annotations. It is
// the source of truth: the search index only carries a projection of what
// lives here.
type AnnoStore struct {
	db *sql.DB
}

func NewAnnoStore(db *sql.DB) *AnnoStore {
	return &AnnoStore{db: db}
}

func (s *AnnoStore) DB() *sql.DB {
	return s.db
}

const annoColumns = `id, anno_text, simple_x, simple_y, anno_type, simple_circle_on_top,
	simple_is_moved, level, device_model, app_name, app_version, os_name, os_version,
	draw_elements, screenshot_is_anonymized, geo_position, latitude, longitude, country,
	image_key, flag_count, vote_count, followup_count, created, creator_id,
	last_update_time, last_activity, last_update_type`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnno(row rowScanner) (Anno, error) {
	var a Anno
	var lat, lon sql.NullFloat64
	err := row.Scan(
		&a.ID, &a.AnnoText, &a.SimpleX, &a.SimpleY, &a.AnnoType, &a.SimpleCircleOnTop,
		&a.SimpleIsMoved, &a.Level, &a.DeviceModel, &a.AppName, &a.AppVersion, &a.OSName, &a.OSVersion,
		&a.DrawElements, &a.ScreenshotIsAnonymized, &a.GeoPosition, &lat, &lon, &a.Country,
		&a.ImageKey, &a.FlagCount, &a.VoteCount, &a.FollowupCount, &a.Created, &a.CreatorID,
		&a.LastUpdateTime, &a.LastActivity, &a.LastUpdateType,
	)
	if err != nil {
		return Anno{}, err
	}
	if lat.Valid {
		a.Latitude = &lat.Float64
	}
	if lon.Valid {
		a.Longitude = &lon.Float64
	}
	return a, nil
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

func annoTypeOrDefault(p *string) string {
	if p == nil || *p == "" {
		return "simple_comment"
	}
	return *p
}

func (s *AnnoStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, created_at FROM users WHERE display_name=$1`, name).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.anno.dev'))
		ON CONFLICT (display_name) DO UPDATE SET display_name=EXCLUDED.display_name
		RETURNING id, display_name, email, created_at
	`, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *AnnoStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// InsertAnno persists a new annotation. Defaults are materialized here so
// that a duplicate probe with the same input matches what was written.
// country is resolved by the caller (once, at creation) and stored as-is.
func (s *AnnoStore) InsertAnno(ctx context.Context, in AnnoInput, creatorID int64, country string) (Anno, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO annos (anno_text, simple_x, simple_y, anno_type, simple_circle_on_top,
			simple_is_moved, level, device_model, app_name, app_version, os_name, os_version,
			draw_elements, screenshot_is_anonymized, geo_position, latitude, longitude, country,
			creator_id, created, last_update_time, last_activity, last_update_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, COALESCE($20, NOW()), NOW(), 'create', 'create')
		RETURNING `+annoColumns,
		deref(in.AnnoText), deref(in.SimpleX), deref(in.SimpleY), annoTypeOrDefault(in.AnnoType),
		deref(in.SimpleCircleOnTop), deref(in.SimpleIsMoved), deref(in.Level), deref(in.DeviceModel),
		deref(in.AppName), deref(in.AppVersion), deref(in.OSName), deref(in.OSVersion),
		deref(in.DrawElements), deref(in.ScreenshotIsAnonymized), deref(in.GeoPosition),
		in.Latitude, in.Longitude, country, creatorID, in.Created,
	)
	a, err := scanAnno(row)
	if err != nil {
		return Anno{}, fmt.Errorf("insert anno: %w", err)
	}
	return a, nil
}

func (s *AnnoStore) GetAnno(ctx context.Context, id int64) (Anno, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+annoColumns+` FROM annos WHERE id=$1`, id)
	return scanAnno(row)
}

// MergeAnno copies every non-nil input field onto the stored record and
// writes the result back in a single UPDATE, so a reader never observes a
// half-merged row. The creator, creation time, coordinates and country are
// not update-able.
func (s *AnnoStore) MergeAnno(ctx context.Context, id int64, in AnnoInput) (Anno, error) {
	existing, err := s.GetAnno(ctx, id)
	if err != nil {
		return Anno{}, err
	}
	existing.ApplyInput(in)

	row := s.db.QueryRowContext(ctx, `
		UPDATE annos
		SET anno_text=$2, simple_x=$3, simple_y=$4, anno_type=$5, simple_circle_on_top=$6,
			simple_is_moved=$7, level=$8, device_model=$9, app_name=$10, app_version=$11,
			os_name=$12, os_version=$13, draw_elements=$14, screenshot_is_anonymized=$15,
			geo_position=$16, last_update_time=NOW(), last_activity='edit', last_update_type='edit'
		WHERE id=$1
		RETURNING `+annoColumns,
		id, existing.AnnoText, existing.SimpleX, existing.SimpleY, existing.AnnoType,
		existing.SimpleCircleOnTop, existing.SimpleIsMoved, existing.Level, existing.DeviceModel,
		existing.AppName, existing.AppVersion, existing.OSName, existing.OSVersion,
		existing.DrawElements, existing.ScreenshotIsAnonymized, existing.GeoPosition,
	)
	a, err := scanAnno(row)
	if err != nil {
		return Anno{}, fmt.Errorf("merge anno: %w", err)
	}
	return a, nil
}

// DeleteAnno removes the record and reports the image key it held so the
// caller can clean up the blob. deleted=false means the ID was unknown.
func (s *AnnoStore) DeleteAnno(ctx context.Context, id int64) (imageKey string, deleted bool, err error) {
	err = s.db.QueryRowContext(ctx, `DELETE FROM annos WHERE id=$1 RETURNING image_key`, id).Scan(&imageKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("delete anno: %w", err)
	}
	return imageKey, true, nil
}

// BumpCounter increments one of the three activity counters and re-touches
// last_update_time/last_activity. Counters never go down here. Concurrent
// bumps are last-write-wins on the activity tag, by contract.
func (s *AnnoStore) BumpCounter(ctx context.Context, id int64, kind string) (Anno, error) {
	var column string
	switch kind {
	case CounterVote:
		column = "vote_count"
	case CounterFlag:
		column = "flag_count"
	case CounterFollowup:
		column = "followup_count"
	default:
		return Anno{}, fmt.Errorf("bump counter: unknown kind %q", kind)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE annos
		SET `+column+` = `+column+` + 1, last_update_time=NOW(), last_activity=$2
		WHERE id=$1
		RETURNING `+annoColumns, id, kind)
	return scanAnno(row)
}

func (s *AnnoStore) SetImageKey(ctx context.Context, id int64, key string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE annos SET image_key=$2 WHERE id=$1`, id, key)
	if err != nil {
		return fmt.Errorf("set image key: %w", err)
	}
	return nil
}

func (s *AnnoStore) listAnnos(ctx context.Context, query string, args ...any) ([]Anno, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list annos: %w", err)
	}
	defer rows.Close()

	items := make([]Anno, 0)
	for rows.Next() {
		a, err := scanAnno(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anno: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annos: %w", err)
	}
	return items, nil
}

// pageByCreated serves the two cursor-paginated listings. has_more is the
// page-full heuristic: true iff the page was filled to limit, which only
// means at least one more row probably exists.
func (s *AnnoStore) pageByCreated(ctx context.Context, appName *string, limit int, cursorToken string) ([]Anno, string, bool, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + annoColumns + ` FROM annos`
	args := make([]any, 0, 4)
	argN := 1

	var where []string
	if appName != nil {
		where = append(where, fmt.Sprintf("app_name=$%d", argN))
		args = append(args, *appName)
		argN++
	}
	if cursorToken != "" {
		c, err := decodeCursor(cursorToken)
		if err != nil {
			return nil, "", false, err
		}
		where = append(where, fmt.Sprintf("(created, id) < ($%d, $%d)", argN, argN+1))
		args = append(args, c.Created, c.ID)
		argN += 2
	}
	for i, condition := range where {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}
	query += fmt.Sprintf(" ORDER BY created DESC, id DESC LIMIT $%d", argN)
	args = append(args, limit)

	items, err := s.listAnnos(ctx, query, args...)
	if err != nil {
		return nil, "", false, err
	}

	nextCursor, hasMore := nextPage(items, limit)
	return items, nextCursor, hasMore, nil
}

// ByAppRecency lists an app's annos newest-first, cursor-paginated.
func (s *AnnoStore) ByAppRecency(ctx context.Context, appName string, limit int, cursorToken string) ([]Anno, string, bool, error) {
	return s.pageByCreated(ctx, &appName, limit, cursorToken)
}

// ByPage lists all annos newest-first, cursor-paginated.
func (s *AnnoStore) ByPage(ctx context.Context, limit int, cursorToken string) ([]Anno, string, bool, error) {
	return s.pageByCreated(ctx, nil, limit, cursorToken)
}

// ByVoteCount lists an app's annos by vote count descending. Unpaginated:
// the full result set comes back.
func (s *AnnoStore) ByVoteCount(ctx context.Context, appName string) ([]Anno, error) {
	return s.listAnnos(ctx, `SELECT `+annoColumns+` FROM annos WHERE app_name=$1 ORDER BY vote_count DESC, id DESC`, appName)
}

// ByFlagCount lists an app's flagged annos (flag_count > 0) by flag count
// descending, unpaginated.
func (s *AnnoStore) ByFlagCount(ctx context.Context, appName string) ([]Anno, error) {
	return s.listAnnos(ctx, `SELECT `+annoColumns+` FROM annos WHERE app_name=$1 AND flag_count > 0 ORDER BY flag_count DESC, id DESC`, appName)
}

// ByActivityCount lists an app's annos by vote+flag+followup descending.
// The combined order is computed in memory after materializing the app's
// full set, which costs O(n) memory for that app.
func (s *AnnoStore) ByActivityCount(ctx context.Context, appName string) ([]Anno, error) {
	items, err := s.listAnnos(ctx, `SELECT `+annoColumns+` FROM annos WHERE app_name=$1 ORDER BY id ASC`, appName)
	if err != nil {
		return nil, err
	}
	SortByActivity(items)
	return items, nil
}

// ByLastActivity lists an app's annos by last update time descending,
// unpaginated.
func (s *AnnoStore) ByLastActivity(ctx context.Context, appName string) ([]Anno, error) {
	return s.listAnnos(ctx, `SELECT `+annoColumns+` FROM annos WHERE app_name=$1 ORDER BY last_update_time DESC, id DESC`, appName)
}

// ByCountry lists an app's annos alphabetically by country. No pagination
// by design.
func (s *AnnoStore) ByCountry(ctx context.Context, appName string) ([]Anno, error) {
	return s.listAnnos(ctx, `SELECT `+annoColumns+` FROM annos WHERE app_name=$1 ORDER BY country ASC, id ASC`, appName)
}

// ByCreator lists a user's annos by last update time descending.
func (s *AnnoStore) ByCreator(ctx context.Context, creatorID int64) ([]Anno, error) {
	return s.listAnnos(ctx, `SELECT `+annoColumns+` FROM annos WHERE creator_id=$1 ORDER BY last_update_time DESC, id DESC`, creatorID)
}

// FindDuplicate probes for an exact resubmission: same creator and the
// same fourteen content fields. The created predicate only applies when
// the request carries an explicit timestamp, since a server-assigned one
// can never match a retry. Returns nil when no duplicate exists.
func (s *AnnoStore) FindDuplicate(ctx context.Context, creatorID int64, in AnnoInput) (*Anno, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+annoColumns+` FROM annos
		WHERE creator_id=$1 AND app_name=$2 AND anno_text=$3 AND anno_type=$4
			AND app_version=$5 AND level=$6 AND os_name=$7 AND os_version=$8
			AND device_model=$9 AND screenshot_is_anonymized=$10
			AND simple_circle_on_top=$11 AND simple_x=$12 AND simple_y=$13
			AND simple_is_moved=$14
			AND ($15::timestamptz IS NULL OR created=$15)
		ORDER BY id ASC
		LIMIT 1`,
		creatorID, deref(in.AppName), deref(in.AnnoText), annoTypeOrDefault(in.AnnoType),
		deref(in.AppVersion), deref(in.Level), deref(in.OSName), deref(in.OSVersion),
		deref(in.DeviceModel), deref(in.ScreenshotIsAnonymized),
		deref(in.SimpleCircleOnTop), deref(in.SimpleX), deref(in.SimpleY),
		deref(in.SimpleIsMoved), in.Created,
	)
	a, err := scanAnno(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate: %w", err)
	}
	return &a, nil
}

// LoadAllForIndex returns every annotation for a full index rebuild.
func (s *AnnoStore) LoadAllForIndex(ctx context.Context) ([]Anno, error) {
	return s.listAnnos(ctx, `SELECT `+annoColumns+` FROM annos ORDER BY id ASC`)
}

// Ping verifies the database connection is alive
func (s *AnnoStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
