package app

import (
	"time"

	"github.com/topcircler/anno/internal/store"
)

// AnnoRequest is the wire payload for create, update and duplicate-check.
// Pointer fields distinguish absent from zero, so the same shape serves
// full creates and partial merges. Image bytes travel base64-encoded.
type AnnoRequest struct {
	AnnoText               *string    `json:"anno_text,omitempty"`
	SimpleX                *float64   `json:"simple_x,omitempty"`
	SimpleY                *float64   `json:"simple_y,omitempty"`
	AnnoType               *string    `json:"anno_type,omitempty"`
	SimpleCircleOnTop      *bool      `json:"simple_circle_on_top,omitempty"`
	SimpleIsMoved          *bool      `json:"simple_is_moved,omitempty"`
	Level                  *int       `json:"level,omitempty"`
	DeviceModel            *string    `json:"device_model,omitempty"`
	AppName                *string    `json:"app_name,omitempty"`
	AppVersion             *string    `json:"app_version,omitempty"`
	OSName                 *string    `json:"os_name,omitempty"`
	OSVersion              *string    `json:"os_version,omitempty"`
	Image                  []byte     `json:"image,omitempty"`
	DrawElements           *string    `json:"draw_elements,omitempty"`
	ScreenshotIsAnonymized *bool      `json:"screenshot_is_anonymized,omitempty"`
	GeoPosition            *string    `json:"geo_position,omitempty"`
	Latitude               *float64   `json:"latitude,omitempty"`
	Longitude              *float64   `json:"longitude,omitempty"`
	Created                *time.Time `json:"created,omitempty"`
}

func (r AnnoRequest) storeInput() store.AnnoInput {
	return store.AnnoInput{
		AnnoText:               r.AnnoText,
		SimpleX:                r.SimpleX,
		SimpleY:                r.SimpleY,
		AnnoType:               r.AnnoType,
		SimpleCircleOnTop:      r.SimpleCircleOnTop,
		SimpleIsMoved:          r.SimpleIsMoved,
		Level:                  r.Level,
		DeviceModel:            r.DeviceModel,
		AppName:                r.AppName,
		AppVersion:             r.AppVersion,
		OSName:                 r.OSName,
		OSVersion:              r.OSVersion,
		DrawElements:           r.DrawElements,
		ScreenshotIsAnonymized: r.ScreenshotIsAnonymized,
		GeoPosition:            r.GeoPosition,
		Latitude:               r.Latitude,
		Longitude:              r.Longitude,
		Created:                r.Created,
	}
}

type UserView struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

// AnnoView is the response projection of one annotation. Every field
// except the ID is a pointer so that projected responses carry only the
// requested fields and nothing else.
type AnnoView struct {
	ID                     int64      `json:"id"`
	AnnoText               *string    `json:"anno_text,omitempty"`
	SimpleX                *float64   `json:"simple_x,omitempty"`
	SimpleY                *float64   `json:"simple_y,omitempty"`
	AnnoType               *string    `json:"anno_type,omitempty"`
	SimpleCircleOnTop      *bool      `json:"simple_circle_on_top,omitempty"`
	SimpleIsMoved          *bool      `json:"simple_is_moved,omitempty"`
	Level                  *int       `json:"level,omitempty"`
	DeviceModel            *string    `json:"device_model,omitempty"`
	AppName                *string    `json:"app_name,omitempty"`
	AppVersion             *string    `json:"app_version,omitempty"`
	OSName                 *string    `json:"os_name,omitempty"`
	OSVersion              *string    `json:"os_version,omitempty"`
	DrawElements           *string    `json:"draw_elements,omitempty"`
	ScreenshotIsAnonymized *bool      `json:"screenshot_is_anonymized,omitempty"`
	GeoPosition            *string    `json:"geo_position,omitempty"`
	Latitude               *float64   `json:"latitude,omitempty"`
	Longitude              *float64   `json:"longitude,omitempty"`
	Country                *string    `json:"country,omitempty"`
	Created                *time.Time `json:"created,omitempty"`
	Creator                *UserView  `json:"creator,omitempty"`
	VoteCount              *int       `json:"vote_count,omitempty"`
	FlagCount              *int       `json:"flag_count,omitempty"`
	FollowupCount          *int       `json:"followup_count,omitempty"`
	LastUpdateTime         *time.Time `json:"last_update_time,omitempty"`
	LastActivity           *string    `json:"last_activity,omitempty"`
	LastUpdateType         *string    `json:"last_update_type,omitempty"`
}

// AnnoListResponse is the envelope for every listing mode. Store-backed
// cursor modes fill Cursor; index-backed modes fill Offset. HasMore is the
// page-full heuristic on both sides.
type AnnoListResponse struct {
	Items   []AnnoView `json:"anno_list"`
	Cursor  string     `json:"cursor,omitempty"`
	Offset  *int       `json:"offset,omitempty"`
	HasMore bool       `json:"has_more"`
}

// SearchParams carries one index-backed query. A nil AppSet means the
// "restrict to my apps" toggle is off; an empty non-nil set means it is on
// with nothing selected, which yields zero results.
type SearchParams struct {
	Text    string
	AppName string
	AppSet  []string
	Limit   int
	Offset  int
}

// projectors maps wire field names to typed copy functions. Projection is
// resolved through this fixed table; the creator field is special-cased by
// the service because it resolves a user record.
var projectors = map[string]func(*AnnoView, *store.Anno){
	"anno_text":                func(v *AnnoView, a *store.Anno) { v.AnnoText = &a.AnnoText },
	"simple_x":                 func(v *AnnoView, a *store.Anno) { v.SimpleX = &a.SimpleX },
	"simple_y":                 func(v *AnnoView, a *store.Anno) { v.SimpleY = &a.SimpleY },
	"anno_type":                func(v *AnnoView, a *store.Anno) { v.AnnoType = &a.AnnoType },
	"simple_circle_on_top":     func(v *AnnoView, a *store.Anno) { v.SimpleCircleOnTop = &a.SimpleCircleOnTop },
	"simple_is_moved":          func(v *AnnoView, a *store.Anno) { v.SimpleIsMoved = &a.SimpleIsMoved },
	"level":                    func(v *AnnoView, a *store.Anno) { v.Level = &a.Level },
	"device_model":             func(v *AnnoView, a *store.Anno) { v.DeviceModel = &a.DeviceModel },
	"app_name":                 func(v *AnnoView, a *store.Anno) { v.AppName = &a.AppName },
	"app_version":              func(v *AnnoView, a *store.Anno) { v.AppVersion = &a.AppVersion },
	"os_name":                  func(v *AnnoView, a *store.Anno) { v.OSName = &a.OSName },
	"os_version":               func(v *AnnoView, a *store.Anno) { v.OSVersion = &a.OSVersion },
	"draw_elements":            func(v *AnnoView, a *store.Anno) { v.DrawElements = &a.DrawElements },
	"screenshot_is_anonymized": func(v *AnnoView, a *store.Anno) { v.ScreenshotIsAnonymized = &a.ScreenshotIsAnonymized },
	"geo_position":             func(v *AnnoView, a *store.Anno) { v.GeoPosition = &a.GeoPosition },
	"latitude":                 func(v *AnnoView, a *store.Anno) { v.Latitude = a.Latitude },
	"longitude":                func(v *AnnoView, a *store.Anno) { v.Longitude = a.Longitude },
	"country":                  func(v *AnnoView, a *store.Anno) { v.Country = &a.Country },
	"created":                  func(v *AnnoView, a *store.Anno) { v.Created = &a.Created },
	"vote_count":               func(v *AnnoView, a *store.Anno) { v.VoteCount = &a.VoteCount },
	"flag_count":               func(v *AnnoView, a *store.Anno) { v.FlagCount = &a.FlagCount },
	"followup_count":           func(v *AnnoView, a *store.Anno) { v.FollowupCount = &a.FollowupCount },
	"last_update_time":         func(v *AnnoView, a *store.Anno) { v.LastUpdateTime = &a.LastUpdateTime },
	"last_activity":            func(v *AnnoView, a *store.Anno) { v.LastActivity = &a.LastActivity },
	"last_update_type":         func(v *AnnoView, a *store.Anno) { v.LastUpdateType = &a.LastUpdateType },
}

func fullView(a *store.Anno, creator *UserView) AnnoView {
	view := AnnoView{ID: a.ID, Creator: creator}
	for _, project := range projectors {
		project(&view, a)
	}
	return view
}
