package store

import (
	"sort"
	"time"
)

type User struct {
	ID          int64
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

// Counter kinds accepted by BumpCounter. Counters only go up; the
// collaborators that record votes/flags/follow-ups live outside this core.
const (
	CounterVote     = "vote"
	CounterFlag     = "flag"
	CounterFollowup = "followup"
)

// Anno is the authoritative annotation record. The search index holds a
// lossy projection of it; responses are always built from this struct.
type Anno struct {
	ID                     int64
	AnnoText               string
	SimpleX                float64
	SimpleY                float64
	AnnoType               string
	SimpleCircleOnTop      bool
	SimpleIsMoved          bool
	Level                  int
	DeviceModel            string
	AppName                string
	AppVersion             string
	OSName                 string
	OSVersion              string
	DrawElements           string
	ScreenshotIsAnonymized bool
	GeoPosition            string
	Latitude               *float64
	Longitude              *float64
	Country                string
	ImageKey               string
	FlagCount              int
	VoteCount              int
	FollowupCount          int
	Created                time.Time
	CreatorID              int64
	LastUpdateTime         time.Time
	LastActivity           string
	LastUpdateType         string
}

// ActivityCount is the combined engagement score used by the
// activity-ordered listing.
func (a *Anno) ActivityCount() int {
	return a.VoteCount + a.FlagCount + a.FollowupCount
}

// AnnoInput carries the client-settable fields of an annotation. Nil means
// "not supplied": insert falls back to defaults, merge keeps the stored
// value.
type AnnoInput struct {
	AnnoText               *string
	SimpleX                *float64
	SimpleY                *float64
	AnnoType               *string
	SimpleCircleOnTop      *bool
	SimpleIsMoved          *bool
	Level                  *int
	DeviceModel            *string
	AppName                *string
	AppVersion             *string
	OSName                 *string
	OSVersion              *string
	DrawElements           *string
	ScreenshotIsAnonymized *bool
	GeoPosition            *string
	Latitude               *float64
	Longitude              *float64
	Created                *time.Time
}

// ApplyInput copies every non-nil field of in onto a. The creator and the
// creation timestamp are never touched. Latitude, longitude and country are
// also left alone: the country lookup runs once at creation and edits do
// not repeat it, even when geo_position changes.
func (a *Anno) ApplyInput(in AnnoInput) {
	if in.AnnoText != nil {
		a.AnnoText = *in.AnnoText
	}
	if in.SimpleX != nil {
		a.SimpleX = *in.SimpleX
	}
	if in.SimpleY != nil {
		a.SimpleY = *in.SimpleY
	}
	if in.AnnoType != nil {
		a.AnnoType = *in.AnnoType
	}
	if in.SimpleCircleOnTop != nil {
		a.SimpleCircleOnTop = *in.SimpleCircleOnTop
	}
	if in.SimpleIsMoved != nil {
		a.SimpleIsMoved = *in.SimpleIsMoved
	}
	if in.Level != nil {
		a.Level = *in.Level
	}
	if in.DeviceModel != nil {
		a.DeviceModel = *in.DeviceModel
	}
	if in.AppName != nil {
		a.AppName = *in.AppName
	}
	if in.AppVersion != nil {
		a.AppVersion = *in.AppVersion
	}
	if in.OSName != nil {
		a.OSName = *in.OSName
	}
	if in.OSVersion != nil {
		a.OSVersion = *in.OSVersion
	}
	if in.DrawElements != nil {
		a.DrawElements = *in.DrawElements
	}
	if in.ScreenshotIsAnonymized != nil {
		a.ScreenshotIsAnonymized = *in.ScreenshotIsAnonymized
	}
	if in.GeoPosition != nil {
		a.GeoPosition = *in.GeoPosition
	}
}

// SortByActivity orders annos by vote+flag+followup descending. The store
// cannot express this as a single ORDER BY, so listings materialize the
// app's full set and sort here. The sort is stable: equal-sum groups stay
// contiguous in their original order.
func SortByActivity(annos []Anno) {
	sort.SliceStable(annos, func(i, j int) bool {
		return annos[i].ActivityCount() > annos[j].ActivityCount()
	})
}
