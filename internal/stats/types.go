package stats

import (
	v1 "github.com/adscope-lab/adscope/internal/api/v1"
)

// Sort fields accepted by Leaderboard.
const (
	SortByPlays     = "plays"
	SortByDuration  = "duration"
	SortByFrequency = "frequency"
)

// Summary is the per-device rollup of recent activity.
type Summary struct {
	TotalPlays int            `json:"totalPlays"`
	Plays1Hr   int            `json:"plays1hr"`
	Plays24Hr  int            `json:"plays24hr"`
	LastPlay   *v1.PlayRecord `json:"lastPlay,omitempty"`
}

// FleetSummary is the cross-device rollup.
type FleetSummary struct {
	TotalPlays        int            `json:"totalPlays"`
	Plays1Hr          int            `json:"plays1hr"`
	Plays24Hr         int            `json:"plays24hr"`
	Plays7D           int            `json:"plays7d"`
	Plays30D          int            `json:"plays30d"`
	UniqueAds         int            `json:"uniqueAds"`
	ActiveDevices     int            `json:"activeDevices"`
	AvgPlaysPerDevice float64        `json:"avgPlaysPerDevice"`
	LastPlay          *v1.PlayRecord `json:"lastPlay,omitempty"`
}

// AdStats aggregates plays of one ad on one device.
type AdStats struct {
	AdFilename      string  `json:"adFilename"`
	TotalPlays      int     `json:"totalPlays"`
	TotalDuration   float64 `json:"totalDuration"`
	AverageDuration float64 `json:"averageDuration"`
	LastPlayed      string  `json:"lastPlayed,omitempty"`
}

// HourBucket is one hour-of-day aggregation bucket (UTC). DayOfWeek is set
// only when the pattern was split by weekday.
type HourBucket struct {
	Hour      int     `json:"hour"`
	DayOfWeek *int    `json:"dayOfWeek,omitempty"`
	Plays     int     `json:"plays"`
	Duration  float64 `json:"duration"`
}

// DayBucket is one weekday aggregation bucket (UTC, Sunday=0).
type DayBucket struct {
	DayOfWeek int     `json:"dayOfWeek"`
	DayName   string  `json:"dayName"`
	Plays     int     `json:"plays"`
	Duration  float64 `json:"duration"`
}

// WindowStats are the per-window figures compared week over week.
// Change rows may be negative.
type WindowStats struct {
	Plays         int     `json:"plays"`
	Duration      float64 `json:"duration"`
	UniqueAds     int     `json:"uniqueAds"`
	ActiveDevices int     `json:"activeDevices"`
}

// WeekComparisonResult holds the trailing-7-day window, the one before it,
// and their elementwise difference.
type WeekComparisonResult struct {
	CurrentWeek  WindowStats `json:"currentWeek"`
	PreviousWeek WindowStats `json:"previousWeek"`
	Change       WindowStats `json:"change"`
}

// LeaderboardRow ranks one ad across the whole fleet.
type LeaderboardRow struct {
	AdFilename      string  `json:"adFilename"`
	TotalPlays      int     `json:"totalPlays"`
	TotalDuration   float64 `json:"totalDuration"`
	AverageDuration float64 `json:"averageDuration"`
	Frequency       float64 `json:"frequency"` // plays per active day
	DeviceCount     int     `json:"deviceCount"`
	LastPlayed      string  `json:"lastPlayed,omitempty"`
}

// DeviceStats compares one device against the fleet.
type DeviceStats struct {
	DeviceID       string  `json:"deviceId"`
	TotalPlays     int     `json:"totalPlays"`
	AvgPlaysPerDay float64 `json:"avgPlaysPerDay"`
	TotalDuration  float64 `json:"totalDuration"`

	// Error marks a device whose records could not be fetched; its stats
	// are zeroed rather than failing the whole comparison.
	Error string `json:"error,omitempty"`
}
