package dashboard

import (
	v1 "github.com/adscope-lab/adscope/internal/api/v1"
	"github.com/adscope-lab/adscope/internal/stats"
)

// DevicesResponse lists the device ids derived from bucket prefixes.
type DevicesResponse struct {
	Devices []string `json:"devices"`
}

// DeviceAdsResponse lists the ad media filenames under one device's prefix.
type DeviceAdsResponse struct {
	DeviceID string   `json:"deviceId"`
	Ads      []string `json:"ads"`
}

// DeviceSummaryResponse is the recent-activity rollup for one device.
type DeviceSummaryResponse struct {
	DeviceID     string         `json:"deviceId"`
	Plays24Hr    int            `json:"plays24hr"`
	Plays1Hr     int            `json:"plays1hr"`
	LastPlayTime string         `json:"lastPlayTime"`
	LastPlayData *v1.PlayRecord `json:"lastPlayData"`
}

// TimeseriesItem is one point of a device's raw play history.
type TimeseriesItem struct {
	Timestamp    string  `json:"timestamp"`
	AdFilename   string  `json:"ad_filename"`
	PlayDuration float64 `json:"play_duration"`
	PlayID       string  `json:"play_id"`
}

type DeviceTimeseriesResponse struct {
	DeviceID string           `json:"deviceId"`
	Items    []TimeseriesItem `json:"items"`
	Count    int              `json:"count"`
}

// AdPlayItem is one playback of an ad, attributed to the reporting device.
type AdPlayItem struct {
	Timestamp    string  `json:"timestamp"`
	DeviceID     string  `json:"device_id"`
	PlayDuration float64 `json:"play_duration"`
	PlayID       string  `json:"play_id"`
}

type AdTimeseriesResponse struct {
	AdFilename string       `json:"adFilename"`
	Items      []AdPlayItem `json:"items"`
	Count      int          `json:"count"`
}

// DeviceAdStatsResponse carries per-ad aggregates for one device.
type DeviceAdStatsResponse struct {
	DeviceID string          `json:"deviceId"`
	Ads      []stats.AdStats `json:"ads"`
}

// AggregateSummaryResponse is the fleet-wide rollup. DeviceErrors reports
// devices whose records could not be fetched; their contribution is zero.
type AggregateSummaryResponse struct {
	stats.FleetSummary
	DeviceErrors map[string]string `json:"deviceErrors,omitempty"`
}

type HourlyPatternsResponse struct {
	Patterns     []stats.HourBucket `json:"patterns"`
	DeviceErrors map[string]string  `json:"deviceErrors,omitempty"`
}

type DayOfWeekResponse struct {
	Patterns     []stats.DayBucket `json:"patterns"`
	DeviceErrors map[string]string `json:"deviceErrors,omitempty"`
}

type WeekComparisonResponse struct {
	stats.WeekComparisonResult
	DeviceErrors map[string]string `json:"deviceErrors,omitempty"`
}

// LeaderboardResponse ranks ads across the fleet. Total is the number of
// distinct ads before the limit was applied.
type LeaderboardResponse struct {
	Ads          []stats.LeaderboardRow `json:"ads"`
	Total        int                    `json:"total"`
	DeviceErrors map[string]string      `json:"deviceErrors,omitempty"`
}

type DeviceComparisonResponse struct {
	Devices []stats.DeviceStats `json:"devices"`
}

// QueryRequest is the generic query/scan passthrough body.
type QueryRequest struct {
	TableName      string `json:"tableName"`
	Limit          int32  `json:"limit,omitempty"`
	PartitionKey   string `json:"partitionKey,omitempty"`
	PartitionValue string `json:"partitionValue,omitempty"`
	SortKey        string `json:"sortKey,omitempty"`
	SortValue      string `json:"sortValue,omitempty"`
	SortValueStart string `json:"sortValueStart,omitempty"`
	SortValueEnd   string `json:"sortValueEnd,omitempty"`
	IndexName      string `json:"indexName,omitempty"`
}

type QueryResponse struct {
	Items        []map[string]interface{} `json:"items"`
	Count        int32                    `json:"count"`
	ScannedCount int32                    `json:"scannedCount"`
}

type TablesResponse struct {
	Tables []string `json:"tables"`
}

// Screenshot is one device's most recent screenshot, with a time-limited
// read URL. Error is set when that device's screenshot could not be resolved.
type Screenshot struct {
	DeviceID      string `json:"deviceId"`
	ScreenshotURL string `json:"screenshotUrl,omitempty"`
	ScreenshotKey string `json:"screenshotKey,omitempty"`
	LastModified  string `json:"lastModified,omitempty"`
	Error         string `json:"error,omitempty"`
}

type ScreenshotsResponse struct {
	Screenshots []Screenshot `json:"screenshots"`
}
