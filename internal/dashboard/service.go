// Package dashboard derives the monitoring views served by the API: it pulls
// play records through the store facade, reduces them with the stats package,
// and keeps the derived results in a short-lived cache.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "github.com/adscope-lab/adscope/internal/api/v1"
	"github.com/adscope-lab/adscope/internal/cache"
	"github.com/adscope-lab/adscope/internal/stats"
	"github.com/adscope-lab/adscope/internal/store"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidRequest marks request validation errors that map to HTTP 400.
var ErrInvalidRequest = errors.New("invalid request")

const (
	adSuffix         = ".mp4"
	screenshotSuffix = ".png"
)

// PlaySource gathers every record matching a query, across all pages.
type PlaySource interface {
	CollectPlays(ctx context.Context, q store.KeyQuery) ([]v1.PlayRecord, error)
}

// StoreAdmin exposes the raw query surface used by the inspection endpoints.
type StoreAdmin interface {
	Query(ctx context.Context, q store.KeyQuery) (store.Page, error)
	Scan(ctx context.Context, table string, limit int32) (store.Page, error)
	ListTables(ctx context.Context) ([]string, error)
}

// ObjectStore enumerates bucket contents and mints presigned read URLs.
type ObjectStore interface {
	ListPrefixes(ctx context.Context) ([]string, error)
	ListObjects(ctx context.Context, prefix string) ([]store.ObjectInfo, error)
	PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Options carry the store names and TTL knobs the service needs.
type Options struct {
	Table           string
	DeviceTimeIndex string
	AdFilenameIndex string

	ReservedPrefix   string
	ScreenshotPrefix string
	PresignTTL       time.Duration

	DeviceTTL    time.Duration
	AggregateTTL time.Duration
}

// Service implements every dashboard read path.
type Service struct {
	plays   PlaySource
	admin   StoreAdmin
	objects ObjectStore
	cache   *cache.Cache
	opts    Options
	flight  singleflight.Group
	nowFn   func() time.Time
}

// NewService wires the dashboard service.
func NewService(plays PlaySource, admin StoreAdmin, objects ObjectStore, c *cache.Cache, opts Options) *Service {
	if c == nil {
		c = cache.New()
	}
	if opts.DeviceTTL <= 0 {
		opts.DeviceTTL = 30 * time.Second
	}
	if opts.AggregateTTL <= 0 {
		opts.AggregateTTL = 60 * time.Second
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	return &Service{
		plays:   plays,
		admin:   admin,
		objects: objects,
		cache:   c,
		opts:    opts,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Devices enumerates device ids from top-level bucket prefixes, excluding the
// reserved telemetry prefix.
func (s *Service) Devices(ctx context.Context) (*DevicesResponse, error) {
	prefixes, err := s.objects.ListPrefixes(ctx)
	if err != nil {
		return nil, err
	}

	devices := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p == s.opts.ReservedPrefix {
			continue
		}
		devices = append(devices, p)
	}
	sort.Strings(devices)

	return &DevicesResponse{Devices: devices}, nil
}

// DeviceAds lists the ad media filenames under the device's prefix.
func (s *Service) DeviceAds(ctx context.Context, deviceID string) (*DeviceAdsResponse, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidRequest)
	}

	ads, err := s.listDeviceAds(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return &DeviceAdsResponse{DeviceID: deviceID, Ads: ads}, nil
}

func (s *Service) listDeviceAds(ctx context.Context, deviceID string) ([]string, error) {
	objects, err := s.objects.ListObjects(ctx, deviceID+"/")
	if err != nil {
		return nil, err
	}

	ads := make([]string, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, adSuffix) {
			continue
		}
		ads = append(ads, strings.TrimPrefix(obj.Key, deviceID+"/"))
	}
	return ads, nil
}

// DeviceSummary returns recent-activity counts for one device.
func (s *Service) DeviceSummary(ctx context.Context, deviceID string, refresh bool) (*DeviceSummaryResponse, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidRequest)
	}

	v, err := s.cached("device:summary:"+deviceID, s.opts.DeviceTTL, refresh, func() (interface{}, error) {
		records, err := s.plays.CollectPlays(ctx, s.deviceQuery(deviceID))
		if err != nil {
			return nil, err
		}

		summary := stats.Summarize(records, s.nowFn())
		resp := &DeviceSummaryResponse{
			DeviceID:     deviceID,
			Plays24Hr:    summary.Plays24Hr,
			Plays1Hr:     summary.Plays1Hr,
			LastPlayData: summary.LastPlay,
		}
		if summary.LastPlay != nil {
			resp.LastPlayTime = summary.LastPlay.Timestamp
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DeviceSummaryResponse), nil
}

// DeviceTimeseries returns the device's raw play history, oldest first.
func (s *Service) DeviceTimeseries(ctx context.Context, deviceID string) (*DeviceTimeseriesResponse, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidRequest)
	}

	records, err := s.plays.CollectPlays(ctx, s.deviceQuery(deviceID))
	if err != nil {
		return nil, err
	}

	items := make([]TimeseriesItem, 0, len(records))
	for i := range records {
		items = append(items, TimeseriesItem{
			Timestamp:    records[i].Timestamp,
			AdFilename:   records[i].AdFilename,
			PlayDuration: records[i].PlayDuration,
			PlayID:       records[i].PlayID,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp < items[j].Timestamp })

	return &DeviceTimeseriesResponse{DeviceID: deviceID, Items: items, Count: len(items)}, nil
}

// AdTimeseries returns every play of one ad across the fleet, oldest first,
// queried through the ad-filename index rather than per-device fan-out.
func (s *Service) AdTimeseries(ctx context.Context, adFilename string) (*AdTimeseriesResponse, error) {
	if adFilename == "" {
		return nil, fmt.Errorf("%w: ad filename is required", ErrInvalidRequest)
	}

	records, err := s.plays.CollectPlays(ctx, store.KeyQuery{
		Table:          s.opts.Table,
		Index:          s.opts.AdFilenameIndex,
		PartitionKey:   "ad_filename",
		PartitionValue: adFilename,
	})
	if err != nil {
		return nil, err
	}

	items := make([]AdPlayItem, 0, len(records))
	for i := range records {
		items = append(items, AdPlayItem{
			Timestamp:    records[i].Timestamp,
			DeviceID:     records[i].DeviceID,
			PlayDuration: records[i].PlayDuration,
			PlayID:       records[i].PlayID,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp < items[j].Timestamp })

	return &AdTimeseriesResponse{AdFilename: adFilename, Items: items, Count: len(items)}, nil
}

// DeviceAdStats aggregates plays per known ad for one device.
func (s *Service) DeviceAdStats(ctx context.Context, deviceID string, refresh bool) (*DeviceAdStatsResponse, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidRequest)
	}

	v, err := s.cached("device:ads:"+deviceID, s.opts.DeviceTTL, refresh, func() (interface{}, error) {
		adNames, err := s.listDeviceAds(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		records, err := s.plays.CollectPlays(ctx, s.deviceQuery(deviceID))
		if err != nil {
			return nil, err
		}
		return &DeviceAdStatsResponse{
			DeviceID: deviceID,
			Ads:      stats.PerAd(records, adNames),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DeviceAdStatsResponse), nil
}

// AggregateSummary rolls the whole fleet up into one summary.
func (s *Service) AggregateSummary(ctx context.Context, refresh bool) (*AggregateSummaryResponse, error) {
	v, err := s.cached("aggregate:summary", s.opts.AggregateTTL, refresh, func() (interface{}, error) {
		devices, perDevice, deviceErrs, err := s.collectFleet(ctx)
		if err != nil {
			return nil, err
		}
		return &AggregateSummaryResponse{
			FleetSummary: stats.SummarizeFleet(flatten(perDevice), len(devices), s.nowFn()),
			DeviceErrors: deviceErrs,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*AggregateSummaryResponse), nil
}

// HourlyPatterns returns the fleet's hour-of-day play distribution.
func (s *Service) HourlyPatterns(ctx context.Context, byDayOfWeek, refresh bool) (*HourlyPatternsResponse, error) {
	key := "aggregate:hourly"
	if byDayOfWeek {
		key = "aggregate:hourly:dow"
	}

	v, err := s.cached(key, s.opts.AggregateTTL, refresh, func() (interface{}, error) {
		_, perDevice, deviceErrs, err := s.collectFleet(ctx)
		if err != nil {
			return nil, err
		}
		return &HourlyPatternsResponse{
			Patterns:     stats.HourlyPattern(flatten(perDevice), byDayOfWeek),
			DeviceErrors: deviceErrs,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*HourlyPatternsResponse), nil
}

// DayOfWeek returns the fleet's weekday play distribution.
func (s *Service) DayOfWeek(ctx context.Context, refresh bool) (*DayOfWeekResponse, error) {
	v, err := s.cached("aggregate:dow", s.opts.AggregateTTL, refresh, func() (interface{}, error) {
		_, perDevice, deviceErrs, err := s.collectFleet(ctx)
		if err != nil {
			return nil, err
		}
		return &DayOfWeekResponse{
			Patterns:     stats.DayOfWeekPattern(flatten(perDevice)),
			DeviceErrors: deviceErrs,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DayOfWeekResponse), nil
}

// WeekComparison compares the trailing week against the one before it.
func (s *Service) WeekComparison(ctx context.Context, refresh bool) (*WeekComparisonResponse, error) {
	v, err := s.cached("aggregate:week", s.opts.AggregateTTL, refresh, func() (interface{}, error) {
		_, perDevice, deviceErrs, err := s.collectFleet(ctx)
		if err != nil {
			return nil, err
		}
		return &WeekComparisonResponse{
			WeekComparisonResult: stats.WeekComparison(flatten(perDevice), s.nowFn()),
			DeviceErrors:         deviceErrs,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*WeekComparisonResponse), nil
}

// Leaderboard ranks ads across the fleet. The full ranking is cached per
// sort field; the limit is applied on the way out.
func (s *Service) Leaderboard(ctx context.Context, sortBy string, limit int, refresh bool) (*LeaderboardResponse, error) {
	switch sortBy {
	case stats.SortByPlays, stats.SortByDuration, stats.SortByFrequency:
	case "":
		sortBy = stats.SortByPlays
	default:
		return nil, fmt.Errorf("%w: invalid sortBy %q (must be plays, duration or frequency)", ErrInvalidRequest, sortBy)
	}

	v, err := s.cached("ads:leaderboard:"+sortBy, s.opts.AggregateTTL, refresh, func() (interface{}, error) {
		_, perDevice, deviceErrs, err := s.collectFleet(ctx)
		if err != nil {
			return nil, err
		}
		rows := stats.Leaderboard(flatten(perDevice), sortBy, 0)
		return &LeaderboardResponse{
			Ads:          rows,
			Total:        len(rows),
			DeviceErrors: deviceErrs,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	full := v.(*LeaderboardResponse)
	resp := &LeaderboardResponse{
		Ads:          full.Ads,
		Total:        full.Total,
		DeviceErrors: full.DeviceErrors,
	}
	if limit > 0 && limit < len(resp.Ads) {
		resp.Ads = resp.Ads[:limit]
	}
	return resp, nil
}

// DeviceComparison ranks devices by activity. A device whose records could
// not be fetched appears with zeroed stats and an error marker.
func (s *Service) DeviceComparison(ctx context.Context, refresh bool) (*DeviceComparisonResponse, error) {
	v, err := s.cached("devices:comparison", s.opts.AggregateTTL, refresh, func() (interface{}, error) {
		_, perDevice, deviceErrs, err := s.collectFleet(ctx)
		if err != nil {
			return nil, err
		}

		rows := stats.DeviceComparison(perDevice)
		for i := range rows {
			if msg, failed := deviceErrs[rows[i].DeviceID]; failed {
				rows[i].Error = msg
			}
		}
		return &DeviceComparisonResponse{Devices: rows}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DeviceComparisonResponse), nil
}

// GenericQuery is the passthrough inspection endpoint: a key query when a
// partition key is supplied, otherwise a (discouraged) scan.
func (s *Service) GenericQuery(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if strings.TrimSpace(req.TableName) == "" {
		return nil, fmt.Errorf("%w: tableName is required", ErrInvalidRequest)
	}

	var (
		page store.Page
		err  error
	)
	if req.PartitionKey != "" && req.PartitionValue != "" {
		page, err = s.admin.Query(ctx, store.KeyQuery{
			Table:          req.TableName,
			Index:          req.IndexName,
			PartitionKey:   req.PartitionKey,
			PartitionValue: req.PartitionValue,
			Sort:           sortConditionFor(req),
			Limit:          req.Limit,
		})
	} else {
		page, err = s.admin.Scan(ctx, req.TableName, req.Limit)
	}
	if err != nil {
		return nil, err
	}

	items, err := store.DecodeItems(page.Items)
	if err != nil {
		return nil, err
	}
	return &QueryResponse{Items: items, Count: page.Count, ScannedCount: page.ScannedCount}, nil
}

func sortConditionFor(req QueryRequest) *store.SortCondition {
	switch {
	case req.SortKey == "":
		return nil
	case req.SortValue != "":
		return &store.SortCondition{Key: req.SortKey, Op: store.SortEq, Value: req.SortValue}
	case req.SortValueStart != "" && req.SortValueEnd != "":
		return &store.SortCondition{Key: req.SortKey, Op: store.SortBetween, Start: req.SortValueStart, End: req.SortValueEnd}
	case req.SortValueStart != "":
		return &store.SortCondition{Key: req.SortKey, Op: store.SortGTE, Value: req.SortValueStart}
	case req.SortValueEnd != "":
		return &store.SortCondition{Key: req.SortKey, Op: store.SortLTE, Value: req.SortValueEnd}
	default:
		return nil
	}
}

// Tables lists the table names visible to the configured credentials.
func (s *Service) Tables(ctx context.Context) (*TablesResponse, error) {
	names, err := s.admin.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return &TablesResponse{Tables: names}, nil
}

// Screenshots returns a presigned URL for each device's most recent
// screenshot. Per-device failures degrade to an error marker on that row.
func (s *Service) Screenshots(ctx context.Context) (*ScreenshotsResponse, error) {
	devices, err := s.Devices(ctx)
	if err != nil {
		return nil, err
	}

	shots := make([]Screenshot, len(devices.Devices))
	var wg sync.WaitGroup
	for i, deviceID := range devices.Devices {
		wg.Add(1)
		go func(i int, deviceID string) {
			defer wg.Done()
			shots[i] = s.deviceScreenshot(ctx, deviceID)
		}(i, deviceID)
	}
	wg.Wait()

	return &ScreenshotsResponse{Screenshots: shots}, nil
}

func (s *Service) deviceScreenshot(ctx context.Context, deviceID string) Screenshot {
	shot := Screenshot{DeviceID: deviceID}

	objects, err := s.objects.ListObjects(ctx, deviceID+"/"+s.opts.ScreenshotPrefix)
	if err != nil {
		slog.Warn("screenshot listing failed", "device_id", deviceID, "error", err)
		shot.Error = err.Error()
		return shot
	}

	var newest *store.ObjectInfo
	for i := range objects {
		if !strings.HasSuffix(objects[i].Key, screenshotSuffix) {
			continue
		}
		if newest == nil || objects[i].LastModified.After(newest.LastModified) {
			newest = &objects[i]
		}
	}
	if newest == nil {
		shot.Error = "no screenshot found"
		return shot
	}

	url, err := s.objects.PresignedGetURL(ctx, newest.Key, s.opts.PresignTTL)
	if err != nil {
		slog.Warn("screenshot presign failed", "device_id", deviceID, "key", newest.Key, "error", err)
		shot.Error = err.Error()
		return shot
	}

	shot.ScreenshotURL = url
	shot.ScreenshotKey = newest.Key
	shot.LastModified = newest.LastModified.UTC().Format(time.RFC3339)
	return shot
}

// deviceQuery is the canonical per-device record query.
func (s *Service) deviceQuery(deviceID string) store.KeyQuery {
	return store.KeyQuery{
		Table:          s.opts.Table,
		Index:          s.opts.DeviceTimeIndex,
		PartitionKey:   "device_id",
		PartitionValue: deviceID,
	}
}

// collectFleet fans out one record query per device and joins the results.
// A failed branch contributes no records plus an entry in the error map; it
// never aborts its siblings. Only the device enumeration itself is fatal.
func (s *Service) collectFleet(ctx context.Context) ([]string, map[string][]v1.PlayRecord, map[string]string, error) {
	devices, err := s.Devices(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	type branch struct {
		deviceID string
		records  []v1.PlayRecord
		err      error
	}
	branches := make([]branch, len(devices.Devices))

	var wg sync.WaitGroup
	for i, deviceID := range devices.Devices {
		wg.Add(1)
		go func(i int, deviceID string) {
			defer wg.Done()
			records, err := s.plays.CollectPlays(ctx, s.deviceQuery(deviceID))
			branches[i] = branch{deviceID: deviceID, records: records, err: err}
		}(i, deviceID)
	}
	wg.Wait()

	perDevice := make(map[string][]v1.PlayRecord, len(branches))
	deviceErrs := make(map[string]string)
	for _, b := range branches {
		if b.err != nil {
			slog.Warn("device record fetch failed", "device_id", b.deviceID, "error", b.err)
			perDevice[b.deviceID] = nil
			deviceErrs[b.deviceID] = b.err.Error()
			continue
		}
		perDevice[b.deviceID] = b.records
	}
	if len(deviceErrs) == 0 {
		deviceErrs = nil
	}

	return devices.Devices, perDevice, deviceErrs, nil
}

// cached serves key from the cache unless refresh is set, collapsing
// concurrent recomputations of the same key into one flight.
func (s *Service) cached(key string, ttl time.Duration, refresh bool, compute func() (interface{}, error)) (interface{}, error) {
	if !refresh {
		if v, ok := s.cache.Get(key, ttl); ok {
			return v, nil
		}
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		v, err := compute()
		if err != nil {
			return nil, err
		}
		s.cache.Put(key, v)
		return v, nil
	})
	return v, err
}

func flatten(perDevice map[string][]v1.PlayRecord) []v1.PlayRecord {
	var all []v1.PlayRecord
	// Deterministic order keeps first-seen tie-breaks stable.
	deviceIDs := make([]string, 0, len(perDevice))
	for id := range perDevice {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Strings(deviceIDs)
	for _, id := range deviceIDs {
		all = append(all, perDevice[id]...)
	}
	return all
}
