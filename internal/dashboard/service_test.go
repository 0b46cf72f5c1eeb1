package dashboard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "github.com/adscope-lab/adscope/internal/api/v1"
	"github.com/adscope-lab/adscope/internal/cache"
	"github.com/adscope-lab/adscope/internal/stats"
	"github.com/adscope-lab/adscope/internal/store"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

// fakePlays serves canned records per partition value. The mutex matters:
// the aggregate paths fan out one CollectPlays call per device concurrently.
type fakePlays struct {
	mu        sync.Mutex
	records   map[string][]v1.PlayRecord
	errs      map[string]error
	calls     map[string]int
	lastQuery *store.KeyQuery
}

func (f *fakePlays) CollectPlays(_ context.Context, q store.KeyQuery) ([]v1.PlayRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[q.PartitionValue]++
	f.lastQuery = &q
	if err, ok := f.errs[q.PartitionValue]; ok {
		return nil, err
	}
	return f.records[q.PartitionValue], nil
}

func (f *fakePlays) callCount(partitionValue string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[partitionValue]
}

type fakeAdmin struct {
	page      store.Page
	err       error
	lastQuery *store.KeyQuery
	scans     int
	tables    []string
}

func (f *fakeAdmin) Query(_ context.Context, q store.KeyQuery) (store.Page, error) {
	f.lastQuery = &q
	return f.page, f.err
}

func (f *fakeAdmin) Scan(_ context.Context, _ string, _ int32) (store.Page, error) {
	f.scans++
	return f.page, f.err
}

func (f *fakeAdmin) ListTables(_ context.Context) ([]string, error) {
	return f.tables, f.err
}

type fakeObjects struct {
	prefixes []string
	objects  map[string][]store.ObjectInfo
	listErr  error
}

func (f *fakeObjects) ListPrefixes(_ context.Context) ([]string, error) {
	return f.prefixes, f.listErr
}

func (f *fakeObjects) ListObjects(_ context.Context, prefix string) ([]store.ObjectInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.objects[prefix], nil
}

func (f *fakeObjects) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func play(device, ad string, at time.Time, duration float64) v1.PlayRecord {
	return v1.PlayRecord{
		PlayID:       fmt.Sprintf("play-%d", at.UnixNano()),
		DeviceID:     device,
		AdFilename:   ad,
		Timestamp:    at.Format(time.RFC3339),
		PlayDuration: duration,
	}
}

func playsWithin(device string, lastHour, restOfDay int) []v1.PlayRecord {
	var records []v1.PlayRecord
	for i := 0; i < lastHour; i++ {
		records = append(records, play(device, "a.mp4", testNow.Add(-time.Duration(i+1)*time.Minute), 10))
	}
	for i := 0; i < restOfDay; i++ {
		records = append(records, play(device, "b.mp4", testNow.Add(-2*time.Hour-time.Duration(i)*time.Minute), 10))
	}
	return records
}

func newTestService(plays *fakePlays, admin *fakeAdmin, objects *fakeObjects) *Service {
	svc := NewService(plays, admin, objects, cache.NewWithClock(func() time.Time { return testNow }), Options{
		Table:            "ad_metrics",
		DeviceTimeIndex:  "device_id-timestamp-index",
		AdFilenameIndex:  "ad_filename-timestamp-index",
		ReservedPrefix:   "ad_metrics",
		ScreenshotPrefix: "screenshots/",
		PresignTTL:       time.Hour,
		DeviceTTL:        30 * time.Second,
		AggregateTTL:     time.Minute,
	})
	svc.nowFn = func() time.Time { return testNow }
	return svc
}

func TestService_DeviceSummary(t *testing.T) {
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"scr-01": playsWithin("scr-01", 5, 15),
	}}
	svc := newTestService(plays, &fakeAdmin{}, &fakeObjects{})

	resp, err := svc.DeviceSummary(context.Background(), "scr-01", false)
	require.NoError(t, err)
	require.Equal(t, "scr-01", resp.DeviceID)
	require.Equal(t, 5, resp.Plays1Hr)
	require.Equal(t, 20, resp.Plays24Hr)
	require.NotNil(t, resp.LastPlayData)
	require.Equal(t, testNow.Add(-time.Minute).Format(time.RFC3339), resp.LastPlayTime)
}

func TestService_DeviceSummaryUsesCache(t *testing.T) {
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"scr-01": playsWithin("scr-01", 1, 0),
	}}
	svc := newTestService(plays, &fakeAdmin{}, &fakeObjects{})

	_, err := svc.DeviceSummary(context.Background(), "scr-01", false)
	require.NoError(t, err)
	_, err = svc.DeviceSummary(context.Background(), "scr-01", false)
	require.NoError(t, err)
	require.Equal(t, 1, plays.callCount("scr-01"))

	// refresh bypasses the cache and repopulates it.
	_, err = svc.DeviceSummary(context.Background(), "scr-01", true)
	require.NoError(t, err)
	require.Equal(t, 2, plays.callCount("scr-01"))
}

func TestService_DeviceSummaryRequiresID(t *testing.T) {
	svc := newTestService(&fakePlays{}, &fakeAdmin{}, &fakeObjects{})
	_, err := svc.DeviceSummary(context.Background(), "", false)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_DevicesExcludesReservedPrefix(t *testing.T) {
	objects := &fakeObjects{prefixes: []string{"scr-02", "ad_metrics", "scr-01"}}
	svc := newTestService(&fakePlays{}, &fakeAdmin{}, objects)

	resp, err := svc.Devices(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"scr-01", "scr-02"}, resp.Devices)
}

func TestService_DeviceAdsFiltersSuffix(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]store.ObjectInfo{
		"scr-01/": {
			{Key: "scr-01/promo.mp4"},
			{Key: "scr-01/screenshots/latest.png"},
			{Key: "scr-01/notes.txt"},
			{Key: "scr-01/spring_sale.mp4"},
		},
	}}
	svc := newTestService(&fakePlays{}, &fakeAdmin{}, objects)

	resp, err := svc.DeviceAds(context.Background(), "scr-01")
	require.NoError(t, err)
	require.Equal(t, []string{"promo.mp4", "spring_sale.mp4"}, resp.Ads)
}

func TestService_DeviceTimeseriesSortedAscending(t *testing.T) {
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"scr-01": {
			play("scr-01", "b.mp4", testNow.Add(-time.Minute), 5),
			play("scr-01", "a.mp4", testNow.Add(-time.Hour), 5),
		},
	}}
	svc := newTestService(plays, &fakeAdmin{}, &fakeObjects{})

	resp, err := svc.DeviceTimeseries(context.Background(), "scr-01")
	require.NoError(t, err)
	require.Equal(t, 2, resp.Count)
	require.Equal(t, "a.mp4", resp.Items[0].AdFilename)
	require.Equal(t, "b.mp4", resp.Items[1].AdFilename)
}

func TestService_AdTimeseriesQueriesAdIndex(t *testing.T) {
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"promo.mp4": {
			play("scr-02", "promo.mp4", testNow.Add(-time.Minute), 5),
			play("scr-01", "promo.mp4", testNow.Add(-time.Hour), 5),
		},
	}}
	svc := newTestService(plays, &fakeAdmin{}, &fakeObjects{})

	resp, err := svc.AdTimeseries(context.Background(), "promo.mp4")
	require.NoError(t, err)
	require.Equal(t, 2, resp.Count)
	require.Equal(t, "scr-01", resp.Items[0].DeviceID)
	require.Equal(t, "scr-02", resp.Items[1].DeviceID)

	// One query against the ad-filename index, not a per-device fan-out.
	require.NotNil(t, plays.lastQuery)
	require.Equal(t, "ad_filename-timestamp-index", plays.lastQuery.Index)
	require.Equal(t, "ad_filename", plays.lastQuery.PartitionKey)
	require.Equal(t, "promo.mp4", plays.lastQuery.PartitionValue)

	_, err = svc.AdTimeseries(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_DeviceAdStats(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]store.ObjectInfo{
		"scr-01/": {{Key: "scr-01/promo.mp4"}, {Key: "scr-01/unplayed.mp4"}},
	}}
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"scr-01": {play("scr-01", "promo.mp4", testNow.Add(-time.Hour), 5)},
	}}
	svc := newTestService(plays, &fakeAdmin{}, objects)

	resp, err := svc.DeviceAdStats(context.Background(), "scr-01", false)
	require.NoError(t, err)
	require.Len(t, resp.Ads, 2)
	require.Equal(t, 1, resp.Ads[0].TotalPlays)
	require.Equal(t, 5.0, resp.Ads[0].AverageDuration)
	require.Equal(t, 0, resp.Ads[1].TotalPlays)
}

func TestService_AggregateSummaryFansOut(t *testing.T) {
	objects := &fakeObjects{prefixes: []string{"scr-01", "scr-02"}}
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"scr-01": playsWithin("scr-01", 2, 2),
		"scr-02": playsWithin("scr-02", 1, 1),
	}}
	svc := newTestService(plays, &fakeAdmin{}, objects)

	resp, err := svc.AggregateSummary(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 6, resp.TotalPlays)
	require.Equal(t, 3, resp.Plays1Hr)
	require.Equal(t, 6, resp.Plays24Hr)
	require.Equal(t, 2, resp.UniqueAds)
	require.Equal(t, 2, resp.ActiveDevices)
	require.Equal(t, 3.0, resp.AvgPlaysPerDevice)
	require.Empty(t, resp.DeviceErrors)
}

func TestService_AggregateSummaryPartialFailure(t *testing.T) {
	objects := &fakeObjects{prefixes: []string{"scr-01", "scr-02"}}
	plays := &fakePlays{
		records: map[string][]v1.PlayRecord{"scr-01": playsWithin("scr-01", 2, 0)},
		errs:    map[string]error{"scr-02": fmt.Errorf("%w: throttled", store.ErrUpstream)},
	}
	svc := newTestService(plays, &fakeAdmin{}, objects)

	resp, err := svc.AggregateSummary(context.Background(), false)
	require.NoError(t, err, "one failed branch must not fail the response")
	require.Equal(t, 2, resp.TotalPlays)
	require.Contains(t, resp.DeviceErrors, "scr-02")
}

func TestService_DeviceComparisonMarksFailedBranch(t *testing.T) {
	objects := &fakeObjects{prefixes: []string{"scr-01", "scr-02"}}
	plays := &fakePlays{
		records: map[string][]v1.PlayRecord{"scr-01": playsWithin("scr-01", 3, 0)},
		errs:    map[string]error{"scr-02": fmt.Errorf("%w: throttled", store.ErrUpstream)},
	}
	svc := newTestService(plays, &fakeAdmin{}, objects)

	resp, err := svc.DeviceComparison(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, resp.Devices, 2)

	require.Equal(t, "scr-01", resp.Devices[0].DeviceID)
	require.Equal(t, 3, resp.Devices[0].TotalPlays)
	require.Empty(t, resp.Devices[0].Error)

	require.Equal(t, "scr-02", resp.Devices[1].DeviceID)
	require.Equal(t, 0, resp.Devices[1].TotalPlays)
	require.NotEmpty(t, resp.Devices[1].Error)
}

func TestService_WeekComparison(t *testing.T) {
	objects := &fakeObjects{prefixes: []string{"scr-01"}}
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"scr-01": {
			play("scr-01", "a.mp4", testNow.Add(-3*24*time.Hour), 10),
			play("scr-01", "a.mp4", testNow.Add(-10*24*time.Hour), 10),
		},
	}}
	svc := newTestService(plays, &fakeAdmin{}, objects)

	resp, err := svc.WeekComparison(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, resp.CurrentWeek.Plays)
	require.Equal(t, 1, resp.PreviousWeek.Plays)
	require.Equal(t, 0, resp.Change.Plays)
}

func TestService_LeaderboardSortAndLimit(t *testing.T) {
	objects := &fakeObjects{prefixes: []string{"scr-01"}}
	var records []v1.PlayRecord
	for i := 0; i < 3; i++ {
		records = append(records, play("scr-01", "big.mp4", testNow.Add(-time.Duration(i)*time.Minute), 10))
	}
	records = append(records, play("scr-01", "small.mp4", testNow, 10))
	plays := &fakePlays{records: map[string][]v1.PlayRecord{"scr-01": records}}
	svc := newTestService(plays, &fakeAdmin{}, objects)

	resp, err := svc.Leaderboard(context.Background(), stats.SortByPlays, 1, false)
	require.NoError(t, err)
	require.Equal(t, 2, resp.Total)
	require.Len(t, resp.Ads, 1)
	require.Equal(t, "big.mp4", resp.Ads[0].AdFilename)

	_, err = svc.Leaderboard(context.Background(), "views", 0, false)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_GenericQueryValidation(t *testing.T) {
	svc := newTestService(&fakePlays{}, &fakeAdmin{}, &fakeObjects{})
	_, err := svc.GenericQuery(context.Background(), QueryRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_GenericQueryScanFallback(t *testing.T) {
	admin := &fakeAdmin{page: store.Page{Count: 2, ScannedCount: 7}}
	svc := newTestService(&fakePlays{}, admin, &fakeObjects{})

	resp, err := svc.GenericQuery(context.Background(), QueryRequest{TableName: "ad_metrics", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, admin.scans)
	require.Equal(t, int32(2), resp.Count)
	require.Equal(t, int32(7), resp.ScannedCount)
}

func TestService_GenericQueryBuildsSortCondition(t *testing.T) {
	admin := &fakeAdmin{}
	svc := newTestService(&fakePlays{}, admin, &fakeObjects{})

	_, err := svc.GenericQuery(context.Background(), QueryRequest{
		TableName:      "ad_metrics",
		PartitionKey:   "device_id",
		PartitionValue: "scr-01",
		SortKey:        "timestamp",
		SortValueStart: "2026-02-01T00:00:00Z",
		SortValueEnd:   "2026-02-07T00:00:00Z",
		IndexName:      "device_id-timestamp-index",
	})
	require.NoError(t, err)
	require.NotNil(t, admin.lastQuery)
	require.Equal(t, "device_id-timestamp-index", admin.lastQuery.Index)
	require.NotNil(t, admin.lastQuery.Sort)
	require.Equal(t, store.SortBetween, admin.lastQuery.Sort.Op)
}

func TestService_Screenshots(t *testing.T) {
	objects := &fakeObjects{
		prefixes: []string{"scr-01", "scr-02"},
		objects: map[string][]store.ObjectInfo{
			"scr-01/screenshots/": {
				{Key: "scr-01/screenshots/old.png", LastModified: testNow.Add(-2 * time.Hour)},
				{Key: "scr-01/screenshots/new.png", LastModified: testNow.Add(-time.Minute)},
				{Key: "scr-01/screenshots/readme.txt", LastModified: testNow},
			},
		},
	}
	svc := newTestService(&fakePlays{}, &fakeAdmin{}, objects)

	resp, err := svc.Screenshots(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Screenshots, 2)

	require.Equal(t, "scr-01", resp.Screenshots[0].DeviceID)
	require.Equal(t, "scr-01/screenshots/new.png", resp.Screenshots[0].ScreenshotKey)
	require.Equal(t, "https://signed.example/scr-01/screenshots/new.png", resp.Screenshots[0].ScreenshotURL)
	require.Empty(t, resp.Screenshots[0].Error)

	require.Equal(t, "scr-02", resp.Screenshots[1].DeviceID)
	require.Equal(t, "no screenshot found", resp.Screenshots[1].Error)
}

func TestService_Tables(t *testing.T) {
	admin := &fakeAdmin{tables: []string{"ad_metrics"}}
	svc := newTestService(&fakePlays{}, admin, &fakeObjects{})

	resp, err := svc.Tables(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"ad_metrics"}, resp.Tables)
}
