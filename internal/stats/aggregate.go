// Package stats computes dashboard aggregates from play records.
//
// Every function here is a pure reduction over a record slice: no I/O, no
// clocks (callers pass now), no mutation of inputs. Records with timestamps
// that fail to parse are skipped by time-window logic.
package stats

import (
	"sort"
	"time"

	v1 "github.com/adscope-lab/adscope/internal/api/v1"
	"github.com/shopspring/decimal"
)

var dayNames = [7]string{
	"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday",
}

// Summarize reduces one device's records to recent-activity counts.
// The most recent record is the first-seen maximal timestamp: a later record
// replaces the current maximum only when strictly newer.
func Summarize(records []v1.PlayRecord, now time.Time) Summary {
	s := Summary{TotalPlays: len(records)}

	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	var lastAt time.Time
	for i := range records {
		t, err := records[i].Time()
		if err != nil {
			continue
		}
		if !t.Before(hourAgo) {
			s.Plays1Hr++
		}
		if !t.Before(dayAgo) {
			s.Plays24Hr++
		}
		if t.After(lastAt) {
			lastAt = t
			s.LastPlay = &records[i]
		}
	}

	return s
}

// SummarizeFleet reduces records from every device into the fleet rollup.
// deviceCount is the number of enumerated devices (not just active ones) and
// is the divisor for avgPlaysPerDevice.
func SummarizeFleet(records []v1.PlayRecord, deviceCount int, now time.Time) FleetSummary {
	base := Summarize(records, now)
	fs := FleetSummary{
		TotalPlays: base.TotalPlays,
		Plays1Hr:   base.Plays1Hr,
		Plays24Hr:  base.Plays24Hr,
		LastPlay:   base.LastPlay,
	}

	weekAgo := now.Add(-7 * 24 * time.Hour)
	monthAgo := now.Add(-30 * 24 * time.Hour)
	ads := make(map[string]struct{})
	devices := make(map[string]struct{})

	for i := range records {
		if records[i].AdFilename != "" {
			ads[records[i].AdFilename] = struct{}{}
		}
		if records[i].DeviceID != "" {
			devices[records[i].DeviceID] = struct{}{}
		}
		t, err := records[i].Time()
		if err != nil {
			continue
		}
		if !t.Before(weekAgo) {
			fs.Plays7D++
		}
		if !t.Before(monthAgo) {
			fs.Plays30D++
		}
	}

	fs.UniqueAds = len(ads)
	fs.ActiveDevices = len(devices)
	if deviceCount > 0 {
		fs.AvgPlaysPerDevice = round2(float64(fs.TotalPlays) / float64(deviceCount))
	}

	return fs
}

// PerAd aggregates records into one row per known ad, in adNames order.
// Records naming an ad outside adNames are excluded; there is no "other"
// bucket. An ad with no plays reports zeroes and an empty lastPlayed.
func PerAd(records []v1.PlayRecord, adNames []string) []AdStats {
	byAd := make(map[string]*AdStats, len(adNames))
	rows := make([]AdStats, len(adNames))
	for i, name := range adNames {
		rows[i] = AdStats{AdFilename: name}
		byAd[name] = &rows[i]
	}

	lastAt := make(map[string]time.Time, len(adNames))
	for i := range records {
		row, ok := byAd[records[i].AdFilename]
		if !ok {
			continue
		}
		row.TotalPlays++
		row.TotalDuration += records[i].PlayDuration

		t, err := records[i].Time()
		if err != nil {
			continue
		}
		if t.After(lastAt[row.AdFilename]) {
			lastAt[row.AdFilename] = t
			row.LastPlayed = t.Format(time.RFC3339)
		}
	}

	for i := range rows {
		if rows[i].TotalPlays > 0 {
			rows[i].AverageDuration = round2(rows[i].TotalDuration / float64(rows[i].TotalPlays))
		}
		rows[i].TotalDuration = round2(rows[i].TotalDuration)
	}

	return rows
}

// HourlyPattern groups plays by UTC hour of day. The hour-only shape is
// zero-filled across all 24 hours. With includeDayOfWeek the hour axis is
// split per weekday and only populated buckets are emitted, keeping the
// payload proportional to actual activity.
func HourlyPattern(records []v1.PlayRecord, includeDayOfWeek bool) []HourBucket {
	if !includeDayOfWeek {
		buckets := make([]HourBucket, 24)
		for h := range buckets {
			buckets[h].Hour = h
		}
		for i := range records {
			t, err := records[i].Time()
			if err != nil {
				continue
			}
			b := &buckets[t.Hour()]
			b.Plays++
			b.Duration += records[i].PlayDuration
		}
		for h := range buckets {
			buckets[h].Duration = round2(buckets[h].Duration)
		}
		return buckets
	}

	type hourDay struct{ hour, day int }
	grouped := make(map[hourDay]*HourBucket)
	for i := range records {
		t, err := records[i].Time()
		if err != nil {
			continue
		}
		key := hourDay{hour: t.Hour(), day: int(t.Weekday())}
		b, ok := grouped[key]
		if !ok {
			day := key.day
			b = &HourBucket{Hour: key.hour, DayOfWeek: &day}
			grouped[key] = b
		}
		b.Plays++
		b.Duration += records[i].PlayDuration
	}

	buckets := make([]HourBucket, 0, len(grouped))
	for _, b := range grouped {
		b.Duration = round2(b.Duration)
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if *buckets[i].DayOfWeek != *buckets[j].DayOfWeek {
			return *buckets[i].DayOfWeek < *buckets[j].DayOfWeek
		}
		return buckets[i].Hour < buckets[j].Hour
	})
	return buckets
}

// DayOfWeekPattern groups plays by UTC weekday, Sunday first. All seven
// buckets are always present.
func DayOfWeekPattern(records []v1.PlayRecord) []DayBucket {
	buckets := make([]DayBucket, 7)
	for d := range buckets {
		buckets[d].DayOfWeek = d
		buckets[d].DayName = dayNames[d]
	}

	for i := range records {
		t, err := records[i].Time()
		if err != nil {
			continue
		}
		b := &buckets[int(t.Weekday())]
		b.Plays++
		b.Duration += records[i].PlayDuration
	}

	for d := range buckets {
		buckets[d].Duration = round2(buckets[d].Duration)
	}
	return buckets
}

// WeekComparison splits the trailing two weeks into two windows and reports
// their elementwise difference. Boundaries: current is ts >= now-7d, previous
// is ts >= now-14d && ts < now-7d, so a record exactly one week old counts
// only in the current window and nothing is double counted.
func WeekComparison(records []v1.PlayRecord, now time.Time) WeekComparisonResult {
	weekAgo := now.Add(-7 * 24 * time.Hour)
	twoWeeksAgo := now.Add(-14 * 24 * time.Hour)

	type windowAcc struct {
		stats   WindowStats
		ads     map[string]struct{}
		devices map[string]struct{}
	}
	newAcc := func() *windowAcc {
		return &windowAcc{
			ads:     make(map[string]struct{}),
			devices: make(map[string]struct{}),
		}
	}
	current, previous := newAcc(), newAcc()

	for i := range records {
		t, err := records[i].Time()
		if err != nil {
			continue
		}

		var acc *windowAcc
		switch {
		case !t.Before(weekAgo):
			acc = current
		case !t.Before(twoWeeksAgo) && t.Before(weekAgo):
			acc = previous
		default:
			continue
		}

		acc.stats.Plays++
		acc.stats.Duration += records[i].PlayDuration
		if records[i].AdFilename != "" {
			acc.ads[records[i].AdFilename] = struct{}{}
		}
		if records[i].DeviceID != "" {
			acc.devices[records[i].DeviceID] = struct{}{}
		}
	}

	finish := func(acc *windowAcc) WindowStats {
		acc.stats.UniqueAds = len(acc.ads)
		acc.stats.ActiveDevices = len(acc.devices)
		acc.stats.Duration = round2(acc.stats.Duration)
		return acc.stats
	}

	cur, prev := finish(current), finish(previous)
	return WeekComparisonResult{
		CurrentWeek:  cur,
		PreviousWeek: prev,
		Change: WindowStats{
			Plays:         cur.Plays - prev.Plays,
			Duration:      round2(cur.Duration - prev.Duration),
			UniqueAds:     cur.UniqueAds - prev.UniqueAds,
			ActiveDevices: cur.ActiveDevices - prev.ActiveDevices,
		},
	}
}

// Leaderboard ranks ads across the whole fleet by the requested field,
// descending. Ties keep first-seen order (sort is stable over the grouped
// rows, which are built in record order). limit <= 0 or beyond the row count
// means no truncation. An unknown sortBy falls back to plays.
func Leaderboard(records []v1.PlayRecord, sortBy string, limit int) []LeaderboardRow {
	type adAcc struct {
		row         LeaderboardRow
		devices     map[string]struct{}
		first, last time.Time
	}
	byAd := make(map[string]*adAcc)
	order := make([]string, 0)

	for i := range records {
		name := records[i].AdFilename
		if name == "" {
			continue
		}
		acc, ok := byAd[name]
		if !ok {
			acc = &adAcc{
				row:     LeaderboardRow{AdFilename: name},
				devices: make(map[string]struct{}),
			}
			byAd[name] = acc
			order = append(order, name)
		}

		acc.row.TotalPlays++
		acc.row.TotalDuration += records[i].PlayDuration
		if records[i].DeviceID != "" {
			acc.devices[records[i].DeviceID] = struct{}{}
		}

		t, err := records[i].Time()
		if err != nil {
			continue
		}
		if acc.first.IsZero() || t.Before(acc.first) {
			acc.first = t
		}
		if t.After(acc.last) {
			acc.last = t
			acc.row.LastPlayed = t.Format(time.RFC3339)
		}
	}

	rows := make([]LeaderboardRow, 0, len(order))
	for _, name := range order {
		acc := byAd[name]
		acc.row.DeviceCount = len(acc.devices)
		if acc.row.TotalPlays > 0 {
			acc.row.AverageDuration = round2(acc.row.TotalDuration / float64(acc.row.TotalPlays))
		}
		acc.row.Frequency = round2(float64(acc.row.TotalPlays) / float64(daysBetween(acc.first, acc.last)))
		acc.row.TotalDuration = round2(acc.row.TotalDuration)
		rows = append(rows, acc.row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		switch sortBy {
		case SortByDuration:
			return rows[i].TotalDuration > rows[j].TotalDuration
		case SortByFrequency:
			return rows[i].Frequency > rows[j].Frequency
		default:
			return rows[i].TotalPlays > rows[j].TotalPlays
		}
	})

	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// DeviceComparison reduces each device's records to comparison rows, sorted
// by total plays descending with device id as the deterministic tie-break.
func DeviceComparison(perDevice map[string][]v1.PlayRecord) []DeviceStats {
	rows := make([]DeviceStats, 0, len(perDevice))
	for deviceID, records := range perDevice {
		rows = append(rows, DeviceRow(deviceID, records))
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalPlays != rows[j].TotalPlays {
			return rows[i].TotalPlays > rows[j].TotalPlays
		}
		return rows[i].DeviceID < rows[j].DeviceID
	})
	return rows
}

// DeviceRow reduces one device's records to its comparison row.
func DeviceRow(deviceID string, records []v1.PlayRecord) DeviceStats {
	row := DeviceStats{DeviceID: deviceID, TotalPlays: len(records)}

	var first, last time.Time
	for i := range records {
		row.TotalDuration += records[i].PlayDuration
		t, err := records[i].Time()
		if err != nil {
			continue
		}
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}

	if row.TotalPlays > 0 {
		row.AvgPlaysPerDay = round2(float64(row.TotalPlays) / float64(daysBetween(first, last)))
	}
	row.TotalDuration = round2(row.TotalDuration)
	return row
}

// daysBetween floors at 1 so frequency divisions never hit zero: an ad seen
// only within a single day counts as one active day.
func daysBetween(first, last time.Time) int {
	if first.IsZero() || last.IsZero() {
		return 1
	}
	days := int(last.Sub(first).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// round2 rounds presentation values to 2 decimal places. decimal avoids the
// usual float drift for sums of producer-supplied durations.
func round2(f float64) float64 {
	r, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return r
}
