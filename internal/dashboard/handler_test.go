package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "github.com/adscope-lab/adscope/internal/api/v1"
	httperr "github.com/adscope-lab/adscope/internal/core/errors"
	"github.com/adscope-lab/adscope/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_DeviceSummary(t *testing.T) {
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"scr-01": playsWithin("scr-01", 5, 15),
	}}
	r := newTestRouter(newTestService(plays, &fakeAdmin{}, &fakeObjects{}))

	w := doRequest(t, r, http.MethodGet, "/api/stats/device/scr-01/summary", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp DeviceSummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "scr-01", resp.DeviceID)
	require.Equal(t, 5, resp.Plays1Hr)
	require.Equal(t, 20, resp.Plays24Hr)
}

func TestHandler_AdTimeseries(t *testing.T) {
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"promo.mp4": {play("scr-01", "promo.mp4", testNow.Add(-time.Hour), 5)},
	}}
	r := newTestRouter(newTestService(plays, &fakeAdmin{}, &fakeObjects{}))

	w := doRequest(t, r, http.MethodGet, "/api/stats/ad/promo.mp4/timeseries", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp AdTimeseriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "promo.mp4", resp.AdFilename)
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "scr-01", resp.Items[0].DeviceID)
}

func TestHandler_GenericQueryMissingTableReturns400(t *testing.T) {
	r := newTestRouter(newTestService(&fakePlays{}, &fakeAdmin{}, &fakeObjects{}))

	w := doRequest(t, r, http.MethodPost, "/api/stats", `{"limit": 5}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.CodeInvalidRequest, resp.Code)
	require.Contains(t, resp.Error, "tableName")
}

func TestHandler_GenericQueryMalformedBodyReturns400(t *testing.T) {
	r := newTestRouter(newTestService(&fakePlays{}, &fakeAdmin{}, &fakeObjects{}))

	w := doRequest(t, r, http.MethodPost, "/api/stats", `{"tableName":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_UpstreamErrorReturns500(t *testing.T) {
	plays := &fakePlays{errs: map[string]error{
		"scr-01": fmt.Errorf("%w: access denied", store.ErrUpstream),
	}}
	r := newTestRouter(newTestService(plays, &fakeAdmin{}, &fakeObjects{}))

	w := doRequest(t, r, http.MethodGet, "/api/stats/device/scr-01/summary", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.CodeUpstreamError, resp.Code)
	require.Contains(t, resp.Error, "access denied")
}

func TestHandler_UpstreamTimeoutReturnsDistinctCode(t *testing.T) {
	plays := &fakePlays{errs: map[string]error{
		"scr-01": fmt.Errorf("%w: query took too long", store.ErrUpstreamTimeout),
	}}
	r := newTestRouter(newTestService(plays, &fakeAdmin{}, &fakeObjects{}))

	w := doRequest(t, r, http.MethodGet, "/api/stats/device/scr-01/timeseries", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.CodeUpstreamTimeout, resp.Code)
}

func TestHandler_PaginationOverrunCode(t *testing.T) {
	plays := &fakePlays{errs: map[string]error{
		"scr-01": fmt.Errorf("%w: stopped after 50 pages", store.ErrPaginationOverrun),
	}}
	r := newTestRouter(newTestService(plays, &fakeAdmin{}, &fakeObjects{}))

	w := doRequest(t, r, http.MethodGet, "/api/stats/device/scr-01/timeseries", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.CodePaginationOverrun, resp.Code)
}

func TestHandler_LeaderboardRejectsBadLimit(t *testing.T) {
	r := newTestRouter(newTestService(&fakePlays{}, &fakeAdmin{}, &fakeObjects{}))

	w := doRequest(t, r, http.MethodGet, "/api/stats/ads/leaderboard?limit=nope", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Devices(t *testing.T) {
	objects := &fakeObjects{prefixes: []string{"scr-01", "ad_metrics"}}
	r := newTestRouter(newTestService(&fakePlays{}, &fakeAdmin{}, objects))

	w := doRequest(t, r, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp DevicesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, []string{"scr-01"}, resp.Devices)
}

func TestHandler_HourlyPatternsQueryFlags(t *testing.T) {
	friday := time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC)
	objects := &fakeObjects{prefixes: []string{"scr-01"}}
	plays := &fakePlays{records: map[string][]v1.PlayRecord{
		"scr-01": {play("scr-01", "a.mp4", friday, 5)},
	}}
	r := newTestRouter(newTestService(plays, &fakeAdmin{}, objects))

	w := doRequest(t, r, http.MethodGet, "/api/stats/aggregate/hourly-patterns", "")
	require.Equal(t, http.StatusOK, w.Code)
	var hourly HourlyPatternsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hourly))
	require.Len(t, hourly.Patterns, 24)

	w = doRequest(t, r, http.MethodGet, "/api/stats/aggregate/hourly-patterns?dayOfWeek=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	var byDay HourlyPatternsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &byDay))
	require.Len(t, byDay.Patterns, 1)
	require.NotNil(t, byDay.Patterns[0].DayOfWeek)
}

func TestHandler_Screenshots(t *testing.T) {
	objects := &fakeObjects{
		prefixes: []string{"scr-01"},
		objects: map[string][]store.ObjectInfo{
			"scr-01/screenshots/": {
				{Key: "scr-01/screenshots/latest.png", LastModified: time.Date(2026, 2, 7, 11, 0, 0, 0, time.UTC)},
			},
		},
	}
	r := newTestRouter(newTestService(&fakePlays{}, &fakeAdmin{}, objects))

	w := doRequest(t, r, http.MethodGet, "/api/screenshots", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ScreenshotsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Screenshots, 1)
	require.Equal(t, "https://signed.example/scr-01/screenshots/latest.png", resp.Screenshots[0].ScreenshotURL)
}
