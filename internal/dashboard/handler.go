package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	httperr "github.com/adscope-lab/adscope/internal/core/errors"
	"github.com/adscope-lab/adscope/internal/store"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all dashboard API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")

	api.GET("/devices", s.HandleDevices)
	api.GET("/devices/:id/ads", s.HandleDeviceAds)

	api.GET("/stats/device/:id/summary", s.HandleDeviceSummary)
	api.GET("/stats/device/:id/timeseries", s.HandleDeviceTimeseries)
	api.GET("/stats/device/:id/ads", s.HandleDeviceAdStats)

	api.GET("/stats/aggregate/summary", s.HandleAggregateSummary)
	api.GET("/stats/aggregate/hourly-patterns", s.HandleHourlyPatterns)
	api.GET("/stats/aggregate/day-of-week", s.HandleDayOfWeek)
	api.GET("/stats/aggregate/week-comparison", s.HandleWeekComparison)

	api.GET("/stats/ad/:filename/timeseries", s.HandleAdTimeseries)
	api.GET("/stats/ads/leaderboard", s.HandleLeaderboard)
	api.GET("/stats/devices/comparison", s.HandleDeviceComparison)

	api.POST("/stats", s.HandleGenericQuery)
	api.GET("/tables", s.HandleTables)
	api.GET("/screenshots", s.HandleScreenshots)
}

func (s *Service) HandleDevices(c *gin.Context) {
	respond(c, func() (interface{}, error) { return s.Devices(c.Request.Context()) })
}

func (s *Service) HandleDeviceAds(c *gin.Context) {
	respond(c, func() (interface{}, error) {
		return s.DeviceAds(c.Request.Context(), c.Param("id"))
	})
}

func (s *Service) HandleDeviceSummary(c *gin.Context) {
	respond(c, func() (interface{}, error) {
		return s.DeviceSummary(c.Request.Context(), c.Param("id"), refreshFlag(c))
	})
}

func (s *Service) HandleDeviceTimeseries(c *gin.Context) {
	respond(c, func() (interface{}, error) {
		return s.DeviceTimeseries(c.Request.Context(), c.Param("id"))
	})
}

func (s *Service) HandleDeviceAdStats(c *gin.Context) {
	respond(c, func() (interface{}, error) {
		return s.DeviceAdStats(c.Request.Context(), c.Param("id"), refreshFlag(c))
	})
}

func (s *Service) HandleAggregateSummary(c *gin.Context) {
	respond(c, func() (interface{}, error) {
		return s.AggregateSummary(c.Request.Context(), refreshFlag(c))
	})
}

func (s *Service) HandleHourlyPatterns(c *gin.Context) {
	byDayOfWeek := c.Query("dayOfWeek") == "true"
	respond(c, func() (interface{}, error) {
		return s.HourlyPatterns(c.Request.Context(), byDayOfWeek, refreshFlag(c))
	})
}

func (s *Service) HandleDayOfWeek(c *gin.Context) {
	respond(c, func() (interface{}, error) {
		return s.DayOfWeek(c.Request.Context(), refreshFlag(c))
	})
}

func (s *Service) HandleWeekComparison(c *gin.Context) {
	respond(c, func() (interface{}, error) {
		return s.WeekComparison(c.Request.Context(), refreshFlag(c))
	})
}

func (s *Service) HandleAdTimeseries(c *gin.Context) {
	respond(c, func() (interface{}, error) {
		return s.AdTimeseries(c.Request.Context(), c.Param("filename"))
	})
}

func (s *Service) HandleLeaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(c, errors.Join(ErrInvalidRequest, errors.New("limit must be a non-negative integer")))
			return
		}
		limit = parsed
	}

	respond(c, func() (interface{}, error) {
		return s.Leaderboard(c.Request.Context(), c.Query("sortBy"), limit, refreshFlag(c))
	})
}

func (s *Service) HandleDeviceComparison(c *gin.Context) {
	respond(c, func() (interface{}, error) {
		return s.DeviceComparison(c.Request.Context(), refreshFlag(c))
	})
}

func (s *Service) HandleGenericQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			Error: "invalid JSON body: " + err.Error(),
			Code:  httperr.CodeInvalidRequest,
		})
		return
	}

	respond(c, func() (interface{}, error) {
		return s.GenericQuery(c.Request.Context(), req)
	})
}

func (s *Service) HandleTables(c *gin.Context) {
	respond(c, func() (interface{}, error) { return s.Tables(c.Request.Context()) })
}

func (s *Service) HandleScreenshots(c *gin.Context) {
	respond(c, func() (interface{}, error) { return s.Screenshots(c.Request.Context()) })
}

func refreshFlag(c *gin.Context) bool {
	return c.Query("refresh") == "true"
}

func respond(c *gin.Context, fn func() (interface{}, error)) {
	resp, err := fn()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps the error taxonomy onto HTTP statuses and wire codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := httperr.CodeInternalError

	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, store.ErrInvalidQuery):
		status = http.StatusBadRequest
		code = httperr.CodeInvalidRequest
	case errors.Is(err, store.ErrUpstreamTimeout):
		code = httperr.CodeUpstreamTimeout
	case errors.Is(err, store.ErrPaginationOverrun):
		code = httperr.CodePaginationOverrun
	case errors.Is(err, store.ErrUpstream):
		code = httperr.CodeUpstreamError
	}

	c.JSON(status, httperr.ErrorResponse{Error: err.Error(), Code: code})
}
