package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
)

const maxTopUsersLimit = 100

type usageStatsResponse struct {
	Today    usagedomain.PeriodStats  `json:"today"`
	Week     usagedomain.PeriodStats  `json:"week"`
	Month    usagedomain.PeriodStats  `json:"month"`
	TopUsers []usagedomain.UserUsage  `json:"top_users"`
	Models   []usagedomain.ModelUsage `json:"models"`
}

type runMonitorRequest struct {
	Period string `json:"period"`
	Notify *bool  `json:"notify"`
}

func (s *Server) GetUsageStats(c *gin.Context) {
	ctx := c.Request.Context()

	var resp usageStatsResponse
	for _, item := range []struct {
		period usagedomain.Period
		dst    *usagedomain.PeriodStats
	}{
		{usagedomain.PeriodToday, &resp.Today},
		{usagedomain.PeriodWeek, &resp.Week},
		{usagedomain.PeriodMonth, &resp.Month},
	} {
		stats, err := s.periodStats(ctx, item.period)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		*item.dst = stats
	}

	topUsers, err := s.topUsers(ctx, usagedomain.DefaultTopUsersLimit, usagedomain.PeriodMonth)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	models, err := s.costByModel(ctx, usagedomain.PeriodMonth)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp.TopUsers = nonNilUsers(topUsers)
	resp.Models = nonNilModels(models)

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTopUsers(c *gin.Context) {
	period, err := parsePeriod(c.Query("period"), usagedomain.PeriodMonth)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseLimit(c.Query("limit"), usagedomain.DefaultTopUsersLimit, maxTopUsersLimit)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	users, err := s.topUsers(c.Request.Context(), limit, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"period": period, "users": nonNilUsers(users)}})
}

func (s *Server) ListCostByModel(c *gin.Context) {
	period, err := parsePeriod(c.Query("period"), usagedomain.PeriodMonth)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	models, err := s.costByModel(c.Request.Context(), period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"period": period, "models": nonNilModels(models)}})
}

func (s *Server) ListUserRecords(c *gin.Context) {
	userID, err := parseOptionalInt64(c.Param("id"))
	if err != nil || userID == nil || *userID <= 0 {
		AbortWithError(c, usagedomain.ErrInvalidUser)
		return
	}

	var query struct {
		PageToken string `form:"page_token"`
		PageSize  int32  `form:"page_size"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.usagesvc.List(c.Request.Context(), usagedomain.ListRequest{
		UserID:    *userID,
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// RunMonitor runs the cost monitor on demand. Notify defaults to true.
func (s *Server) RunMonitor(c *gin.Context) {
	var req runMonitorRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	period, err := parsePeriod(req.Period, usagedomain.PeriodToday)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	notify := true
	if req.Notify != nil {
		notify = *req.Notify
	}

	result, err := s.monitorJob.Run(c.Request.Context(), alertdomain.RunRequest{
		Period: period,
		Notify: notify,
	})
	// an alerted run stays alerted when dispatch fails; the failure rides in dispatch_error
	if err != nil && result.Status != alertdomain.RunStatusAlerted {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) periodStats(ctx context.Context, period usagedomain.Period) (usagedomain.PeriodStats, error) {
	if s.statsCache != nil {
		if stats, ok := s.statsCache.GetStats(period); ok {
			return stats, nil
		}
	}
	stats, err := s.usagesvc.Stats(ctx, period)
	if err != nil {
		return usagedomain.PeriodStats{}, err
	}
	if s.statsCache != nil {
		s.statsCache.SetStats(period, stats)
	}
	return stats, nil
}

func (s *Server) topUsers(ctx context.Context, limit int, period usagedomain.Period) ([]usagedomain.UserUsage, error) {
	if s.statsCache != nil {
		if users, ok := s.statsCache.GetTopUsers(period, limit); ok {
			return users, nil
		}
	}
	users, err := s.usagesvc.TopUsers(ctx, limit, period)
	if err != nil {
		return nil, err
	}
	users = nonNilUsers(users)
	if s.statsCache != nil {
		s.statsCache.SetTopUsers(period, limit, users)
	}
	return users, nil
}

func (s *Server) costByModel(ctx context.Context, period usagedomain.Period) ([]usagedomain.ModelUsage, error) {
	if s.statsCache != nil {
		if models, ok := s.statsCache.GetCostByModel(period); ok {
			return models, nil
		}
	}
	models, err := s.usagesvc.CostByModel(ctx, period)
	if err != nil {
		return nil, err
	}
	models = nonNilModels(models)
	if s.statsCache != nil {
		s.statsCache.SetCostByModel(period, models)
	}
	return models, nil
}

func nonNilUsers(users []usagedomain.UserUsage) []usagedomain.UserUsage {
	if users == nil {
		return []usagedomain.UserUsage{}
	}
	return users
}

func nonNilModels(models []usagedomain.ModelUsage) []usagedomain.ModelUsage {
	if models == nil {
		return []usagedomain.ModelUsage{}
	}
	return models
}
