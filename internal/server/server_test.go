package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/cache"
	"github.com/smallbiznis/storyvoice/internal/clock"
	"github.com/smallbiznis/storyvoice/internal/config"
	"github.com/smallbiznis/storyvoice/internal/narration"
	obsmiddleware "github.com/smallbiznis/storyvoice/internal/observability/logger"
	pricingservice "github.com/smallbiznis/storyvoice/internal/pricing/service"
	quotaservice "github.com/smallbiznis/storyvoice/internal/quota/service"
	"github.com/smallbiznis/storyvoice/internal/ratelimit"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"github.com/smallbiznis/storyvoice/internal/usage/repository"
	usageservice "github.com/smallbiznis/storyvoice/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSynthesizer struct {
	err error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, call narration.SynthesisCall) (*narration.SynthesisOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &narration.SynthesisOutput{Audio: []byte("mp3:" + call.VoiceID), ContentType: "audio/mpeg"}, nil
}

func (f *fakeSynthesizer) Converse(_ context.Context, call narration.ConversationCall) (*narration.ConversationOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &narration.ConversationOutput{ConversationID: "conv-9", Reply: "hi " + call.Message}, nil
}

type fakeJob struct {
	got    alertdomain.RunRequest
	calls  int
	result alertdomain.RunResult
	err    error
}

func (f *fakeJob) Run(_ context.Context, req alertdomain.RunRequest) (alertdomain.RunResult, error) {
	f.calls++
	f.got = req
	res := f.result
	res.Evaluation.Period = req.Period
	return res, f.err
}

type serverEnv struct {
	srv   *Server
	db    *gorm.DB
	synth *fakeSynthesizer
	job   *fakeJob
}

func setupServer(t *testing.T, mutate func(*config.MeteringConfig)) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}))

	cfg := config.DefaultMeteringConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	holder, err := config.NewStaticMeteringConfigHolder(cfg)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	usage := usageservice.NewService(usageservice.ServiceParam{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Now()),
		Pricing: pricingservice.NewService(pricingservice.ServiceParam{Log: log, Metering: holder}),
		Repo:    repository.Provide(),
	})
	quota := quotaservice.NewService(quotaservice.ServiceParam{Log: log, Metering: holder, Usage: usage})
	synth := &fakeSynthesizer{}
	gateway := narration.NewGateway(narration.GatewayParams{
		Log:         log,
		Metering:    holder,
		Quota:       quota,
		Usage:       usage,
		Limiter:     ratelimit.NewNarrationLimiter(nil, holder, log),
		Synthesizer: synth,
	})
	job := &fakeJob{result: alertdomain.RunResult{RunID: "run-1", Status: alertdomain.RunStatusOK}}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:        engine,
		Usagesvc:   usage,
		Quotasvc:   quota,
		Gateway:    gateway,
		MonitorJob: job,
	})
	return &serverEnv{srv: srv, db: db, synth: synth, job: job}
}

func (e *serverEnv) do(method, path string, body any, userID string, admin bool) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(obsmiddleware.HeaderUserID, userID)
	}
	if admin {
		req.Header.Set(obsmiddleware.HeaderUserRole, "admin")
	}
	rec := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Type   string            `json:"type"`
		Errors []ValidationError `json:"errors"`
	} `json:"error"`
	UpstreamStatus int             `json:"upstream_status"`
	Details        json.RawMessage `json:"details"`
	LimitInfo      *struct {
		Allowed        bool  `json:"allowed"`
		CharactersUsed int64 `json:"characters_used"`
		DailyLimit     int64 `json:"daily_limit"`
		Remaining      int64 `json:"remaining"`
	} `json:"limit_info"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestQuotaRequiresUser(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodGet, "/api/v1/narration/quota", nil, "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Error.Type)

	rec = env.do(http.MethodGet, "/api/v1/narration/quota", nil, "abc", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQuotaReportsDecision(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodGet, "/api/v1/narration/quota?requested=400", nil, "7", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Allowed   bool  `json:"allowed"`
			Limit     int64 `json:"daily_limit"`
			Remaining int64 `json:"remaining"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Data.Allowed)
	assert.Equal(t, int64(10000), body.Data.Limit)
	assert.Equal(t, int64(10000), body.Data.Remaining)

	rec = env.do(http.MethodGet, "/api/v1/narration/quota?requested=-1", nil, "7", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpeechReturnsAudioAndRecordsUsage(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/narration/speech", gin.H{"text": "once upon a time", "voice_id": "narrator"}, "7", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "mp3:narrator", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerUsageRecordID))

	var n int64
	require.NoError(t, env.db.Model(&usagedomain.UsageRecord{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestSpeechQuotaDenialIncludesLimitInfo(t *testing.T) {
	env := setupServer(t, func(cfg *config.MeteringConfig) {
		cfg.Limits.Free = 20
	})

	rec := env.do(http.MethodPost, "/api/v1/narration/speech", gin.H{"text": strings.Repeat("a", 15), "voice_id": "v"}, "7", false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/narration/speech", gin.H{"text": strings.Repeat("a", 10), "voice_id": "v"}, "7", false)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "quota_exceeded", body.Error.Type)
	require.NotNil(t, body.LimitInfo)
	assert.False(t, body.LimitInfo.Allowed)
	assert.Equal(t, int64(15), body.LimitInfo.CharactersUsed)
	assert.Equal(t, int64(20), body.LimitInfo.DailyLimit)
	assert.Equal(t, int64(5), body.LimitInfo.Remaining)
}

func TestSpeechValidationErrors(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/narration/speech", gin.H{"text": "  ", "voice_id": "v"}, "7", false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "validation_error", body.Error.Type)
	require.Len(t, body.Error.Errors, 1)
	assert.Equal(t, narration.ErrEmptyText.Error(), body.Error.Errors[0].Code)
	assert.Equal(t, "text", body.Error.Errors[0].Field)
}

func TestSpeechUpstreamErrors(t *testing.T) {
	env := setupServer(t, nil)

	env.synth.err = &narration.UpstreamError{StatusCode: http.StatusTooManyRequests, Details: "slow down"}
	rec := env.do(http.MethodPost, "/api/v1/narration/speech", gin.H{"text": "hi", "voice_id": "v"}, "7", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "upstream_rate_limited", body.Error.Type)
	assert.Equal(t, http.StatusTooManyRequests, body.UpstreamStatus)
	assert.JSONEq(t, `"slow down"`, string(body.Details))

	env.synth.err = &narration.UpstreamError{StatusCode: http.StatusUnprocessableEntity, Details: `{"detail":"voice_not_found"}`}
	rec = env.do(http.MethodPost, "/api/v1/narration/speech", gin.H{"text": "hi", "voice_id": "v"}, "7", false)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body = decodeError(t, rec)
	assert.Equal(t, "upstream_error", body.Error.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, body.UpstreamStatus)
	assert.JSONEq(t, `{"detail":"voice_not_found"}`, string(body.Details))
}

func TestConversationMessage(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/narration/conversation", gin.H{
		"agent_id":        "agent-1",
		"conversation_id": "conv-9",
		"action":          "message",
		"message":         "there",
	}, "7", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data conversationResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conv-9", body.Data.ConversationID)
	assert.Equal(t, "hi there", body.Data.Reply)
	assert.NotEmpty(t, body.Data.UsageRecordID)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodGet, "/admin/usage/stats", nil, "1", false)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/admin/usage/stats", nil, "", true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsageStats(t *testing.T) {
	env := setupServer(t, nil)

	for _, user := range []string{"7", "8", "7"} {
		rec := env.do(http.MethodPost, "/api/v1/narration/speech", gin.H{"text": strings.Repeat("a", 1000), "voice_id": "v"}, user, false)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(http.MethodGet, "/admin/usage/stats", nil, "1", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Today struct {
				TotalRequests   int64  `json:"total_requests"`
				TotalCharacters int64  `json:"total_characters"`
				TotalCost       string `json:"total_cost"`
			} `json:"today"`
			TopUsers []usagedomain.UserUsage  `json:"top_users"`
			Models   []usagedomain.ModelUsage `json:"models"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Data.Today.TotalRequests)
	assert.Equal(t, int64(3000), body.Data.Today.TotalCharacters)
	require.Len(t, body.Data.TopUsers, 2)
	assert.Equal(t, int64(7), body.Data.TopUsers[0].UserID)
	assert.Equal(t, int64(2), body.Data.TopUsers[0].Requests)
	require.Len(t, body.Data.Models, 1)
}

func TestTopUsersValidation(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodGet, "/admin/usage/top-users?period=year", nil, "1", true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, usagedomain.ErrInvalidPeriod.Error(), decodeError(t, rec).Error.Errors[0].Code)

	rec = env.do(http.MethodGet, "/admin/usage/top-users?limit=0", nil, "1", true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_limit", decodeError(t, rec).Error.Errors[0].Code)

	rec = env.do(http.MethodGet, "/admin/usage/top-users?period=week&limit=500", nil, "1", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListUserRecords(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/narration/speech", gin.H{"text": "hello", "voice_id": "v"}, "7", false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/admin/usage/users/7/records", nil, "1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Records []struct {
				UserID         int64 `json:"user_id"`
				CharacterCount int64 `json:"character_count"`
			} `json:"records"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data.Records, 1)
	assert.Equal(t, int64(5), body.Data.Records[0].CharacterCount)

	rec = env.do(http.MethodGet, "/admin/usage/users/zero/records", nil, "1", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunMonitor(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodPost, "/admin/usage/monitor", gin.H{"period": "week", "notify": false}, "1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.job.calls)
	assert.Equal(t, usagedomain.PeriodWeek, env.job.got.Period)
	assert.False(t, env.job.got.Notify)

	rec = env.do(http.MethodPost, "/admin/usage/monitor", nil, "1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usagedomain.PeriodToday, env.job.got.Period)
	assert.True(t, env.job.got.Notify)
}

func TestRunMonitorReportsAlertedWhenDispatchFails(t *testing.T) {
	env := setupServer(t, nil)
	dispatchErr := errors.New("admin directory unavailable")
	env.job.err = dispatchErr
	env.job.result = alertdomain.RunResult{
		Status:        alertdomain.RunStatusAlerted,
		DispatchError: dispatchErr.Error(),
	}

	rec := env.do(http.MethodPost, "/admin/usage/monitor", gin.H{"period": "today", "notify": true}, "1", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data alertdomain.RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, alertdomain.RunStatusAlerted, body.Data.Status)
	assert.Equal(t, "admin directory unavailable", body.Data.DispatchError)

	env.job.err = usagedomain.ErrInvalidPeriod
	env.job.result = alertdomain.RunResult{}
	rec = env.do(http.MethodPost, "/admin/usage/monitor", nil, "1", true)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestLiveEventsUnavailableWithoutHub(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodGet, "/admin/usage/live", nil, "1", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := setupServer(t, nil)

	rec := env.do(http.MethodGet, "/nope", nil, "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(narration.ErrTextTooLong)
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "text_too_long", code)

	typ, _ = classifyErrorForLog(ratelimit.ErrUserBusy)
	assert.Equal(t, "user_busy", typ)
}

func TestUsageStatsServedFromCache(t *testing.T) {
	env := setupServer(t, nil)
	env.srv.statsCache = cache.NewUsageStatsCache()

	read := func() int64 {
		rec := env.do(http.MethodGet, "/admin/usage/stats", nil, "1", true)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data struct {
				Today struct {
					TotalRequests int64 `json:"total_requests"`
				} `json:"today"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Data.Today.TotalRequests
	}

	assert.Equal(t, int64(0), read())
	rec := env.do(http.MethodPost, "/api/v1/narration/speech", gin.H{"text": "hello", "voice_id": "v"}, "7", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), read())
}
