package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/config"
	"github.com/smallbiznis/storyvoice/internal/narration"
	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	quotadomain "github.com/smallbiznis/storyvoice/internal/quota/domain"
	"github.com/smallbiznis/storyvoice/internal/ratelimit"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error          errorPayload          `json:"error"`
	LimitInfo      *quotadomain.Decision `json:"limit_info,omitempty"`
	UpstreamStatus int                   `json:"upstream_status,omitempty"`
	Details        any                   `json:"details,omitempty"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationSentinels are domain errors reported as 400 with their code.
var validationSentinels = []error{
	ErrInvalidRequest,
	usagedomain.ErrInvalidUser,
	usagedomain.ErrInvalidServiceType,
	usagedomain.ErrInvalidCharacterCount,
	usagedomain.ErrInvalidModel,
	usagedomain.ErrInvalidPeriod,
	usagedomain.ErrInvalidPageToken,
	quotadomain.ErrInvalidUser,
	quotadomain.ErrInvalidRequested,
	narration.ErrInvalidUser,
	narration.ErrEmptyText,
	narration.ErrTextTooLong,
	narration.ErrInvalidVoice,
	narration.ErrInvalidAgent,
	narration.ErrInvalidAction,
	pricingdomain.ErrInvalidCharacterCount,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, resp := mapError(lastErr.Err)
		var limited *ratelimit.RateLimitedError
		if errors.As(lastErr.Err, &limited) {
			c.Header("Retry-After", fmt.Sprint(int(math.Ceil(limited.RetryAfter.Seconds()))))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, resp)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, errorResponse{Error: errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorResponse{Error: errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorResponse{Error: errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: err.Error(),
				},
			},
		}}
	}

	var exceeded *quotadomain.ExceededError
	if errors.As(err, &exceeded) {
		decision := exceeded.Decision
		return http.StatusTooManyRequests, errorResponse{
			Error: errorPayload{
				Type: "quota_exceeded",
				Message: fmt.Sprintf("daily character limit reached: used %d of %d, requested %d",
					decision.CharactersUsed, decision.DailyLimit, decision.RequestedCharacters),
			},
			LimitInfo: &decision,
		}
	}

	var upstream *narration.UpstreamError
	if errors.As(err, &upstream) {
		status := http.StatusBadGateway
		resp := errorResponse{
			Error: errorPayload{
				Type:    "upstream_error",
				Message: fmt.Sprintf("speech provider failed with status %d", upstream.StatusCode),
			},
			UpstreamStatus: upstream.StatusCode,
			Details:        upstreamDetails(upstream.Details),
		}
		if upstream.RateLimited() {
			status = http.StatusServiceUnavailable
			resp.Error = errorPayload{
				Type:    "upstream_rate_limited",
				Message: "speech provider is rate limiting requests, try again shortly",
			}
		}
		return status, resp
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, simple("unauthorized", "unauthorized")
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, simple("forbidden", "forbidden")
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, simple("not_found", "not found")
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, simple("rate_limited", "too many requests")
	case errors.Is(err, ratelimit.ErrUserBusy):
		return http.StatusConflict, simple("user_busy", "another request for this user is in progress")
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, narration.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, simple("service_unavailable", "service unavailable")
	case isConfigurationError(err):
		return http.StatusInternalServerError, simple("configuration_error", "metering configuration is invalid")
	default:
		return http.StatusInternalServerError, simple("internal_error", "internal server error")
	}
}

func simple(typ, message string) errorResponse {
	return errorResponse{Error: errorPayload{Type: typ, Message: message}}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func validationErrorField(code string) string {
	switch code {
	case narration.ErrEmptyText.Error(), narration.ErrTextTooLong.Error():
		return "text"
	case quotadomain.ErrInvalidRequested.Error():
		return "requested"
	case usagedomain.ErrInvalidPageToken.Error():
		return "page_token"
	}
	if len(code) > len("invalid_") && code[:len("invalid_")] == "invalid_" {
		return code[len("invalid_"):]
	}
	return ""
}

func isConfigurationError(err error) bool {
	return errors.Is(err, config.ErrInvalidMeteringConfig) ||
		errors.Is(err, pricingdomain.ErrInvalidRateTable) ||
		errors.Is(err, alertdomain.ErrInvalidThreshold) ||
		errors.Is(err, alertdomain.ErrInvalidMultiplier) ||
		errors.Is(err, quotadomain.ErrUnknownTier)
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, resp := mapError(err)
	code := resp.Error.Type
	if len(resp.Error.Errors) > 0 {
		code = resp.Error.Errors[0].Code
	}
	return resp.Error.Type, code
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

// upstreamDetails passes a JSON provider body through as-is and anything else as text.
func upstreamDetails(details string) any {
	trimmed := strings.TrimSpace(details)
	if trimmed == "" {
		return nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return trimmed
}
