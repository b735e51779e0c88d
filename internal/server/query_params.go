package server

import (
	"strconv"
	"strings"

	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
)

func parseOptionalInt64(value string) (*int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parsePeriod(value string, def usagedomain.Period) (usagedomain.Period, error) {
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	return usagedomain.ParsePeriod(value)
}

func parseLimit(value string, def, maxLimit int) (int, error) {
	parsed, err := parseOptionalInt64(value)
	if err != nil {
		return 0, ErrInvalidRequest
	}
	if parsed == nil {
		return def, nil
	}
	if *parsed <= 0 {
		return 0, ErrInvalidRequest
	}
	if int(*parsed) > maxLimit {
		return maxLimit, nil
	}
	return int(*parsed), nil
}
