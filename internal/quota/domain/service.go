// Package domain defines daily character quotas and their decisions.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// TierResolver looks up a user's subscription tier. The user directory is
// owned by another system.
type TierResolver interface {
	Tier(ctx context.Context, userID int64) (Tier, error)
}

// UsageReader reports the characters a user has consumed today.
type UsageReader interface {
	TodayUsage(ctx context.Context, userID int64) (int64, error)
}

type Decision struct {
	Allowed             bool  `json:"allowed"`
	CharactersUsed      int64 `json:"characters_used"`
	DailyLimit          int64 `json:"daily_limit"`
	RequestedCharacters int64 `json:"requested_characters"`
	Remaining           int64 `json:"remaining"`
}

// ExceededError is returned when a request would take the user past the
// daily limit. It unwraps to ErrQuotaExceeded.
type ExceededError struct {
	UserID   int64
	Decision Decision
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s: user %d used %d of %d characters, requested %d",
		ErrQuotaExceeded,
		e.UserID,
		e.Decision.CharactersUsed,
		e.Decision.DailyLimit,
		e.Decision.RequestedCharacters,
	)
}

func (e *ExceededError) Unwrap() error { return ErrQuotaExceeded }

type Service interface {
	DailyLimit(ctx context.Context, userID int64) (int64, error)
	WouldExceed(ctx context.Context, userID int64, requested int64) (bool, error)
	// Check reports the decision without failing on denial.
	Check(ctx context.Context, userID int64, requested int64) (Decision, error)
	// Enforce is Check that returns *ExceededError when denied.
	Enforce(ctx context.Context, userID int64, requested int64) (Decision, error)
}

func ParseTier(raw string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(raw))); t {
	case TierFree, TierPaid:
		return t, nil
	default:
		return "", ErrUnknownTier
	}
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidRequested = errors.New("invalid_requested_characters")
	ErrUnknownTier      = errors.New("unknown_tier")
	ErrQuotaExceeded    = errors.New("quota_exceeded")
)
