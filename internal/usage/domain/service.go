package domain

import (
	"context"
	"errors"

	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	"github.com/smallbiznis/storyvoice/pkg/db/pagination"
	"gorm.io/gorm"
)

type AppendRequest struct {
	UserID         int64          `json:"user_id"`
	ServiceType    ServiceType    `json:"service_type"`
	CharacterCount int64          `json:"character_count"`
	VoiceID        string         `json:"voice_id"`
	ModelID        string         `json:"model_id"`
	Metadata       map[string]any `json:"metadata"`
}

type ListRequest struct {
	UserID    int64  `json:"user_id"`
	PageToken string `json:"page_token"`
	PageSize  int32  `json:"page_size"`
}

type ListResponse struct {
	pagination.PageInfo
	Records []UsageRecord `json:"records"`
}

// Service is the usage ledger: it appends priced records and answers
// read-only aggregate queries over them.
type Service interface {
	Append(ctx context.Context, req AppendRequest) (*UsageRecord, error)

	TotalRequests(ctx context.Context, period Period) (int64, error)
	TotalCharacters(ctx context.Context, period Period) (int64, error)
	TotalCost(ctx context.Context, period Period) (pricingdomain.Amount, error)
	Stats(ctx context.Context, period Period) (PeriodStats, error)
	TopUsers(ctx context.Context, limit int, period Period) ([]UserUsage, error)
	CostByModel(ctx context.Context, period Period) ([]ModelUsage, error)
	TodayUsage(ctx context.Context, userID int64) (int64, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Totals(ctx context.Context, db *gorm.DB, window Window) (Totals, error)
	TopUsers(ctx context.Context, db *gorm.DB, window Window, limit int) ([]UserUsage, error)
	CostByModel(ctx context.Context, db *gorm.DB, window Window) ([]ModelUsage, error)
	UserCharacters(ctx context.Context, db *gorm.DB, userID int64, window Window) (int64, error)
}

const DefaultTopUsersLimit = 10

var (
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidServiceType    = errors.New("invalid_service_type")
	ErrInvalidCharacterCount = errors.New("invalid_character_count")
	ErrInvalidModel          = errors.New("invalid_model")
	ErrInvalidPeriod         = errors.New("invalid_period")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
)
