// Package domain contains the narration usage ledger model and its query types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	"gorm.io/datatypes"
)

type ServiceType string

const (
	ServiceTypeTTS          ServiceType = "tts"
	ServiceTypeConversation ServiceType = "conversation"
)

func (t ServiceType) Valid() bool {
	return t == ServiceTypeTTS || t == ServiceTypeConversation
}

// UsageRecord is one billable call against the speech provider. Rows are
// append-only; EstimatedCost is fixed at creation.
type UsageRecord struct {
	ID             snowflake.ID         `gorm:"primaryKey" json:"id"`
	UserID         int64                `gorm:"not null;index:idx_narration_usage_user_created,priority:1" json:"user_id"`
	ServiceType    ServiceType          `gorm:"type:varchar(32);not null;index:idx_narration_usage_service_type" json:"service_type"`
	CharacterCount int64                `gorm:"not null" json:"character_count"`
	VoiceID        string               `gorm:"type:varchar(255)" json:"voice_id"`
	ModelID        string               `gorm:"type:varchar(100);not null;index:idx_narration_usage_model" json:"model_id"`
	EstimatedCost  pricingdomain.Amount `gorm:"not null;default:0" json:"estimated_cost"`
	Metadata       datatypes.JSONMap    `json:"metadata,omitempty"`
	CreatedAt      time.Time            `gorm:"not null;index:idx_narration_usage_user_created,priority:2;index:idx_narration_usage_created" json:"created_at"`
}

func (UsageRecord) TableName() string { return "narration_usage_records" }

// Window is a closed time range [Start, End] over CreatedAt.
type Window struct {
	Start time.Time
	End   time.Time
}

type Totals struct {
	Requests   int64
	Characters int64
	Cost       pricingdomain.Amount
}

type PeriodStats struct {
	Period          Period               `json:"period"`
	Start           time.Time            `json:"start"`
	End             time.Time            `json:"end"`
	TotalRequests   int64                `json:"total_requests"`
	TotalCharacters int64                `json:"total_characters"`
	TotalCost       pricingdomain.Amount `json:"total_cost"`
	AverageCost     pricingdomain.Amount `json:"average_cost"`
}

type UserUsage struct {
	UserID     int64                `json:"user_id"`
	Requests   int64                `json:"requests"`
	Characters int64                `json:"characters"`
	TotalCost  pricingdomain.Amount `json:"total_cost"`
}

type ModelUsage struct {
	ModelID    string               `json:"model_id"`
	Requests   int64                `json:"requests"`
	Characters int64                `json:"characters"`
	TotalCost  pricingdomain.Amount `json:"total_cost"`
}
