package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storyvoice/internal/clock"
	obsmetrics "github.com/smallbiznis/storyvoice/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"github.com/smallbiznis/storyvoice/internal/usage/liveevents"
	"github.com/smallbiznis/storyvoice/pkg/db/option"
	"github.com/smallbiznis/storyvoice/pkg/db/pagination"
	"github.com/smallbiznis/storyvoice/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Pricing    pricingdomain.Service
	Repo       usagedomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	LiveEvents *liveevents.Hub     `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	pricing    pricingdomain.Service
	repo       usagedomain.Repository
	store      repository.Repository[usagedomain.UsageRecord]
	obsMetrics *obsmetrics.Metrics
	liveEvents *liveevents.Hub
}

func NewService(p ServiceParam) usagedomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:      p.GenID,
		clock:      c,
		pricing:    p.Pricing,
		repo:       p.Repo,
		store:      repository.ProvideStore[usagedomain.UsageRecord](p.DB),
		obsMetrics: p.ObsMetrics,
		liveEvents: p.LiveEvents,
	}
}

func (s *Service) Append(ctx context.Context, req usagedomain.AppendRequest) (*usagedomain.UsageRecord, error) {
	if req.UserID <= 0 {
		return nil, usagedomain.ErrInvalidUser
	}
	if !req.ServiceType.Valid() {
		return nil, usagedomain.ErrInvalidServiceType
	}
	if req.CharacterCount < 0 {
		return nil, usagedomain.ErrInvalidCharacterCount
	}
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		return nil, usagedomain.ErrInvalidModel
	}

	cost, err := s.pricing.Cost(req.CharacterCount, modelID)
	if err != nil {
		return nil, fmt.Errorf("price usage: %w", err)
	}

	record := &usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		ServiceType:    req.ServiceType,
		CharacterCount: req.CharacterCount,
		VoiceID:        strings.TrimSpace(req.VoiceID),
		ModelID:        modelID,
		EstimatedCost:  cost,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if len(req.Metadata) > 0 {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordUsage(ctx, string(record.ServiceType), record.ModelID, record.CharacterCount)
	s.liveEvents.Publish(liveevents.LiveEvent{
		RecordID:       record.ID.String(),
		UserID:         record.UserID,
		ServiceType:    string(record.ServiceType),
		ModelID:        record.ModelID,
		CharacterCount: record.CharacterCount,
		EstimatedCost:  record.EstimatedCost.String(),
		CreatedAt:      record.CreatedAt.Format(time.RFC3339Nano),
	})
	s.log.Debug("usage.append",
		zap.String("record_id", record.ID.String()),
		zap.Int64("user_id", record.UserID),
		zap.String("service_type", string(record.ServiceType)),
		zap.String("model_id", record.ModelID),
		zap.Int64("characters", record.CharacterCount),
		zap.String("estimated_cost", record.EstimatedCost.String()),
	)
	return record, nil
}

func (s *Service) TotalRequests(ctx context.Context, period usagedomain.Period) (int64, error) {
	totals, err := s.totals(ctx, period)
	return totals.Requests, err
}

func (s *Service) TotalCharacters(ctx context.Context, period usagedomain.Period) (int64, error) {
	totals, err := s.totals(ctx, period)
	return totals.Characters, err
}

func (s *Service) TotalCost(ctx context.Context, period usagedomain.Period) (pricingdomain.Amount, error) {
	totals, err := s.totals(ctx, period)
	return totals.Cost, err
}

func (s *Service) Stats(ctx context.Context, period usagedomain.Period) (usagedomain.PeriodStats, error) {
	window, err := s.window(period)
	if err != nil {
		return usagedomain.PeriodStats{}, err
	}
	totals, err := s.repo.Totals(ctx, s.db, window)
	if err != nil {
		return usagedomain.PeriodStats{}, err
	}

	stats := usagedomain.PeriodStats{
		Period:          period,
		Start:           window.Start,
		End:             window.End,
		TotalRequests:   totals.Requests,
		TotalCharacters: totals.Characters,
		TotalCost:       totals.Cost,
	}
	if totals.Requests > 0 {
		stats.AverageCost = pricingdomain.Amount(int64(totals.Cost) / totals.Requests)
	}
	return stats, nil
}

func (s *Service) TopUsers(ctx context.Context, limit int, period usagedomain.Period) ([]usagedomain.UserUsage, error) {
	window, err := s.window(period)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = usagedomain.DefaultTopUsersLimit
	}
	return s.repo.TopUsers(ctx, s.db, window, limit)
}

func (s *Service) CostByModel(ctx context.Context, period usagedomain.Period) ([]usagedomain.ModelUsage, error) {
	window, err := s.window(period)
	if err != nil {
		return nil, err
	}
	return s.repo.CostByModel(ctx, s.db, window)
}

func (s *Service) TodayUsage(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, usagedomain.ErrInvalidUser
	}
	window, err := s.window(usagedomain.PeriodToday)
	if err != nil {
		return 0, err
	}
	return s.repo.UserCharacters(ctx, s.db, userID, window)
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) (usagedomain.ListResponse, error) {
	if req.UserID <= 0 {
		return usagedomain.ListResponse{}, usagedomain.ErrInvalidUser
	}
	pageSize := pagination.NormalizePageSize(req.PageSize)

	opts := []option.QueryOption{
		option.WithOrder("id desc"),
		option.WithLimit(pageSize + 1),
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return usagedomain.ListResponse{}, usagedomain.ErrInvalidPageToken
		}
		cursorID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return usagedomain.ListResponse{}, usagedomain.ErrInvalidPageToken
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "id",
			Operator: option.LT,
			Value:    cursorID,
		}))
	}

	rows, err := s.store.Find(ctx, &usagedomain.UsageRecord{UserID: req.UserID}, opts...)
	if err != nil {
		return usagedomain.ListResponse{}, err
	}
	rows, hasMore := pagination.Trim(rows, pageSize)

	resp := usagedomain.ListResponse{Records: make([]usagedomain.UsageRecord, 0, len(rows))}
	for _, row := range rows {
		resp.Records = append(resp.Records, *row)
	}
	resp.HasMore = hasMore
	if hasMore && len(rows) > 0 {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: rows[len(rows)-1].ID.String()})
		if err != nil {
			return usagedomain.ListResponse{}, err
		}
		resp.NextPageToken = token
	}
	return resp, nil
}

func (s *Service) totals(ctx context.Context, period usagedomain.Period) (usagedomain.Totals, error) {
	window, err := s.window(period)
	if err != nil {
		return usagedomain.Totals{}, err
	}
	return s.repo.Totals(ctx, s.db, window)
}

func (s *Service) window(period usagedomain.Period) (usagedomain.Window, error) {
	return period.Window(s.clock.Now())
}
