package repository

import (
	"context"

	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

type aggregateRow struct {
	ModelKey   string
	UserID     int64
	Requests   int64
	Characters int64
	Cost       int64
}

func (r *repo) Totals(ctx context.Context, db *gorm.DB, window usagedomain.Window) (usagedomain.Totals, error) {
	var row aggregateRow
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS requests,
		        COALESCE(SUM(character_count), 0) AS characters,
		        COALESCE(SUM(estimated_cost), 0) AS cost
		 FROM narration_usage_records
		 WHERE created_at >= ? AND created_at <= ?`,
		window.Start.UTC(),
		window.End.UTC(),
	).Scan(&row).Error
	if err != nil {
		return usagedomain.Totals{}, err
	}
	return usagedomain.Totals{
		Requests:   row.Requests,
		Characters: row.Characters,
		Cost:       pricingdomain.Amount(row.Cost),
	}, nil
}

func (r *repo) TopUsers(ctx context.Context, db *gorm.DB, window usagedomain.Window, limit int) ([]usagedomain.UserUsage, error) {
	var rows []aggregateRow
	err := db.WithContext(ctx).Raw(
		`SELECT user_id,
		        COUNT(*) AS requests,
		        COALESCE(SUM(character_count), 0) AS characters,
		        COALESCE(SUM(estimated_cost), 0) AS cost
		 FROM narration_usage_records
		 WHERE created_at >= ? AND created_at <= ?
		 GROUP BY user_id
		 ORDER BY cost DESC, user_id ASC
		 LIMIT ?`,
		window.Start.UTC(),
		window.End.UTC(),
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]usagedomain.UserUsage, 0, len(rows))
	for _, row := range rows {
		out = append(out, usagedomain.UserUsage{
			UserID:     row.UserID,
			Requests:   row.Requests,
			Characters: row.Characters,
			TotalCost:  pricingdomain.Amount(row.Cost),
		})
	}
	return out, nil
}

func (r *repo) CostByModel(ctx context.Context, db *gorm.DB, window usagedomain.Window) ([]usagedomain.ModelUsage, error) {
	var rows []aggregateRow
	err := db.WithContext(ctx).Raw(
		`SELECT model_id AS model_key,
		        COUNT(*) AS requests,
		        COALESCE(SUM(character_count), 0) AS characters,
		        COALESCE(SUM(estimated_cost), 0) AS cost
		 FROM narration_usage_records
		 WHERE created_at >= ? AND created_at <= ?
		 GROUP BY model_id
		 ORDER BY cost DESC, model_id ASC`,
		window.Start.UTC(),
		window.End.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]usagedomain.ModelUsage, 0, len(rows))
	for _, row := range rows {
		out = append(out, usagedomain.ModelUsage{
			ModelID:    row.ModelKey,
			Requests:   row.Requests,
			Characters: row.Characters,
			TotalCost:  pricingdomain.Amount(row.Cost),
		})
	}
	return out, nil
}

func (r *repo) UserCharacters(ctx context.Context, db *gorm.DB, userID int64, window usagedomain.Window) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(character_count), 0)
		 FROM narration_usage_records
		 WHERE user_id = ? AND created_at >= ? AND created_at <= ?`,
		userID,
		window.Start.UTC(),
		window.End.UTC(),
	).Scan(&total).Error
	return total, err
}
