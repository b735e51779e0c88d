package service

import (
	"fmt"
	"sync"

	"github.com/smallbiznis/storyvoice/internal/config"
	pricingdomain "github.com/smallbiznis/storyvoice/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Metering *config.MeteringConfigHolder
}

type Service struct {
	log      *zap.Logger
	metering *config.MeteringConfigHolder

	mu        sync.Mutex
	cachedKey string
	cached    pricingdomain.RateTable
}

func NewService(p ServiceParam) pricingdomain.Service {
	return &Service{
		log:      p.Log.Named("pricing.service"),
		metering: p.Metering,
	}
}

func (s *Service) Cost(characterCount int64, modelID string) (pricingdomain.Amount, error) {
	if characterCount < 0 {
		return 0, pricingdomain.ErrInvalidCharacterCount
	}
	table, err := s.Table()
	if err != nil {
		return 0, err
	}
	return pricingdomain.CostOf(characterCount, table.RateFor(modelID))
}

func (s *Service) RateFor(modelID string) (pricingdomain.Rate, error) {
	table, err := s.Table()
	if err != nil {
		return 0, err
	}
	return table.RateFor(modelID), nil
}

// Table parses the rate table from the current metering config. The parsed
// table is reused until the config changes.
func (s *Service) Table() (pricingdomain.RateTable, error) {
	if s.metering == nil {
		return pricingdomain.RateTable{}, fmt.Errorf("%w: metering config unavailable", pricingdomain.ErrInvalidRateTable)
	}
	cfg := s.metering.Get()
	key := rateKey(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedKey == key && s.cached.Rates != nil {
		return s.cached, nil
	}

	table, err := pricingdomain.NewRateTable(cfg.DefaultRate, cfg.Rates)
	if err != nil {
		s.log.Error("pricing.rate_table.invalid", zap.Error(err))
		return pricingdomain.RateTable{}, err
	}
	s.cached = table
	s.cachedKey = key
	return table, nil
}

func rateKey(cfg config.MeteringConfig) string {
	return fmt.Sprintf("%s|%v", cfg.DefaultRate, cfg.Rates)
}
