package migration

import (
	"github.com/smallbiznis/storyvoice/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
		if err := Migrate(conn, cfg); err != nil {
			return err
		}
		log.Info("migration.completed", zap.String("dialect", cfg.Type))
		return nil
	}),
)
