package migration

import (
	"github.com/smallbiznis/trustledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
			log.Info("postgres migrations applied")
			return nil
		}

		if !cfg.DBAutoMigrate {
			log.Info("auto migrate disabled", zap.String("dialect", conn.Dialector.Name()))
			return nil
		}
		if err := AutoMigrate(conn); err != nil {
			return err
		}
		log.Info("schema auto migrated", zap.String("dialect", conn.Dialector.Name()))
		return nil
	}),
)
