package migration

import (
	"github.com/tubescribe/tubescribe/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func run(gdb *gorm.DB, log *zap.Logger) error {
	if !db.IsPostgres(gdb) {
		log.Warn("skipping migrations for non-postgres database",
			zap.String("dialect", gdb.Dialector.Name()))
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

var Module = fx.Module("migrations",
	fx.Invoke(run),
)
