package main

import (
	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/internal/shared/config"
	"github.com/radieske/fairdice-platform/internal/shared/db"
	"github.com/radieske/fairdice-platform/internal/shared/logger"
)

// migrator aplica as migrations embutidas e sai; usado no deploy antes de subir o dice-service.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New("migrator", cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	if err := db.Migrate(pg); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("migrations applied")
}
