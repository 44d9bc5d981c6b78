package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/config"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/logging"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("error opening database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("applying migrations", zap.String("dialect", string(db.Dialect)))
	applied, err := db.Migrate(ctx)
	if err != nil {
		logger.Fatal("error applying migrations", zap.Error(err))
	}
	if len(applied) == 0 {
		logger.Info("schema already up to date")
		return
	}
	logger.Info("migrations applied", zap.Strings("applied", applied))
}
