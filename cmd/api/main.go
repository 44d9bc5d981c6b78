package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/audit"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/auth"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/config"
	apphttp "github.com/ishantswami13-crypto/pesa-ledger/internal/http"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/logging"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/mpesa"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/payments"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/router"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/storage"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/summary"
	"github.com/ishantswami13-crypto/pesa-ledger/internal/transactions"
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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return err
	}
	logger.Info("database ready", zap.String("dialect", string(db.Dialect)), zap.Strings("applied", applied))

	if !cfg.Mpesa.Configured() {
		logger.Warn("M-Pesa credentials not configured; STK push is disabled")
	}
	client := mpesa.New(mpesa.Config{
		Environment:    cfg.Mpesa.Environment,
		BaseURL:        cfg.Mpesa.BaseURL,
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		Shortcode:      cfg.Mpesa.Shortcode,
		Passkey:        cfg.Mpesa.Passkey,
		Timeout:        cfg.Mpesa.Timeout,
	})

	tokens := auth.NewTokens(cfg.JWTSecret, auth.DefaultTokenTTL)
	recorder := audit.NewRecorder(db, logger)

	txHandler := transactions.NewHandler(transactions.NewStore(db), logger)
	txHandler.Audit = recorder

	paymentSvc := payments.NewService(payments.NewStore(db), client, cfg.Mpesa.AccountReference, logger)
	paymentHandler := payments.NewHandler(paymentSvc, cfg.Mpesa.CallbackURL, cfg.Mpesa.CallbackToken, logger)
	paymentHandler.Audit = recorder

	app := fiber.New(fiber.Config{
		ErrorHandler:          apphttp.ErrorHandler(logger),
		DisableStartupMessage: cfg.IsProduction(),
	})
	app.Use(router.CorsMiddleware(cfg.CorsOrigin))
	app.Use(logging.RequestLogger(logger))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		pingCtx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			logger.Error("health check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false})
		}
		return c.JSON(fiber.Map{"ok": true})
	})
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("API Working")
	})

	r := &router.Router{
		AuthHandler: &apphttp.AuthHandler{
			Users:  auth.NewStore(db),
			Tokens: tokens,
			Log:    logger,
		},
		TransactionsHandler: txHandler,
		PaymentsHandler:     paymentHandler,
		SummaryHandler:      &summary.Handler{Repo: summary.Repo{DB: db}, Log: logger},
		Audit:               recorder,
		TokenMW:             tokens.Middleware(),
		WriteMW:             router.RateLimitWrite(cfg.RateLimitMax, cfg.RateLimitWindow),
		LoginMW:             router.RateLimitAuth(),
	}
	if cfg.AuthRequired {
		r.AuthMW = tokens.Middleware()
	}
	r.RegisterRoutes(app)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	return g.Wait()
}
