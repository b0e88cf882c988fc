package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Load .env into the environment before config reads it.
	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/audit"
	"github.com/captivenet/portal/internal/auth"
	"github.com/captivenet/portal/internal/config"
	"github.com/captivenet/portal/internal/database"
	"github.com/captivenet/portal/internal/handler"
	"github.com/captivenet/portal/internal/logger"
	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/queue"
	"github.com/captivenet/portal/internal/repository"
	"github.com/captivenet/portal/internal/router"
	"github.com/captivenet/portal/internal/service/notifier"
	"github.com/captivenet/portal/internal/session"
	"github.com/captivenet/portal/internal/token"
	"github.com/captivenet/portal/internal/voucher"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.Env); err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Log

	met := metrics.New()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("database connect failed", zap.Error(err))
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable, rate limiting disabled")
	}

	// Repositories.
	accounts := repository.NewAccountRepo(db)
	sessions := repository.NewSessionRepo(db)
	vouchers := repository.NewVoucherRepo(db)
	access := repository.NewAccessRepo(db)
	auditStore := repository.NewAuditRepo(db)

	// Services.
	ledger := audit.NewLedger(auditStore, log, met)
	notify := notifier.New(queue.BrokerURL(), log)
	tokens := token.NewService(cfg.Auth, sessions, accounts, log, met)
	authSvc := auth.NewService(accounts, sessions, tokens, ledger, notify, cfg.Auth, cfg.TOTP, log, met)
	registry := session.NewRegistry(sessions, ledger, log, met)
	voucherSvc := voucher.NewService(vouchers, access, ledger, notify, log, met)

	// Background usage consumer.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go queue.StartUsageConsumer(ctx, voucherSvc, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())

	router.Register(e, router.Deps{
		Auth:     handler.NewAuthHandler(authSvc, tokens),
		Sessions: handler.NewSessionHandler(registry),
		Portal:   handler.NewPortalHandler(voucherSvc),
		Admin:    handler.NewAdminHandler(authSvc, voucherSvc, ledger),
		Tokens:   tokens,
		RateCfg:  config.LoadRateLimitConfig(),
		Redis:    rdb,
		Metrics:  met,
		Log:      log,
	})

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil {
			log.Info("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}
