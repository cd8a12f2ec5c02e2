package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/lunaria-live/lunaria/internal/config"
	"github.com/lunaria-live/lunaria/internal/handler"
	"github.com/lunaria-live/lunaria/internal/identity"
	"github.com/lunaria-live/lunaria/internal/ledger"
	"github.com/lunaria-live/lunaria/internal/limits"
	"github.com/lunaria-live/lunaria/internal/middleware"
	"github.com/lunaria-live/lunaria/internal/payments"
	"github.com/lunaria-live/lunaria/internal/payout"
	"github.com/lunaria-live/lunaria/internal/rate"
	"github.com/lunaria-live/lunaria/internal/session"
	"github.com/lunaria-live/lunaria/internal/store"
	"github.com/lunaria-live/lunaria/internal/ws"
	"github.com/lunaria-live/lunaria/pkg/logger"
)

func main() {
	// ── Configuration ──
	_ = godotenv.Load() // .env is optional; real deployments use the environment
	cfg := config.Load()

	zlog, err := logger.NewLogger(!cfg.IsProd())
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync()

	// ── Redis ──
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Fatalf("failed to connect to redis: %v", err)
	}
	zlog.Infof("connected to redis at %s", cfg.RedisAddr)

	// ── SQL Store ──
	st, err := store.NewStore(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		zlog.Fatalf("failed to init store: %v", err)
	}
	zlog.Infof("database initialised (%s)", cfg.DBDriver)

	// ── Services ──
	ids := identity.NewService(st.DB())
	calc := rate.NewCalculator(cfg.FeePercent)
	ledgerSvc := ledger.NewService(st.DB(), calc)
	presence := session.NewPresence(st.DB(), zlog)
	hub := ws.NewHub(presence)
	mgr := session.NewManager(st.DB(), ledgerSvc, st, cfg, zlog, hub)
	proc := payments.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.Currency)
	runner := payout.NewRunner(st.DB(), rdb, ledgerSvc, proc, cfg, zlog)
	limiter := limits.NewLimiter(rdb, zlog)

	// ── Stale Session Sweeper (background) ──
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go mgr.StartSweeper(sweepCtx)

	// ── Gin Router ──
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Logger())

	sessionHandler := handler.NewSessionHandler(mgr, hub, limiter, cfg)
	walletHandler := handler.NewWalletHandler(ledgerSvc, proc, mgr, limiter, cfg)
	providerHandler := handler.NewProviderHandler(ids, presence, cfg)
	accountHandler := handler.NewAccountHandler(ids)
	webhookHandler := handler.NewWebhookHandler(proc, ledgerSvc, ids, rdb, zlog)
	adminHandler := handler.NewAdminHandler(ids, ledgerSvc, runner)

	// Public: health and the processor webhook (signature-authenticated)
	r.GET("/api/v1/health", sessionHandler.Health)
	webhookHandler.RegisterRoutes(r)

	// Bearer-key API
	api := r.Group("/api/v1", middleware.APIKeyAuth(ids))
	sessionHandler.RegisterRoutes(api)
	walletHandler.RegisterRoutes(api)
	providerHandler.RegisterRoutes(api)
	accountHandler.RegisterRoutes(api)

	// Admin API behind the static token
	adminHandler.RegisterRoutes(r.Group("/api/v1/admin", middleware.AdminTokenAuth(cfg.AdminToken)))

	// ── HTTP Server with graceful shutdown ──
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: r,
	}

	go func() {
		zlog.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatalf("listen error: %v", err)
		}
	}()

	// ── Graceful Shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server...")
	sweepCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Errorf("server shutdown error: %v", err)
	}

	st.Flush()
	rdb.Close()
	zlog.Info("server exited cleanly")
}
