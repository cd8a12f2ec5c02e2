package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/lunaria-live/lunaria/internal/config"
	"github.com/lunaria-live/lunaria/internal/ledger"
	"github.com/lunaria-live/lunaria/internal/payments"
	"github.com/lunaria-live/lunaria/internal/payout"
	"github.com/lunaria-live/lunaria/internal/rate"
	"github.com/lunaria-live/lunaria/internal/store"
	"github.com/lunaria-live/lunaria/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "lunaria-payout",
		Usage: "Run one payout batch against all eligible providers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "min-payout", Aliases: []string{"m"}, Usage: "Minimum pending earnings to include a provider"},
			&cli.StringFlag{Name: "redis-addr", Aliases: []string{"r"}, Usage: "Redis address"},
			&cli.StringFlag{Name: "db-driver", Usage: "Database driver (postgres | mysql | sqlite)"},
			&cli.StringFlag{Name: "db-dsn", Usage: "Database DSN"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode logging"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	_ = godotenv.Load()
	cfg := config.Load()

	// Override with flags if set
	if c.IsSet("min-payout") {
		min, err := decimal.NewFromString(c.String("min-payout"))
		if err != nil {
			return fmt.Errorf("invalid min-payout: %v", err)
		}
		cfg.MinimumPayout = min
	}
	if c.IsSet("redis-addr") {
		cfg.RedisAddr = c.String("redis-addr")
	}
	if c.IsSet("db-driver") {
		cfg.DBDriver = c.String("db-driver")
	}
	if c.IsSet("db-dsn") {
		cfg.DBDSN = c.String("db-dsn")
	}
	dev := !cfg.IsProd()
	if c.IsSet("development") {
		dev = c.Bool("development")
	}

	zlog, err := logger.NewLogger(dev)
	if err != nil {
		return fmt.Errorf("failed to init logger: %v", err)
	}
	defer zlog.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	st, err := store.NewStore(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to init store: %v", err)
	}
	defer st.Flush()

	ledgerSvc := ledger.NewService(st.DB(), rate.NewCalculator(cfg.FeePercent))
	proc := payments.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.Currency)
	runner := payout.NewRunner(st.DB(), rdb, ledgerSvc, proc, cfg, zlog)

	result, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("payout run failed: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if result.Failed > 0 {
		return fmt.Errorf("%d provider(s) failed, see errors above", result.Failed)
	}
	return nil
}
