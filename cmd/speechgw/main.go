// Command speechgw boots the streaming speech-to-text gateway,
// wiring config, logging, persistence, and metrics into the gateway's
// HTTP server. It also constructs a Redis capability cache, which is not
// passed to the ledger or the gateway.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/speechgw/internal/auth"
	"github.com/rapidaai/speechgw/internal/config"
	"github.com/rapidaai/speechgw/internal/gateway"
	"github.com/rapidaai/speechgw/internal/ledger"
	"github.com/rapidaai/speechgw/internal/logging"
	"github.com/rapidaai/speechgw/internal/workerpool"
)

func main() {
	v, err := config.InitViper()
	if err != nil {
		panic(err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN()), &gorm.Config{})
	if err != nil {
		logger.Errorf("speechgw: failed to connect to postgres: %v", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(&ledger.User{}, &ledger.Node{}, &ledger.Capability{}, &ledger.NodeCapability{}, &ledger.TaskTypeTariffCapability{}); err != nil {
		logger.Errorf("speechgw: automigrate failed: %v", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	exporter, err := prometheus.New()
	if err != nil {
		logger.Errorf("speechgw: failed to init prometheus exporter: %v", err)
		os.Exit(1)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := meterProvider.Meter("speechgw")

	led, err := ledger.New(logger, db, meter)
	if err != nil {
		logger.Errorf("speechgw: failed to init ledger: %v", err)
		os.Exit(1)
	}

	_ = ledger.NewCache(logger, rdb, time.Minute)

	pool := workerpool.New(logger, led, cfg.SegmenterBaseURL, cfg.TranscriberBaseURL)
	resolver := auth.NewResolver([]byte(cfg.AuthSecret))

	gw := gateway.New(logger, resolver, pool, func() bool { return true })

	engine := gin.New()
	engine.Use(gin.Recovery())
	gw.Register(engine)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go led.RunBalanceDebiter(ctx)

	srv := &http.Server{Addr: cfg.Host + ":" + cfg.PortString(), Handler: engine}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("speechgw: listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("speechgw: server exited with error: %v", err)
		os.Exit(1)
	}
}
