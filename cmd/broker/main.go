package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shaloml/cui/internal/audit"
	"github.com/shaloml/cui/internal/broker/handler"
	"github.com/shaloml/cui/internal/broker/server"
	"github.com/shaloml/cui/internal/infra"
	"github.com/shaloml/cui/internal/infra/auth"
	"github.com/shaloml/cui/internal/live"
	"github.com/shaloml/cui/internal/mediation"
	"github.com/shaloml/cui/internal/push"
	"github.com/shaloml/cui/internal/repository/postgres"
)

func main() {
	// 1. Config and logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Infrastructure resources
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	conversationRepo, err := postgres.NewConversationRepo(pingCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to init conversation repo", zap.Error(err))
	}
	if err := conversationRepo.Ping(pingCtx); err != nil {
		logger.Fatal("postgres is unreachable", zap.Error(err))
	}
	pingCancel()
	defer conversationRepo.Close()

	trailRepo, err := postgres.NewTrailRepo(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to init trail repo", zap.Error(err))
	}
	defer trailRepo.Close()

	// 3. Mediation core
	store := mediation.NewStore(logger)
	gateway := mediation.NewGateway(store, logger)

	// 4. Event consumers: push signals, decision trail, metrics
	reg := prometheus.NewRegistry()
	metrics := mediation.NewMetrics(reg, store)

	pushEvents, pushCancel := store.Subscribe()
	forwarder := push.NewForwarder(pushEvents, pushCancel,
		push.NewReliableSink(push.NewRedisSink(rdb)), logger)
	forwarder.Start(appCtx)

	trail := audit.NewTrail(trailRepo, logger)
	trail.Start()

	trailEvents, trailCancel := store.Subscribe()
	go func() {
		for ev := range trailEvents {
			if rec, ok := audit.RecordFromEvent(ev); ok {
				trail.Log(rec)
			}
		}
	}()

	metricsEvents, metricsCancel := store.Subscribe()
	go func() {
		for ev := range metricsEvents {
			metrics.Observe(ev)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	// 5. Conversation list: durable summaries overlaid with live status
	correlator := live.NewCorrelator(conversationRepo, cfg.Live.PageSize, logger)
	go live.NewListener(rdb, correlator, logger).Run(appCtx)

	// 6. HTTP server
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("invalid auth public key", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pubKey)
	}

	brokerSrv := server.NewBrokerServer(
		cfg,
		logger,
		validator,
		handler.NewMediationHandler(gateway, logger),
		handler.NewConversationHandler(correlator, conversationRepo, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      brokerSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("mediation broker started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 7. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("mediation broker stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Unsubscribe the consumers and let them drain before cancelling the
	// context their publishes run on.
	forwarder.Stop()
	metricsCancel()
	trailCancel()
	trail.Stop()
	cancel()

	logger.Info("mediation broker exited")
}
