package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/govchat/internal/app"
	"github.com/suPer8Hu/govchat/internal/auth"
	"github.com/suPer8Hu/govchat/internal/config"
	"github.com/suPer8Hu/govchat/internal/httpapi"
	"github.com/suPer8Hu/govchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/govchat/internal/ingest"
	"github.com/suPer8Hu/govchat/internal/logging"
	"github.com/suPer8Hu/govchat/internal/store/rabbitmq"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	svc, err := a.ChatService(ctx)
	if err != nil {
		log.Fatal("chat service", zap.Error(err))
	}

	// jobs go to the worker when a broker is configured, otherwise they run here
	var dispatch ingest.Dispatcher
	var local *ingest.LocalDispatcher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal("rabbit publisher", zap.Error(err))
		}
		defer func() { _ = pub.Close() }()
		dispatch = pub
	} else {
		local = ingest.NewLocalDispatcher(ctx, a.Runner)
		dispatch = local
		log.Info("no RABBIT_URL, ingestion jobs run in-process")
	}

	var tokens *auth.TokenManager
	if cfg.AdminPasswordHash != "" {
		tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.AdminTokenTTL)
	} else {
		log.Warn("ADMIN_PASSWORD_HASH is not set, admin routes are disabled")
	}

	h := handlers.NewHandler(handlers.Deps{
		Chat:              svc,
		Sessions:          a.Sessions,
		Docs:              a.Docs,
		Jobs:              a.Jobs,
		Dispatch:          dispatch,
		Tokens:            tokens,
		AdminPasswordHash: cfg.AdminPasswordHash,
		Ping:              a.Ping,
		Logger:            log,
	})
	r := httpapi.NewRouter(h, httpapi.Options{
		Log:     log,
		Limiter: a.RateLimiter(),
		Metrics: a.Metrics.Handler(),
	})

	var sched *ingest.Scheduler
	if cfg.IngestCron != "" {
		sched = ingest.NewScheduler(log)
		if err := sched.ScheduleSources(ctx, cfg.IngestCron, a.Runner, false); err != nil {
			log.Fatal("schedule ingestion", zap.Error(err))
		}
		sched.Start()
		log.Info("scheduled ingestion enabled", zap.String("cron", cfg.IngestCron))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("http server", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if sched != nil {
		<-sched.Stop().Done()
	}
	if local != nil {
		local.Wait()
	}
}
