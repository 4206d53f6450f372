package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feefineops/internal/api"
	"github.com/punchamoorthee/feefineops/internal/config"
	"github.com/punchamoorthee/feefineops/internal/events"
	"github.com/punchamoorthee/feefineops/internal/logger"
	"github.com/punchamoorthee/feefineops/internal/service"
	"github.com/punchamoorthee/feefineops/internal/store"
	"github.com/punchamoorthee/feefineops/internal/store/memory"
)

// publisher serves both post-commit ports.
type publisher interface {
	service.EventPort
	service.NotificationPort
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("starting fee/fine service",
		zap.String("environment", cfg.Env),
		zap.String("store_driver", cfg.StoreDriver),
	)

	var st service.Store
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := store.NewStore(context.Background(), cfg.DBSource)
		if err != nil {
			zl.Fatal("unable to connect to database", zap.Error(err))
		}
		defer pg.Close()

		if cfg.RunMigrations {
			if err := pg.Migrate(zl); err != nil {
				zl.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		st = pg
	case config.DriverMemory:
		zl.Warn("using in-memory store; balances are lost on restart")
		st = memory.New()
	}

	var pub publisher = events.NewLogPublisher(zl)
	if cfg.AMQPURL != "" {
		rabbit, closeRabbit, err := events.DialRabbit(cfg.AMQPURL, cfg.AMQPExchange, zl)
		if err != nil {
			zl.Fatal("failed to connect to message broker", zap.Error(err))
		}
		defer func() {
			if err := closeRabbit(); err != nil {
				zl.Warn("failed to close broker connection", zap.Error(err))
			}
		}()
		pub = rabbit
	}

	svc := service.NewActionService(st, zl,
		service.WithEventPublisher(pub),
		service.WithNotifier(pub),
		service.WithActionTimeout(cfg.ActionTimeout),
		service.WithPublishTimeout(cfg.PublishTimeout),
	)
	handler := api.NewHandler(svc, zl)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(r)
	r.Use(api.LoggingMiddleware(zl))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}

	// committed actions still being published must finish before the broker closes
	svc.Wait()
	zl.Info("server exited gracefully")
}
