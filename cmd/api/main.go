package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/bank-cards/internal/cardnumber"
	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/handler"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/scheduler"
	"github.com/Dan9191/bank-cards/internal/service"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Initialize storage
	var store repository.Store
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		pg := repository.NewPostgresStore(db)
		if err := pg.Ping(context.Background()); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		if cfg.DBMigrate {
			if err := pg.Migrate(context.Background()); err != nil {
				logger.Fatalf("Failed to migrate database: %v", err)
			}
			logger.Info("Database schema is up to date")
		}
		store = pg
	}

	codec, err := cardnumber.NewCodec(cfg.CardEncryptionAlgorithm, cfg.CardEncryptionKey, []byte(cfg.HMACSecret), cfg.CardBIN)
	if err != nil {
		logger.Fatalf("Failed to initialize card number codec: %v", err)
	}

	// Initialize layers
	svc := service.NewService(store, codec, logger, cfg)
	h := handler.NewHandler(svc, logger)

	jobs := scheduler.NewScheduler(scheduler.NewExpiryAudit(store.Cards(), logger), cfg.ExpiryAuditSchedule, logger)
	if err := jobs.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("algorithm", codec.Algorithm()).Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	<-jobs.Stop().Done()
}
