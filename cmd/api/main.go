package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vakil/api/internal/analysis"
	"vakil/api/internal/app"
	"vakil/api/internal/config"
	"vakil/api/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET must be set")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Fatal("GEMINI_API_KEY must be set")
	}

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	oracle, err := analysis.NewGeminiOracle(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Fatal("gemini client failed", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)
	engine := analysis.NewEngine(oracle, cfg.OracleTimeout, logger)
	service := app.NewService(dataStore, engine, []byte(cfg.JWTSecret), cfg.AccessTTL, logger)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Analysis requests can wait on the oracle through its retries.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
