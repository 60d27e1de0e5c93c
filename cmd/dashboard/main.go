package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lotterydash/internal/api"
	"lotterydash/internal/config"
	"lotterydash/internal/logger"
	"lotterydash/internal/tracker"

	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(logger.Configuration{
		LogFile:   cfg.LogFile,
		ErrorFile: cfg.LogErrorFile,
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	trackerInstance, err := tracker.NewTracker(ctx, cfg)
	if err != nil {
		logger.Fatal("dashboard: cannot build tracker", zap.Error(err))
	}

	if err := trackerInstance.VerifyPoolContract(); err != nil {
		trackerInstance.Finalize()
		logger.Fatal("dashboard: pool contract verification failed", zap.Error(err))
	}

	trackerInstance.Run()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(trackerInstance).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dashboard: listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("dashboard: stopping on server error", zap.Error(err))
	case sig := <-waitForInterrupt():
		logger.Info("dashboard: received signal", zap.Stringer("signal", sig))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), tracker.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dashboard: http shutdown", zap.Error(err))
	}

	trackerInstance.Finalize()
}

func waitForInterrupt() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}
