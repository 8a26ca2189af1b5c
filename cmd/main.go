package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/osdev-labs/myfs/server/internal/config"
	"github.com/osdev-labs/myfs/server/internal/handler"
	"github.com/osdev-labs/myfs/server/internal/memfs"
	"github.com/osdev-labs/myfs/server/internal/metrics"
	"github.com/osdev-labs/myfs/server/internal/middleware"
	"github.com/osdev-labs/myfs/server/internal/service"
	"github.com/osdev-labs/myfs/server/pkg/logging"
	"github.com/osdev-labs/myfs/server/pkg/logging/slogpretty"
)

const configPath = "configs/config.yaml"

func main() {
	cfg := config.MustLoad(configPath)

	logger := setupPrettySlog()

	// Root context
	ctx := context.Background()
	ctx = logging.MakeContextWithLogger(ctx, logger)

	// Dependencies
	registry := memfs.NewRegistry(memfs.Limits{
		MaxInodes:   cfg.FS.MaxInodes,
		MaxFileSize: cfg.FS.MaxFileSize,
		BlockSize:   cfg.FS.BlockSize,
	})
	metrics.RegisterMountsGauge(registry.Len)
	fsService := service.NewFileSystemService(registry)
	h := handler.NewHandler(fsService)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      middleware.RequestIDMiddleware(withContext(ctx, mux)),
		ReadTimeout:  cfg.App.DefaultTimeout,
		WriteTimeout: cfg.App.DefaultTimeout,
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Listening", slog.Int("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-stopCtx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.App.DefaultTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", slog.String("error", err.Error()))
	}

	// every mount is volatile: release them before exiting
	registry.UnmountAll()
	logger.Info("Bye")
}

// withContext grafts the root logger context onto each request.
func withContext(root context.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.GetLoggerFromContext(root)
		ctx := logging.MakeContextWithLogger(r.Context(), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
