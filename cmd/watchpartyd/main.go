package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"watchparty/internal/config"
	"watchparty/internal/metrics"
	"watchparty/internal/room"
	"watchparty/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	registry := room.NewRegistry(room.Config{
		PresenceTimeout: cfg.PresenceTimeout,
		GraceWindow:     cfg.GraceWindow,
		ChatMaxLength:   cfg.ChatMaxLength,
		ChatHistory:     cfg.ChatHistory,
		SendQueue:       cfg.SendQueue,
	}, logger, m)

	srv := server.New(cfg, logger, registry,
		promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Handler:           srv.Router(),
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Info("server starting", slog.String("addr", cfg.ListenAddr))
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen and serve", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	registry.Close()
	logger.Info("server exiting")
}
