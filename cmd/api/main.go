package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/faktor/internal/api"
	"github.com/punchamoorthee/faktor/internal/app"
	"github.com/punchamoorthee/faktor/internal/config"
	"github.com/punchamoorthee/faktor/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	a, err := app.New(ctx, cfg, logg)
	if err != nil {
		logg.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	handler := api.NewHandler(api.Services{
		Ledger:   a.Ledger,
		Engine:   a.Engine,
		Treasury: a.Treasury,
		Invoices: a.Invoices,
		Wallets:  a.Wallets,
		Tokens:   a.Tokens,
		Registry: a.Registry,
	}, !cfg.IsProduction(), logg)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	handler.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logg.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("graceful shutdown failed", zap.Error(err))
	}
}
