package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/battlechat/battlechat-server/internal/config"
	"github.com/battlechat/battlechat-server/internal/httpapi"
	"github.com/battlechat/battlechat-server/internal/logging"
	"github.com/battlechat/battlechat-server/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(ctx, cfg.RoundTimer, logger)

	// Build the router *with* the registry injected
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(reg, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		reg.Inbox() <- registry.ShutdownAll{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}
