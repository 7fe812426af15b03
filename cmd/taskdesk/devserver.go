package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scholarline/taskdesk/internal/adapter/otel"
	"github.com/scholarline/taskdesk/internal/config"
	"github.com/scholarline/taskdesk/internal/devserver"
	"github.com/scholarline/taskdesk/internal/logger"
)

// runDevServer serves the in-memory stub backend so the client can be
// exercised without the real platform.
func runDevServer(args []string) error {
	fs := flag.NewFlagSet("devserver", flag.ContinueOnError)
	port := fs.String("port", "", "listen port (default from config)")
	seed := fs.Bool("seed", true, "create the admin/admin and client/client accounts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, logClose := logger.New(cfg.Logging)
	defer logClose.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := otel.InitMetrics(ctx, cfg.Metrics, log)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	ds := devserver.New(log)
	if *seed {
		if err := ds.Seed(); err != nil {
			return fmt.Errorf("seed accounts: %w", err)
		}
	}

	addr := ":" + cfg.Dev.Port
	if *port != "" {
		addr = ":" + *port
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           ds.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("devserver listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("devserver shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
