package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/progprogect/steamids-parser/internal/app"
	"github.com/progprogect/steamids-parser/internal/config"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log, os.Stdout)

	bootstrap, cleanup, err := app.Bootstrap(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to bootstrap app")
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.WithError(err).Error("cleanup failed")
		}
	}()

	addr, err := app.ListenAddr(cfg.App.HTTPPort)
	if err != nil {
		log.WithError(err).Fatal("invalid HTTP port")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- bootstrap.Fiber.Listen(addr)
	}()
	log.WithField("addr", addr).Info("control plane listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server error")
		}
	case <-sigCh:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := bootstrap.Fiber.ShutdownWithContext(ctx); err != nil {
			log.WithError(err).Error("shutdown failed")
		}
	}
}
