// Package main runs the realtime canvas collaboration service: the
// websocket sync endpoint, the snapshot HTTP API, and the background
// compaction workers.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := runtime.NewApplication(ctx)
	if err != nil {
		log.Fatalf("initialize application: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		logger := app.Log()
		logger.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger := app.Log()
		logger.Error().Err(err).Msg("shutdown failed")
	}
}
