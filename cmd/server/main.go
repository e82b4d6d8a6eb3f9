package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"spellforge/server/internal/app"
	"spellforge/server/internal/config"
)

func main() {
	configPath := flag.String("config", "config/server.toml", "path to the TOML settings file")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	logger, err := app.NewLogger(settings.Logging)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := app.New(ctx, app.Config{Settings: settings, Logger: logger})
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	logger.Info("ability runtime started",
		zap.Int("tickRate", settings.Runtime.TickRate),
		zap.Bool("persistence", settings.Persistence.Enabled),
		zap.Bool("diagnostics", settings.Diagnostics.Enabled),
	)

	runErr := server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("runtime stopped", zap.Error(runErr))
	}
}
