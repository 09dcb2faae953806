package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/battery"
	"github.com/raterudder/facilityenergy/pkg/forecast"
	"github.com/raterudder/facilityenergy/pkg/history"
	"github.com/raterudder/facilityenergy/pkg/ingest"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/publish"
	"github.com/raterudder/facilityenergy/pkg/server"
	"github.com/raterudder/facilityenergy/pkg/storage"
)

func main() {
	ctx := context.Background()

	// .env is optional and only used for local development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Ctx(ctx).WarnContext(ctx, "error loading .env file", slog.Any("error", err))
	}

	// init packages
	db := storage.Configured()
	banks := battery.Configured()
	ing := ingest.Configured(db, banks)
	loader := history.Configured(db)
	f := forecast.Configured(loader, banks)
	pub := publish.Configured()

	// init server
	srv := server.Configured(db, ing, f, loader, banks)

	// parse flags
	lflag.Configure()

	level, err := log.SyncLevel()
	if err != nil {
		panic(err)
	}
	log.Ctx(ctx).DebugContext(ctx, "logger configured", slog.String("level", level.String()))

	ing.AddSink(srv.Live())
	if pub.Enabled() {
		ing.AddSink(pub)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := pub.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close mqtt publisher", slog.Any("error", err))
		}
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
