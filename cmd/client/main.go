package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkarpova/fieldsync/internal/catalog"
	"github.com/mkarpova/fieldsync/internal/client"
	"github.com/mkarpova/fieldsync/internal/config"
	"github.com/mkarpova/fieldsync/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var cat catalog.Catalogue = catalog.NewStaticCatalogue(nil)
	if cfg.CatalogPath != "" {
		loaded, err := catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		cat = loaded
	}

	app, err := client.NewApp(ctx, cfg, cat, cfg.Category, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	app.Run(ctx)
}
