package main

import (
	"flag"
	"log"

	"github.com/gexcorp/capi-bridge/internal/capi"
	"github.com/gexcorp/capi-bridge/internal/config"
	"github.com/gexcorp/capi-bridge/internal/httpserver"
	"github.com/gexcorp/capi-bridge/internal/ingest"
	"github.com/gexcorp/capi-bridge/internal/logger"
	"github.com/gexcorp/capi-bridge/internal/store"
)

// main boots the service: config → logger → DB → schema → pipeline → HTTP.
func main() {
	configPath := flag.String("config", "", "optional JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logg := logger.New(cfg.Log.Level, cfg.Log.Format)

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.Database.URL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// Ensure required tables/indexes exist so `docker compose up --build` is enough.
	if err := db.EnsureSchema(); err != nil {
		log.Fatal(err)
	}

	// Delivery gateway with explicit credentials; no package-level state.
	sender := capi.NewClient(capi.Config{
		BaseURL:       cfg.CAPI.BaseURL,
		APIVersion:    cfg.CAPI.APIVersion,
		PixelID:       cfg.CAPI.PixelID,
		AccessToken:   cfg.CAPI.AccessToken,
		TestEventCode: cfg.CAPI.TestEventCode,
		Timeout:       cfg.CAPI.Timeout(),
	}, logg)

	proc := ingest.NewProcessor(db, sender, logg,
		ingest.WithCentsThreshold(cfg.CAPI.CentsThreshold))

	adminKeys, err := cfg.Auth.Keys()
	if err != nil {
		log.Fatal(err)
	}

	router := httpserver.NewRouter(db, proc, adminKeys, logg)

	logg.Info("server started", "addr", cfg.Server.Addr)
	log.Fatal(router.Run(cfg.Server.Addr))
}
