package main

import (
	"log"
	"os"

	"github.com/seantiz/partstock/internal/api"
	"github.com/seantiz/partstock/internal/config"
	"github.com/seantiz/partstock/internal/engine"
	"github.com/seantiz/partstock/internal/inventory"
	"github.com/seantiz/partstock/internal/lifecycle"
	"github.com/seantiz/partstock/internal/relay"
	"github.com/seantiz/partstock/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("partstock: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"workers", cfg.Workers,
		"relay_url", cfg.RelayURL,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	coord := lifecycle.NewCoordinator(logger)

	var (
		pub relay.Publisher
		hub *relay.Hub
	)
	if cfg.RelayURL != "" {
		pub = relay.NewHTTPPublisher(cfg.RelayURL, cfg.RelayTimeout)
	} else {
		hub = relay.NewHub()
		pub = hub
	}

	router := relay.NewRouter()
	reg := relay.NewRegistry(router, pub, coord, logger)

	eng := engine.New(engine.Options{
		Workers:       cfg.Workers,
		Retention:     cfg.TaskRetention,
		SweepInterval: cfg.SweepInterval,
		PollInterval:  cfg.DrainPollInterval,
	}, coord, reg, logger)

	api.RegisterStreamRoutes(router, eng, db)

	coord.RegisterNotification("store", func(p lifecycle.Phase) error {
		if p != lifecycle.PhaseAfterShutdown {
			return nil
		}
		return db.Close()
	})

	srv := api.NewServer(cfg.ListenAddr, cfg.ShutdownTimeout, api.Deps{
		Store:       db,
		Engine:      eng,
		Registry:    reg,
		Coordinator: coord,
		Importer:    inventory.NewImporter(db, reg, logger),
		Hub:         hub,
	}, logger)

	coord.FireStartup()

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	eng.Wait()
}
