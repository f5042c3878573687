package main

import (
	"fmt"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"platformd/backend/internal/config"
	"platformd/backend/internal/database"
	"platformd/backend/internal/k8s"
	"platformd/backend/internal/lifecycle"
	"platformd/backend/internal/logger"
	"platformd/backend/internal/manifest"
	"platformd/backend/internal/platform"
	"platformd/backend/internal/platform/pgsql"
	"platformd/backend/internal/security"
)

// app holds the services every subcommand builds on.
type app struct {
	cfg      config.Settings
	log      *slog.Logger
	db       *gorm.DB
	registry *platform.Registry
	codec    *security.Codec
	resolver *k8s.Service
	ctrl     *lifecycle.Controller
}

func newRegistry() (*platform.Registry, error) {
	return platform.NewRegistry(pgsql.New())
}

// bootstrap loads configuration, opens the database and wires the controller. migrate runs the
// schema migration before anything else touches the tables.
func bootstrap(migrate bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	log := logger.Get()

	registry, err := newRegistry()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if migrate {
		if err := database.Migrate(db, registry.Models()...); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	codec, err := security.NewCodec(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	resolver := k8s.NewService(db, codec)

	ctrl, err := lifecycle.New(lifecycle.Options{
		DB:       db,
		Pipeline: manifest.NewPipeline(cfg.TemplateRoot),
		Codec:    codec,
		Resolver: resolver,
		Clients: k8s.Builder(k8s.Options{
			Timeout: cfg.KubeTimeout,
			QPS:     cfg.KubeQPS,
			Burst:   cfg.KubeBurst,
		}),
		HealthyPhases: cfg.HealthyPhases,
		PollTimeout:   cfg.PollTimeout,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		registry: registry,
		codec:    codec,
		resolver: resolver,
		ctrl:     ctrl,
	}, nil
}

func (a *app) close() {
	sqlDB, err := a.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		a.log.Warn("failed to close database", "error", err)
	}
}
