package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Nixie-Tech-LLC/inkframe/internal/cache"
	"github.com/Nixie-Tech-LLC/inkframe/internal/config"
	"github.com/Nixie-Tech-LLC/inkframe/internal/content"
	"github.com/Nixie-Tech-LLC/inkframe/internal/db"
	"github.com/Nixie-Tech-LLC/inkframe/internal/display"
	"github.com/Nixie-Tech-LLC/inkframe/internal/orchestrator"
	"github.com/Nixie-Tech-LLC/inkframe/internal/pipeline"
	"github.com/Nixie-Tech-LLC/inkframe/internal/playlist"
	"github.com/Nixie-Tech-LLC/inkframe/internal/plugin"
	"github.com/Nixie-Tech-LLC/inkframe/internal/redis"
	"github.com/Nixie-Tech-LLC/inkframe/internal/schedule"
)

// Registry holds the content generators compiled into this binary. Builds
// that ship generators register them from an init function.
var Registry = plugin.NewRegistry()

type server struct {
	store   db.Store
	orch    *orchestrator.Orchestrator
	loop    *orchestrator.Loop
	http    *http.Server
	closers []func() error
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *server, err error) {
	s := &server{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	conn, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	migrations, err := db.MigrationsFS(cfg.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	if err := db.RunMigrations(conn, migrations); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	s.store = db.NewStore(conn)
	s.closers = append(s.closers, s.store.Close)

	var backend cache.Backend
	if cfg.RedisAddress != "" {
		rc := redis.New(redis.Options{
			Address:  cfg.RedisAddress,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		s.closers = append(s.closers, rc.Close)
		backend = rc
	}

	blobs, err := InitStorage(cfg)
	if err != nil {
		return nil, err
	}

	driver, closeDriver, err := InitDriver(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeDriver)

	pipe := pipeline.New(Registry, cache.New(cfg.CacheCapacity, backend, logger), blobs, pipeline.Config{
		GeneratorTimeout: cfg.GeneratorTimeout,
		ErrorTTL:         cfg.ErrorArtifactTTL,
		Width:            cfg.DisplayWidth,
		Height:           cfg.DisplayHeight,
	}, logger)

	source := content.NewSource(s.store, playlist.NewResolver(s.store, cfg.PlaylistDefaultDwell, logger), logger)
	catalog := content.NewCatalog(s.store, Registry, pipe, logger)

	grid := schedule.NewGrid(s.store, source, cfg.WeekStart)
	if err := grid.Load(ctx); err != nil {
		return nil, err
	}

	dm := display.NewManager(driver, s.store, display.Config{
		PushTimeout: cfg.PushTimeout,
		MaxRetries:  cfg.PushMaxRetries,
		Backoff:     cfg.PushBackoff,
	}, logger)
	if err := dm.Load(ctx); err != nil {
		return nil, err
	}

	s.orch = orchestrator.New(grid, source, catalog, pipe, dm, orchestrator.Config{
		Location:      cfg.Location,
		FailurePolicy: orchestrator.FailurePolicy(cfg.OnGenerationFailure),
	}, logger)

	s.loop, err = orchestrator.NewLoop(s.orch, orchestrator.LoopConfig{
		Interval:        cfg.SchedulerInterval,
		HealthRefreshAt: cfg.HealthRefreshAt,
		Location:        cfg.Location,
	}, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if err := RegisterRoutes(router, cfg, s.orch, Registry); err != nil {
		return nil, err
	}
	s.http = &http.Server{Addr: cfg.ServerAddress, Handler: router}

	logger.Info().
		Int("plugins", len(Registry.List())).
		Str("display_driver", cfg.DisplayDriver).
		Str("timezone", cfg.Location.String()).
		Msg("server initialized")
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (s *server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
