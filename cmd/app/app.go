package app

import (
	"autopublisher/internal/config"
	"autopublisher/internal/database"
	"autopublisher/internal/generator"
	handlers "autopublisher/internal/handler"
	"autopublisher/internal/imagegen"
	"autopublisher/internal/orchestrator"
	"autopublisher/internal/provider"
	"autopublisher/internal/queue"
	"autopublisher/internal/ratelimit"
	"autopublisher/internal/repository"
	"autopublisher/internal/repository/memory"
	"autopublisher/internal/scheduler"
	"autopublisher/internal/service"
	"autopublisher/internal/storage"
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	Cfg          *config.Config
	DB           *database.DB
	Store        repository.Store
	Objects      storage.ObjectStore
	Jobs         *queue.Store
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Services     *service.Service
	Log          *zap.Logger
}

// New connects the backing stores and wires the generation pipeline.
// STORE_BACKEND=memory runs without PostgreSQL.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: logger}

	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		a.Store = memory.NewStore()
	case "postgres", "":
		db, err := database.ConnectDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx, cfg.MigrationsPath); err != nil {
			db.CloseDB()
			return nil, err
		}
		a.DB = db
		a.Store = repository.NewPostgresStore(db.DB)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Objects = objects

	repos := a.Store.Repos()
	loc := cfg.Location()

	limiter := ratelimit.New(repos.Post, loc, cfg.Generation.DefaultDailyLimit)
	limiter.SetProviderQPS(provider.OpenAI, cfg.Providers.TextQPS)
	limiter.SetProviderQPS(provider.DeepSeek, cfg.Providers.TextQPS)
	limiter.SetProviderQPS(provider.OpenAIImage, cfg.Providers.ImageQPS)
	limiter.SetProviderQPS(provider.GeminiImage, cfg.Providers.ImageQPS)

	registry := newRegistry(ctx, cfg, repos.Credential, logger)

	a.Jobs = queue.New(a.Store, logger)
	text := generator.New(cfg.Generation.TextTimeout, logger)
	images := imagegen.New(objects, repos.Image, limiter, imagegen.Config{
		MaxPx:   cfg.Generation.ImageDownscaleMaxPx,
		Quality: cfg.Generation.ImageQuality,
		Timeout: cfg.Generation.ImageTimeout,
	}, logger)

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		MaxWorkers:    cfg.Generation.MaxWorkers,
		JobTimeout:    cfg.Generation.JobTimeout,
		PollInterval:  cfg.Generation.PollInterval,
		AuthorName:    cfg.AuthorName,
		PublisherName: cfg.PublisherName,
	}, a.Store, a.Jobs, registry, limiter, text, images, logger)

	a.Scheduler = scheduler.New(a.Store, a.Jobs, loc, cfg.Generation.MaxRetries, logger)

	a.Services = service.NewService(service.Deps{
		Store:     a.Store,
		Jobs:      a.Jobs,
		Runner:    a.Orchestrator,
		Schedules: a.Scheduler,
		Objects:   objects,
		Cfg:       cfg,
		Logger:    logger,
	})
	return a, nil
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "minio":
		client, err := storage.NewMinIOClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MinIO: %w", err)
		}
		return client, nil
	case "local", "":
		return storage.NewLocalStore(cfg.Storage.LocalRoot, cfg.Storage.BaseURL)
	}
	return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Storage.Backend)
}

// newRegistry registers the text providers in auto preference order,
// OpenAI first, then the image providers.
func newRegistry(ctx context.Context, cfg *config.Config, creds repository.CredentialRepository, logger *zap.Logger) *provider.Registry {
	p := cfg.Providers
	registry := provider.NewRegistry(creds, provider.Credentials{
		provider.OpenAI:   p.OpenAIKey,
		provider.DeepSeek: p.DeepSeekKey,
		provider.GeminiImage.CredentialKey(): p.GeminiKey,
	}, logger)

	registry.RegisterText(provider.OpenAI, func(key string) (provider.TextProvider, error) {
		return provider.NewChatClient(provider.OpenAI, key, p.OpenAIModel, "")
	})
	registry.RegisterText(provider.DeepSeek, func(key string) (provider.TextProvider, error) {
		return provider.NewChatClient(provider.DeepSeek, key, p.DeepSeekModel, p.DeepSeekBaseURL)
	})
	registry.RegisterImage(provider.OpenAIImage, func(key string) (provider.ImageProvider, error) {
		return provider.NewDalleClient(key, p.DalleModel)
	})
	registry.RegisterImage(provider.GeminiImage, func(key string) (provider.ImageProvider, error) {
		return provider.NewImagenClient(ctx, key, p.GeminiImageModel)
	})
	if cfg.Generation.PlaceholderEnabled {
		registry.SetPlaceholder(provider.NewPlaceholderImages())
	}
	return registry
}

// Health is the store probe for /health; nil for the in-memory store.
func (a *App) Health() handlers.HealthChecker {
	if a.DB == nil {
		return nil
	}
	return a.DB
}

// Run drives the orchestrator and the scheduler until ctx is cancelled.
// Running jobs are requeued on the way out.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Orchestrator.Run(ctx) })
	g.Go(func() error { return a.Scheduler.Run(ctx) })
	return g.Wait()
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.CloseDB()
	}
	return nil
}
