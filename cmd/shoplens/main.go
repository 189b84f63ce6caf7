package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shoplens/internal/config"
	dbRedis "github.com/kailas-cloud/shoplens/internal/db/redis"
	"github.com/kailas-cloud/shoplens/internal/domain/product"
	"github.com/kailas-cloud/shoplens/internal/domain/search/request"
	"github.com/kailas-cloud/shoplens/internal/domain/search/shape"
	logpkg "github.com/kailas-cloud/shoplens/internal/logger"
	"github.com/kailas-cloud/shoplens/internal/metrics"
	"github.com/kailas-cloud/shoplens/internal/repository/searchcache"
	chiTransport "github.com/kailas-cloud/shoplens/internal/transport/chi"
	"github.com/kailas-cloud/shoplens/internal/transport/clarifai"
	openaiVision "github.com/kailas-cloud/shoplens/internal/transport/openai"
	"github.com/kailas-cloud/shoplens/internal/transport/rapidapi"
	"github.com/kailas-cloud/shoplens/internal/transport/similarity"
	healthuc "github.com/kailas-cloud/shoplens/internal/usecase/health"
	searchuc "github.com/kailas-cloud/shoplens/internal/usecase/search"
	"github.com/kailas-cloud/shoplens/internal/version"
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic("failed to load .env: " + err.Error())
	}

	env := config.GetEnv()

	cfg := config.MustLoad(env)

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logpkg.Sync(logger) }()

	logger.Info("Starting shoplens API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("providers", cfg.Search.Providers),
		zap.String("result_shape", cfg.Search.ResultShape),
		zap.String("vision_driver", cfg.Vision.Driver),
		zap.Bool("cache", cfg.Cache.Enabled),
	)

	// Register upstream metrics explicitly (no init())
	metrics.RegisterSearchMetrics()

	ctx := context.Background()

	// Optional provider-result cache
	var cacheStore *dbRedis.Store
	if cfg.Cache.Enabled {
		cacheStore, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer cacheStore.Close()

		if err := cacheStore.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache not ready", zap.Error(err))
		}
		logger.Info("Connected to cache", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	providers, err := buildProviders(&cfg, cacheStore, logger)
	if err != nil {
		logger.Fatal("Failed to create providers", zap.Error(err))
	}

	classifier, visionChecker := buildClassifier(&cfg, logger)

	// Pass nil interfaces (not typed nil pointers) for disabled components.
	var tagger searchuc.SimilarityTagger
	var similarityChecker healthuc.SimilarityChecker
	if cfg.Similarity.Enabled {
		runner := similarity.NewRunner(&similarity.Config{
			Python:         cfg.Similarity.Python,
			Script:         cfg.Similarity.Script,
			Timeout:        time.Duration(cfg.Similarity.TimeoutSec) * time.Second,
			MaxOutputBytes: cfg.Similarity.MaxOutputBytes,
			Logger:         logger,
		})
		if version, err := runner.HealthCheck(ctx); err != nil {
			logger.Warn("Similarity runtime unavailable, image search will return mock tags", zap.Error(err))
		} else {
			logger.Info("Similarity runtime ready", zap.String("python", version), zap.String("script", cfg.Similarity.Script))
		}
		tagger = runner
		similarityChecker = runner
	}

	var cachePinger healthuc.CachePinger
	if cacheStore != nil {
		cachePinger = cacheStore
	}

	searchSvc := searchuc.New(providers, classifier, tagger, searchConfig(&cfg))
	healthSvc := healthuc.New(cachePinger, visionChecker, similarityChecker)

	if err := os.MkdirAll(cfg.Upload.Dir, 0o750); err != nil {
		logger.Fatal("Failed to create upload dir", zap.String("dir", cfg.Upload.Dir), zap.Error(err))
	}

	server := chiTransport.NewServer(searchSvc, healthSvc, chiTransport.Config{
		Env:                env,
		ExposeErrorDetails: cfg.HTTP.ExposeErrorDetails,
		Upload: chiTransport.UploadConfig{
			Dir:          cfg.Upload.Dir,
			MaxBytes:     cfg.Upload.MaxBytes,
			AllowedTypes: cfg.Upload.AllowedTypes,
		},
	}, logger)

	r := chi.NewRouter()
	r.Use(chiTransport.Recoverer(logger, cfg.HTTP.ExposeErrorDetails))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEvent(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.HTTP.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", addr),
			zap.String("upload_dir", cfg.Upload.Dir),
			zap.Strings("cors_origins", cfg.HTTP.CORSOrigins),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildProviders creates the enabled product providers in merge order:
// RapidAPI client -> optional result cache.
func buildProviders(cfg *config.Config, store *dbRedis.Store, logger *zap.Logger) ([]searchuc.Provider, error) {
	providers := make([]searchuc.Provider, 0, len(cfg.Search.Providers))
	for _, name := range cfg.Search.Providers {
		pc := cfg.Providers[name]

		client, err := rapidapi.New(&rapidapi.Config{
			Name:       name,
			Kind:       pc.Kind,
			BaseURL:    pc.BaseURL,
			APIKey:     pc.APIKey,
			Host:       pc.Host,
			Timeout:    time.Duration(pc.TimeoutSec) * time.Second,
			Normalizer: product.NewNormalizer(name).WithSynthesizedStats(cfg.SynthesizeStats()),
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		if pc.APIKey == "" {
			logger.Warn("Provider has no API key, requests will fail", zap.String("provider", name))
		}

		var p searchuc.Provider = client
		if store != nil {
			p = searchcache.New(client, store,
				time.Duration(cfg.Cache.TTLSec)*time.Second, cfg.Cache.KeyPrefix,
				metrics.SearchCacheTotal, logger)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// buildClassifier returns the configured image classifier and, when the driver
// supports it, a readiness checker. Both are nil for driver "none".
func buildClassifier(cfg *config.Config, logger *zap.Logger) (searchuc.Classifier, healthuc.VisionChecker) {
	timeout := time.Duration(cfg.Vision.TimeoutSec) * time.Second

	switch cfg.Vision.Driver {
	case config.VisionOpenAI:
		c := openaiVision.NewClassifier(&openaiVision.Config{
			APIKey:  cfg.Vision.OpenAI.APIKey,
			BaseURL: cfg.Vision.OpenAI.BaseURL,
			Model:   cfg.Vision.OpenAI.Model,
			Timeout: timeout,
			Logger:  logger,
		})
		return c, c
	case config.VisionClarifai:
		cc := cfg.Vision.Clarifai
		if cc.PAT == "" {
			logger.Warn("Clarifai PAT is not set, image classification will fail")
		}
		return clarifai.NewClassifier(&clarifai.Config{
			BaseURL:        cc.BaseURL,
			PAT:            cc.PAT,
			UserID:         cc.UserID,
			AppID:          cc.AppID,
			ModelID:        cc.ModelID,
			ModelVersionID: cc.ModelVersionID,
			Timeout:        timeout,
			Logger:         logger,
		}), nil
	default:
		return nil, nil
	}
}

func searchConfig(cfg *config.Config) searchuc.Config {
	slots := make([]searchuc.TrendingSlot, len(cfg.Search.TrendingSlots))
	for i, s := range cfg.Search.TrendingSlots {
		slots[i] = searchuc.TrendingSlot{Key: s.Key, Provider: s.Provider, Store: s.Store}
	}

	return searchuc.Config{
		Shape:         shape.Shape(cfg.Search.ResultShape),
		Deadline:      time.Duration(cfg.Search.DeadlineSec) * time.Second,
		MaxConcurrent: cfg.Search.MaxConcurrent,
		Defaults: request.Defaults{
			Country:  cfg.Search.DefaultCountry,
			Language: cfg.Search.DefaultLanguage,
			Limit:    cfg.Search.DefaultLimit,
			MaxLimit: cfg.Search.MaxLimit,
		},
		ImageCountry:    cfg.Search.ImageCountry,
		ImageLimit:      cfg.Search.ImageLimit,
		TrendingQueries: cfg.Search.TrendingQueries,
		TrendingSlots:   slots,
	}
}
