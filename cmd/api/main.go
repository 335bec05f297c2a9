package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/cache"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/catalog"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/config"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/events"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/middleware"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/storage"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/webhook"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			logger.WithError(err).Warn("Tracing disabled")
		} else {
			defer closer.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := afero.NewOsFs()
	deferred := scheduler.NewDeferred(cfg.Storage.EvictionTick, logger)

	var storeOpts []storage.Option
	if cfg.ObjectStore.Enabled {
		mirror, err := storage.NewObjectMirror(ctx, cfg.ObjectStore)
		if err != nil {
			logger.Fatalf("Failed to initialize object mirror: %v", err)
		}
		storeOpts = append(storeOpts, storage.WithMirror(mirror))
	}
	if cfg.Events.Enabled {
		publisher, err := events.New(cfg.Events, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize event publisher: %v", err)
		}
		defer publisher.Close()
		storeOpts = append(storeOpts, storage.WithNotifier(publisher))
	}

	var hooks *webhook.Notifier
	if cfg.Webhook.Enabled {
		hooks, err = webhook.New(cfg.Webhook, deferred, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize webhook notifier: %v", err)
		}
		storeOpts = append(storeOpts, storage.WithNotifier(hooks))
	}

	store, err := storage.New(fs, storage.Config{
		Root:      cfg.Storage.Root,
		BaseURL:   cfg.Server.BaseURL,
		Retention: cfg.Storage.Retention,
	}, deferred, logger, storeOpts...)
	if err != nil {
		logger.Fatalf("Failed to initialize store: %v", err)
	}

	if cfg.Storage.SweepOnStart {
		count, err := store.Sweep()
		if err != nil {
			logger.WithError(err).Warn("Startup sweep failed")
		} else {
			logger.Infof("Indexed %d leftover artifacts", count)
		}
	}
	deferred.Start()
	defer deferred.Stop()

	engine := extractor.NewYTDLP(cfg.Extractor)
	resolver := extractor.NewResolver(engine, extractor.Limits{
		DefaultItemLimit: cfg.Extractor.DefaultItemLimit,
		MaxItemLimit:     cfg.Extractor.MaxItemLimit,
		SearchLimit:      cfg.Extractor.SearchLimit,
	}, logger)
	acquirer := extractor.NewAcquirer(engine, fs, logger)

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath, nil)
	composer := transcoder.NewComposer(ffmpeg, acquirer, fs, logger)

	pool := scheduler.NewPool(cfg.Transcoder.WorkerCount)

	var (
		serviceOpts    []pipeline.Option
		limiter        middleware.Limiter
		limiterBackend = "memory"
		health         func(ctx context.Context) error
	)

	if cfg.Redis.Enabled {
		redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()

		health = redisCache.Ping
		if cfg.RateLimit.Enabled {
			limiter = middleware.NewSharedRateLimiter(redisCache, int64(cfg.RateLimit.RPS)*int64(cfg.RateLimit.Window/time.Second), cfg.RateLimit.Window)
			limiterBackend = "redis"
		}
	}

	if cfg.CatalogEnabled() {
		catalogClient, err := catalog.New(cfg.Catalog, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize catalog client: %v", err)
		}
		serviceOpts = append(serviceOpts, pipeline.WithCatalog(catalogClient))
	} else {
		logger.Info("Catalog credentials not configured, catalog endpoints disabled")
	}

	service := pipeline.NewService(resolver, acquirer, composer, store, pool, fs, pipeline.Config{
		TempDir: cfg.Storage.TempDir,
	}, logger, serviceOpts...)

	if cfg.RateLimit.Enabled && limiter == nil {
		local := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go local.Cleanup(ctx, cfg.RateLimit.Window)
		limiter = local
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	api := &API{
		pipeline:  service,
		artifacts: store,
		logger:    logger.WithComponent("api"),
		health:    health,
	}

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, limiter, limiterBackend)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Metrics server forced to shutdown")
		}
	}

	if hooks != nil {
		hooks.Wait()
	}

	logger.Info("Server exited")
}
