// Package main wires together the scrape worker binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/osintwatch/scrapeworker/internal/adapters/cloud"
	"github.com/osintwatch/scrapeworker/internal/adapters/headless"
	"github.com/osintwatch/scrapeworker/internal/adapters/mock"
	"github.com/osintwatch/scrapeworker/internal/adapters/profile"
	"github.com/osintwatch/scrapeworker/internal/adapters/social"
	"github.com/osintwatch/scrapeworker/internal/api"
	gcsarchive "github.com/osintwatch/scrapeworker/internal/archive/gcs"
	memarchive "github.com/osintwatch/scrapeworker/internal/archive/memory"
	"github.com/osintwatch/scrapeworker/internal/clock/system"
	"github.com/osintwatch/scrapeworker/internal/config"
	"github.com/osintwatch/scrapeworker/internal/dispatcher"
	idgen "github.com/osintwatch/scrapeworker/internal/id/uuid"
	"github.com/osintwatch/scrapeworker/internal/logging"
	"github.com/osintwatch/scrapeworker/internal/metrics"
	"github.com/osintwatch/scrapeworker/internal/policy/ratelimit"
	mempub "github.com/osintwatch/scrapeworker/internal/publisher/memory"
	pubsubpub "github.com/osintwatch/scrapeworker/internal/publisher/pubsub"
	"github.com/osintwatch/scrapeworker/internal/scraper"
	memstore "github.com/osintwatch/scrapeworker/internal/store/memory"
	pgstore "github.com/osintwatch/scrapeworker/internal/store/postgres"
	"github.com/osintwatch/scrapeworker/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	ids := idgen.New()

	store, closeStore, err := buildStore(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer closeStore()

	archive, closeArchive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	publisher, closePublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	resolver, closeResolver, err := buildResolver(cfg, archive, logger)
	if err != nil {
		return err
	}
	defer closeResolver()

	workerID, err := ids.NewID()
	if err != nil {
		return fmt.Errorf("generate worker id: %w", err)
	}
	w, err := worker.New(
		workerID,
		store,
		resolver,
		scraper.NewBackoffPolicy(cfg.PollInterval()),
		clock,
		publisher,
		worker.Config{
			PollInterval:    cfg.PollInterval(),
			Concurrency:     cfg.Worker.Concurrency,
			JobTimeout:      cfg.JobTimeout(),
			ShutdownGrace:   cfg.ShutdownGrace(),
			StaleClaimAfter: cfg.StaleClaimAfter(),
			EventTopic:      cfg.PubSub.Topic,
		},
		logger.Named("worker"),
	)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(store, ids, api.Config{
		DefaultMaxRetries: cfg.Worker.DefaultMaxRetries,
	}, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- w.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	err = <-workerDone
	logger.Info("shutdown complete")
	return err
}

func buildStore(ctx context.Context, cfg config.Config, clock scraper.Clock) (scraper.JobStore, func(), error) {
	if cfg.Worker.MockMode {
		return memstore.NewJobStore(clock), func() {}, nil
	}
	store, err := pgstore.NewJobStore(ctx, pgstore.JobStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres job store: %w", err)
	}
	return store, store.Close, nil
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (scraper.Archive, func(), error) {
	switch cfg.Archive.Provider {
	case "gcs":
		a, err := gcsarchive.New(ctx, cfg.Archive.GCSBucket, logger.Named("archive"))
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return a, func() {
			if err := a.Close(); err != nil {
				logger.Warn("close gcs archive", zap.Error(err))
			}
		}, nil
	case "memory":
		return memarchive.New(), func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (scraper.Publisher, func(), error) {
	if cfg.PubSub.Topic == "" {
		return nil, func() {}, nil
	}
	if cfg.Worker.MockMode {
		return mempub.New(), func() {}, nil
	}
	p, err := pubsubpub.New(ctx, cfg.PubSub.ProjectID, logger.Named("publisher"))
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Warn("close pubsub publisher", zap.Error(err))
		}
	}, nil
}

// buildResolver assembles the adapter stack. In mock mode the resolver
// always returns the scripted adapter, so no network code runs.
func buildResolver(cfg config.Config, archive scraper.Archive, logger *zap.Logger) (scraper.AdapterResolver, func(), error) {
	if cfg.Worker.MockMode {
		return dispatcher.Fixed(mock.New(mock.Script{})), func() {}, nil
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Scraper.RateRPS,
		DefaultBurst: cfg.Scraper.RateBurst,
	})

	closer := func() {}
	var headlessAdapter scraper.Adapter
	if cfg.Headless.Enabled {
		h, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
		}, logger.Named("headless"))
		if err != nil {
			return nil, nil, fmt.Errorf("init headless adapter: %w", err)
		}
		headlessAdapter = h
		closer = h.Close
	}

	profileAdapter := profile.New(profile.Config{
		UserAgent:     cfg.Scraper.UserAgent,
		Timeout:       time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
		RespectRobots: cfg.Scraper.RespectRobots,
	}, limiter, headlessAdapter, archive, logger.Named("profile"))

	socialAdapter := social.New(social.Config{
		UserAgent: cfg.Scraper.UserAgent,
	}, limiter, logger.Named("social"))

	var cloudAdapter scraper.Adapter
	var cloudPlatforms []scraper.Platform
	if cfg.Cloud.Token != "" {
		actors := make(map[scraper.Platform]string, len(cfg.Cloud.Actors))
		for p, actor := range cfg.Cloud.Actors {
			platform := scraper.Platform(p)
			actors[platform] = actor
			cloudPlatforms = append(cloudPlatforms, platform)
		}
		c, err := cloud.New(cloud.Config{
			BaseURL:      cfg.Cloud.Endpoint,
			Token:        cfg.Cloud.Token,
			Actors:       actors,
			PollInterval: time.Duration(cfg.Cloud.PollIntervalMs) * time.Millisecond,
			MaxWait:      time.Duration(cfg.Cloud.MaxWaitSeconds) * time.Second,
		}, logger.Named("cloud"))
		if err != nil {
			return nil, nil, fmt.Errorf("init cloud adapter: %w", err)
		}
		cloudAdapter = c
	}

	return dispatcher.New(dispatcher.Config{
		Profile:        profileAdapter,
		Social:         socialAdapter,
		Cloud:          cloudAdapter,
		CloudPlatforms: cloudPlatforms,
	}), closer, nil
}
