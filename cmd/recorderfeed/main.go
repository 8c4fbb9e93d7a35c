// Package main wires together the recorder feed service binary.
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

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/api"
	"github.com/lienfeed/recorder-feed/internal/clock/system"
	"github.com/lienfeed/recorder-feed/internal/config"
	"github.com/lienfeed/recorder-feed/internal/logging"
	"github.com/lienfeed/recorder-feed/internal/metrics"
	"github.com/lienfeed/recorder-feed/internal/pdfstore"
	memorypublisher "github.com/lienfeed/recorder-feed/internal/publisher/memory"
	pubsubpublisher "github.com/lienfeed/recorder-feed/internal/publisher/pubsub"
	"github.com/lienfeed/recorder-feed/internal/recorder"
	"github.com/lienfeed/recorder-feed/internal/scheduler"
	"github.com/lienfeed/recorder-feed/internal/scrape"
	memorystorage "github.com/lienfeed/recorder-feed/internal/storage/memory"
	"github.com/lienfeed/recorder-feed/internal/storage/postgres"
	"github.com/lienfeed/recorder-feed/internal/syncer"
)

// stores bundles the persistence backends behind their interfaces so the
// postgres and in-memory wirings are interchangeable.
type stores struct {
	liens     recorder.LienStore
	runs      recorder.RunStore
	counties  recorder.CountyStore
	review    recorder.ReviewStore
	schedules recorder.ScheduleStore
	close     func()
}

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

	db, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer db.close()

	clock := system.New()
	client := resty.New().
		SetHeader("User-Agent", cfg.Browser.UserAgent).
		SetTimeout(cfg.NavTimeout())

	fetcher := scrape.NewRedownloadFetcher(db.counties, client, cfg.PdfStore.MinBytes, logger.Named("redownload"))
	pdfs, err := pdfstore.New(pdfstore.Config{
		Dir:       cfg.PdfStore.Dir,
		Retention: time.Duration(cfg.PdfStore.RetentionDays) * 24 * time.Hour,
		MinBytes:  cfg.PdfStore.MinBytes,
		Strict:    cfg.PdfStore.StrictCheck,
	}, fetcher, clock, logger.Named("pdfstore"))
	if err != nil {
		logger.Fatal("pdf store init failed", zap.Error(err))
	}

	factory := scrape.NewFactory(db.counties, scrape.Deps{
		Browser: scrape.BrowserConfig{
			ExecPath:      cfg.Browser.ExecPath,
			UserAgent:     cfg.Browser.UserAgent,
			LaunchRetries: cfg.Browser.LaunchRetries,
			NavTimeout:    cfg.NavTimeout(),
		},
		Client:        client,
		PdfStore:      pdfs,
		LienStore:     db.liens,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		MinPdfBytes:   cfg.PdfStore.MinBytes,
		SniffTimeout:  time.Duration(cfg.Browser.PdfSniffTimeout) * time.Second,
		Clock:         clock,
		Logger:        logger.Named("scrape"),
	}, logger.Named("scrape"))

	sync := syncer.New(syncer.Config{
		BaseURL:       cfg.Downstream.BaseURL,
		APIKey:        cfg.Downstream.APIKey,
		Table:         cfg.Downstream.Table,
		CountyTable:   cfg.Downstream.CountyLink,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Timeout:       time.Duration(cfg.Downstream.TimeoutSec) * time.Second,
	}, db.liens, pdfs, db.counties, logger.Named("syncer"))

	var publisher recorder.Publisher
	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub connect failed", zap.Error(err))
		}
		defer func() {
			if closeErr := pub.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		publisher = pub
	} else {
		logger.Info("pubsub.project_id not set, run events stay in memory")
		publisher = memorypublisher.New()
	}

	orchestrator := scheduler.New(scheduler.Config{
		InitTimeout:   cfg.InitTimeout(),
		CountyTimeout: cfg.CountyTimeout(),
		StaleAfter:    time.Duration(cfg.Scrape.StaleAfterDays) * 24 * time.Hour,
		RunTopic:      cfg.PubSub.TopicName,
	}, scheduler.Deps{
		Factory:   factory,
		Liens:     db.liens,
		Runs:      db.runs,
		Counties:  db.counties,
		Review:    db.review,
		Schedules: db.schedules,
		Syncer:    sync,
		Publisher: publisher,
		Clock:     clock,
		Logger:    logger.Named("scheduler"),
	})
	if err := orchestrator.Start(ctx); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	apiServer := api.NewServer(orchestrator, pdfs, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// openStores builds the persistence layer. A configured DSN selects
// Postgres; without one the service runs entirely in memory, which is
// only useful for local development.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set, using in-memory stores")
		return stores{
			liens:     memorystorage.NewLienStore(),
			runs:      memorystorage.NewRunStore(),
			counties:  memorystorage.NewCountyStore(nil, nil),
			review:    memorystorage.NewReviewStore(),
			schedules: memorystorage.NewScheduleStore(),
			close:     func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return stores{}, fmt.Errorf("connect postgres: %w", err)
	}

	liens, err := postgres.NewLienStore(pool)
	if err != nil {
		return stores{}, err
	}
	runs, err := postgres.NewRunStore(pool)
	if err != nil {
		return stores{}, err
	}
	counties, err := postgres.NewCountyStore(pool)
	if err != nil {
		return stores{}, err
	}
	review, err := postgres.NewReviewStore(pool)
	if err != nil {
		return stores{}, err
	}
	schedules, err := postgres.NewScheduleStore(pool)
	if err != nil {
		return stores{}, err
	}

	return stores{
		liens:     liens,
		runs:      runs,
		counties:  counties,
		review:    review,
		schedules: schedules,
		close:     pool.Close,
	}, nil
}
