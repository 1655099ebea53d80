// Package app initializes and holds the long-lived services of a crawl run,
// acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-crawler/internal/clock/system"
	"github.com/JakeFAU/progress-crawler/internal/config"
	"github.com/JakeFAU/progress-crawler/internal/driver/headless"
	"github.com/JakeFAU/progress-crawler/internal/harvest"
	"github.com/JakeFAU/progress-crawler/internal/id/uuid"
	"github.com/JakeFAU/progress-crawler/internal/ledger/postgres"
	"github.com/JakeFAU/progress-crawler/internal/metrics"
	"github.com/JakeFAU/progress-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/progress-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/progress-crawler/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/progress-crawler/internal/storage/gcs"
	localstore "github.com/JakeFAU/progress-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/progress-crawler/internal/storage/memory"
)

// App holds the services one crawl run needs. It is built once per process
// and closed by the command that created it.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     harvest.ArtifactStore
	publisher harvest.Publisher
	crawler   *harvest.Crawler
	metrics   *http.Server
	closers   []func()
}

// New creates the artifact store, browser session, optional ledger and
// publisher, and the crawler that ties them together. It fails fast when a
// configured backend cannot be reached; on failure everything already opened
// is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	metrics.Init()
	recorder := metrics.NewRecorder()

	var err error
	if a.store, err = a.openStore(ctx); err != nil {
		return err
	}

	driver, err := headless.NewChromedp(headless.Config{
		UserAgent:         cfg.Headless.UserAgent,
		ViewportWidth:     cfg.Headless.ViewportWidth,
		ViewportHeight:    cfg.Headless.ViewportHeight,
		NavigationTimeout: cfg.NavigationTimeout(),
		Headful:           cfg.Headless.Headful,
	}, logger.Named("driver"))
	if err != nil {
		return fmt.Errorf("init browser: %w", err)
	}
	a.closers = append(a.closers, driver.Close)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clock := system.New(loc)

	auth, err := harvest.NewAuthenticator(driver, cfg.LoginConfig(), logger.Named("login"))
	if err != nil {
		return fmt.Errorf("init login: %w", err)
	}
	delta, err := harvest.NewDeltaFilter(driver, cfg.DeltaConfig(), logger.Named("delta"))
	if err != nil {
		return fmt.Errorf("init delta filter: %w", err)
	}
	extractor, err := harvest.NewExtractor(driver, a.store, clock, cfg.ExtractConfig(), logger.Named("extract"))
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}
	checkpoints, err := harvest.NewCheckpoints(a.store, cfg.Crawl.CheckpointKey, loc)
	if err != nil {
		return fmt.Errorf("init checkpoints: %w", err)
	}

	deps := harvest.Deps{
		Roster:      harvest.NewFileRoster(cfg.Crawl.RosterPath),
		Login:       auth,
		Delta:       delta,
		Extractor:   extractor,
		Throttle:    ratelimit.New(ratelimit.Config{Interval: cfg.Delay()}, recorder),
		Store:       a.store,
		Checkpoints: checkpoints,
		Clock:       clock,
		IDs:         uuid.New(),
		Observer:    recorder,
		Logger:      logger.Named("crawler"),
	}

	if cfg.DB.DSN != "" {
		ledger, err := a.openLedger(ctx)
		if err != nil {
			return err
		}
		deps.Ledger = ledger
	}

	if cfg.PubSub.TopicName != "" {
		if a.publisher, err = a.openPublisher(ctx); err != nil {
			return err
		}
		deps.Publisher = a.publisher
	}

	crawlCfg, err := cfg.CrawlConfig()
	if err != nil {
		return err
	}
	if a.crawler, err = harvest.NewCrawler(deps, crawlCfg); err != nil {
		return fmt.Errorf("init crawler: %w", err)
	}

	a.serveMetrics()
	return nil
}

func (a *App) openStore(ctx context.Context) (harvest.ArtifactStore, error) {
	switch a.cfg.Storage.Provider {
	case "memory":
		a.logger.Info("Using in-memory artifact store; artifacts are discarded on exit")
		return memorystore.NewArtifactStore(a.cfg.Storage.Prefix), nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if cerr := client.Close(); cerr != nil {
				a.logger.Warn("Error closing gcs client", zap.Error(cerr))
			}
		})
		a.logger.Info("Using GCS artifact store", zap.String("bucket", a.cfg.Storage.GCSBucket))
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	case "local", "":
		store, err := localstore.New(localstore.Config{BaseDir: a.cfg.Storage.BaseDir, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		a.logger.Info("Using local artifact store", zap.String("base_dir", a.cfg.Storage.BaseDir))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

func (a *App) openLedger(ctx context.Context) (*postgres.ResultStore, error) {
	ledger, err := postgres.NewResultStore(ctx, postgres.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init result ledger: %w", err)
	}
	a.closers = append(a.closers, ledger.Close)
	if err := ledger.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	a.logger.Info("Recording results to postgres", zap.String("table", a.cfg.DB.Table))
	return ledger, nil
}

func (a *App) openPublisher(ctx context.Context) (harvest.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("pubsub.project_id is empty; run notifications stay in memory",
			zap.String("topic", a.cfg.PubSub.TopicName))
		return memorypublisher.New(a.logger.Named("publisher")), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client)
	a.closers = append(a.closers, func() {
		if cerr := publisher.Close(); cerr != nil {
			a.logger.Warn("Error closing pubsub client", zap.Error(cerr))
		}
	})
	a.logger.Info("Publishing run notifications", zap.String("topic", a.cfg.PubSub.TopicName))
	return publisher, nil
}

func (a *App) serveMetrics() {
	if a.cfg.Metrics.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metrics = &http.Server{
		Addr:              a.cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server started", zap.String("addr", a.cfg.Metrics.ListenAddr))
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the configured artifact store.
func (a *App) Store() harvest.ArtifactStore { return a.store }

// Publisher returns the run notification publisher, nil when none is configured.
func (a *App) Publisher() harvest.Publisher { return a.publisher }

// Run performs one crawl and pushes the resulting metrics when a
// Pushgateway is configured. A failed push is logged, never returned.
func (a *App) Run(ctx context.Context, creds harvest.Credentials, bounds harvest.Bounds) (harvest.RunSummary, error) {
	summary, err := a.crawler.Run(ctx, creds, bounds)

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if perr := metrics.Push(pushCtx, a.cfg.Metrics.PushURL, a.cfg.Metrics.JobName); perr != nil {
		a.logger.Warn("Failed to push metrics", zap.Error(perr))
	}
	return summary, err
}

// Close shuts the services down in reverse order of creation.
func (a *App) Close() {
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
