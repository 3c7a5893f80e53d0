// Package server assembles the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/api"
	"github.com/JakeFAU/contestboard/internal/builder"
	"github.com/JakeFAU/contestboard/internal/clock/system"
	"github.com/JakeFAU/contestboard/internal/config"
	"github.com/JakeFAU/contestboard/internal/contest"
	collyfetcher "github.com/JakeFAU/contestboard/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/contestboard/internal/fetcher/headless"
	"github.com/JakeFAU/contestboard/internal/headless/detector"
	"github.com/JakeFAU/contestboard/internal/id/uuid"
	"github.com/JakeFAU/contestboard/internal/imaging"
	"github.com/JakeFAU/contestboard/internal/listing"
	"github.com/JakeFAU/contestboard/internal/logging"
	"github.com/JakeFAU/contestboard/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/contestboard/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/contestboard/internal/publisher/pubsub"
	"github.com/JakeFAU/contestboard/internal/scheduler"
	"github.com/JakeFAU/contestboard/internal/snapshot"
	gcsstorage "github.com/JakeFAU/contestboard/internal/storage/gcs"
	localstorage "github.com/JakeFAU/contestboard/internal/storage/local"
	memorystorage "github.com/JakeFAU/contestboard/internal/storage/memory"
)

const (
	listingMaxBytes = 10 << 20
	imageMaxBytes   = 20 << 20
	shutdownTimeout = 10 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	snapshots       *snapshot.Store
	scheduler       *scheduler.Scheduler
	apiServer       *api.Server
	browser         *headlessfetcher.Fetcher
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies. Nothing is fetched until Run
// or RunOnce is called.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("source", cfg.Source.URL),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Source.Headless),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)

	if err := app.build(ctx); err != nil {
		if cerr := app.Close(ctx); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	clock := system.New()

	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	listingFetcher, err := a.setupListingFetcher()
	if err != nil {
		return err
	}

	parser, err := listing.New(selectorsFromConfig(a.cfg.Source.Selectors), a.logger)
	if err != nil {
		return fmt.Errorf("listing parser init failed: %w", err)
	}

	imageFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Source.UserAgent,
		RespectRobots: a.cfg.Source.RespectRobots,
		Timeout:       a.cfg.RequestTimeout(),
		MaxBodyBytes:  imageMaxBytes,
	}, a.logger.Named("image_fetcher"))
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.HTTP.ImageRPS, DefaultBurst: 1})
	retry := contest.NewExponentialRetryPolicy(
		a.cfg.HTTP.MaxRetries+1,
		time.Duration(a.cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(a.cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	a.logger.Info("image pipeline config",
		zap.Int("width", a.cfg.Images.Width),
		zap.Int("height", a.cfg.Images.Height),
		zap.Int("caption_height", a.cfg.Images.CaptionHeight),
		zap.Int("palette_size", a.cfg.Images.PaletteSize),
		zap.Float64("image_rps", a.cfg.HTTP.ImageRPS),
		zap.Int("max_retries", a.cfg.HTTP.MaxRetries),
	)
	deriver, err := imaging.NewDeriver(imaging.Config{
		Options:   imageOptions(a.cfg.Images),
		KeyPrefix: a.cfg.Storage.Prefix,
		URLPrefix: a.cfg.Images.URLPrefix,
	}, imageFetcher, blobStore, limiter, retry, a.logger)
	if err != nil {
		return fmt.Errorf("image deriver init failed: %w", err)
	}

	b, err := builder.New(builder.Config{
		ListingURL:  a.cfg.Source.URL,
		Interval:    a.cfg.RefreshInterval(),
		Location:    loc,
		ImagePolicy: builder.ImagePolicy(a.cfg.Images.OnFailure),
	}, listingFetcher, parser, deriver, clock, uuid.New(), a.logger)
	if err != nil {
		return fmt.Errorf("builder init failed: %w", err)
	}

	a.snapshots = snapshot.NewStore()
	a.scheduler, err = scheduler.New(scheduler.Config{
		Interval: a.cfg.RefreshInterval(),
		Topic:    a.cfg.PubSub.TopicName,
	}, b, a.snapshots, publisher, clock, a.logger)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}

	a.apiServer = api.NewServer(api.Config{
		ImageKeyPrefix: a.cfg.Storage.Prefix,
		RequestTimeout: 30 * time.Second,
	}, a.snapshots, a.scheduler, blobStore, clock, a.logger)
	return nil
}

func (a *App) setupStorage(ctx context.Context) (contest.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Images.Dir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Images.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (contest.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("Pub/Sub disabled, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

// setupListingFetcher returns the static fetcher, or a promoting fetcher that
// falls back to headless Chrome when the contest container is missing.
func (a *App) setupListingFetcher() (contest.Fetcher, error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Source.UserAgent,
		RespectRobots: a.cfg.Source.RespectRobots,
		Timeout:       a.cfg.RequestTimeout(),
		MaxBodyBytes:  listingMaxBytes,
	}, a.logger.Named("listing_fetcher"))
	if !a.cfg.Source.Headless {
		return static, nil
	}
	a.browser = headlessfetcher.NewChromedp(headlessfetcher.Config{
		UserAgent:         a.cfg.Source.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
	}, a.logger)
	detect := detector.NewHeuristic(0, a.cfg.Source.Selectors.Container)
	a.logger.Info("headless promotion enabled",
		zap.String("required_selector", detect.RequiredSelector),
		zap.Int("nav_timeout_seconds", a.cfg.Headless.NavTimeoutSec),
	)
	promoting, err := headlessfetcher.NewPromoting(static, a.browser, detect, a.logger)
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	return promoting, nil
}

func selectorsFromConfig(c config.SelectorsConfig) listing.Selectors {
	return listing.Selectors{
		Container:    c.Container,
		Item:         c.Item,
		Name:         c.Name,
		NameAttr:     c.NameAttr,
		Deadline:     c.Deadline,
		DeadlineAttr: c.DeadlineAttr,
		Link:         c.Link,
		Graphic:      c.Graphic,
		GraphicAttr:  c.GraphicAttr,
		Entries:      c.Entries,
	}
}

func imageOptions(c config.ImagesConfig) imaging.Options {
	opts := imaging.Options{
		Width:         c.Width,
		Height:        c.Height,
		CaptionHeight: c.CaptionHeight,
		PaletteSize:   c.PaletteSize,
	}
	if c.Crop.Width > 0 && c.Crop.Height > 0 {
		opts.Crop = image.Rect(c.Crop.X, c.Crop.Y, c.Crop.X+c.Crop.Width, c.Crop.Y+c.Crop.Height)
	}
	return opts
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunOnce performs a single build and returns the published pair.
func (a *App) RunOnce(ctx context.Context) (*contest.Snapshot, contest.Meta, error) {
	if err := a.scheduler.RunOnce(ctx); err != nil {
		return nil, contest.Meta{}, fmt.Errorf("build failed: %w", err)
	}
	snap, meta := a.snapshots.Read()
	return snap, meta, nil
}

// Run starts the scheduler and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop()

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases external clients. It is safe to call more than once and
// after a partial Build.
func (a *App) Close(_ context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.scheduler != nil {
			a.scheduler.Stop()
		}
		if a.browser != nil {
			a.browser.Close()
		}
		if a.pubsubPublisher != nil {
			a.pubsubPublisher.Stop()
		}
		if a.pubsubClient != nil {
			if err := a.pubsubClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("pubsub client close: %w", err))
			}
		}
		if a.storage != nil {
			if err := a.storage.Close(); err != nil {
				errs = append(errs, fmt.Errorf("gcs client close: %w", err))
			}
		}
		a.logger.Info("shutdown complete")
		// Sync returns EINVAL for terminals.
		_ = a.logger.Sync()
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
