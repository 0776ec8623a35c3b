// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/api"
	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/clock/system"
	"github.com/JakeFAU/kr-car-crawler/internal/config"
	"github.com/JakeFAU/kr-car-crawler/internal/dispatcher"
	"github.com/JakeFAU/kr-car-crawler/internal/id/uuid"
	"github.com/JakeFAU/kr-car-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/kr-car-crawler/internal/proxy"
	memorypublisher "github.com/JakeFAU/kr-car-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/kr-car-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/kr-car-crawler/internal/refcache"
	"github.com/JakeFAU/kr-car-crawler/internal/runner"
	"github.com/JakeFAU/kr-car-crawler/internal/source"
	"github.com/JakeFAU/kr-car-crawler/internal/source/bobaedream"
	"github.com/JakeFAU/kr-car-crawler/internal/source/encar"
	"github.com/JakeFAU/kr-car-crawler/internal/source/kbchachacha"
	gcsstorage "github.com/JakeFAU/kr-car-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/kr-car-crawler/internal/storage/local"
	pgstore "github.com/JakeFAU/kr-car-crawler/internal/storage/postgres"
	sftpstorage "github.com/JakeFAU/kr-car-crawler/internal/storage/sftp"
	"github.com/JakeFAU/kr-car-crawler/internal/upsert"
)

// App holds the shared services for one process.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	db      *pgstore.Store
	clock   *system.Clock
	closers []func() error
}

// New connects to Postgres and prepares the shared services.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.RequireDB(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	db, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		db:     db,
		clock:  system.New(loc),
	}
	a.closers = append(a.closers, func() error {
		db.Close()
		return nil
	})
	return a, nil
}

// Migrate applies the schema and seeds the source sites.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.db.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("schema applied")
	return nil
}

// StatusServer builds the status HTTP server backed by the monitoring table.
func (a *App) StatusServer() *api.Server {
	return api.NewServer(a.db, a.db, a.logger.Named("api"))
}

// Runner builds the crawl pipeline: proxy pool, dispatcher, preview store,
// parsers, reference cache, upsert engine and the optional notifier.
func (a *App) Runner(ctx context.Context) (*runner.Runner, error) {
	proxies := a.loadProxies(ctx)
	d := dispatcher.New(DispatcherConfig(a.cfg), proxies, ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.HTTP.RateLimitRPS,
		DefaultBurst: a.cfg.HTTP.RateLimitBurst,
	}), a.logger.Named("dispatcher"))
	a.closers = append(a.closers, func() error {
		d.Close()
		return nil
	})

	var previews *source.PreviewSaver
	if a.cfg.Crawler.DownloadPreviews {
		blobs, err := a.blobStore(ctx)
		if err != nil {
			return nil, err
		}
		previews = source.NewPreviewSaver(d, blobs, a.logger.Named("previews"))
	}

	publisher, err := a.publisher(ctx)
	if err != nil {
		return nil, err
	}

	refs := refcache.New(a.db, a.logger.Named("refcache"))
	engine := upsert.New(refs, a.db, a.clock, a.logger.Named("upsert"))
	return runner.New(
		Parsers(a.cfg, d, previews, a.logger),
		engine,
		a.db,
		publisher,
		a.clock,
		uuid.New(),
		a.logger.Named("runner"),
	), nil
}

// Close releases every service in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// DispatcherConfig converts the http.* settings.
func DispatcherConfig(cfg config.Config) dispatcher.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return dispatcher.Config{
		Timeout:            cfg.Timeout(),
		MaxAttempts:        cfg.HTTP.MaxAttempts,
		JitterMin:          ms(cfg.HTTP.JitterMinMs),
		JitterMax:          ms(cfg.HTTP.JitterMaxMs),
		BackoffMin:         ms(cfg.HTTP.BackoffMinMs),
		BackoffMax:         ms(cfg.HTTP.BackoffMaxMs),
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
	}
}

// Parsers builds one parser per known source.
func Parsers(cfg config.Config, requester source.Requester, previews *source.PreviewSaver, logger *zap.Logger) []source.Parser {
	opts := func(src car.Source) source.Options {
		return source.Options{
			PageConcurrency:   cfg.Crawler.PageConcurrency,
			DetailConcurrency: cfg.Crawler.DetailConcurrency,
			MaxPages:          cfg.MaxPages(src),
			Logger:            logger.Named(string(src)),
		}
	}
	return []source.Parser{
		bobaedream.New(requester, previews, opts(car.SourceBobaedream)),
		kbchachacha.New(requester, previews, opts(car.SourceKBChaChaCha)),
		encar.New(requester, previews, opts(car.SourceEncar)),
	}
}

// loadProxies returns nil, meaning direct connections, when no provider token
// or fallback is configured.
func (a *App) loadProxies(ctx context.Context) dispatcher.ProxySource {
	if a.cfg.Proxy.Token == "" && a.cfg.Proxy.Fallback == "" {
		a.logger.Warn("no proxy provider configured, requests go direct")
		return nil
	}
	client := &http.Client{Timeout: 30 * time.Second}
	return proxy.Load(ctx, client, proxy.Config{
		ProviderURL: a.cfg.Proxy.ProviderURL,
		Token:       a.cfg.Proxy.Token,
		PageSize:    a.cfg.Proxy.PageSize,
		Fallback:    a.cfg.Proxy.Fallback,
	}, a.logger.Named("proxy"))
}

func (a *App) blobStore(ctx context.Context) (car.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("using gcs preview store", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
	case "sftp":
		sc := a.cfg.Storage.SFTP
		if sc.KnownHosts == "" {
			a.logger.Warn("sftp host key checking disabled", zap.String("host", sc.Host))
		}
		store, closeFn, err := sftpstorage.Dial(ctx, sftpstorage.Config{
			Host:           sc.Host,
			Port:           sc.Port,
			User:           sc.User,
			Password:       sc.Password,
			KnownHostsFile: sc.KnownHosts,
			RootDir:        sc.RootDir,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		a.logger.Info("using sftp preview store", zap.String("host", sc.Host), zap.String("dir", sc.RootDir))
		return store, nil
	default:
		a.logger.Info("using local preview store", zap.String("dir", a.cfg.Storage.LocalDir))
		return localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
	}
}

func (a *App) publisher(ctx context.Context) (car.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Info("pubsub not configured, keeping run summaries in memory")
		return memorypublisher.New(), nil
	}
	pub, closeFn, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeFn)
	a.logger.Info("publishing run summaries", zap.String("topic", a.cfg.PubSub.TopicName))
	return pub, nil
}
