// Package app wires the polyroute components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	httpapi "github.com/polyroute/polyroute/internal/api/http"
	"github.com/polyroute/polyroute/internal/bootstrap"
	"github.com/polyroute/polyroute/internal/catalog"
	"github.com/polyroute/polyroute/internal/config"
	"github.com/polyroute/polyroute/internal/ddl"
	"github.com/polyroute/polyroute/internal/frequency"
	"github.com/polyroute/polyroute/internal/notify"
	"github.com/polyroute/polyroute/internal/partition"
	"github.com/polyroute/polyroute/internal/server"
	"github.com/polyroute/polyroute/internal/storage"
	"go.uber.org/zap"
)

// notifierBuffer is the per-subscriber event buffer.
const notifierBuffer = 256

// App owns every long-lived component of a polyroute process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	catalog   catalog.Catalog
	storage   storage.ObjectStorage
	boot      *bootstrap.Context
	notifier  *notify.Notifier
	frequency *frequency.Map
	router    *partition.Router
	ddl       *ddl.Manager
	shutdown  *server.ShutdownManager

	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	running bool
	serveWG sync.WaitGroup
}

// New validates the configuration and prepares the data directories.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		boot:   bootstrap.New(),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		}, logger),
	}, nil
}

// OpenCatalog opens the catalog selected by the configuration.
func OpenCatalog(cfg *config.Config) (catalog.Catalog, error) {
	switch cfg.Catalog.Type {
	case "memory":
		return catalog.NewMemoryCatalog(), nil
	case "sqlite":
		cat, err := catalog.NewSQLiteCatalog(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		return cat, nil
	default:
		return nil, fmt.Errorf("unsupported catalog type: %s", cfg.Catalog.Type)
	}
}

// OpenStorage opens the snapshot storage selected by the configuration.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "local":
		store, err := storage.NewLocalStorage(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3Cfg.Region = cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		s3Cfg.Prefix = cfg.Storage.S3.Prefix
		store, err := storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// Start opens the catalog, installs the partition managers, starts the
// frequency map and serves the admin API.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}

	if err := a.initComponents(ctx); err != nil {
		a.shutdown.Shutdown(context.Background(), "start failed")
		return err
	}
	if err := a.startHTTP(); err != nil {
		a.shutdown.Shutdown(context.Background(), "start failed")
		return err
	}

	a.running = true
	a.logger.Info("polyroute started",
		zap.String("addr", a.listener.Addr().String()),
		zap.String("catalog", a.cfg.Catalog.Type),
		zap.Bool("frequency", a.frequency != nil))
	return nil
}

func (a *App) initComponents(ctx context.Context) error {
	cat, err := OpenCatalog(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	a.catalog = cat
	a.shutdown.RegisterCloser("catalog", cat)

	a.storage, err = OpenStorage(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	factory, err := a.boot.SetAndGetFactory(partition.NewFactory(cat))
	if err != nil {
		return err
	}
	a.notifier = notify.NewNotifier(notifierBuffer)

	var routerOpts []partition.RouterOption
	routerOpts = append(routerOpts, partition.WithLogger(a.logger.Named("router")))
	if a.cfg.Frequency.Enabled {
		fm, err := a.boot.SetAndGetFrequencyMap(frequency.NewMap(frequency.Config{
			CheckInterval: a.cfg.Frequency.CheckInterval,
			BucketWidth:   a.cfg.Frequency.BucketWidth,
			Retention:     a.cfg.Frequency.Retention,
			Workers:       a.cfg.Frequency.Workers,
		}, cat, cat,
			frequency.WithNotifier(a.notifier),
			frequency.WithLogger(a.logger.Named("frequency"))))
		if err != nil {
			return err
		}
		if err := fm.Initialize(context.Background()); err != nil {
			return fmt.Errorf("failed to start frequency map: %w", err)
		}
		a.frequency = fm
		a.shutdown.RegisterCloser("frequency", server.CloserFunc(fm.Terminate))
		routerOpts = append(routerOpts, partition.WithAccessRecorder(fm))
	}

	a.router, err = partition.NewRouter(factory, routerOpts...)
	if err != nil {
		return err
	}
	a.ddl = ddl.New(cat, factory,
		ddl.WithNotifier(a.notifier),
		ddl.WithLogger(a.logger.Named("ddl")))
	a.shutdown.RegisterCloser("ddl", server.CloserFunc(a.ddl.Close))
	return nil
}

func (a *App) startHTTP() error {
	factory, err := a.boot.Factory()
	if err != nil {
		return err
	}
	opts := []httpapi.Option{
		httpapi.WithLogger(a.logger.Named("http")),
		httpapi.WithDDL(a.ddl),
	}
	if a.frequency != nil {
		opts = append(opts, httpapi.WithFrequency(a.frequency))
	}
	handler := server.ShutdownMiddleware(a.shutdown)(
		httpapi.NewHandler(a.catalog, factory, a.router, opts...))

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.listener = ln
	a.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser("http", &server.HTTPServerCloser{
		Server:  a.httpServer,
		Timeout: a.cfg.HTTP.ShutdownTimeout,
	})

	a.serveWG.Add(1)
	go func() {
		defer a.serveWG.Done()
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", zap.Error(err))
			go a.shutdown.Shutdown(context.Background(), "http server failed")
		}
	}()
	return nil
}

// Stop shuts every component down in reverse start order.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.serveWG.Wait()
	return err
}

// WaitForShutdown blocks until a signal or ctx ends the process, then
// shuts down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.serveWG.Wait()
	return err
}

// Addr returns the address the admin API listens on.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Catalog returns the placement catalog.
func (a *App) Catalog() catalog.Catalog { return a.catalog }

// Storage returns the snapshot storage.
func (a *App) Storage() storage.ObjectStorage { return a.storage }

// DDL returns the partitioning and placement DDL manager.
func (a *App) DDL() *ddl.Manager { return a.ddl }

// Router returns the query-time router.
func (a *App) Router() *partition.Router { return a.router }

// Notifier returns the catalog change notifier.
func (a *App) Notifier() *notify.Notifier { return a.notifier }

// Bootstrap returns the set-once component registry.
func (a *App) Bootstrap() *bootstrap.Context { return a.boot }
