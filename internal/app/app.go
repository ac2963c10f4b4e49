package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catalogsync/internal/api"
	"catalogsync/internal/config"
	"catalogsync/internal/events"
	"catalogsync/internal/harness"
	"catalogsync/internal/ingest"
	"catalogsync/internal/metrics"
	"catalogsync/internal/middleware"
	"catalogsync/internal/progress"
	"catalogsync/internal/queue"
	"catalogsync/internal/repository"
	"catalogsync/internal/service"
	"catalogsync/internal/status"
	"catalogsync/internal/storage"
	"catalogsync/internal/webhook"
	"catalogsync/pkg/logger"

	"github.com/glebarez/sqlite"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// devSigningKey signs tokens when no secret is configured outside prod.
const devSigningKey = "catalogsync-dev-signing-key"

// App owns every long-lived dependency of one process. Commands build it
// once and run the parts they need.
type App struct {
	cfg *config.Config

	db     *gorm.DB
	rdb    *redis.Client
	etcd   *clientv3.Client
	nc     *nats.Conn
	queue  queue.Queue
	locker repository.Locker
	files  storage.FileStore

	progress *progress.RedisStore
	tasks    *repository.TaskRepository
	harness  *harness.Harness
	hub      *service.Hub
	relay    *service.OutboxRelay
	reaper   *harness.Reaper
	router   http.Handler

	closers []func() error
}

// New connects to every backing service and wires the pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}
	if err := a.initInfra(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initInfra(ctx context.Context) error {
	db, err := initDB(a.cfg.Database)
	if err != nil {
		return err
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	if a.cfg.Database.AutoMigrate {
		if err := a.Migrate(); err != nil {
			return err
		}
	}

	rdb, err := initRedis(ctx, a.cfg.Redis)
	if err != nil {
		return err
	}
	a.rdb = rdb
	a.closers = append(a.closers, rdb.Close)

	if a.cfg.Etcd.Enabled {
		cli, err := initEtcd(a.cfg.Etcd)
		if err != nil {
			return err
		}
		a.etcd = cli
		a.closers = append(a.closers, cli.Close)
		a.locker = repository.NewEtcdLocker(cli, a.cfg.Etcd.LockTTL)
	} else {
		logger.Warn("etcd disabled, using process-local locks")
		a.locker = repository.NewLocalLocker()
	}

	if a.cfg.NATS.Enabled {
		nc, err := queue.Connect(a.cfg.NATS.URL, "catalogsync")
		if err != nil {
			return err
		}
		a.nc = nc
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		q, err := queue.NewJetStreamQueue(nc, a.cfg.NATS)
		if err != nil {
			return err
		}
		a.queue = q
	} else {
		logger.Warn("nats disabled, using in-process job queue")
		a.queue = queue.NewMemoryQueue(256)
	}
	a.closers = append(a.closers, a.queue.Close)

	files, err := storage.New(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	a.files = files
	return nil
}

func (a *App) wire() error {
	cfg := a.cfg
	pipeline := metrics.NewPipelineObserver()

	a.tasks = repository.NewTaskRepository(a.db)
	products := repository.NewProductRepository(a.db)
	webhooks := repository.NewWebhookRepository(a.db)
	outbox := repository.NewOutboxRepository(a.db)
	clients := repository.NewAPIClientRepository(a.db)
	emitter := events.NewOutboxEmitter(outbox)

	a.progress = progress.NewRedisStore(a.rdb, cfg.Ingest.ProgressTTL)

	coord := ingest.NewCoordinator(products, a.progress, ingest.Options{
		BatchSize:       cfg.Ingest.BatchSize,
		MaxErrorDetails: cfg.Ingest.MaxErrorDetails,
	}, pipeline)
	dispatcher := webhook.NewDispatcher(webhooks, webhook.NewHTTPTransport(nil), webhook.Options{
		BackoffUnit: cfg.Webhook.BackoffUnit,
		UserAgent:   cfg.Webhook.UserAgent,
	}, pipeline)

	a.harness = harness.New(a.tasks, a.queue, a.locker, a.progress, harness.Options{}, pipeline)
	a.harness.Register(harness.NewIngestion(a.files, coord, emitter).Job(cfg.Harness.Ingestion))
	a.harness.Register(harness.DispatchJob(dispatcher, a.harness, cfg.Harness.WebhookDispatch))
	a.harness.Register(harness.DeliveryJob(dispatcher, cfg.Harness.WebhookDelivery))
	productService := service.NewProductService(a.db, products, emitter)
	a.harness.Register(harness.BulkDeleteJob(productService, a.progress, cfg.Ingest.BatchSize, cfg.Harness.BulkDelete))

	a.reaper = harness.NewReaper(a.harness, a.files, a.locker, harness.ReaperOptions{
		Interval:     cfg.Workers.ReaperInterval,
		Grace:        cfg.Workers.ReaperGrace,
		RequeueAfter: cfg.Workers.RequeueAfter,
		Retention:    cfg.Storage.Retention,
	})
	a.relay = service.NewOutboxRelay(outbox, a.harness, a.locker, cfg.Workers.OutboxInterval, cfg.Workers.OutboxBatchSize)
	a.hub = service.NewHub(metrics.NewPrometheusObserver(), cfg.Stream.HeartbeatInterval, cfg.Stream.HubBufferSize)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		logger.Warn("auth.jwt_secret not set, using the development signing key")
		secret = devSigningKey
	}
	auth := service.NewAuthService(clients, a.rdb, []byte(secret), cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	facade := status.New(a.progress, a.tasks)
	imports := service.NewImportService(a.files, a.tasks, a.harness, facade, cfg.Server.MaxUploadMB<<20)
	deletions := service.NewBulkDeleteService(products, a.tasks, a.harness, facade)

	a.router = api.RegisterRoutes(api.Handlers{
		Health:    api.NewHealthHandler(a.healthChecks()),
		Auth:      api.NewAuthHandler(auth),
		Imports:   api.NewImportHandler(imports, cfg.Server.MaxUploadMB<<20),
		Stream:    api.NewStreamHandler(imports, a.hub),
		Products:  api.NewProductHandler(productService),
		Deletions: api.NewDeletionHandler(deletions),
		Webhooks:  api.NewWebhookHandler(service.NewWebhookService(webhooks, dispatcher)),
	}, api.RouterOptions{
		APIKeys:      clients,
		Tokens:       auth,
		Limiter:      middleware.NewRateLimiter(a.rdb, cfg.RateLimit.RequestsPerSecond),
		AllowOrigins: cfg.Server.AllowOrigins,
		DevMode:      cfg.Auth.DevMode,
	})
	return nil
}

func (a *App) healthChecks() map[string]api.Pinger {
	checks := map[string]api.Pinger{
		"database": a.tasks.Ping,
		"redis":    a.progress.Ping,
	}
	if l, ok := a.locker.(*repository.EtcdLocker); ok {
		checks["etcd"] = l.Health
	}
	if a.nc != nil {
		nc := a.nc
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		}
	}
	return checks
}

// Migrate creates or updates every table.
func (a *App) Migrate() error {
	if err := repository.Migrate(a.db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

// RunServer serves HTTP and the progress stream until ctx is cancelled,
// then drains in-flight requests within the shutdown grace.
func (a *App) RunServer(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting hub")
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.hub.Feed(ctx, a.progress)
		return nil
	})

	srv := &http.Server{
		Addr:              a.cfg.Server.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", a.cfg.Server.Port),
			zap.String("env", a.cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// RunWorker executes queued tasks and runs the reaper and outbox relay.
func (a *App) RunWorker(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting task harness")
		return a.harness.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("starting reaper")
		a.reaper.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting outbox relay")
		a.relay.Run(ctx)
		return nil
	})
	return g.Wait()
}

// RunAll runs the server and the worker in one process.
func (a *App) RunAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunServer(ctx) })
	g.Go(func() error { return a.RunWorker(ctx) })
	return g.Wait()
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// -- Infrastructure Initializers --

func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}

func initDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	return db, nil
}
