package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenGate-Global/palmyra-reports/contracts"
	authhandler "github.com/zenGate-Global/palmyra-reports/domains/auth/be/handler"
	authrepo "github.com/zenGate-Global/palmyra-reports/domains/auth/be/repo"
	authservice "github.com/zenGate-Global/palmyra-reports/domains/auth/be/service"
	connectionshandler "github.com/zenGate-Global/palmyra-reports/domains/connections/be/handler"
	connectionsservice "github.com/zenGate-Global/palmyra-reports/domains/connections/be/service"
	reportshandler "github.com/zenGate-Global/palmyra-reports/domains/reports/be/handler"
	reportsservice "github.com/zenGate-Global/palmyra-reports/domains/reports/be/service"
	tenantsrepo "github.com/zenGate-Global/palmyra-reports/domains/tenants/be/repo"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	"github.com/zenGate-Global/palmyra-reports/platform/go/gcp"
	"github.com/zenGate-Global/palmyra-reports/platform/go/jobqueue"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
	"github.com/zenGate-Global/palmyra-reports/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-reports/platform/go/renderer"
	"github.com/zenGate-Global/palmyra-reports/platform/go/sqlguard"
	"github.com/zenGate-Global/palmyra-reports/platform/go/sqlguard/pgquery"
	"github.com/zenGate-Global/palmyra-reports/platform/go/storage"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenantpool"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"45s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	EnvKey          string        `env:"ENV_KEY" envDefault:"dev"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	Registry registryConfig `envPrefix:"REGISTRY_"`
	Auth     authConfig     `envPrefix:"AUTH_"`
	Tenant   tenantConfig   `envPrefix:"TENANT_CACHE_"`
	TenantDB tenantDBConfig `envPrefix:"TENANT_DB_"`
	Query    queryConfig    `envPrefix:"QUERY_"`
	Render   renderConfig   `envPrefix:"RENDER_"`
	Queue    queueConfig    `envPrefix:"QUEUE_"`
	Storage  storageConfig  `envPrefix:"STORAGE_"`
}

type registryConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Schema      string `env:"SCHEMA" envDefault:"registry"`
	Bootstrap   bool   `env:"BOOTSTRAP" envDefault:"false"`
	MaxConns    int32  `env:"MAX_CONNS" envDefault:"5"`
}

type authConfig struct {
	Secret   string        `env:"SECRET,required,unset"`
	Issuer   string        `env:"ISSUER" envDefault:"palmyra-reports"`
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"8h"`
}

type tenantConfig struct {
	TTL  time.Duration `env:"TTL" envDefault:"60s"`
	Size int           `env:"SIZE" envDefault:"1024"`
}

type tenantDBConfig struct {
	ReadUser        string        `env:"READ_USER,required"`
	ReadPassword    string        `env:"READ_PASSWORD,unset"`
	WriteUser       string        `env:"WRITE_USER,required"`
	WritePassword   string        `env:"WRITE_PASSWORD,unset"`
	MaxConns        int32         `env:"MAX_CONNS" envDefault:"10"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	MaxConnIdleTime time.Duration `env:"MAX_CONN_IDLE_TIME" envDefault:"5m"`
	SSLMode         string        `env:"SSL_MODE" envDefault:"prefer"`
	SupersededPools string        `env:"SUPERSEDED_POOLS" envDefault:"close"`
}

type queryConfig struct {
	MaxLength   int           `env:"MAX_LENGTH" envDefault:"35000"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxRows     int           `env:"MAX_ROWS" envDefault:"50000"`
	MaxPageSize int           `env:"MAX_PAGE_SIZE" envDefault:"1000"`
	PageSize    int           `env:"PAGE_SIZE" envDefault:"100"`
}

type renderConfig struct {
	Concurrency   int           `env:"CONCURRENCY" envDefault:"2"`
	PoolMax       int32         `env:"POOL_MAX" envDefault:"5"`
	PoolMin       int32         `env:"POOL_MIN" envDefault:"1"`
	IdleTimeout   time.Duration `env:"IDLE_TIMEOUT" envDefault:"30s"`
	EvictInterval time.Duration `env:"EVICT_INTERVAL" envDefault:"10s"`
	RenderTimeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
	JobTimeout    time.Duration `env:"JOB_TIMEOUT" envDefault:"60s"`
	MaxHTMLBytes  int           `env:"MAX_HTML_BYTES" envDefault:"5242880"`
	ChromePath    string        `env:"CHROME_PATH"`
}

type queueConfig struct {
	Backend    string        `env:"BACKEND" envDefault:"redis"` // redis | memory
	RedisURL   string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Retention  time.Duration `env:"RETENTION" envDefault:"1h"`
	WaitingTTL time.Duration `env:"WAITING_TTL" envDefault:"24h"`
	Lease      time.Duration `env:"LEASE" envDefault:"5m"`
	SweepEvery time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
}

type storageConfig struct {
	Backend         string `env:"BACKEND" envDefault:"none"` // none | local | gcs
	Bucket          string `env:"BUCKET"`
	LocalDir        string `env:"LOCAL_DIR" envDefault:"./.data/reports"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "reports-api",
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// ---- Central registry ----
	registryPool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.Registry.DatabaseURL,
		MaxConns:        cfg.Registry.MaxConns,
		ApplicationName: "palmyra-reports-registry",
	})
	if err != nil {
		logger.Fatal("init registry pool", zap.Error(err))
	}
	defer persistence.ClosePool(registryPool)

	if cfg.Registry.Bootstrap {
		if err := persistence.BootstrapRegistry(ctx, registryPool, cfg.Registry.Schema); err != nil {
			logger.Fatal("bootstrap registry", zap.Error(err))
		}
		logger.Info("registry schema applied", zap.String("schema", cfg.Registry.Schema))
	}

	registryDB := persistence.NewRegistryDB(persistence.RegistryDBConfig{Pool: registryPool, Schema: cfg.Registry.Schema})

	tenantStore, err := persistence.NewTenantStore(registryDB)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}
	userStore, err := persistence.NewUserStore(registryDB)
	if err != nil {
		logger.Fatal("init user store", zap.Error(err))
	}

	tenantRepo := tenantsrepo.NewPostgresRepository(tenantStore)
	directory := tenant.NewDirectory(tenantRepo, tenant.DirectoryConfig{TTL: cfg.Tenant.TTL, Size: cfg.Tenant.Size}, logger)

	// ---- Tenant connections ----
	credentials, err := platformauth.NewCredentialSet(cfg.TenantDB.ReadUser, cfg.TenantDB.ReadPassword, cfg.TenantDB.WriteUser, cfg.TenantDB.WritePassword)
	if err != nil {
		logger.Fatal("invalid tenant database credentials", zap.Error(err))
	}
	superseded, err := tenantpool.ParseSupersededPolicy(cfg.TenantDB.SupersededPools)
	if err != nil {
		logger.Fatal("invalid TENANT_DB_SUPERSEDED_POOLS", zap.Error(err))
	}

	dial := tenantpool.NewPgxDialer(tenantpool.DialerConfig{
		MaxConns:        cfg.TenantDB.MaxConns,
		ConnectTimeout:  cfg.TenantDB.ConnectTimeout,
		MaxConnIdleTime: cfg.TenantDB.MaxConnIdleTime,
		SSLMode:         cfg.TenantDB.SSLMode,
		ApplicationName: "palmyra-reports",
	})
	broker := tenantpool.NewBroker(dial, tenantpool.Config{
		DialTimeout: cfg.TenantDB.ConnectTimeout,
		Superseded:  superseded,
	}, logger)
	defer broker.Close()

	// ---- Auth ----
	issuer, authMiddleware, err := buildTokenAuth(cfg.Auth)
	if err != nil {
		logger.Fatal("init token auth", zap.Error(err))
	}

	authService := authservice.New(authrepo.NewPostgresRepository(userStore), directory, issuer, logger)

	// ---- Reports ----
	gate := sqlguard.NewGate(pgquery.New(), sqlguard.Config{MaxLength: cfg.Query.MaxLength})
	executor := reportsservice.NewExecutor(gate, reportsservice.ExecutorConfig{
		Timeout:     cfg.Query.Timeout,
		MaxRows:     cfg.Query.MaxRows,
		MaxPageSize: cfg.Query.MaxPageSize,
		PageSize:    cfg.Query.PageSize,
	}, logger)

	if cfg.Queue.Lease <= cfg.Render.JobTimeout {
		logger.Fatal("QUEUE_LEASE must exceed RENDER_JOB_TIMEOUT",
			zap.Duration("lease", cfg.Queue.Lease),
			zap.Duration("job_timeout", cfg.Render.JobTimeout),
		)
	}
	queue, closeQueue := buildQueue(ctx, cfg.Queue, logger)
	defer closeQueue()

	store, bucket, closeStore := buildArtifactStore(ctx, cfg.Storage, logger)
	defer closeStore()

	renderers, err := renderer.NewChromePool(ctx, renderer.ChromeConfig{ExecPath: cfg.Render.ChromePath}, renderer.PoolConfig[renderer.Renderer]{
		MaxSize:       cfg.Render.PoolMax,
		MinSize:       cfg.Render.PoolMin,
		IdleTimeout:   cfg.Render.IdleTimeout,
		EvictInterval: cfg.Render.EvictInterval,
	}, logger)
	if err != nil {
		logger.Fatal("init renderer pool", zap.Error(err))
	}
	defer renderers.Close()

	reportsService := reportsservice.New(reportsservice.Options{
		Executor:     executor,
		Pools:        broker,
		Credentials:  credentials,
		Queue:        queue,
		MaxHTMLBytes: cfg.Render.MaxHTMLBytes,
		Logger:       logger,
	})
	workers := reportsservice.NewWorkers(queue, renderers, store, reportsservice.WorkerConfig{
		Concurrency:   cfg.Render.Concurrency,
		RenderTimeout: cfg.Render.RenderTimeout,
		JobTimeout:    cfg.Render.JobTimeout,
		Bucket:        bucket,
		EnvKey:        cfg.EnvKey,
	}, logger)

	// ---- Connections ----
	connectionsService := connectionsservice.New(connectionsservice.Options{
		Broker:      broker,
		Registry:    tenantRepo,
		Directory:   directory,
		Credentials: credentials,
		Dial:        dial,
		Logger:      logger,
	})

	spec, err := contracts.Load(ctx)
	if err != nil {
		logger.Fatal("load openapi contract", zap.Error(err))
	}

	router := newRouter(routerDeps{
		Logger:         logger,
		Spec:           spec,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Authenticate:   authMiddleware,
		Tenants:        directory,
		Ready:          registryPool.Ping,
		Auth:           authhandler.New(authService, logger),
		Reports:        reportshandler.New(reportsService, cfg.Render.MaxHTMLBytes, logger),
		Connections:    connectionshandler.New(connectionsService, logger),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	// Workers stop claiming jobs on shutdown; a job in flight finishes within its own deadline.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return workers.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("api server stopped with error", zap.Error(err))
	}
}

// buildQueue selects the render job queue backend and starts its sweeper.
func buildQueue(ctx context.Context, cfg queueConfig, logger *zap.Logger) (jobqueue.Queue, func()) {
	queueCfg := jobqueue.Config{Retention: cfg.Retention, WaitingTTL: cfg.WaitingTTL, Lease: cfg.Lease}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepLogger := logger.With(zap.String("queue_backend", cfg.Backend))

	switch strings.ToLower(cfg.Backend) {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid QUEUE_REDIS_URL", zap.Error(err))
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.Error(err))
		}
		logger.Info("render queue backed by redis", zap.String("addr", opts.Addr), zap.Duration("lease", cfg.Lease))
		queue := jobqueue.NewRedisQueue(client, queueCfg)
		go jobqueue.RunSweeper(sweepCtx, queue, cfg.SweepEvery, sweepLogger)
		return queue, func() {
			stopSweep()
			_ = client.Close()
		}
	case "memory":
		logger.Warn("render queue is in-memory; jobs are lost on restart")
		queue := jobqueue.NewMemoryQueue(queueCfg)
		go jobqueue.RunSweeper(sweepCtx, queue, cfg.SweepEvery, sweepLogger)
		return queue, stopSweep
	default:
		stopSweep()
		logger.Fatal("invalid QUEUE_BACKEND (use redis or memory)", zap.String("backend", cfg.Backend))
		return nil, nil
	}
}

// buildArtifactStore selects where rendered PDFs are archived. A nil store disables archiving.
func buildArtifactStore(ctx context.Context, cfg storageConfig, logger *zap.Logger) (storage.ArtifactStore, string, func()) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, "", func() {}
	case "local":
		if strings.TrimSpace(cfg.LocalDir) == "" {
			logger.Fatal("STORAGE_LOCAL_DIR required when STORAGE_BACKEND=local")
		}
		store, err := storage.NewLocalStore(cfg.LocalDir)
		if err != nil {
			logger.Fatal("init local artifact store", zap.Error(err))
		}
		return store, "", func() {}
	case "gcs":
		if cfg.Bucket == "" {
			logger.Fatal("STORAGE_BUCKET required when STORAGE_BACKEND=gcs")
		}
		client, err := gcp.NewStorageClient(ctx, cfg.CredentialsFile)
		if err != nil {
			logger.Fatal("init gcs client", zap.Error(err))
		}
		store := storage.NewGCSStore(client, cfg.Bucket)
		if err := store.Check(ctx); err != nil {
			logger.Fatal("gcs bucket unreachable", zap.String("bucket", cfg.Bucket), zap.Error(err))
		}
		return store, cfg.Bucket, func() { _ = client.Close() }
	default:
		logger.Fatal("invalid STORAGE_BACKEND (use none, local or gcs)", zap.String("backend", cfg.Backend))
		return nil, "", nil
	}
}
