// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/compliance-archiver/internal/api"
	"github.com/JakeFAU/compliance-archiver/internal/auth"
	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
	"github.com/JakeFAU/compliance-archiver/internal/config"
	"github.com/JakeFAU/compliance-archiver/internal/dispatcher"
	"github.com/JakeFAU/compliance-archiver/internal/hash/sha256"
	"github.com/JakeFAU/compliance-archiver/internal/id/uuid"
	"github.com/JakeFAU/compliance-archiver/internal/pipeline"
	"github.com/JakeFAU/compliance-archiver/internal/policy/ratelimit"
	publishermemory "github.com/JakeFAU/compliance-archiver/internal/publisher/memory"
	publisherpubsub "github.com/JakeFAU/compliance-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/compliance-archiver/internal/queue"
	queuememory "github.com/JakeFAU/compliance-archiver/internal/queue/memory"
	queuepubsub "github.com/JakeFAU/compliance-archiver/internal/queue/pubsub"
	"github.com/JakeFAU/compliance-archiver/internal/render"
	"github.com/JakeFAU/compliance-archiver/internal/storage/gcs"
	"github.com/JakeFAU/compliance-archiver/internal/storage/local"
	"github.com/JakeFAU/compliance-archiver/internal/storage/memory"
	"github.com/JakeFAU/compliance-archiver/internal/storage/postgres"
	"github.com/JakeFAU/compliance-archiver/internal/worker"
)

// App holds the shared, long-lived services for one process. It is built
// once at startup from config.Config and handed to the cobra commands.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Renderer   capture.Renderer
	Artifacts  capture.ArtifactStore
	Records    capture.ProvenanceStore
	Schedules  capture.ScheduleStore
	Publisher  capture.Publisher
	Queue      queue.Queue
	Pipeline   *pipeline.Pipeline
	Dispatcher *dispatcher.Dispatcher
	Limiter    *ratelimit.Limiter
	Server     *api.Server

	clock   capture.Clock
	ids     capture.IDGenerator
	pool    *pgxpool.Pool
	closers []func()
}

// New builds every service named by cfg. It fails fast: a provider that
// cannot be initialized aborts startup and releases whatever was opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	logger.Info("initializing application services",
		zap.String("environment", cfg.Environment),
		zap.Bool("retention_lock", cfg.IsProduction()),
	)

	steps := []func(context.Context) error{
		a.initRenderer,
		a.initArtifacts,
		a.initDatabase,
		a.initMessaging,
		a.initPipeline,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.initServer(); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized", zap.String("renderer", a.Renderer.Name()))
	return a, nil
}

func (a *App) initRenderer(context.Context) error {
	r, err := render.Select(a.Config, a.Logger.Named("render"))
	if err != nil {
		return fmt.Errorf("select renderer: %w", err)
	}
	a.Renderer = r
	return nil
}

func (a *App) initArtifacts(ctx context.Context) error {
	sc := a.Config.Storage
	switch sc.Provider {
	case "gcs":
		opts := []option.ClientOption{}
		if sc.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(sc.Endpoint), option.WithoutAuthentication())
		}
		client, err := gcstorage.NewClient(ctx, opts...)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store, err := gcs.New(client, gcs.Config{
			Bucket:        sc.Bucket,
			KMSKeyName:    sc.KMSKeyName,
			LockRetention: a.Config.IsProduction(),
			PresignTTL:    a.Config.PresignTTL(),
			SigningEmail:  sc.SigningEmail,
			SigningKeyPEM: []byte(sc.SigningKeyPEM),
		}, a.clock, a.Logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("init gcs artifact store: %w", err)
		}
		a.Logger.Info("using gcs artifact store", zap.String("bucket", sc.Bucket))
		a.Artifacts = store
	case "local":
		store, err := local.New(local.Config{
			BaseDir:       sc.LocalDir,
			LockRetention: a.Config.IsProduction(),
			PresignTTL:    a.Config.PresignTTL(),
		}, a.clock, a.Logger.Named("local"))
		if err != nil {
			return fmt.Errorf("init local artifact store: %w", err)
		}
		a.Logger.Info("using local artifact store", zap.String("dir", sc.LocalDir))
		a.Artifacts = store
	case "memory":
		a.Logger.Warn("using in-memory artifact store; artifacts are lost on exit")
		a.Artifacts = memory.NewArtifactStore(memory.ArtifactConfig{
			LockRetention: a.Config.IsProduction(),
			PresignTTL:    a.Config.PresignTTL(),
		}, a.clock, a.Logger.Named("artifacts"))
	default:
		return fmt.Errorf("unknown storage provider: %s", sc.Provider)
	}
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	dc := a.Config.DB
	switch dc.Provider {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:             dc.DSN,
			MaxConns:        dc.MaxConns,
			MinConns:        dc.MinConns,
			MaxConnLifetime: time.Hour,
		})
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		records, err := postgres.NewCaptureStore(pool, dc.CapturesTable, a.Logger.Named("captures"))
		if err != nil {
			return fmt.Errorf("init capture store: %w", err)
		}
		schedules, err := postgres.NewScheduleStore(pool, dc.SchedulesTable, a.clock)
		if err != nil {
			return fmt.Errorf("init schedule store: %w", err)
		}
		a.Records, a.Schedules = records, schedules
		a.Logger.Info("using postgres provenance store", zap.String("table", dc.CapturesTable))
	case "memory":
		a.Logger.Warn("using in-memory provenance store; records are lost on exit")
		a.Records = memory.NewCaptureStore()
		a.Schedules = memory.NewScheduleStore(a.clock)
	default:
		return fmt.Errorf("unknown database provider: %s", dc.Provider)
	}
	return nil
}

// initMessaging picks Pub/Sub for jobs and events when a project is set and
// in-process fallbacks otherwise.
func (a *App) initMessaging(ctx context.Context) error {
	pc := a.Config.PubSub
	if pc.ProjectID == "" {
		q := queuememory.NewQueue(a.Config.Worker.QueueDepth)
		a.Queue = q
		a.closers = append(a.closers, q.Close)
		a.Publisher = publishermemory.New()
		return nil
	}

	client, err := pubsub.NewClient(ctx, pc.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	events := publisherpubsub.New(client)
	a.closers = append(a.closers, events.Close)
	a.Publisher = events

	if pc.JobsTopic == "" || pc.JobsSubscription == "" {
		a.Logger.Info("pubsub jobs topic not configured; using in-process job queue")
		q := queuememory.NewQueue(a.Config.Worker.QueueDepth)
		a.Queue = q
		a.closers = append(a.closers, q.Close)
		return nil
	}
	q := queuepubsub.New(client.Publisher(pc.JobsTopic), client.Subscriber(pc.JobsSubscription),
		a.Logger.Named("jobs"))
	a.closers = append(a.closers, q.Close)
	a.Queue = q
	a.Logger.Info("using pubsub job queue",
		zap.String("topic", pc.JobsTopic),
		zap.String("subscription", pc.JobsSubscription),
	)
	return nil
}

func (a *App) initPipeline(context.Context) error {
	p, err := pipeline.New(a.Renderer, sha256.New(), a.Artifacts, a.Records, a.Publisher, a.ids, a.clock,
		pipeline.Config{
			RetentionDays: a.Config.Storage.RetentionDays,
			EventsTopic:   a.Config.PubSub.EventsTopic,
		}, a.Logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	a.Pipeline = p

	limits := ratelimit.Config{PerOwnerRPS: a.Config.RateLimit.PerOwnerRPS, Burst: a.Config.RateLimit.Burst}
	a.Limiter = ratelimit.New(limits)

	// Workers pace each owner independently of API admission so jobs that
	// arrive straight on the topic are bounded too.
	pacing := ratelimit.New(limits)
	workers := make([]*worker.Worker, 0, a.Config.Worker.Concurrency)
	for i := 0; i < a.Config.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(a.Queue, p, pacing, worker.Config{},
			a.Logger.Named("worker").With(zap.Int("worker", i))))
	}
	a.Dispatcher = dispatcher.New(a.Queue, workers, a.ids, a.clock, a.Logger.Named("dispatcher"))
	return nil
}

func (a *App) initServer() error {
	deps := api.Deps{
		Pipeline:  a.Pipeline,
		Jobs:      a.Dispatcher,
		Artifacts: a.Artifacts,
		Records:   a.Records,
		Schedules: a.Schedules,
		IDs:       a.ids,
		Limiter:   a.Limiter,
		Ready:     a.Ready,
	}
	ac := a.Config.Auth
	if ac.Enabled {
		var keys *auth.KeyCache
		if ac.JWKSURL != "" {
			keys = auth.NewKeyCache(ac.JWKSURL, time.Duration(ac.JWKSCacheTTL)*time.Second, nil, a.clock)
		}
		verifier, err := auth.NewVerifier(keys, auth.VerifierConfig{
			Issuer:      ac.Issuer,
			Audience:    ac.Audience,
			HMACSecret:  []byte(ac.HMACSecret),
			GroupsClaim: ac.GroupsClaim,
		})
		if err != nil {
			return fmt.Errorf("init token verifier: %w", err)
		}
		deps.Verifier = verifier
	}
	a.Server = api.NewServer(deps, a.Config, a.Logger.Named("api"))
	return nil
}

// Ready reports whether backing services are reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Pool exposes the Postgres pool, or nil when the memory provider is active.
func (a *App) Pool() *pgxpool.Pool {
	return a.pool
}

// Close releases services in reverse order of construction.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
