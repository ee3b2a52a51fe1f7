// Package app builds the long-lived services of the harvester from
// configuration and hands them to the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/audit"
	"github.com/adquify/catalog-harvester/internal/catalog"
	"github.com/adquify/catalog-harvester/internal/clock"
	"github.com/adquify/catalog-harvester/internal/config"
	"github.com/adquify/catalog-harvester/internal/dedup"
	"github.com/adquify/catalog-harvester/internal/embedding"
	"github.com/adquify/catalog-harvester/internal/fetcher"
	collyfetcher "github.com/adquify/catalog-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/adquify/catalog-harvester/internal/fetcher/headless"
	"github.com/adquify/catalog-harvester/internal/hash/md5"
	"github.com/adquify/catalog-harvester/internal/id/uuid"
	"github.com/adquify/catalog-harvester/internal/normalize"
	"github.com/adquify/catalog-harvester/internal/pipeline"
	"github.com/adquify/catalog-harvester/internal/policy/ratelimit"
	gcppublisher "github.com/adquify/catalog-harvester/internal/publisher/pubsub"
	"github.com/adquify/catalog-harvester/internal/retry"
	"github.com/adquify/catalog-harvester/internal/runstate"
	"github.com/adquify/catalog-harvester/internal/source"
	"github.com/adquify/catalog-harvester/internal/source/kave"
	"github.com/adquify/catalog-harvester/internal/source/sheet"
	"github.com/adquify/catalog-harvester/internal/source/sklum"
	gcsstorage "github.com/adquify/catalog-harvester/internal/storage/gcs"
	localstorage "github.com/adquify/catalog-harvester/internal/storage/local"
	memorystorage "github.com/adquify/catalog-harvester/internal/storage/memory"
	miniostorage "github.com/adquify/catalog-harvester/internal/storage/minio"
	pgstore "github.com/adquify/catalog-harvester/internal/storage/postgres"
	"github.com/adquify/catalog-harvester/internal/store"
	"github.com/adquify/catalog-harvester/internal/vectorindex"
	"github.com/adquify/catalog-harvester/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  catalog.Clock

	store    store.Catalog
	index    vectorindex.Index
	embedder catalog.Embedder
	registry *source.Registry
	browser  *headlessfetcher.Browser
	dumper   *audit.Dumper
	mirror   runstate.Mirror

	redis        *redis.Client
	storage      *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
}

// Build creates the application's dependencies. On error everything opened
// so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: clock.New()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")
	steps := []func(context.Context) error{
		a.setupStore,
		a.setupRedis,
		func(context.Context) error { return a.setupEmbedder() },
		a.setupIndex,
		func(context.Context) error { return a.setupSources() },
		a.setupAudit,
		a.setupPublisher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the catalog store.
func (a *App) Store() store.Catalog { return a.store }

// Index returns the vector index.
func (a *App) Index() vectorindex.Index { return a.index }

// Embedder returns the configured embedder.
func (a *App) Embedder() catalog.Embedder { return a.embedder }

// Registry returns the source registry.
func (a *App) Registry() *source.Registry { return a.registry }

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory catalog store")
		a.store = memorystorage.NewCatalogStore()
		return nil
	}
	pg, err := pgstore.NewCatalogStore(ctx, pgstore.CatalogStoreConfig{
		DSN:             a.cfg.Database.DSN,
		Table:           a.cfg.Database.Table,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("catalog store init failed: %w", err)
	}
	a.store = pg
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("catalog schema migration failed: %w", err)
	}
	a.logger.Info("catalog store initialized", zap.String("table", a.cfg.Database.Table))
	return nil
}

func (a *App) setupRedis(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.logger.Info("redis disabled, embedding cache and run state mirror off")
		return nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	a.mirror = runstate.NewRedisMirror(a.redis, "harvester", a.cfg.Redis.StateTTL)
	a.logger.Info("redis connected", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) setupEmbedder() error {
	ec := a.cfg.Embedding
	var next catalog.Embedder
	switch ec.Provider {
	case "gemini":
		g, err := embedding.NewGemini(embedding.GeminiConfig{
			APIKey:     ec.APIKey,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		})
		if err != nil {
			return fmt.Errorf("gemini embedder init failed: %w", err)
		}
		next = g
	default:
		next = embedding.NewHashEmbedder(ec.Dimensions)
	}
	a.embedder = next
	if a.redis != nil && ec.Cache {
		namespace := fmt.Sprintf("%s:%s:%d", ec.Provider, ec.Model, next.Dimensions())
		a.embedder = embedding.NewCached(next, a.redis, md5.New(), namespace, a.cfg.Redis.CacheTTL, a.logger)
	}
	a.logger.Info("embedder initialized",
		zap.String("provider", ec.Provider),
		zap.Int("dimensions", next.Dimensions()),
		zap.Bool("cached", a.redis != nil && ec.Cache),
	)
	return nil
}

func (a *App) setupIndex(ctx context.Context) error {
	if a.cfg.Index.Backend != "elastic" {
		a.index = vectorindex.NewMemory()
		return nil
	}
	es, err := vectorindex.NewElastic(vectorindex.ElasticConfig{
		Addresses:  a.cfg.Index.Addresses,
		Username:   a.cfg.Index.Username,
		Password:   a.cfg.Index.Password,
		Index:      a.cfg.Index.Name,
		Dimensions: a.embedder.Dimensions(),
	})
	if err != nil {
		return fmt.Errorf("vector index init failed: %w", err)
	}
	if err := es.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("vector index mapping failed: %w", err)
	}
	a.index = es
	a.logger.Info("elasticsearch vector index ready", zap.String("index", a.cfg.Index.Name))
	return nil
}

func (a *App) setupSources() error {
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Harvest.UserAgent,
		Timeout:   a.cfg.Harvest.FetchTimeout,
	})
	adapters := []catalog.Adapter{sheet.New()}

	if a.cfg.Kave.AppID != "" {
		k, err := kave.New(kave.Config{
			AppID:    a.cfg.Kave.AppID,
			APIKey:   a.cfg.Kave.APIKey,
			Index:    a.cfg.Kave.Index,
			MaxPages: a.cfg.Kave.MaxPages,
		}, httpFetcher)
		if err != nil {
			return fmt.Errorf("kave adapter init failed: %w", err)
		}
		adapters = append(adapters, k)
	}

	sklumOpener, err := a.sklumOpener()
	if err != nil {
		return err
	}
	s, err := sklum.New(sklum.Config{MaxPages: a.cfg.Sklum.MaxPages}, sklumOpener)
	if err != nil {
		return fmt.Errorf("sklum adapter init failed: %w", err)
	}
	adapters = append(adapters, s)

	a.registry = source.NewRegistry(adapters...)
	for code := range a.cfg.Targets() {
		if _, err := a.registry.Lookup(code); err != nil {
			return fmt.Errorf("targets configured for %s: %w", code, err)
		}
	}
	return nil
}

func (a *App) sklumOpener() (fetcher.Opener, error) {
	sc := a.cfg.Sklum
	if !sc.Headless {
		var login *fetcher.LoginForm
		if sc.LoginURL != "" {
			login = &fetcher.LoginForm{
				URL:    sc.LoginURL,
				Fields: map[string]string{"email": sc.Email, "passwd": sc.Password, "SubmitLogin": "1"},
			}
		}
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.Harvest.UserAgent,
			Timeout:   a.cfg.Harvest.FetchTimeout,
			Login:     login,
		}), nil
	}

	var login *fetcher.LoginForm
	if sc.LoginURL != "" {
		login = &fetcher.LoginForm{
			URL: sc.LoginURL,
			Fields: map[string]string{
				`input[name="email"]`:  sc.Email,
				`input[name="passwd"]`: sc.Password,
			},
			Submit: `button[name="SubmitLogin"]`,
		}
	}
	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       sc.MaxParallel,
		UserAgent:         a.cfg.Harvest.UserAgent,
		NavigationTimeout: sc.NavigationTimeout,
		Login:             login,
	})
	if err != nil {
		return nil, fmt.Errorf("headless browser init failed: %w", err)
	}
	a.browser = browser
	a.logger.Info("using headless browser for sklum", zap.Int("max_parallel", sc.MaxParallel))
	return browser, nil
}

func (a *App) setupAudit(ctx context.Context) error {
	ac := a.cfg.Audit
	var blobs audit.BlobStore
	switch ac.Backend {
	case "local":
		local, err := localstorage.New(localstorage.Config{BaseDir: ac.Dir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = local
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		gcs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: ac.Bucket, Prefix: ac.Prefix})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		blobs = gcs
	case "minio":
		m, err := miniostorage.New(miniostorage.Config{
			Endpoint:  ac.Endpoint,
			AccessKey: ac.AccessKey,
			SecretKey: ac.SecretKey,
			UseSSL:    ac.UseSSL,
			Region:    ac.Region,
			Bucket:    ac.Bucket,
			Prefix:    ac.Prefix,
		})
		if err != nil {
			return fmt.Errorf("minio blob store init failed: %w", err)
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("minio bucket check failed: %w", err)
		}
		blobs = m
	default:
		a.logger.Info("audit dumps disabled")
		return nil
	}
	// Cloud backends apply their own prefix; the local directory needs one here.
	prefix := ""
	if ac.Backend == "local" {
		prefix = ac.Prefix
	}
	dumper, err := audit.NewDumper(blobs, prefix, a.logger)
	if err != nil {
		return fmt.Errorf("audit dumper init failed: %w", err)
	}
	a.dumper = dumper
	a.logger.Info("audit dumps enabled", zap.String("backend", ac.Backend))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Info("no Pub/Sub topic configured, run summaries are not published")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	pub, err := gcppublisher.Dial(ctx, client, a.cfg.PubSub.Topic)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

// Pipeline assembles a harvest pipeline from the app's services.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	hc := a.cfg.Harvest
	deps := pipeline.Deps{
		Adapters: a.registry,
		Retry: retry.NewJitterPolicy(retry.Config{
			MaxAttempts: hc.MaxAttempts,
			MinJitter:   hc.MinJitter,
			MaxJitter:   hc.MaxJitter,
		}),
		Limiter: ratelimit.New(ratelimit.Config{DefaultRPS: hc.RatePerHost, DefaultBurst: hc.Burst}),
		Normalizer: normalize.New(md5.New(), a.clock,
			normalize.NewMargins(a.cfg.Pricing.DefaultMargin, a.cfg.Margins()),
			normalize.Options{MaxImages: a.cfg.Pricing.MaxImages}),
		Dedup: dedup.NewEngine(a.cfg.Dedup.Threshold),
		Store: a.store,
		IDs:   uuid.New(),
		Clock: a.clock,
	}
	if a.cfg.Embedding.EmbedBeforeDedup {
		deps.Embedder = a.embedder
	}
	if a.mirror != nil {
		deps.Mirror = a.mirror
	}
	if a.dumper != nil {
		deps.Audit = a.dumper
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}
	return pipeline.New(deps, pipeline.Config{
		Pool:             workerConfig(hc),
		EmbedBeforeDedup: a.cfg.Embedding.EmbedBeforeDedup,
		ReplaceImages:    hc.ReplaceImages,
		ChannelDepth:     hc.QueueDepth,
	}, a.logger)
}

// Harvest runs one pipeline over the configured targets.
func (a *App) Harvest(ctx context.Context) (*pipeline.Report, error) {
	p, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, a.cfg.Targets())
}

// Syncer returns an embedding syncer writing to the store and index.
func (a *App) Syncer() *embedding.Syncer {
	ec := a.cfg.Embedding
	return embedding.NewSyncer(a.store, a.embedder, a.index, embedding.SyncConfig{
		BatchSize:   ec.BatchSize,
		Concurrency: ec.Concurrency,
		Pacing:      ec.Pacing,
	}, a.logger)
}

// Reconcile restores an empty vector index from cached embeddings.
func (a *App) Reconcile(ctx context.Context) (vectorindex.ReconcileReport, error) {
	return vectorindex.Reconcile(ctx, a.index, a.store, a.cfg.Embedding.BatchSize, a.logger)
}

// Search embeds text and queries the vector index.
func (a *App) Search(ctx context.Context, text string, limit int, threshold float64) ([]vectorindex.Match, error) {
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, catalog.NewError(catalog.KindEmbedding, "embed query", err)
	}
	matches, err := a.index.Search(ctx, vec, limit, threshold)
	if err != nil {
		return nil, catalog.NewError(catalog.KindIndex, "search", err)
	}
	return matches, nil
}

// Ready checks the backends a serving process depends on.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	if _, err := a.index.Count(ctx); err != nil {
		errs = append(errs, fmt.Errorf("vector index: %w", err))
	}
	if _, err := a.store.CountEmbedded(ctx); err != nil {
		errs = append(errs, fmt.Errorf("catalog store: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every resource the app opened.
func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func workerConfig(hc config.HarvestConfig) worker.Config {
	return worker.Config{Workers: hc.Workers, FetchTimeout: hc.FetchTimeout}
}
