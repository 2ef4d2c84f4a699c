// Package core wires the platform services together. One Services
// record is built at startup and handed to the HTTP server and the
// worker pool; nothing else constructs cross-package dependencies.
package core

import (
	"context"
	"fmt"
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/AuralStack/ScribeFlow/artifacts"
	"github.com/AuralStack/ScribeFlow/cache"
	"github.com/AuralStack/ScribeFlow/checkpoint"
	"github.com/AuralStack/ScribeFlow/config"
	"github.com/AuralStack/ScribeFlow/credentials"
	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/jobs"
	"github.com/AuralStack/ScribeFlow/live"
	"github.com/AuralStack/ScribeFlow/media"
	"github.com/AuralStack/ScribeFlow/pipeline"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/storage/local"
	storages3 "github.com/AuralStack/ScribeFlow/storage/s3"
	"github.com/AuralStack/ScribeFlow/stt"
	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/upload"
)

const (
	// sweepInterval is how often the retention loop scans the temp area.
	sweepInterval = time.Hour

	// tempMaxAge is how long temp blobs survive before the sweeper
	// removes them.
	tempMaxAge = 24 * time.Hour

	// sessionMaxAge is the retention backstop for session blobs. Upload
	// chunks are normally reclaimed at completion, cancellation, or
	// expiry; this rule catches whatever those paths missed.
	sessionMaxAge = 7 * 24 * time.Hour
)

// Services is the platform service record wired at startup.
type Services struct {
	Config *config.Config

	Bus     *events.EventBus
	Redis   *redis.Client
	Blobs   storage.ObjectStore
	Sweeper *storage.Sweeper
	Cache   cache.Cache
	Limiter ratelimit.Limiter
	Quota   *ratelimit.QuotaManager

	Jobs        *jobs.Service
	Queue       jobs.Queue
	Checkpoints checkpoint.Store
	Provider    stt.Service
	Media       *media.Transcoder
	Artifacts   *artifacts.Writer

	Live    *live.Engine
	Uploads *upload.Manager
	Records *events.RecordStore

	Runner *pipeline.Runner
	Pool   *pipeline.Pool
}

// New builds the full service graph from configuration. The Redis
// connection is verified before anything else is wired.
func New(ctx context.Context, cfg *config.Config) (*Services, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	blobs, err := buildStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider, err := buildSTT(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus()
	results := buildCache(cfg, client)
	limiter := buildLimiter(cfg, client)
	quota := ratelimit.NewQuotaManager(
		ratelimit.NewRedisUsageStore(client),
		ratelimit.WithQuotaEnabled(cfg.RateLimit.QuotaEnabled),
	)

	queue := jobs.NewRedisQueue(client)
	jobSvc := jobs.NewService(jobs.NewRedisStore(client), queue, bus)
	checkpoints := checkpoint.NewRedisStore(client)
	transcoder := media.NewTranscoder(media.DefaultTranscoderConfig())
	writer := artifacts.NewWriter(blobs)

	liveCfg := live.DefaultConfig()
	liveCfg.Params = transcript.Params{
		ChunkMs:        cfg.Live.ChunkMs,
		OverlapMs:      cfg.Live.OverlapMs,
		CommitWindowMs: cfg.Live.CommitWindowMs,
	}
	liveCfg.IdleTTL = cfg.Live.IdleTimeout
	engine := live.NewEngine(live.NewRedisStateStore(client), blobs, provider,
		live.WithConfig(liveCfg),
		live.WithBus(bus),
		live.WithArtifacts(writer),
		live.WithQuota(quota, ratelimit.FreeTier),
	)

	uploadCfg := upload.DefaultManagerConfig()
	uploadCfg.MaxFileSize = cfg.Storage.MaxFileSize
	uploads := upload.NewManager(upload.NewRedisSessionStore(client), blobs, jobSvc,
		upload.WithManagerConfig(uploadCfg),
		upload.WithBus(bus),
		upload.WithQuota(quota, ratelimit.FreeTier),
	)

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.WorkerCount = cfg.Pipeline.WorkerCount
	pipeCfg.MaxConcurrentSTT = int64(cfg.Pipeline.MaxConcurrentSTT)
	pipeCfg.MaxSourceBytes = cfg.Storage.MaxFileSize
	runner := pipeline.NewRunner(jobSvc, checkpoints, blobs, provider, transcoder, writer,
		limiter, quota,
		pipeline.WithConfig(pipeCfg),
		pipeline.WithBus(bus),
		pipeline.WithResultCache(results),
	)
	pool := pipeline.NewPool(runner, queue, cfg.Pipeline.WorkerCount)

	lister, ok := blobs.(storage.Lister)
	if !ok {
		return nil, fmt.Errorf("storage backend does not support listing")
	}
	sweeper := storage.NewSweeper(blobs, lister, sweepInterval,
		[]storage.SweepRule{
			{Prefix: storage.TempPrefix, MaxAge: tempMaxAge},
			{Prefix: storage.SessionsPrefix, MaxAge: sessionMaxAge},
		})

	return &Services{
		Config:      cfg,
		Bus:         bus,
		Redis:       client,
		Blobs:       blobs,
		Sweeper:     sweeper,
		Cache:       results,
		Limiter:     limiter,
		Quota:       quota,
		Jobs:        jobSvc,
		Queue:       queue,
		Checkpoints: checkpoints,
		Provider:    provider,
		Media:       transcoder,
		Artifacts:   writer,
		Live:        engine,
		Uploads:     uploads,
		Records:     events.NewRecordStore(client),
		Runner:      runner,
		Pool:        pool,
	}, nil
}

// Close releases the service graph's external connections.
func (s *Services) Close() error {
	return s.Redis.Close()
}

func buildStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Type {
	case config.StorageTypeLocal:
		store, err := local.New(cfg.Storage.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		return store, nil
	case config.StorageTypeS3:
		cred, err := awsCredential(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load AWS credentials: %w", err)
		}
		client := awss3.NewFromConfig(cred.Config())
		return storages3.New(client, cfg.Storage.S3Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func awsCredential(ctx context.Context, cfg *config.Config) (*credentials.AWSCredential, error) {
	if cfg.Storage.S3AssumeRole != "" {
		return credentials.NewAWSCredentialWithRole(ctx, cfg.Storage.S3Region, cfg.Storage.S3AssumeRole)
	}
	return credentials.NewAWSCredential(ctx, cfg.Storage.S3Region)
}

func buildCache(cfg *config.Config, client *redis.Client) cache.Cache {
	if !cfg.Cache.Enabled {
		return cache.NewDisabled()
	}
	if cfg.Cache.Type == config.CacheTypeRedis {
		return cache.NewRedisCache(client)
	}
	return cache.NewMemoryCache(cache.WithMaxSize(cfg.Cache.MaxSize))
}

func buildLimiter(cfg *config.Config, client *redis.Client) ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return ratelimit.Disabled{}
	}
	return ratelimit.NewRedisLimiter(client)
}

// buildSTT assembles the provider façade: the configured primary, the
// optional fallback, retries and word-timing synthesis on top.
func buildSTT(ctx context.Context, cfg *config.Config) (stt.Service, error) {
	catalog, err := config.LoadProviders(cfg.STT.ProvidersPath)
	if err != nil {
		return nil, err
	}

	primary, err := buildProvider(ctx, cfg.STT.PrimaryProvider, cfg.STT.PrimaryKey, catalog)
	if err != nil {
		return nil, fmt.Errorf("primary provider %q: %w", cfg.STT.PrimaryProvider, err)
	}

	var opts []stt.FacadeOption
	if cfg.STT.FallbackProvider != "" {
		fallback, err := buildProvider(ctx, cfg.STT.FallbackProvider, cfg.STT.FallbackKey, catalog)
		if err != nil {
			return nil, fmt.Errorf("fallback provider %q: %w", cfg.STT.FallbackProvider, err)
		}
		opts = append(opts, stt.WithFallback(fallback))
	}
	return stt.NewFacade(primary, opts...), nil
}

// buildProvider constructs one adapter. Names present in the catalog
// use their entry; a bare "whisper" works without a catalog through
// the default credential chain.
func buildProvider(ctx context.Context, name, explicitKey string, catalog *config.ProvidersFile) (stt.Service, error) {
	entry, ok := catalog.Providers[name]
	if !ok {
		if name != config.ProviderTypeWhisper {
			return nil, fmt.Errorf("provider not found in catalog")
		}
		entry = config.ProviderEntry{Type: config.ProviderTypeWhisper}
	}

	switch entry.Type {
	case config.ProviderTypeWhisper:
		// The adapter type keys the header and default-env tables, not
		// the catalog name.
		key, err := resolveAPIKey(ctx, config.ProviderTypeWhisper, explicitKey, entry.Credentials)
		if err != nil {
			return nil, err
		}
		var opts []stt.WhisperOption
		if entry.BaseURL != "" {
			opts = append(opts, stt.WithWhisperBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, stt.WithWhisperModel(entry.Model))
		}
		return stt.NewWhisper(key, opts...), nil

	case config.ProviderTypeAzure:
		cred, err := resolveCredential(ctx, config.ProviderTypeAzure, explicitKey, entry.Credentials)
		if err != nil {
			return nil, err
		}
		return stt.NewAzure(entry.Endpoint, entry.Deployment, cred), nil

	case config.ProviderTypeREST:
		rc := *entry.REST
		if rc.Name == "" {
			rc.Name = name
		}
		if rc.APIKey == "" {
			key, err := resolveAPIKey(ctx, name, explicitKey, entry.Credentials)
			if err != nil {
				return nil, err
			}
			rc.APIKey = key
		}
		return stt.NewREST(rc), nil

	default:
		return nil, fmt.Errorf("unknown provider type %q", entry.Type)
	}
}

// resolveCredential runs the credential chain for a provider entry. An
// explicit key from the environment wins over the catalog's block.
func resolveCredential(ctx context.Context, provider, explicitKey string, spec *credentials.Spec) (credentials.Credential, error) {
	rc := credentials.ResolverConfig{Provider: provider}
	if spec != nil {
		rc.Spec = *spec
	}
	if explicitKey != "" {
		rc.Spec.APIKey = explicitKey
	}
	return credentials.Resolve(ctx, rc)
}

// resolveAPIKey is resolveCredential for adapters that take a raw key.
func resolveAPIKey(ctx context.Context, provider, explicitKey string, spec *credentials.Spec) (string, error) {
	if explicitKey != "" {
		return explicitKey, nil
	}
	cred, err := resolveCredential(ctx, provider, "", spec)
	if err != nil {
		return "", err
	}
	if akc, ok := cred.(*credentials.APIKeyCredential); ok {
		return akc.APIKey(), nil
	}
	return "", nil
}
