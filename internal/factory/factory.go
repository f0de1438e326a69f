package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"admin-gateway/internal/audit"
	"admin-gateway/internal/client"
	"admin-gateway/internal/config"
	"admin-gateway/internal/encryption"
	"admin-gateway/internal/handler"
	"admin-gateway/internal/ratelimit"
	"admin-gateway/internal/session"
	"admin-gateway/internal/tls"
	"admin-gateway/internal/token"
	"admin-gateway/internal/upstream"
	"admin-gateway/internal/util"
)

// Factory manages the lifecycle of all application dependencies. Heavy
// backends (Redis, Scylla, Kafka, ClickHouse, Elasticsearch, KMS) are
// config-gated; with everything disabled the gateway runs self-contained
// on in-process stores.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *client.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Core components
	encryptionManager *encryption.Manager
	auditLog          *audit.Log
	clickhouseSink    *audit.ClickHouseSink
	esSink            *audit.ESSink
	limiter           *ratelimit.Limiter
	sessionStore      *session.Store
	upstreamClient    *upstream.Client
	tokenService      *token.Service

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(&cfg.Server)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeComponents()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("redis_rate_limit", cfg.RateLimit.UseRedis),
		util.Bool("scylla_sessions", cfg.Session.UseScylla),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients brings up the configured external backends with
// health checks. In production a failing backend aborts startup; in
// development it degrades to the in-process fallback with a warning.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if f.config.RateLimit.UseRedis {
		if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = redisClient
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	if f.config.Session.UseScylla {
		if scyllaClient, err := client.NewScyllaClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = scyllaClient
			if err := f.scyllaClient.HealthCheck(); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
			} else {
				util.Info("ScyllaDB client initialized and healthy")
			}
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Elasticsearch.Enabled {
		if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = esClient
			if err := f.esClient.HealthCheck(); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
			} else {
				util.Info("Elasticsearch client initialized and healthy")
			}
		}
	}

	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = chClient
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeComponents() {
	logger := util.Get()

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("failed to load AWS config, KMS disabled", util.ErrorField(err))
			f.config.KMS.Enabled = false
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}
	f.encryptionManager = encryption.NewManager(f.config, kmsClient)

	var sinks []audit.Sink
	if f.kafkaProducer != nil {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer))
	}
	if f.clickhouseClient != nil {
		f.clickhouseSink = audit.NewClickHouseSink(f.clickhouseClient, f.config.Clickhouse.Table)
		sinks = append(sinks, f.clickhouseSink)
	}
	if f.esClient != nil {
		f.esSink = audit.NewESSink(f.esClient, f.config.Elasticsearch.Index, logger)
		sinks = append(sinks, f.esSink)
	}
	f.auditLog = audit.NewLog(f.config.Audit.BufferSize, logger, sinks...)

	var rateRepo ratelimit.Repository
	if f.redisClient != nil {
		rateRepo = ratelimit.NewRedisRepository(f.redisClient, f.config.RateLimit, logger)
	} else {
		rateRepo = ratelimit.NewMemoryRepository(f.config.RateLimit)
	}
	f.limiter = ratelimit.NewLimiter(rateRepo, logger)

	var sessionRepo session.Repository
	if f.scyllaClient != nil {
		sessionRepo = session.NewScyllaRepository(f.scyllaClient, f.encryptionManager, f.config.Session.TTL)
	} else {
		sessionRepo = session.NewMemoryRepository()
	}
	f.sessionStore = session.NewStore(sessionRepo, f.auditLog, f.config.Session, logger)

	f.upstreamClient = upstream.NewClient(f.config, logger)
	f.tokenService = token.NewService(f.upstreamClient, f.auditLog, logger)
}

func (f *Factory) Config() *config.Config          { return f.config }
func (f *Factory) TLSManager() *tls.Manager        { return f.tlsManager }
func (f *Factory) AuditLog() *audit.Log            { return f.auditLog }
func (f *Factory) Limiter() *ratelimit.Limiter     { return f.limiter }
func (f *Factory) SessionStore() *session.Store    { return f.sessionStore }
func (f *Factory) UpstreamClient() *upstream.Client { return f.upstreamClient }
func (f *Factory) TokenService() *token.Service    { return f.tokenService }

// ClickHouseSink exposes the buffering sink so the janitor can flush it
// periodically. Nil when ClickHouse is disabled.
func (f *Factory) ClickHouseSink() *audit.ClickHouseSink { return f.clickhouseSink }

// EventSearcher returns the Elasticsearch-backed event search when the
// index is enabled, nil otherwise.
func (f *Factory) EventSearcher() audit.Searcher {
	if f.esSink == nil {
		return nil
	}
	return f.esSink
}

// Gate builds the auth middleware.
func (f *Factory) Gate() *handler.Gate {
	return handler.NewGate(f.tokenService, f.sessionStore, f.config, util.Get())
}

// AuthHandler builds the authentication endpoint handler.
func (f *Factory) AuthHandler() *handler.AuthHandler {
	return handler.NewAuthHandler(
		f.upstreamClient,
		f.tokenService,
		f.sessionStore,
		f.limiter,
		f.auditLog,
		f.EventSearcher(),
		f.config,
		util.Get(),
	)
}

// HealthCheck probes every configured backend plus the identity backend.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if err := f.upstreamClient.HealthCheck(ctx); err != nil {
		healthErrors["upstream"] = err
	}
	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.auditLog != nil {
			f.auditLog.Close()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown complete")
	})
	return nil
}
