package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reset-guard/internal/audit"
	"reset-guard/internal/client"
	"reset-guard/internal/config"
	redisrepo "reset-guard/internal/repository/redis"
	"reset-guard/internal/repository/scylla"
	"reset-guard/internal/secrets"
	"reset-guard/internal/service"
	tlsmgr "reset-guard/internal/tls"
	"reset-guard/internal/util"
)

// Factory constructs and owns every dependency. Singleton-ish state
// (clients, stores) is built once here and passed by reference, so
// tests can assemble the same graph from fakes.
type Factory struct {
	config     *config.Config
	tlsManager *tlsmgr.TLSManager

	redisClient  *client.RedisClient
	scyllaClient *scylla.ScyllaClient
	kafkaClient  *client.KafkaProducer

	resetService *service.ResetService

	closeOnce sync.Once
}

// NewFactory loads config, initializes the logger, and brings up all
// clients and services.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		f.tlsManager = tlsmgr.NewTLSManager(&tlsmgr.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := f.initializeClients(); err != nil {
		return nil, err
	}
	if err := f.initializeServices(); err != nil {
		return nil, err
	}

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", len(cfg.Kafka.Brokers) > 0),
	)

	return f, nil
}

func (f *Factory) initializeClients() error {
	redisClient, err := client.NewRedisClient(f.config)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient

	scyllaClient, err := scylla.NewScyllaClient(f.config)
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient

	if len(f.config.Kafka.Brokers) > 0 {
		kafkaClient, err := client.NewKafkaProducer(f.config)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		f.kafkaClient = kafkaClient
	} else {
		util.Warn("Kafka brokers not configured; audit events disabled")
	}

	return f.healthCheck()
}

// healthCheck probes the stateful backends in parallel.
func (f *Factory) healthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.redisClient.HealthCheck(gctx) })
	g.Go(func() error { return f.scyllaClient.HealthCheck() })

	if err := g.Wait(); err != nil {
		return fmt.Errorf("backend health check failed: %w", err)
	}
	return nil
}

func (f *Factory) initializeServices() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	apiKey, err := secrets.ResolveIdentityAPIKey(ctx, f.config)
	if err != nil {
		return fmt.Errorf("identity api key: %w", err)
	}

	identityClient := client.NewIdentityClient(f.config, apiKey)
	rateLimitStore := redisrepo.NewRateLimitStore(f.redisClient)
	rateLimiter := service.NewRateLimiter(rateLimitStore, f.config.RateLimit)
	accountRepo := scylla.NewAccountRepository(f.scyllaClient)

	var publisher service.AuditPublisher = audit.NopPublisher{}
	if f.kafkaClient != nil {
		publisher = audit.NewPublisher(f.kafkaClient)
	}

	f.resetService = service.NewResetService(
		rateLimiter,
		identityClient,
		accountRepo,
		publisher,
		f.config.RateLimit.DefaultRegion,
	)
	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tlsmgr.TLSManager {
	return f.tlsManager
}

func (f *Factory) ResetService() *service.ResetService {
	return f.resetService
}

// Close releases all clients. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaClient != nil {
			_ = f.kafkaClient.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		util.Sync()
	})
}
