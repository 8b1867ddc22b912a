package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"otp-service/internal/analytics"
	"otp-service/internal/bucketing"
	"otp-service/internal/client"
	"otp-service/internal/config"
	"otp-service/internal/encryption"
	"otp-service/internal/hashing"
	"otp-service/internal/otp"
	redisrepo "otp-service/internal/repository/redis"
	"otp-service/internal/repository/scylla"
	"otp-service/internal/service"
	"otp-service/internal/telephony"
	"otp-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Managers
	fingerprinter     *hashing.Fingerprinter
	encryptionManager *encryption.Manager
	generator         *otp.Generator
	experiment        *bucketing.Experiment

	// Repositories and sinks
	rateLimitStore *redisrepo.RateLimitStore
	sessionCache   *redisrepo.ConfirmationSessionCache
	gpoRepository  scylla.GpoRepository
	recorder       analytics.Recorder
	costTracker    analytics.CostTracker
	transport      telephony.Transport

	serviceFactory *service.ServiceFactory

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

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.initializeRepositories()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("ten_digit_experiment", cfg.ABTest.TenDigitOTPEnabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without cost events", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config); err != nil {
		util.Warn("ClickHouse initialization failed - proceeding without analytics", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			util.Warn("ClickHouse health check failed", util.ErrorField(err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
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

// initializeManagers initializes fingerprinting, encryption, code generation
// and experiment bucketing
func (f *Factory) initializeManagers() error {
	fingerprinter, err := hashing.NewFingerprinter(f.config)
	if err != nil {
		return fmt.Errorf("fingerprinter: %w", err)
	}
	f.fingerprinter = fingerprinter

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("AWS config load failed - falling back to local data keys", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}
	f.encryptionManager = encryption.NewManager(f.config, kmsClient)

	f.generator = otp.NewGenerator(f.config.OTP.DenylistExtras)
	f.experiment = bucketing.NewTenDigitOTPExperiment(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("kms_client", kmsClient != nil),
	)
	return nil
}

func (f *Factory) initializeRepositories() {
	if f.redisClient != nil {
		f.rateLimitStore = redisrepo.NewRateLimitStore(f.redisClient, f.config.RateLimit.Window)
		f.sessionCache = redisrepo.NewConfirmationSessionCache(f.redisClient, f.config.OTP.ExpiresIn)
	}
	if f.scyllaClient != nil {
		f.gpoRepository = scylla.NewGpoConfirmationRepository(f.scyllaClient, f.encryptionManager)
	}

	if f.clickhouseClient != nil {
		f.recorder = analytics.NewClickHouseRecorder(f.clickhouseClient)
	} else {
		f.recorder = analytics.NopRecorder{}
	}
	if f.kafkaProducer != nil {
		f.costTracker = analytics.NewKafkaCostTracker(f.kafkaProducer, f.config.Kafka.SpCostTopic)
	} else {
		f.costTracker = analytics.NopCostTracker{}
	}

	f.transport = telephony.NewHTTPGateway(f.config)
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.rateLimitStore,
			f.sessionCache,
			f.transport,
			f.gpoRepository,
			f.generator,
			f.fingerprinter,
			f.experiment,
			f.recorder,
			f.costTracker,
			f.config,
		)
	}
	return f.serviceFactory
}

// HealthCheck probes every backing service concurrently and reports one
// error per unhealthy dependency.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	report := func(name string, err error) {
		mu.Lock()
		healthErrors[name] = err
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if f.redisClient == nil {
			report("redis", fmt.Errorf("redis client not initialized"))
			return nil
		}
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			report("redis", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.scyllaClient == nil {
			report("scylla", fmt.Errorf("scylla client not initialized"))
			return nil
		}
		if err := f.scyllaClient.HealthCheck(); err != nil {
			report("scylla", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				report("clickhouse", err)
			}
		}
		return nil
	})

	g.Go(func() error {
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
				report("kafka", err)
			}
		}
		return nil
	})

	g.Wait()
	return healthErrors
}

// IsHealthy treats the analytics sinks as optional: the service can issue
// codes without them.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) GpoRepository() scylla.GpoRepository {
	return f.gpoRepository
}

func (f *Factory) Fingerprinter() *hashing.Fingerprinter {
	return f.fingerprinter
}
