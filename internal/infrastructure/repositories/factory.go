package repositories

import (
	"context"
	"errors"

	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	"roomrelay/internal/infrastructure/distributed"
	"roomrelay/internal/infrastructure/reliability"
	"roomrelay/internal/infrastructure/repositories/memory"
	mongorepo "roomrelay/internal/infrastructure/repositories/mongo"
	redisrepo "roomrelay/internal/infrastructure/repositories/redis"
	"roomrelay/pkg/circuitbreaker"
	"roomrelay/pkg/config"
	"roomrelay/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// RepositoryFactory creates the room store for the configured backend,
// falling back to memory when the backend cannot be reached.
type RepositoryFactory struct {
	cfg     *config.Config
	backend string
	logger  *zap.SugaredLogger

	redisClient *redis.Client
	mongoClient *mongo.Client
	mongoColl   *mongo.Collection
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		cfg:     cfg,
		backend: config.BackendMemory,
		logger:  logger,
	}

	switch cfg.Storage.Backend {
	case config.BackendRedis:
		client, err := redisrepo.NewRedisClient(redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			break
		}
		factory.redisClient = client
		factory.backend = config.BackendRedis

	case config.BackendMongo:
		client, err := mongorepo.NewMongoClient(mongorepo.Options{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			Collection:     cfg.Mongo.Collection,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
			PingTimeout:    cfg.Mongo.PingTimeout,
			MaxPoolSize:    cfg.Mongo.MaxPoolSize,
			MinPoolSize:    cfg.Mongo.MinPoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to MongoDB, falling back to memory repositories",
				"error", err,
			)
			break
		}
		coll := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
		err = mongorepo.EnsureIndexes(ctx, coll)
		cancel()
		if err != nil {
			_ = mongorepo.CloseMongoClient(client)
			logger.Warnw("failed to prepare MongoDB collection, falling back to memory repositories",
				"error", err,
			)
			break
		}
		factory.mongoClient = client
		factory.mongoColl = coll
		factory.backend = config.BackendMongo
	}

	logger.Infow("room store selected", "backend", factory.backend)
	return factory, nil
}

// Backend reports the backend actually in use.
func (f *RepositoryFactory) Backend() string {
	return f.backend
}

// CreateRoomRepository returns the room store, decorated with retry and a
// circuit breaker when reliability is enabled.
func (f *RepositoryFactory) CreateRoomRepository(metrics ports.MetricsRecorder) ports.RoomRepository {
	var repo ports.RoomRepository
	switch f.backend {
	case config.BackendRedis:
		repo = redisrepo.NewRedisRoomRepository(f.redisClient)
	case config.BackendMongo:
		repo = mongorepo.NewMongoRoomRepository(f.mongoColl)
	default:
		repo = memory.NewMemoryRoomRepository()
	}

	if !f.cfg.Reliability.Enabled {
		return repo
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = f.cfg.Reliability.MaxAttempts
	retryCfg.InitialDelay = f.cfg.Reliability.InitialDelay
	retryCfg.MaxDelay = f.cfg.Reliability.MaxDelay

	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.FailureThreshold = f.cfg.Reliability.FailureThreshold
	cbCfg.Timeout = f.cfg.Reliability.BreakerTimeout

	return reliability.NewRoomRepositoryWrapper(repo, retryCfg, cbCfg, metrics, f.logger)
}

// CreateRoomLocker returns a Redis lock when rooms live in Redis, since other
// instances may decide on the same room. Otherwise an in-process lock.
func (f *RepositoryFactory) CreateRoomLocker() ports.RoomLocker {
	if f.redisClient != nil {
		return distributed.NewRedisRoomLocker(
			f.redisClient,
			f.cfg.Rooms.LockTTL,
			f.cfg.Rooms.LockTimeout,
			f.logger,
		)
	}
	return services.NewLocalRoomLocker()
}

// Close releases backend connections.
func (f *RepositoryFactory) Close() error {
	return errors.Join(
		redisrepo.CloseRedisClient(f.redisClient),
		mongorepo.CloseMongoClient(f.mongoClient),
	)
}

// HealthCheck pings the active backend.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	switch {
	case f.redisClient != nil:
		return f.redisClient.Ping(ctx).Err()
	case f.mongoClient != nil:
		return f.mongoClient.Ping(ctx, nil)
	}
	return nil
}
