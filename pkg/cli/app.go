package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters"
	"github.com/nyealovey/WhaleFall-sub003/pkg/config"
	"github.com/nyealovey/WhaleFall-sub003/pkg/crypto"
	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/logging"
	"github.com/nyealovey/WhaleFall-sub003/pkg/policy"
	"github.com/nyealovey/WhaleFall-sub003/pkg/repositories"
	"github.com/nyealovey/WhaleFall-sub003/pkg/retry"
	"github.com/nyealovey/WhaleFall-sub003/pkg/services"
)

// app is the wired process: configuration, stores and services.
type app struct {
	cfg    *config.Config
	loc    *time.Location
	logger *zap.Logger
	db     *database.DB
	redis  *redis.Client

	instances repositories.InstanceRepository
	changeLog repositories.ChangeLogRepository

	coordinator    *services.Coordinator
	batch          services.BatchSyncService
	aggregation    services.DailyAggregationService
	classification services.ClassificationService
	rules          services.RuleService
}

// loadConfig reads the configuration named by the --config flag and builds
// the process logger.
func loadConfig(cmd *cobra.Command, version string) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path, version)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// newApp connects to the audit store and Redis and wires every service.
// The caller must call close.
func newApp(ctx context.Context, cmd *cobra.Command, version string) (*app, error) {
	cfg, logger, err := loadConfig(cmd, version)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if cfg.InstanceCredentialsKey == "" {
		return nil, errors.New("INSTANCE_CREDENTIALS_KEY is required")
	}
	encryptor, err := crypto.NewCredentialEncryptor(cfg.InstanceCredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential encryptor: %w", err)
	}

	filter, err := config.LoadAccountFilters(cfg.Sync.FilterFile)
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rdb, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}

	var locker services.InstanceLocker
	if rdb != nil {
		locker = services.NewRedisLocker(rdb, time.Duration(cfg.Redis.LockTTLSeconds)*time.Second, logger)
		logger.Info("Using Redis instance locks", zap.String("host", cfg.Redis.Host))
	} else {
		locker = services.NewLocalLocker()
	}

	instanceRepo := repositories.NewInstanceRepository(encryptor)
	inventoryRepo := repositories.NewAccountInventoryRepository()
	snapshotRepo := repositories.NewPermissionSnapshotRepository()
	changeLogRepo := repositories.NewChangeLogRepository()
	classificationRepo := repositories.NewClassificationRepository()
	assignmentRepo := repositories.NewAssignmentRepository()
	statsRepo := repositories.NewDailyStatsRepository()

	coordinator := services.NewCoordinator(
		adapters.NewFactory(logger),
		services.NewInventorySynchronizer(db, inventoryRepo, logger),
		services.NewPermissionSynchronizer(db, snapshotRepo, changeLogRepo, logger),
		filter,
		locker,
		services.CoordinatorConfig{
			ConnectTimeout: cfg.Sync.ConnectTimeout(),
			Retry:          retry.DefaultConfig(),
		},
		logger,
	)
	matcher := services.NewRuleMatcher(policy.NewEvaluator(policy.WithLogger(logger)), cfg.Aggregation.Parallelism, logger)

	return &app{
		cfg:            cfg,
		loc:            loc,
		logger:         logger,
		db:             db,
		redis:          rdb,
		instances:      instanceRepo,
		changeLog:      changeLogRepo,
		coordinator:    coordinator,
		batch:          services.NewBatchSyncService(instanceRepo, coordinator, cfg.Sync.Concurrency, logger),
		aggregation:    services.NewDailyAggregationService(db, classificationRepo, snapshotRepo, statsRepo, matcher, logger),
		classification: services.NewClassificationService(db, classificationRepo, snapshotRepo, assignmentRepo, matcher, logger),
		rules:          services.NewRuleService(db, classificationRepo, logger),
	}, nil
}

// scope returns ctx with the audit store attached for repository reads.
func (a *app) scope(ctx context.Context) context.Context {
	return a.db.WithScope(ctx)
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	a.db.Close()
	_ = a.logger.Sync()
}
