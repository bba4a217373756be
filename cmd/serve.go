package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/idassure/internal/auth"
	"github.com/example/idassure/internal/config"
	"github.com/example/idassure/internal/events"
	"github.com/example/idassure/internal/extraction"
	"github.com/example/idassure/internal/grpcclient"
	"github.com/example/idassure/internal/handlers"
	"github.com/example/idassure/internal/logging"
	"github.com/example/idassure/internal/metrics"
	"github.com/example/idassure/internal/repository"
	"github.com/example/idassure/internal/retry"
	"github.com/example/idassure/internal/scoring"
	"github.com/example/idassure/internal/similarity"
	"github.com/example/idassure/internal/storage"
	"github.com/example/idassure/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type publisher interface {
	usecase.EventPublisher
	Close()
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := openDatabase(initCtx, cfg.Database, logger)
	if err != nil {
		return err
	}
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(initCtx); err != nil {
		return logging.NewOperationError("cmd.auto_migrate", "", err)
	}

	redisClient, err := openRedis(initCtx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	awsCfg, err := loadAWSConfig(initCtx, cfg.AWS)
	if err != nil {
		return err
	}

	store := buildStore(cfg, awsCfg, logger)

	faces, closeFaces, err := buildSimilarity(cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer closeFaces()

	documents := extraction.NewTextractClient(textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	}), logger)

	issuer, err := auth.NewCredentialIssuer(cfg.Credential.SigningKey, cfg.Credential.Issuer, cfg.Credential.Audience, cfg.Credential.TTL)
	if err != nil {
		return err
	}

	pub, err := buildPublisher(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	m := metrics.New()
	uc := usecase.NewVerificationUseCase(usecase.Dependencies{
		Repo:       repo,
		Cache:      usecase.NewRedisCache(redisClient),
		Store:      store,
		Similarity: faces,
		Extraction: documents,
		Issuer:     issuer,
		Publisher:  pub,
		Metrics:    m,
	}, usecase.Options{
		Policy: usecase.Policy{
			BiometricThreshold: cfg.Policy.BiometricThreshold,
			DocumentThreshold:  cfg.Policy.DocumentThreshold,
		},
		Scoring: scoring.Policy{
			MismatchPenalty: cfg.Policy.FieldMismatchPenalty,
			FuzzyCutoff:     cfg.Policy.FuzzyMatchCutoff,
		},
		BiometricTimeout: cfg.Similarity.Timeout,
		DocumentTimeout:  cfg.Extraction.Timeout,
		Upstream: retry.Policy{
			Attempts:       cfg.Upstream.RetryAttempts,
			InitialBackoff: cfg.Upstream.InitialBackoff,
			MaxBackoff:     cfg.Upstream.MaxBackoff,
		},
		ResultTTL: cfg.Redis.ResultTTL,
	}, logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	authMiddleware := auth.JWTMiddleware(cfg.Credential.SigningKey, cfg.Credential.Audience)
	handlers.RegisterRoutes(r, uc, authMiddleware, m.Handler())

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("idassure API listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("version", version),
		zap.String("similarity_backend", cfg.Similarity.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	return serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger)
}

func openDatabase(ctx context.Context, cfg config.Database, zapLogger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, logging.NewOperationError("cmd.open_database", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.NewOperationError("cmd.open_database", "", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, logging.NewOperationError("cmd.ping_database", "", err)
	}
	zapLogger.Debug("database connected")
	return db, nil
}

func openRedis(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, logging.NewOperationError("cmd.ping_redis", "", err)
	}
	return client, nil
}

func loadAWSConfig(ctx context.Context, cfg config.AWS) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, logging.NewOperationError("cmd.load_aws_config", "", err)
	}
	return awsCfg, nil
}

func buildStore(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) usecase.ImageStore {
	if cfg.Storage.Backend == config.StorageBackendMemory {
		logger.Warn("using in-memory image store; images are lost on restart")
		return storage.NewMemoryStore()
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			o.UsePathStyle = true
		}
	})
	return storage.NewS3Store(client, cfg.Storage.Bucket, logger)
}

func buildSimilarity(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) (similarity.Client, func(), error) {
	if cfg.Similarity.Backend == config.SimilarityBackendGRPC {
		client, conn, err := grpcclient.NewFaceMatcher(cfg.Similarity.GRPCAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = conn.Close() }, nil
	}

	client := rekognition.NewFromConfig(awsCfg, func(o *rekognition.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})
	return similarity.NewRekognitionClient(client, logger), func() {}, nil
}

func buildPublisher(cfg config.Events, logger *zap.Logger) (publisher, error) {
	if len(cfg.Brokers) == 0 {
		return events.NopPublisher{}, nil
	}
	return events.NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger)
}
