// Command prana runs the full workflow engine as a single binary: the
// HTTP/websocket API, the cron scheduler driving schedule-triggered
// runs, and the resume sweeper waking suspended executions whose wait
// or retry has become due. Grounded on cmd/services/executor/main.go's
// construct-then-serve-then-drain-on-signal shape, expanded from one
// service's wiring to the whole engine's, since the distilled spec
// describes a single cohesive engine rather than the teacher's fleet
// of per-concern microservices.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prana-run/prana/internal/action"
	"github.com/prana-run/prana/internal/actions/awss3"
	"github.com/prana-run/prana/internal/actions/email"
	"github.com/prana-run/prana/internal/actions/http"
	"github.com/prana-run/prana/internal/actions/kafkapublish"
	"github.com/prana-run/prana/internal/actions/logic"
	"github.com/prana-run/prana/internal/actions/mongoquery"
	"github.com/prana-run/prana/internal/actions/mysqlquery"
	"github.com/prana-run/prana/internal/actions/rediscache"
	"github.com/prana-run/prana/internal/actions/setcode"
	"github.com/prana-run/prana/internal/actions/slackwebhook"
	"github.com/prana-run/prana/internal/actions/subworkflow"
	"github.com/prana-run/prana/internal/actions/wait"
	"github.com/prana-run/prana/internal/api"
	"github.com/prana-run/prana/internal/api/realtime"
	execmodel "github.com/prana-run/prana/internal/execution/model"
	"github.com/prana-run/prana/internal/execution/graphexec"
	"github.com/prana-run/prana/internal/execution/nodeexec"
	execservice "github.com/prana-run/prana/internal/execution/service"
	"github.com/prana-run/prana/internal/middleware"
	"github.com/prana-run/prana/internal/platform/cache"
	"github.com/prana-run/prana/internal/platform/config"
	"github.com/prana-run/prana/internal/platform/database"
	"github.com/prana-run/prana/internal/platform/health"
	"github.com/prana-run/prana/internal/platform/logger"
	"github.com/prana-run/prana/internal/platform/metrics"
	"github.com/prana-run/prana/internal/platform/queue"
	"github.com/prana-run/prana/internal/platform/scheduler"
	"github.com/prana-run/prana/internal/platform/telemetry"
	"github.com/prana-run/prana/internal/platform/workerpool"
	"github.com/prana-run/prana/internal/repo"
	"github.com/prana-run/prana/internal/secrets"
	wfservice "github.com/prana-run/prana/internal/workflow/service"
)

const serviceName = "prana"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logger)
	log.Info("starting prana", "version", cfg.Version, "port", cfg.HTTP.Port)

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal("connecting to database", "error", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()

	execCache, err := cache.NewRedisCache(cache.Config{
		Host:      cfg.Redis.Host,
		Port:      cfg.Redis.Port,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: "prana:",
	})
	if err != nil {
		log.Fatal("connecting execution cache", "error", err)
	}

	subqueue := queue.New(redisClient, "prana:subworkflows")

	tel, err := telemetry.New(telemetry.Config{
		ServiceName:    serviceName,
		JaegerEndpoint: cfg.Telemetry.JaegerEndpoint,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		// The application's own Prometheus series are registered and
		// served through platform/metrics instead — enabling this too
		// would fight it over prometheus.DefaultRegisterer.
		MetricsEnabled: false,
	})
	if err != nil {
		log.Fatal("initializing telemetry", "error", err)
	}
	defer tel.Close()

	appMetrics := metrics.NewMetrics(serviceName)
	appMetrics.Register()

	registry := buildActionRegistry(cfg, log, redisClient)

	executions := repo.NewExecutionRepository(db)
	workflows := repo.NewWorkflowRepository(db)

	pipeline := middleware.NewPipeline(func(eventType middleware.EventType, handlerIndex int, err error) {
		log.Warn("pipeline handler failed", "event", eventType, "handler_index", handlerIndex, "error", err)
	})
	hub := realtime.NewHub(log)
	go hub.Run()
	pipeline.Use(realtime.Bridge(hub))

	nodes := nodeexec.New(registry).WithTelemetry(tel)
	if box, err := buildSecretsBox(); err != nil {
		log.Warn("credential decryption disabled", "error", err)
	} else {
		nodes = nodes.WithSecrets(box)
	}
	driver := graphexec.New(nodes, pipeline)

	workflowService := wfservice.NewWorkflowService(workflows, log)
	executionService := execservice.NewExecutionService(
		executions, workflows, registry, driver, execCache, subqueue, log, cfg.Engine.MaxSubWorkflowDepth,
	)

	healthHandler := health.NewHandler(serviceName, cfg.Version)
	healthHandler.AddCheck("database", health.DatabaseChecker(db.HealthCheck))
	healthHandler.AddCheck("redis", health.RedisChecker(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}))

	pool := workerpool.New(cfg.Engine.WorkerPoolSize, cfg.Engine.WorkerPoolSize*4)
	pool.Start()
	defer pool.Stop(30 * time.Second)

	sweeper := scheduler.NewResumeSweeper(cfg.Engine.ResumeSweepInterval,
		func(ctx context.Context) ([]string, error) {
			var due []string
			for _, suspensionType := range []string{"interval", "schedule", "retry"} {
				ids, err := executionService.DueForResumption(ctx, suspensionType, 100)
				if err != nil {
					return nil, err
				}
				due = append(due, ids...)
			}
			return due, nil
		},
		func(ctx context.Context, executionID string) {
			err := pool.Submit(ctx, &workerpool.Task{
				ID: executionID,
				Run: func(taskCtx context.Context) error {
					_, resumeErr := executionService.Resume(taskCtx, execmodel.ExecutionID(executionID), map[string]interface{}{})
					return resumeErr
				},
			})
			if err != nil {
				log.Error("submitting due resumption", "execution_id", executionID, "error", err)
			}
		},
	)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper.Start(sweepCtx)
	defer sweeper.Stop()

	cronSched := scheduler.New("UTC", func(ctx context.Context, workflowID string, triggerData map[string]interface{}) {
		_, err := executionService.Trigger(ctx, execservice.TriggerCommand{
			WorkflowID:  workflowID,
			TriggerType: execmodel.TriggerSchedule,
			Input:       triggerData,
		})
		if err != nil {
			log.Error("scheduled trigger failed", "workflow_id", workflowID, "error", err)
		}
	})
	cronSched.Start()
	defer cronSched.Stop()

	server := api.New(cfg, log, hub, workflowService, executionService, healthHandler, appMetrics)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("http server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	sweepCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", "error", err)
	}
}

// buildActionRegistry registers every built-in action. Integrations
// needing an external client (MySQL, MongoDB, S3, Kafka) are skipped
// when their connection settings aren't present in the environment
// (logged at info level for MySQL, MongoDB and S3; Kafka is skipped
// without a log line), and skipped with a warning when connecting
// fails, rather than failing the whole binary over an optional
// integration.
func buildActionRegistry(cfg *config.Config, log logger.Logger, redisClient *redis.Client) *action.Registry {
	registry := action.NewRegistry()

	mustRegister := func(name string, err error) {
		if err != nil {
			log.Fatal("registering built-in action", "integration", name, "error", err)
		}
	}

	mustRegister("logic", logic.Register(registry))
	mustRegister("wait", wait.Register(registry))
	mustRegister("setcode", setcode.Register(registry))
	mustRegister("http", http.Register(registry))
	mustRegister("email", email.Register(registry))
	mustRegister("slackwebhook", slackwebhook.Register(registry))
	mustRegister("subworkflow", subworkflow.Register(registry))
	mustRegister("rediscache", rediscache.Register(registry, redisClient))

	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		sqlDB, err := sqlOpenMySQL(dsn)
		if err != nil {
			log.Warn("mysqlquery action not registered", "error", err)
		} else {
			mustRegister("mysqlquery", mysqlquery.Register(registry, sqlDB))
		}
	} else {
		log.Info("MYSQL_DSN not set, skipping mysqlquery action")
	}

	if uri := os.Getenv("MONGO_URI"); uri != "" {
		mongoDB, err := connectMongo(uri, os.Getenv("MONGO_DATABASE"))
		if err != nil {
			log.Warn("mongoquery action not registered", "error", err)
		} else {
			mustRegister("mongoquery", mongoquery.Register(registry, mongoDB))
		}
	} else {
		log.Info("MONGO_URI not set, skipping mongoquery action")
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		s3Client, err := buildS3Client(region)
		if err != nil {
			log.Warn("awss3 action not registered", "error", err)
		} else {
			mustRegister("awss3", awss3.Register(registry, s3Client))
		}
	} else {
		log.Info("AWS_REGION not set, skipping awss3 action")
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Brokers[0] != "" {
		producer, err := buildKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Warn("kafkapublish action not registered", "error", err)
		} else {
			mustRegister("kafkapublish", kafkapublish.Register(registry, producer))
		}
	}

	return registry
}

// buildSecretsBox derives the credential-encryption key from
// SECRETS_PASSPHRASE. Node params referencing a "secret:..." value are
// left ciphertext if this isn't set, which only breaks actions that
// actually store encrypted credentials.
func buildSecretsBox() (*secrets.Box, error) {
	passphrase := os.Getenv("SECRETS_PASSPHRASE")
	if passphrase == "" {
		return nil, fmt.Errorf("SECRETS_PASSPHRASE not set")
	}
	return secrets.NewBox(secrets.KeySource{
		Passphrase: passphrase,
		Salt:       os.Getenv("SECRETS_SALT"),
	})
}

func sqlOpenMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}
	return db, nil
}

func buildKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	return sarama.NewSyncProducer(brokers, saramaConfig)
}

func connectMongo(uri, dbName string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if dbName == "" {
		dbName = "prana"
	}
	return client.Database(dbName), nil
}

func buildS3Client(region string) (*s3.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
		secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if endpoint := os.Getenv("AWS_S3_ENDPOINT"); endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}
