package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	captionengine "github.com/snarg/caption-engine"
	"github.com/snarg/caption-engine/internal/api"
	"github.com/snarg/caption-engine/internal/awsclient"
	"github.com/snarg/caption-engine/internal/config"
	"github.com/snarg/caption-engine/internal/convert"
	"github.com/snarg/caption-engine/internal/database"
	"github.com/snarg/caption-engine/internal/delivery"
	"github.com/snarg/caption-engine/internal/identity"
	"github.com/snarg/caption-engine/internal/lock"
	"github.com/snarg/caption-engine/internal/metrics"
	"github.com/snarg/caption-engine/internal/mqttclient"
	"github.com/snarg/caption-engine/internal/pipeline"
	"github.com/snarg/caption-engine/internal/storage"
	"github.com/snarg/caption-engine/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	envFile := flag.String("env-file", ".env", "path to .env file")
	httpAddr := flag.String("listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	logLevel := flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	fileRoot := flag.String("file-root", "", "artifact cache root (overrides FILE_ROOT)")
	bucket := flag.String("s3-bucket", "", "media bucket (overrides S3_BUCKET)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(config.Overrides{
		EnvFile:  *envFile,
		HTTPAddr: *httpAddr,
		LogLevel: *logLevel,
		FileRoot: *fileRoot,
		S3Bucket: *bucket,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("caption-engine starting")

	profiles, err := identity.ParseProfiles(cfg.OriginProfiles)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ORIGIN_PROFILES")
	}
	if profiles.Len() == 0 {
		log.Warn().Msg("no origin profiles configured, only s3:// references will resolve")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// AWS
	awsCfg, err := awsclient.Load(ctx, cfg.AWS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load aws config")
	}
	s3Client := awsclient.NewS3(awsCfg, cfg.AWS.Endpoint)
	transcribeClient := awsclient.NewTranscribe(awsCfg, cfg.AWS.Endpoint)

	// Artifact store
	var (
		mirror   storage.Mirror
		s3Mirror *storage.S3Mirror
	)
	if cfg.ArtifactS3.Enabled() {
		s3Mirror = storage.NewS3Mirror(s3Client, cfg.ArtifactS3.Bucket, cfg.ArtifactS3.Prefix, log)
		mirror = s3Mirror
	}
	store, err := storage.New(cfg.FileRoot, cfg.CaptionFormat, mirror, log)
	if err != nil {
		log.Fatal().Err(err).Str("root", cfg.FileRoot).Msg("failed to open artifact store")
	}
	tempAge := 2 * cfg.RunTimeout
	if tempAge < time.Hour {
		tempAge = time.Hour
	}
	sweeper := storage.NewTempSweeper(store.Root(), tempAge, log)
	sweeper.Start()
	defer sweeper.Stop()
	if s3Mirror != nil {
		reconciler := storage.NewUploadReconciler(store, s3Mirror, log)
		reconciler.Start()
		defer reconciler.Stop()
	}

	// Transcription
	svc := transcribe.NewAWSService(transcribeClient, log)
	coord := transcribe.NewCoordinator(svc, transcribe.Language{
		Code:    cfg.Language,
		Auto:    cfg.AutoLanguage(),
		Options: cfg.LanguageOptions,
	}, log)

	converter, err := convert.NewInvoker(cfg.ConverterCmd, store, log)
	if err != nil {
		log.Fatal().Err(err).Str("cmd", cfg.ConverterCmd).Msg("invalid CONVERTER_CMD")
	}

	var (
		observers  []pipeline.Observer
		distLocker lock.Locker
		redisLock  *lock.Redis
		db         *database.DB
		pool       *pgxpool.Pool
		mqtt       *mqttclient.Client
	)

	// Redis (optional)
	if cfg.Redis.Enabled() {
		rc := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rc.Close()
		redisLock = lock.NewRedis(rc, cfg.Redis.LockTTL, log)
		if err := redisLock.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, runs fall back to local locks until it returns")
		}
		distLocker = redisLock
	}

	// Database (optional)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("database migration failed")
		}
		pool = db.Pool
		observers = append(observers, pipeline.LedgerObserver{DB: db})
	}

	// MQTT (optional)
	if cfg.MQTT.Enabled() {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		observers = append(observers, pipeline.EventObserver{Pub: mqtt})
	}

	orch := pipeline.New(pipeline.Options{
		Resolver: identity.NewResolver(identity.ResolverOptions{
			Profiles:   profiles,
			Bucket:     cfg.S3Bucket,
			PathMarker: cfg.RepositoryPathMarker,
			Timeout:    cfg.ResolverTimeout,
			Log:        log,
		}),
		Store:       store,
		Coordinator: coord,
		Poller:      transcribe.NewPoller(coord, cfg.PollInterval, cfg.MaxPolls, log),
		Fetcher:     transcribe.NewFetcher(0),
		Converter:   converter,
		Deliverer:   delivery.NewDispatcher(cfg.DeliveryTimeout, log),
		DistLocker:  distLocker,
		Observers:   observers,
		RunTimeout:  cfg.RunTimeout,
		Log:         log,
	})

	if cfg.MetricsEnabled {
		prometheus.MustRegister(metrics.NewCollector(pool, orch))
	}

	// Health checks
	health := api.NewHealthHandler(orch, version, startTime)
	health.Add(api.HealthCheck{Name: "s3", Critical: true, Check: func(ctx context.Context) error {
		return awsclient.HeadBucket(ctx, s3Client, cfg.S3Bucket)
	}})
	health.Add(api.HealthCheck{Name: "transcription", Critical: true, Check: func(ctx context.Context) error {
		_, err := coord.List(ctx, 1)
		return err
	}})
	if s3Mirror != nil {
		health.Add(api.HealthCheck{Name: "artifact_s3", Check: s3Mirror.HeadBucket})
	} else {
		health.NotConfigured("artifact_s3")
	}
	if redisLock != nil {
		health.Add(api.HealthCheck{Name: "redis", Check: redisLock.Ping})
	} else {
		health.NotConfigured("redis")
	}
	if db != nil {
		health.Add(api.HealthCheck{Name: "database", Check: db.HealthCheck})
	} else {
		health.NotConfigured("database")
	}
	if mqtt != nil {
		health.Add(api.HealthCheck{Name: "mqtt", Check: func(context.Context) error {
			if !mqtt.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}})
	} else {
		health.NotConfigured("mqtt")
	}

	// HTTP Server
	srvOpts := api.ServerOptions{
		Runner:    orch,
		Jobs:      coord,
		Artifacts: store,
		Health:    health,
		OpenAPI:   captionengine.OpenAPISpec,
	}
	if db != nil {
		srvOpts.Runs = db
	}
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, srvOpts, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("file_root", store.Root()).
		Str("format", cfg.CaptionFormat).
		Str("bucket", cfg.S3Bucket).
		Int("origin_profiles", profiles.Len()).
		Bool("redis", redisLock != nil).
		Bool("ledger", db != nil).
		Bool("mqtt", mqtt != nil).
		Msg("caption-engine ready")

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown; in-flight runs get 30s to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Int("runs_in_flight", orch.RunsInFlight()).Msg("http server shutdown error")
	}

	log.Info().Msg("caption-engine stopped")
}
