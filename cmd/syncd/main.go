// syncd is the offline sync daemon: it watches connectivity, drains the
// durable request queue on reconnect and serves the local diagnostics
// API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"offsync-go/internal/config"
	"offsync-go/internal/connectivity"
	"offsync-go/internal/credential"
	"offsync-go/internal/events"
	"offsync-go/internal/logging"
	"offsync-go/internal/monitoring/tracing"
	"offsync-go/internal/queue"
	"offsync-go/internal/repo"
	srv "offsync-go/internal/server"
	"offsync-go/internal/transport"
	"offsync-go/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *debug {
		cfg.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	log.WithFields(log.Fields{
		"version": version.Version,
		"config":  *configPath,
		"backend": cfg.StorageBackend,
	}).Info("starting syncd")

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.StorageBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
	}

	credStore, err := buildCredentialStore(cfg, redisClient)
	if err != nil {
		log.WithError(err).Fatal("failed to open credential store")
	}

	queueStore, err := buildQueueStore(ctx, cfg, redisClient)
	if err != nil {
		log.WithError(err).Fatal("failed to open queue store")
	}
	if err := queueStore.Initialize(ctx); err != nil {
		log.WithError(err).Fatal("failed to initialize queue store")
	}
	defer queueStore.Close()

	hub := events.NewHub()

	refresher := transport.NewOAuthRefresher(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, nil)
	client := transport.NewClient(cfg.BaseURL, credStore, refresher,
		transport.WithHub(hub),
		transport.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		}),
	)

	manager := queue.NewManager(queueStore, client, hub,
		queue.WithMaxAttempts(cfg.MaxAttempts),
		queue.WithRetryIdempotent5xx(cfg.RetryIdempotent5xx),
		queue.WithDrainRate(cfg.DrainRatePerSec, cfg.DrainBurst),
	)
	unsubscribe := manager.Start(hub)
	defer unsubscribe()

	probeURL := cfg.ProbeURL
	if probeURL == "" {
		probeURL = cfg.BaseURL
	}
	prober := connectivity.NewHTTPProber(probeURL, time.Duration(cfg.ProbeTimeoutSec)*time.Second)
	monitor := connectivity.NewMonitor(prober, hub,
		connectivity.WithProbeInterval(time.Duration(cfg.ProbeIntervalSec)*time.Second))
	monitor.Start(ctx)
	defer monitor.Stop()

	// apply runtime tunables when the config file changes on disk
	if err := config.Watch(ctx, *configPath, func(next *config.Config) {
		manager.SetMaxAttempts(next.MaxAttempts)
		manager.SetRetryIdempotent5xx(next.RetryIdempotent5xx)
		log.WithFields(log.Fields{
			"max_attempts":         next.MaxAttempts,
			"retry_idempotent_5xx": next.RetryIdempotent5xx,
		}).Debug("queue tunables applied")
	}); err != nil {
		log.WithError(err).Warn("config watcher unavailable")
	}

	if cfg.DiagnosticsEnabled {
		repository := repo.New(client, manager, monitor,
			repo.WithMutationIDField(cfg.MutationIDField))
		engine := srv.BuildEngine(srv.Dependencies{
			Queue:   manager,
			Monitor: monitor,
			Hub:     hub,
			Repo:    repository,
		}, cfg.Debug)
		go func() {
			if err := srv.Run(ctx, engine, cfg.DiagnosticsAddr); err != nil {
				log.WithError(err).Error("diagnostics server stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
}

// buildCredentialStore picks where the token pair lives. Only the redis
// backend shares storage with the queue; every other backend keeps
// credentials in the encrypted local file so they never leave the
// device in plain form.
func buildCredentialStore(cfg *config.Config, redisClient *redis.Client) (credential.Store, error) {
	if cfg.StorageBackend == "redis" && redisClient != nil {
		return credential.NewRedisStore(redisClient, cfg.RedisPrefix), nil
	}
	path := cfg.CredentialPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.StorageBaseDir, path)
	}
	return credential.NewFileStore(path, []byte(cfg.DeviceSecret))
}

func buildQueueStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (queue.Store, error) {
	switch cfg.StorageBackend {
	case "redis":
		return queue.NewRedisStore(redisClient, cfg.RedisPrefix), nil
	case "postgres":
		return queue.NewPostgresStore(cfg.PostgresDSN)
	case "mongodb":
		return queue.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return queue.NewFileStore(filepath.Join(cfg.StorageBaseDir, "queue.json")), nil
	}
}
