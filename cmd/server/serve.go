package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ignite/convoflow/internal/account"
	"github.com/ignite/convoflow/internal/api"
	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/intent"
	"github.com/ignite/convoflow/internal/knowledge"
	"github.com/ignite/convoflow/internal/matcher"
	"github.com/ignite/convoflow/internal/metrics"
	"github.com/ignite/convoflow/internal/notify"
	"github.com/ignite/convoflow/internal/orchestrator"
	"github.com/ignite/convoflow/internal/pkg/distlock"
	"github.com/ignite/convoflow/internal/pkg/logger"
	"github.com/ignite/convoflow/internal/provider"
	"github.com/ignite/convoflow/internal/reply"
	"github.com/ignite/convoflow/internal/repository/postgres"
	"github.com/ignite/convoflow/internal/storage"
	"github.com/ignite/convoflow/internal/transport"
)

const feedRefreshInterval = 30 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign engine and HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL is optional; it backs the postgres store and advisory locks.
	var db *sql.DB
	if cfg.Storage.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			log.Printf("WARNING: database unreachable: %v", err)
		} else if cfg.Storage.Type == "postgres" {
			if err := postgres.NewExecutionRepo(db).Migrate(ctx); err != nil {
				return fmt.Errorf("migrate executions table: %w", err)
			}
			log.Println("Executions table ready")
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: redis unreachable at %s: %v", cfg.Redis.Addr, err)
		} else {
			log.Printf("Connected to redis at %s", cfg.Redis.Addr)
		}
	}

	m := metrics.New()

	gatewayOpts := []provider.GatewayOption{provider.WithRecorder(m)}
	if provider.ID(cfg.Provider.Default) == provider.Bedrock || cfg.Provider.AWSRegion != "" {
		region := cfg.Provider.AWSRegion
		if region == "" {
			region = cfg.Storage.AWSRegion
		}
		br, err := provider.NewBedrockClient(ctx, region, os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"))
		if err != nil {
			log.Printf("WARNING: bedrock disabled: %v", err)
		} else {
			gatewayOpts = append(gatewayOpts, provider.WithBedrock(br))
		}
	}
	gateway := provider.NewGateway(cfg.Provider, gatewayOpts...)
	log.Printf("LLM provider: %s (%s)", cfg.Provider.Default, cfg.Provider.Model)

	var cache intent.Cache = intent.NewMemoryCache()
	if cfg.Intent.CacheBackend == "redis" {
		if redisClient == nil {
			log.Println("WARNING: intent cache backend is redis but no redis address is set; using memory")
		} else {
			cache = intent.NewRedisCache(redisClient)
		}
	}
	classifier := intent.NewClassifier(gateway, intent.NewContextStore(),
		intent.WithCache(cache),
		intent.WithCacheTTL(cfg.Intent.CacheTTL()),
		intent.WithContextTurns(cfg.Intent.ContextTurns),
		intent.WithObserver(m),
	)

	kb := knowledge.NewBase(cfg.Knowledge)
	if len(cfg.Knowledge.Feeds) > 0 {
		go knowledge.NewFeedImporter(kb).Run(ctx, cfg.Knowledge.Feeds, feedRefreshInterval)
	}
	generator := reply.NewGenerator(gateway, classifier, reply.WithKnowledge(kb))
	replyCfg := reply.FromConfig(cfg.Reply)

	registry := account.NewRegistry(cfg.Accounts)
	minScore := cfg.Matcher.MinScore
	if minScore <= 0 {
		minScore = matcher.DefaultMinScore
	}
	log.Printf("Loaded %d automation accounts", len(cfg.Accounts))

	store, err := storage.Open(ctx, cfg.Storage, db)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	log.Printf("Snapshot store: %s", storageName(cfg.Storage.Type))

	var archiver orchestrator.Archiver
	if cfg.Storage.ArchiveBucket != "" {
		clients, err := storage.NewAWSClients(ctx, cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile())
		if err != nil {
			log.Printf("WARNING: transcript archive disabled: %v", err)
		} else {
			archiver = storage.NewArchive(clients.S3, cfg.Storage.ArchiveBucket)
			log.Printf("Archiving transcripts to s3://%s", cfg.Storage.ArchiveBucket)
		}
	}

	var messenger orchestrator.Messenger
	if cfg.Transport.WebhookURL != "" {
		wm, err := transport.NewWebhookMessenger(cfg.Transport)
		if err != nil {
			return fmt.Errorf("messaging bridge: %w", err)
		}
		messenger = wm
		log.Printf("Messaging bridge: %s", cfg.Transport.WebhookURL)
	} else {
		log.Println("WARNING: no messaging bridge configured; outbound messages are only logged")
	}

	notifiers := notify.Multi{notify.Log{}}
	var ses *notify.SESNotifier
	if cfg.Notify.SESEnabled {
		ses, err = notify.NewSESNotifierFromConfig(ctx, cfg.Notify)
		if err != nil {
			log.Printf("WARNING: SES notifications disabled: %v", err)
		} else {
			notifiers = append(notifiers, notify.MinLevel(notify.ParseLevel(cfg.Notify.MinLevel), ses))
		}
	}

	orch := orchestrator.New(orchestrator.Deps{
		Classifier: classifier,
		Generator:  generator,
		Matcher:    matcher.New(registry, minScore),
		Messenger:  messenger,
		Notifier:   notifiers,
		Store:      store,
		Archiver:   archiver,
		Metrics:    m,
		Locks:      distlock.NewFactory(redisClient, db, cfg.Orchestrator.LockTTL()),
	}, orchestrator.Settings{
		Engine:  cfg.Orchestrator,
		Matcher: cfg.Matcher,
		Reply:   replyCfg,
	})

	restored, err := orch.Restore(ctx)
	if err != nil {
		log.Printf("WARNING: restoring campaigns failed: %v", err)
	} else if restored > 0 {
		log.Printf("Restored %d active campaigns", restored)
	}

	handlers := api.NewHandlers(orch, classifier, generator, replyCfg, registry, gateway)
	health := api.NewHealthChecker(db, redisClient, orch, version)
	server := api.NewServer(handlers, health, m, api.RouteOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		InboundToken:   os.Getenv("INBOUND_TOKEN"),
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
		log.Println("Shutting down...")
	case err := <-errCh:
		log.Printf("Server error: %v", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	orch.Shutdown(shutdownCtx)
	if ses != nil {
		ses.Wait()
	}

	log.Println("Server stopped")
	return nil
}

func storageName(t string) string {
	if strings.TrimSpace(t) == "" {
		return "memory"
	}
	return t
}
