package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stephdeve/SmartQueue/internal/config"
	"github.com/stephdeve/SmartQueue/internal/events"
	"github.com/stephdeve/SmartQueue/internal/httpapi"
	"github.com/stephdeve/SmartQueue/internal/hub"
	"github.com/stephdeve/SmartQueue/internal/logger"
	"github.com/stephdeve/SmartQueue/internal/models"
	"github.com/stephdeve/SmartQueue/internal/notify"
	"github.com/stephdeve/SmartQueue/internal/store"
	"github.com/stephdeve/SmartQueue/internal/store/memory"
	"github.com/stephdeve/SmartQueue/internal/store/postgres"
	"github.com/stephdeve/SmartQueue/internal/telemetry"
	"github.com/stephdeve/SmartQueue/internal/ticketing"
)

type backend interface {
	store.Store
	notify.Store
}

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	port := pflag.String("port", "", "listen port, overrides PORT")
	devToken := pflag.String("dev-token", "", "print a signed token for user:role and exit")
	seedDemo := pflag.Bool("seed-demo", false, "seed a demo establishment and service (memory store only)")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}
	log := logger.New(cfg.Env)

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}
	auth := httpapi.NewAuthenticator(cfg.JWTSecret)
	if *devToken != "" {
		if err := printDevToken(auth, *devToken); err != nil {
			log.Fatal().Err(err).Msg("dev token")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "ticket-service",
		Environment: cfg.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("tracing disabled")
	}

	st, closeStore, err := openStore(ctx, cfg, *seedDemo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer closeStore()

	realtime := hub.New(log)
	var sink events.Emitter = realtime
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		sink = events.NewRedisPublisher(client, cfg.RedisChannelPrefix)
		relay := events.NewRedisRelay(client, cfg.RedisChannelPrefix, realtime, log)
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
		log.Info().Str("addr", cfg.RedisAddr).Msg("events relayed through redis")
	}
	emitter := events.NewAsync(sink, cfg.EventBufferSize, log)
	emitter.Start()

	notifications := notify.NewQueue(st, notify.Config{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
		SMS:       notify.NewProvider(providerConfig(cfg.SMSProvider), log),
		Push:      notify.NewProvider(providerConfig(cfg.PushProvider), log),
	}, log)
	notifications.Start()

	engine := ticketing.New(st, emitter, notifications, ticketing.Options{
		Location:            cfg.Location,
		ApproachingPosition: cfg.ApproachingPosition,
		Logger:              log,
	})

	handler := httpapi.NewHandler(engine, st, auth, httpapi.Options{
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Location:           cfg.Location,
		Hub:                realtime,
		Logger:             log,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler.Routes(), "ticket-service"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.Store).Msg("ticket-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("event queue not drained")
	}
	if err := notifications.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("notification queue not drained")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}

func openStore(ctx context.Context, cfg config.Config, seed bool, log zerolog.Logger) (backend, func(), error) {
	if cfg.Store == config.StoreMemory {
		mem := memory.New()
		if seed {
			seedMemory(mem, log)
		}
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return mem, func() {}, nil
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DB_DSN is required for the postgres store")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func seedMemory(mem *memory.Store, log zerolog.Logger) {
	establishment := models.Establishment{EstablishmentID: uuid.NewString(), Name: "Demo"}
	service := models.Service{
		ServiceID:             uuid.NewString(),
		EstablishmentID:       establishment.EstablishmentID,
		Name:                  "Accueil",
		AvgServiceTimeMinutes: 5,
		Status:                models.ServiceOpen,
		PrioritySupport:       true,
	}
	mem.PutEstablishment(establishment)
	mem.PutService(service)
	log.Info().Str("service_id", service.ServiceID).Str("establishment_id", establishment.EstablishmentID).Msg("seeded demo service")
}

func providerConfig(p config.Provider) notify.ProviderConfig {
	return notify.ProviderConfig{Kind: p.Kind, WebhookURL: p.WebhookURL, WebhookToken: p.WebhookToken}
}

func printDevToken(auth *httpapi.Authenticator, subject string) error {
	userID, role, _ := strings.Cut(subject, ":")
	if userID == "" {
		return errors.New("expected user:role")
	}
	token, err := auth.Issue(userID, role, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
