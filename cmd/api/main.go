package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/71lols/paradigm-website/pkg/activectx"
	"github.com/71lols/paradigm-website/pkg/audit"
	"github.com/71lols/paradigm-website/pkg/auth"
	"github.com/71lols/paradigm-website/pkg/events"
	"github.com/71lols/paradigm-website/pkg/hardening"
	"github.com/71lols/paradigm-website/pkg/metrics"
	"github.com/71lols/paradigm-website/pkg/ratelimit"
	"github.com/71lols/paradigm-website/pkg/store"
	"github.com/71lols/paradigm-website/pkg/telemetry"

	"github.com/redis/go-redis/v9"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openStoreFn     func(context.Context) (store.Store, *audit.Writer, func(), error)
	openRedisFn     func(context.Context) (*redis.Client, error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := run(initTelemetryFn, openStoreFn, openRedisFn, listenFn); err != nil {
		logFatalf("api: %v", err)
	}
}

func run(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openStore func(context.Context) (store.Store, *audit.Writer, func(), error),
	openRedis func(context.Context) (*redis.Client, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openStore == nil {
		openStore = openStoreFromEnv
	}
	if openRedis == nil {
		openRedis = store.NewRedis
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "paradigm-api")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	authMode := env("AUTH_MODE", "hs256")
	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "api",
		Environment:           runtimeEnv,
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		AuthMode:              authMode,
		AuthHMACSecret:        env("AUTH_HMAC_SECRET", ""),
		AuthJWKSURL:           env("AUTH_JWKS_URL", ""),
		RequiredServiceSecrets: []hardening.EnvRequirement{
			{Name: "AUDIT_HASH_SALT", Value: env("AUDIT_HASH_SALT", "")},
		},
	}); err != nil {
		return err
	}

	st, auditWriter, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var redisClient *redis.Client
	if env("REDIS_ENABLED", "false") == "true" {
		redisClient, err = openRedis(ctx)
		if err != nil {
			if env("REDIS_REQUIRED", "false") == "true" {
				return err
			}
			log.Printf("redis unavailable, admission budgets stay per-process: %v", err)
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if env("KAFKA_ENABLED", "false") == "true" {
		kafkaPub, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: strings.Split(env("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:   env("KAFKA_TOPIC", "paradigm.context.events"),
		})
		if err != nil {
			return err
		}
		defer func() { _ = kafkaPub.Close() }()
		publisher = kafkaPub
	}

	verifier := &auth.TokenVerifier{
		Mode:     authMode,
		Secret:   env("AUTH_HMAC_SECRET", ""),
		Issuer:   env("AUTH_ISSUER", ""),
		Audience: env("AUTH_AUDIENCE", ""),
	}
	if strings.EqualFold(authMode, "rs256") {
		jwksURL := env("AUTH_JWKS_URL", "")
		if jwksURL == "" {
			return errors.New("AUTH_MODE=rs256 requires AUTH_JWKS_URL")
		}
		timeout := time.Millisecond * time.Duration(envInt("AUTH_JWKS_TIMEOUT_MS", 5000))
		verifier.JWKS = auth.NewJWKSCache(jwksURL, timeout)
	}

	registry := metrics.NewRegistry()
	logger := log.New(os.Stderr, "api: ", log.LstdFlags)
	cache := store.NewCache(ctx, redisClient)
	profiles := store.NewProfiles(st, cache)
	machine := activectx.New(st)
	machine.Publisher = publisher
	machine.Audit = auditWriter
	machine.Metrics = registry
	machine.Logger = logger

	s := &Server{
		Store:     st,
		Profiles:  profiles,
		Machine:   machine,
		Resolver:  &auth.Resolver{Verifier: verifier, Profiles: profiles},
		Metrics:   registry,
		Audit:     auditWriter,
		Publisher: publisher,
		Logger:    logger,
		Keyer:     ratelimit.NewClientKeyer(env("TRUSTED_PROXY_CIDRS", "")),
		Limits: ratelimit.NewSet(redisClient,
			ratelimit.GeneralBucket,
			ratelimit.SensitiveBucket,
			ratelimit.RecoveryBucket,
		),
		DownloadURL:         env("DOWNLOAD_LATEST_URL", ""),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}
	if s.MaxRequestBodyBytes <= 0 {
		s.MaxRequestBodyBytes = 1 << 20
	}
	if env("KAFKA_ENABLED", "false") == "true" && env("KAFKA_CONSUME", "false") == "true" {
		consumer, err := events.NewKafkaConsumer(events.KafkaConsumerConfig{
			Brokers: strings.Split(env("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:   env("KAFKA_TOPIC", "paradigm.context.events"),
			GroupID: env("KAFKA_GROUP_ID", "paradigm-api"),
		})
		if err != nil {
			return err
		}
		s.bus = consumer
		defer func() { _ = consumer.Close() }()
		go s.consumeEvents(context.Background())
	}

	r := s.Routes(env("CORS_ALLOWED_ORIGINS", ""))

	addr := env("ADDR", ":8080")
	log.Printf("api listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

func openStoreFromEnv(ctx context.Context) (store.Store, *audit.Writer, func(), error) {
	driver := strings.ToLower(env("STORE_DRIVER", "postgres"))
	switch driver {
	case "memory":
		return store.NewMemory(), nil, func() {}, nil
	case "postgres":
		pool, err := store.NewPostgresPool(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		pg := store.NewPostgres(pool)
		if err := store.Migrate(ctx, pg); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		writer := &audit.Writer{
			DB:       pool,
			HashSalt: []byte(env("AUDIT_HASH_SALT", "")),
		}
		return pg, writer, pool.Close, nil
	default:
		return nil, nil, nil, errors.New("unknown STORE_DRIVER: " + driver)
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
