package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shipmates/tracksync/config"
	"github.com/shipmates/tracksync/internal/api/syncapi"
	"github.com/shipmates/tracksync/internal/broker/kafka"
	"github.com/shipmates/tracksync/internal/cache/rediscache"
	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/providers"
	"github.com/shipmates/tracksync/internal/providers/fake"
	"github.com/shipmates/tracksync/internal/providers/parceljet"
	"github.com/shipmates/tracksync/internal/providers/shipra"
	"github.com/shipmates/tracksync/internal/services/consignments"
	"github.com/shipmates/tracksync/internal/services/risk"
	"github.com/shipmates/tracksync/internal/services/syncer"
	"github.com/shipmates/tracksync/internal/storage/pgstore"
)

type syncAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   syncAPIOpts
	api    *syncapi.API

	closeDB func()
}

func mustBootstrapSyncAPI() *syncAPIApp {
	_ = godotenv.Load()

	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.TrackSync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	cacheTTL := time.Duration(cfg.TrackSync.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(connString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	classifier := risk.New(riskConfig(cfg))
	svc := consignments.New(st, rc, cacheTTL, classifier)

	registry := buildRegistry(cfg)
	resolver := buildResolver(cfg)

	fetcher := syncer.NewFetcher(registry).
		WithSettings(
			cfg.TrackSync.FetchChunkSize,
			cfg.TrackSync.FetchConcurrency,
			time.Duration(cfg.TrackSync.FetchTimeoutSeconds)*time.Second,
		)
	if cfg.TrackSync.RateLimitPerMinute > 0 {
		fetcher = fetcher.WithRateLimiter(rediscache.NewRateLimiter(redisAddr), int64(cfg.TrackSync.RateLimitPerMinute))
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	updatedTopic := cfg.Kafka.ConsignmentUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "consignment.updated"
	}
	pushTopic := cfg.Kafka.ProviderPushTopicName
	if pushTopic == "" {
		pushTopic = "provider.push"
	}

	engine := syncer.New(resolver, registry, fetcher, st).
		WithProducer(producer, updatedTopic)

	api := syncapi.New(svc, engine).
		WithPushProducer(producer, pushTopic).
		WithPendingLister(st)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &syncAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: syncAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:     api,
		closeDB: st.Close,
	}
}

func (a *syncAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *syncAPIApp) Run() error {
	return runSyncAPI(a.ctx, a.opts, a.api)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func buildRegistry(cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry(shipra.New(), parceljet.New())
	if cfg.TrackSync.UseFakeProvider {
		registry.Register(fake.New())
	}
	return registry
}

func buildResolver(cfg *config.Config) *credentials.StaticResolver {
	resolver := credentials.NewStaticResolver()
	for _, c := range cfg.TrackSync.Credentials {
		baseURL := c.BaseURL
		if baseURL == "" {
			switch c.ProviderID {
			case shipra.ProviderID:
				baseURL = cfg.TrackSync.ShipraBaseURL
			case parceljet.ProviderID:
				baseURL = cfg.TrackSync.ParcelJetBaseURL
			}
		}
		resolver.Add(c.TenantID, c.ProviderID, credentials.Credentials{
			APIKey:      c.APIKey,
			AccountCode: c.AccountCode,
			BaseURL:     baseURL,
		})
	}
	return resolver
}

func riskConfig(cfg *config.Config) risk.Config {
	rc := risk.Config{
		DefaultAllowanceDays: cfg.TrackSync.RiskDefaultAllowanceDays,
		StaleWarningHours:    cfg.TrackSync.RiskStaleWarningHours,
		StaleCriticalHours:   cfg.TrackSync.RiskStaleCriticalHours,
		StaleSensitiveHours:  cfg.TrackSync.RiskStaleSensitiveHours,
	}
	for _, s := range cfg.TrackSync.RiskSlabs {
		rc.Slabs = append(rc.Slabs, risk.SlabRule{Prefix: s.Prefix, AllowanceDays: s.AllowanceDays})
	}
	return rc
}
