package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shipmates/tracksync/config"
	"github.com/shipmates/tracksync/internal/broker/kafka"
	"github.com/shipmates/tracksync/internal/broker/messages"
	"github.com/shipmates/tracksync/internal/cache/rediscache"
	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/providers"
	"github.com/shipmates/tracksync/internal/providers/fake"
	"github.com/shipmates/tracksync/internal/providers/parceljet"
	"github.com/shipmates/tracksync/internal/providers/shipra"
	"github.com/shipmates/tracksync/internal/services/syncer"
	"github.com/shipmates/tracksync/internal/storage/pgstore"
)

type workerStorage interface {
	syncer.Storage
	syncer.PendingLister
}

type pushConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (workerStorage, func(), error)
	newProducer    func(cfg *config.Config) syncer.Producer
	newRateLimiter func(cfg *config.Config) syncer.RateLimiter
	newConsumer    func(cfg *config.Config) pushConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgstore.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) syncer.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) syncer.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newConsumer: func(cfg *config.Config) pushConsumer {
			topic := cfg.Kafka.ProviderPushTopicName
			if topic == "" {
				topic = "provider.push"
			}
			group := cfg.TrackSync.KafkaConsumerGroup
			if group == "" {
				group = "sync-worker"
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
	}
}

func buildWorkerRegistry(cfg *config.Config) *providers.Registry {
	registry := providers.NewRegistry(shipra.New(), parceljet.New())
	if cfg.TrackSync.UseFakeProvider {
		registry.Register(fake.New())
	}
	return registry
}

func buildWorkerResolver(cfg *config.Config) *credentials.StaticResolver {
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

func RunSyncWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	interval := time.Duration(cfg.TrackSync.SyncIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	batchSize := cfg.TrackSync.SyncBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	updatedTopic := cfg.Kafka.ConsignmentUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "consignment.updated"
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	registry := buildWorkerRegistry(cfg)
	resolver := buildWorkerResolver(cfg)

	fetcher := syncer.NewFetcher(registry).
		WithSettings(
			cfg.TrackSync.FetchChunkSize,
			cfg.TrackSync.FetchConcurrency,
			time.Duration(cfg.TrackSync.FetchTimeoutSeconds)*time.Second,
		)
	if rl := f.newRateLimiter(cfg); rl != nil && cfg.TrackSync.RateLimitPerMinute > 0 {
		fetcher = fetcher.WithRateLimiter(rl, int64(cfg.TrackSync.RateLimitPerMinute))
	}

	engine := syncer.New(resolver, registry, fetcher, st).
		WithProducer(f.newProducer(cfg), updatedTopic)

	pairs := make([]syncer.SyncPair, 0, len(cfg.TrackSync.SyncPairs))
	for _, p := range cfg.TrackSync.SyncPairs {
		pairs = append(pairs, syncer.SyncPair{TenantID: p.TenantID, ProviderID: p.ProviderID})
	}

	scheduler := syncer.NewScheduler(engine, st, pairs).
		WithSettings(interval, batchSize)

	if f.newConsumer != nil {
		if consumer := f.newConsumer(cfg); consumer != nil {
			defer func() { _ = consumer.Close() }()
			go consumePushes(ctx, consumer, engine)
		}
	}

	if cfg.TrackSync.WorkerHTTPAddr != "" {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.TrackSync.WorkerHTTPAddr,
				swaggerPath: os.Getenv("workerSwaggerPath"),
				scheduler:   scheduler,
				cfg:         cfg,
			})
			if err != nil && err != context.Canceled {
				slog.Error("worker http server", "error", err.Error())
			}
		}()
	}

	return scheduler.Run(ctx)
}

// consumePushes применяет webhook-пуши из брокера. Ошибка обработчика
// оставляет offset незакоммиченным, сообщение переиграется.
func consumePushes(ctx context.Context, consumer pushConsumer, engine *syncer.Engine) {
	err := consumer.Consume(ctx, func(_ []byte, value []byte) error {
		var msg messages.ProviderPush
		if err := json.Unmarshal(value, &msg); err != nil {
			// Битый payload переигрывать бессмысленно.
			slog.Error("unmarshal provider push", "error", err.Error())
			return nil
		}
		report, err := engine.ApplyPush(ctx, msg.TenantID, msg.ProviderID, msg.TrackingID, msg.Payload)
		if err != nil {
			return err
		}
		slog.Info("provider push applied",
			"tenant_id", msg.TenantID,
			"provider_id", msg.ProviderID,
			"tracking_id", msg.TrackingID,
			"failed", report.Failed,
		)
		return nil
	})
	if err != nil && err != context.Canceled {
		slog.Error("push consumer stopped", "error", err.Error())
	}
}
