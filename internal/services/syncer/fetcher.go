package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/providers"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Fetcher режет список идентификаторов на чанки фиксированного размера и
// гонит их с ограниченной конкуренцией. Размер чанка — константа настройки,
// не функция входа: операционно держим его между 15 и 30.
type Fetcher struct {
	registry *providers.Registry

	rl            RateLimiter
	ratePerMinute int64

	chunkSize   int
	concurrency int
	callTimeout time.Duration
}

func NewFetcher(registry *providers.Registry) *Fetcher {
	return &Fetcher{
		registry:    registry,
		chunkSize:   20,
		concurrency: 8,
		callTimeout: 15 * time.Second,
	}
}

func (f *Fetcher) WithSettings(chunkSize, concurrency int, callTimeout time.Duration) *Fetcher {
	if chunkSize > 0 {
		f.chunkSize = chunkSize
	}
	if concurrency > 0 {
		f.concurrency = concurrency
	}
	if callTimeout > 0 {
		f.callTimeout = callTimeout
	}
	return f
}

func (f *Fetcher) WithRateLimiter(rl RateLimiter, perMinute int64) *Fetcher {
	f.rl = rl
	f.ratePerMinute = perMinute
	return f
}

// FetchAll возвращает по одному Outcome на идентификатор. Единственный
// top-level отказ — неизвестный провайдер; всё остальное (транспорт,
// таймаут, кривой payload) фиксируется per-item.
func (f *Fetcher) FetchAll(ctx context.Context, creds credentials.Credentials, providerID string, trackingIDs []string) ([]Outcome, error) {
	prov, err := f.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	ids := dedupIDs(trackingIDs)
	outcomes := make([]Outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for start := 0; start < len(ids); start += f.chunkSize {
		end := start + f.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		start, end := start, end

		g.Go(func() error {
			// Если вызывающая сторона отменилась — новые чанки не стартуем,
			// уже собранные outcomes остаются валидными.
			if gctx.Err() != nil {
				f.failChunk(outcomes, ids, start, end, gctx.Err())
				return nil
			}

			f.throttle(gctx, providerID)
			f.fetchChunk(gctx, prov, creds, ids, outcomes, start, end)
			return nil
		})
	}

	_ = g.Wait()

	for i := range outcomes {
		label := "ok"
		if !outcomes[i].OK() {
			label = outcomeLabel(outcomes[i].Err)
		}
		fetchOutcomesTotal.WithLabelValues(providerID, label).Inc()
	}
	return outcomes, nil
}

func (f *Fetcher) fetchChunk(ctx context.Context, prov providers.Provider, creds credentials.Credentials, ids []string, outcomes []Outcome, start, end int) {
	chunk := ids[start:end]

	if bc, ok := prov.(providers.BatchClient); ok {
		cctx, cancel := context.WithTimeout(ctx, f.callTimeout)
		defer cancel()

		raws, err := bc.FetchMany(cctx, creds, chunk)
		if err != nil {
			f.failChunk(outcomes, ids, start, end, err)
			return
		}
		for i, id := range chunk {
			raw, ok := raws[id]
			if !ok {
				outcomes[start+i] = Outcome{TrackingID: id, Err: fmt.Errorf("no payload for %s", id)}
				continue
			}
			outcomes[start+i] = normalizeOutcome(prov, id, raw)
		}
		return
	}

	for i, id := range chunk {
		outcomes[start+i] = f.fetchOne(ctx, prov, creds, id)
	}
}

func (f *Fetcher) fetchOne(ctx context.Context, prov providers.Provider, creds credentials.Credentials, trackingID string) Outcome {
	cctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	raw, err := prov.FetchOne(cctx, creds, trackingID)
	if err != nil {
		return Outcome{TrackingID: trackingID, Err: err}
	}
	return normalizeOutcome(prov, trackingID, raw)
}

func normalizeOutcome(prov providers.Provider, trackingID string, raw []byte) Outcome {
	res, err := prov.Normalize(raw)
	if err != nil {
		return Outcome{TrackingID: trackingID, Err: err}
	}
	if res.TrackingID == "" {
		res.TrackingID = trackingID
	}
	return Outcome{TrackingID: trackingID, Canonical: &res}
}

func (f *Fetcher) throttle(ctx context.Context, providerID string) {
	if f.rl == nil || f.ratePerMinute <= 0 {
		return
	}
	minuteKey := fmt.Sprintf("rl:provider:%s:%s", providerID, time.Now().UTC().Format("200601021504"))
	allowed, n, err := f.rl.Allow(ctx, minuteKey, f.ratePerMinute, 70*time.Second)
	if err != nil {
		slog.Warn("rate limiter unavailable", "provider", providerID, "error", err.Error())
		return
	}
	if !allowed {
		// Перебрали минутный лимит провайдера: притормаживаем чанк.
		slog.Warn("rate limit exceeded", "provider", providerID, "count", n)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
	}
}

func (f *Fetcher) failChunk(outcomes []Outcome, ids []string, start, end int, err error) {
	for i := start; i < end; i++ {
		outcomes[i] = Outcome{TrackingID: ids[i], Err: err}
	}
}

func outcomeLabel(err error) string {
	if providers.IsNormalization(err) {
		return "normalization_error"
	}
	return "transport_error"
}

func dedupIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
