package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/shipmates/tracksync/internal/broker/messages"
	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/providers"
	"github.com/shipmates/tracksync/internal/storage/pgstore"
)

type Storage interface {
	UpsertConsignments(ctx context.Context, ups []pgstore.ConsignmentUpsert) error
	InsertEventsIgnoringDuplicates(ctx context.Context, events []models.TrackingEvent) error
	InsertTransitions(ctx context.Context, transitions []models.StatusTransition) error
	ReadPriorState(ctx context.Context, trackingIDs []string) (map[string]pgstore.PriorState, error)
	ReadEventKeys(ctx context.Context, consignmentIDs []string) (map[string]struct{}, error)
}

type Producer interface {
	PublishJSON(ctx context.Context, topic string, key []byte, payload any) error
}

// Engine связывает весь проход: креды -> fetch -> reconcile -> запись.
// Один вызов Run обслуживает одну пару tenant/provider; несколько пар
// могут идти параллельно — общее состояние только в хранилище, где
// upsert по уникальному ключу сводит конкурентных писателей к одному
// консистентному финалу.
type Engine struct {
	resolver credentials.Resolver
	registry *providers.Registry
	fetcher  *Fetcher
	store    Storage

	producer Producer
	topic    string

	maxPersistRetries  uint64
	persistBackoffBase time.Duration

	totalRuns     atomic.Int64
	totalItems    atomic.Int64
	totalFailures atomic.Int64
	inFlight      atomic.Int64
	lastRunNano   atomic.Int64
}

func New(resolver credentials.Resolver, registry *providers.Registry, fetcher *Fetcher, store Storage) *Engine {
	return &Engine{
		resolver:           resolver,
		registry:           registry,
		fetcher:            fetcher,
		store:              store,
		maxPersistRetries:  3,
		persistBackoffBase: 500 * time.Millisecond,
	}
}

func (e *Engine) WithProducer(p Producer, topic string) *Engine {
	e.producer = p
	e.topic = topic
	return e
}

// Run — один reconcile-проход: явный список идентификаторов от вызывающей
// стороны (как именно он собран — "все незакрытые" или руками — не наша
// забота). Отсутствие кредов — единственный fail-fast; всё остальное
// доезжает до RunReport как per-item результат.
func (e *Engine) Run(ctx context.Context, tenantID, providerID string, trackingIDs []string) (RunReport, error) {
	started := time.Now()
	e.inFlight.Add(1)
	defer func() {
		e.inFlight.Add(-1)
		e.lastRunNano.Store(time.Now().UTC().UnixNano())
		runDuration.WithLabelValues(providerID).Observe(time.Since(started).Seconds())
	}()

	report := RunReport{TenantID: tenantID, ProviderID: providerID}

	creds, err := e.resolver.Resolve(ctx, tenantID, providerID)
	if err != nil {
		// precondition: без кредов не стартуем вообще
		return report, err
	}

	outcomes, err := e.fetcher.FetchAll(ctx, creds, providerID, trackingIDs)
	if err != nil {
		return report, err
	}

	return e.reconcileAndPersist(ctx, tenantID, providerID, outcomes)
}

// ApplyPush — webhook-путь: провайдер сам принёс payload одного трека.
// Пропускаем fetcher и скармливаем reconcile-движку одиночный outcome.
func (e *Engine) ApplyPush(ctx context.Context, tenantID, providerID, trackingID string, raw []byte) (RunReport, error) {
	report := RunReport{TenantID: tenantID, ProviderID: providerID}

	prov, err := e.registry.Get(providerID)
	if err != nil {
		return report, err
	}
	if trackingID == "" {
		return report, errors.New("trackingId is required")
	}

	outcome := normalizeOutcome(prov, trackingID, raw)
	return e.reconcileAndPersist(ctx, tenantID, providerID, []Outcome{outcome})
}

func (e *Engine) reconcileAndPersist(ctx context.Context, tenantID, providerID string, outcomes []Outcome) (RunReport, error) {
	report := RunReport{TenantID: tenantID, ProviderID: providerID, Total: len(outcomes)}

	ids := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.TrackingID != "" {
			ids = append(ids, o.TrackingID)
		}
	}

	prior, err := e.store.ReadPriorState(ctx, ids)
	if err != nil {
		return report, errors.Wrap(err, "read prior state")
	}

	priorIDs := make([]string, 0, len(prior))
	for _, p := range prior {
		priorIDs = append(priorIDs, p.ID)
	}
	known, err := e.store.ReadEventKeys(ctx, priorIDs)
	if err != nil {
		return report, errors.Wrap(err, "read event keys")
	}

	now := time.Now().UTC()
	ws := Reconcile(tenantID, providerID, outcomes, prior, known, now)

	if err := e.persist(ctx, ws); err != nil {
		return report, err
	}

	for _, o := range outcomes {
		if o.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	report.NewEvents = len(ws.Events)
	report.NewTransitions = len(ws.Transitions)
	report.Failures = ws.Failures

	e.totalRuns.Add(1)
	e.totalItems.Add(int64(report.Total))
	e.totalFailures.Add(int64(report.Failed))

	e.publishUpdates(ctx, tenantID, providerID, outcomes, prior, now)

	return report, nil
}

// persist пишет WriteSet. Отказ записи — проблема хранилища, не данных,
// поэтому ретраим на гранулярности чанка, а не item'а.
func (e *Engine) persist(ctx context.Context, ws WriteSet) error {
	if err := e.retry(ctx, "upsert consignments", func() error {
		return e.store.UpsertConsignments(ctx, ws.Consignments)
	}); err != nil {
		return err
	}
	rowsPersistedTotal.WithLabelValues("consignment").Add(float64(len(ws.Consignments)))

	for start := 0; start < len(ws.Events); start += pgstore.EventInsertChunkSize {
		end := start + pgstore.EventInsertChunkSize
		if end > len(ws.Events) {
			end = len(ws.Events)
		}
		chunk := ws.Events[start:end]
		if err := e.retry(ctx, "insert events", func() error {
			return e.store.InsertEventsIgnoringDuplicates(ctx, chunk)
		}); err != nil {
			return err
		}
	}
	rowsPersistedTotal.WithLabelValues("event").Add(float64(len(ws.Events)))

	if err := e.retry(ctx, "insert transitions", func() error {
		return e.store.InsertTransitions(ctx, ws.Transitions)
	}); err != nil {
		return err
	}
	rowsPersistedTotal.WithLabelValues("transition").Add(float64(len(ws.Transitions)))

	return nil
}

func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.persistBackoffBase
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, e.maxPersistRetries), ctx)
	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			persistRetriesTotal.Inc()
			slog.Warn("store write retry", "op", op, "attempt", attempt)
		}
		attempt++
		return fn()
	}, bo)
	return errors.Wrap(err, op)
}

func (e *Engine) publishUpdates(ctx context.Context, tenantID, providerID string, outcomes []Outcome, prior map[string]pgstore.PriorState, now time.Time) {
	if e.producer == nil || e.topic == "" {
		return
	}

	for _, o := range outcomes {
		if o.TrackingID == "" {
			continue
		}
		msg := messages.ConsignmentUpdated{
			TenantID:   tenantID,
			ProviderID: providerID,
			TrackingID: o.TrackingID,
			CheckedAt:  now,
		}
		p, hadPrior := prior[o.TrackingID]
		if hadPrior {
			old := p.CurrentStatus
			msg.OldStatus = &old
		}
		if o.OK() {
			msg.NewStatus = o.Canonical.CurrentStatus
			msg.NewEvents = len(o.Canonical.Events)
			if hadPrior && p.CurrentStatus != o.Canonical.CurrentStatus {
				msg.NewTransitions = 1
			}
		} else {
			msg.NewStatus = models.StatusNoData
			errText := "no data"
			if o.Err != nil {
				errText = o.Err.Error()
			}
			msg.Error = &errText
		}

		key := []byte(fmt.Sprintf("%s|%s", tenantID, o.TrackingID))
		if err := e.producer.PublishJSON(ctx, e.topic, key, msg); err != nil {
			// Нотификация — best effort: запись уже в хранилище.
			slog.Error("publish consignment.updated", "tracking_id", o.TrackingID, "error", err.Error())
		}
	}
}

// Stats — снапшот счётчиков движка для ops-ручки воркера.
type Stats struct {
	TotalRuns     int64      `json:"totalRuns"`
	TotalItems    int64      `json:"totalItems"`
	TotalFailures int64      `json:"totalFailures"`
	InFlight      int64      `json:"inFlight"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
}

func (e *Engine) Stats() Stats {
	st := Stats{
		TotalRuns:     e.totalRuns.Load(),
		TotalItems:    e.totalItems.Load(),
		TotalFailures: e.totalFailures.Load(),
		InFlight:      e.inFlight.Load(),
	}
	if n := e.lastRunNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	return st
}
