package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SyncPair — одна обслуживаемая пара tenant/provider.
type SyncPair struct {
	TenantID   string
	ProviderID string
}

type PendingLister interface {
	ListPendingTrackingIDs(ctx context.Context, tenantID, providerID string, limit int) ([]string, error)
}

// Scheduler гоняет Engine.Run по настроенным парам: тикер плюс ручной
// Trigger с ops-ручки. Пары внутри цикла идут последовательно —
// параллелизм уже есть внутри fetcher'а, плодить его ещё и здесь
// только размывает rate limit.
type Scheduler struct {
	engine  *Engine
	pending PendingLister
	pairs   []SyncPair

	interval  time.Duration
	batchSize int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func NewScheduler(engine *Engine, pending PendingLister, pairs []SyncPair) *Scheduler {
	return &Scheduler{
		engine:            engine,
		pending:           pending,
		pairs:             pairs,
		interval:          5 * time.Minute,
		batchSize:         500,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Scheduler) WithSettings(interval time.Duration, batchSize int) *Scheduler {
	if interval > 0 {
		s.interval = interval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	return s
}

// Trigger forces an immediate sync cycle (best-effort, non-blocking).
func (s *Scheduler) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())
	s.totalCycles.Add(1)

	for _, pair := range s.pairs {
		if ctx.Err() != nil {
			return
		}

		ids, err := s.pending.ListPendingTrackingIDs(ctx, pair.TenantID, pair.ProviderID, s.batchSize)
		if err != nil {
			s.noteError(err)
			slog.Error("list pending consignments", "tenant_id", pair.TenantID, "provider_id", pair.ProviderID, "error", err.Error())
			continue
		}
		if len(ids) == 0 {
			continue
		}

		report, err := s.engine.Run(ctx, pair.TenantID, pair.ProviderID, ids)
		if err != nil {
			s.noteError(err)
			slog.Error("sync run", "tenant_id", pair.TenantID, "provider_id", pair.ProviderID, "error", err.Error())
			continue
		}

		slog.Info("sync run done",
			"tenant_id", pair.TenantID,
			"provider_id", pair.ProviderID,
			"total", report.Total,
			"succeeded", report.Succeeded,
			"failed", report.Failed,
			"new_events", report.NewEvents,
			"new_transitions", report.NewTransitions,
		)
	}
}

func (s *Scheduler) noteError(err error) {
	s.totalErrors.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

type SchedulerStats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles   int64      `json:"totalCycles"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
	Engine        Stats      `json:"engine"`
}

func (s *Scheduler) Stats() SchedulerStats {
	st := SchedulerStats{
		StartedAt:   time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalCycles: s.totalCycles.Load(),
		TotalErrors: s.totalErrors.Load(),
		Engine:      s.engine.Stats(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}
