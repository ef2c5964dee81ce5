package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/providers"
	"github.com/shipmates/tracksync/internal/storage/pgstore"
)

type fakeStore struct {
	prior map[string]pgstore.PriorState
	known map[string]struct{}

	upserts     []pgstore.ConsignmentUpsert
	events      []models.TrackingEvent
	transitions []models.StatusTransition

	failUpserts int
	upsertCalls int
}

func (s *fakeStore) UpsertConsignments(ctx context.Context, ups []pgstore.ConsignmentUpsert) error {
	s.upsertCalls++
	if s.failUpserts > 0 {
		s.failUpserts--
		return errors.New("db unavailable")
	}
	s.upserts = append(s.upserts, ups...)
	return nil
}

func (s *fakeStore) InsertEventsIgnoringDuplicates(ctx context.Context, events []models.TrackingEvent) error {
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeStore) InsertTransitions(ctx context.Context, transitions []models.StatusTransition) error {
	s.transitions = append(s.transitions, transitions...)
	return nil
}

func (s *fakeStore) ReadPriorState(ctx context.Context, trackingIDs []string) (map[string]pgstore.PriorState, error) {
	out := make(map[string]pgstore.PriorState)
	for _, id := range trackingIDs {
		if p, ok := s.prior[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *fakeStore) ReadEventKeys(ctx context.Context, consignmentIDs []string) (map[string]struct{}, error) {
	if s.known == nil {
		return map[string]struct{}{}, nil
	}
	return s.known, nil
}

type fakeJSONProducer struct {
	topic    string
	payloads []any
	err      error
}

func (p *fakeJSONProducer) PublishJSON(ctx context.Context, topic string, key []byte, payload any) error {
	p.topic = topic
	p.payloads = append(p.payloads, payload)
	return p.err
}

func newTestEngine(prov providers.Provider, store *fakeStore) *Engine {
	resolver := credentials.NewStaticResolver().
		Add("t1", prov.ID(), credentials.Credentials{APIKey: "k"})
	registry := providers.NewRegistry(prov)
	return New(resolver, registry, NewFetcher(registry), store)
}

func TestEngine_Run_missingCredentialsFailsFast(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	store := &fakeStore{}
	e := newTestEngine(prov, store)

	_, err := e.Run(context.Background(), "unknown-tenant", "STUB", []string{"A"})
	require.Error(t, err)
	require.True(t, credentials.IsMissing(err))
	require.Equal(t, 0, prov.calls, "без кредов fetch даже не начинается")
	require.Empty(t, store.upserts)
}

func TestEngine_Run_persistsAndReports(t *testing.T) {
	prov := &stubProvider{id: "STUB", failIDs: map[string]error{"BAD": errors.New("boom")}}
	store := &fakeStore{}
	e := newTestEngine(prov, store)

	report, err := e.Run(context.Background(), "t1", "STUB", []string{"A", "BAD"})
	require.NoError(t, err)

	require.Equal(t, 2, report.Total)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	require.Equal(t, "BAD", report.Failures[0].TrackingID)

	require.Len(t, store.upserts, 2)
	var sentinel, full int
	for _, up := range store.upserts {
		if up.StatusOnly {
			sentinel++
			require.Equal(t, models.StatusNoData, up.Row.CurrentStatus)
		} else {
			full++
			require.Equal(t, "In Transit", up.Row.CurrentStatus)
		}
	}
	require.Equal(t, 1, sentinel)
	require.Equal(t, 1, full)

	st := e.Stats()
	require.Equal(t, int64(1), st.TotalRuns)
	require.Equal(t, int64(2), st.TotalItems)
	require.Equal(t, int64(1), st.TotalFailures)
}

func TestEngine_Run_publishesUpdates(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	store := &fakeStore{
		prior: map[string]pgstore.PriorState{
			"A": {ID: "c1", CurrentStatus: "Booked"},
		},
	}
	fp := &fakeJSONProducer{}
	e := newTestEngine(prov, store).WithProducer(fp, "consignment.updated")

	_, err := e.Run(context.Background(), "t1", "STUB", []string{"A"})
	require.NoError(t, err)

	require.Equal(t, "consignment.updated", fp.topic)
	require.Len(t, fp.payloads, 1)

	require.Len(t, store.transitions, 1)
	require.Equal(t, "Booked", *store.transitions[0].OldStatus)
	require.Equal(t, "In Transit", store.transitions[0].NewStatus)
}

func TestEngine_Run_producerErrorDoesNotFailRun(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	store := &fakeStore{}
	fp := &fakeJSONProducer{err: errors.New("kafka down")}
	e := newTestEngine(prov, store).WithProducer(fp, "consignment.updated")

	report, err := e.Run(context.Background(), "t1", "STUB", []string{"A"})
	require.NoError(t, err, "нотификация best effort: запись уже в хранилище")
	require.Equal(t, 1, report.Succeeded)
}

func TestEngine_persist_retriesStoreWrites(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	store := &fakeStore{failUpserts: 2}
	e := newTestEngine(prov, store)
	e.persistBackoffBase = time.Millisecond

	report, err := e.Run(context.Background(), "t1", "STUB", []string{"A"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, 3, store.upsertCalls)
	require.Len(t, store.upserts, 1)
}

func TestEngine_ApplyPush(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	store := &fakeStore{}
	e := newTestEngine(prov, store)

	raw := []byte(`{"id":"AWB7","status":"Delivered"}`)
	report, err := e.ApplyPush(context.Background(), "t1", "STUB", "AWB7", raw)
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	require.Len(t, store.upserts, 1)
	require.Equal(t, "Delivered", store.upserts[0].Row.CurrentStatus)
	require.Equal(t, "AWB7", store.upserts[0].Row.TrackingID)
}

func TestEngine_ApplyPush_badPayloadSentinel(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	store := &fakeStore{}
	e := newTestEngine(prov, store)

	report, err := e.ApplyPush(context.Background(), "t1", "STUB", "AWB7", []byte("not json"))
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Len(t, store.upserts, 1)
	require.True(t, store.upserts[0].StatusOnly)
	require.Equal(t, models.StatusNoData, store.upserts[0].Row.CurrentStatus)
}

func TestEngine_ApplyPush_unknownProvider(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	e := newTestEngine(prov, &fakeStore{})

	_, err := e.ApplyPush(context.Background(), "t1", "NOPE", "AWB7", []byte("{}"))
	require.Error(t, err)
}

func TestScheduler_runOnce(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	store := &fakeStore{}
	e := newTestEngine(prov, store)

	lister := &fakePending{ids: map[string][]string{
		"t1|STUB": {"A", "B"},
	}}
	s := NewScheduler(e, lister, []SyncPair{{TenantID: "t1", ProviderID: "STUB"}}).
		WithSettings(time.Minute, 100)

	s.runOnce(context.Background())

	require.Len(t, store.upserts, 2)
	st := s.Stats()
	require.Equal(t, int64(1), st.TotalCycles)
	require.Equal(t, int64(0), st.TotalErrors)
	require.NotNil(t, st.LastCycleAt)
}

func TestScheduler_runOnce_missingCredsCounted(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	e := newTestEngine(prov, &fakeStore{})

	lister := &fakePending{ids: map[string][]string{
		"t2|STUB": {"A"},
	}}
	s := NewScheduler(e, lister, []SyncPair{{TenantID: "t2", ProviderID: "STUB"}})

	s.runOnce(context.Background())

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Contains(t, st.LastError, "credentials missing")
}

type fakePending struct {
	ids map[string][]string
}

func (f *fakePending) ListPendingTrackingIDs(ctx context.Context, tenantID, providerID string, limit int) ([]string, error) {
	return f.ids[tenantID+"|"+providerID], nil
}
