package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/providers"
)

// stubProvider — по-одиночке: payload или ошибка на конкретный id.
type stubProvider struct {
	id string

	mu      sync.Mutex
	calls   int
	failIDs map[string]error
}

func (p *stubProvider) ID() string { return p.id }

func (p *stubProvider) FetchOne(ctx context.Context, creds credentials.Credentials, trackingID string) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if err, ok := p.failIDs[trackingID]; ok {
		return nil, err
	}
	return json.Marshal(map[string]string{"id": trackingID, "status": "In Transit"})
}

func (p *stubProvider) Normalize(raw []byte) (models.CanonicalResult, error) {
	var body struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Status == "" {
		return models.CanonicalResult{}, &providers.NormalizationError{ProviderID: p.id, Reason: "bad payload"}
	}
	return models.CanonicalResult{TrackingID: body.ID, CurrentStatus: body.Status}, nil
}

// stubBatchProvider дополнительно умеет multi-id запрос.
type stubBatchProvider struct {
	stubProvider

	mu         sync.Mutex
	batchCalls int
	batchSizes []int
	missingIDs map[string]struct{}
	batchErr   error
}

func (p *stubBatchProvider) FetchMany(ctx context.Context, creds credentials.Credentials, trackingIDs []string) (map[string][]byte, error) {
	p.mu.Lock()
	p.batchCalls++
	p.batchSizes = append(p.batchSizes, len(trackingIDs))
	p.mu.Unlock()
	if p.batchErr != nil {
		return nil, p.batchErr
	}
	out := make(map[string][]byte, len(trackingIDs))
	for _, id := range trackingIDs {
		if _, skip := p.missingIDs[id]; skip {
			continue
		}
		b, _ := json.Marshal(map[string]string{"id": id, "status": "In Transit"})
		out[id] = b
	}
	return out, nil
}

func TestFetchAll_unknownProvider(t *testing.T) {
	f := NewFetcher(providers.NewRegistry())
	_, err := f.FetchAll(context.Background(), credentials.Credentials{}, "NOPE", []string{"A"})
	require.Error(t, err)
}

func TestFetchAll_perItemIsolation(t *testing.T) {
	prov := &stubProvider{id: "STUB", failIDs: map[string]error{"BAD": errors.New("boom")}}
	f := NewFetcher(providers.NewRegistry(prov))

	outcomes, err := f.FetchAll(context.Background(), credentials.Credentials{}, "STUB", []string{"A", "BAD", "C"})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	byID := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.TrackingID] = o
	}
	require.True(t, byID["A"].OK())
	require.True(t, byID["C"].OK())
	require.False(t, byID["BAD"].OK())
	require.EqualError(t, byID["BAD"].Err, "boom")
}

func TestFetchAll_dedupsIDs(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	f := NewFetcher(providers.NewRegistry(prov))

	outcomes, err := f.FetchAll(context.Background(), credentials.Credentials{}, "STUB", []string{"A", "A", "", "B"})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, 2, prov.calls)
}

func TestFetchAll_chunksBatchProvider(t *testing.T) {
	prov := &stubBatchProvider{stubProvider: stubProvider{id: "BATCH"}}
	f := NewFetcher(providers.NewRegistry(prov)).WithSettings(2, 1, time.Second)

	ids := []string{"A", "B", "C", "D", "E"}
	outcomes, err := f.FetchAll(context.Background(), credentials.Credentials{}, "BATCH", ids)
	require.NoError(t, err)
	require.Len(t, outcomes, 5)
	for _, o := range outcomes {
		require.True(t, o.OK(), "id %s", o.TrackingID)
	}

	require.Equal(t, 3, prov.batchCalls)
	require.ElementsMatch(t, []int{2, 2, 1}, prov.batchSizes)
	require.Equal(t, 0, prov.calls, "batch-провайдер не должен ходить по одному")
}

func TestFetchAll_batchMissingIDFails(t *testing.T) {
	prov := &stubBatchProvider{
		stubProvider: stubProvider{id: "BATCH"},
		missingIDs:   map[string]struct{}{"GONE": {}},
	}
	f := NewFetcher(providers.NewRegistry(prov))

	outcomes, err := f.FetchAll(context.Background(), credentials.Credentials{}, "BATCH", []string{"A", "GONE"})
	require.NoError(t, err)

	byID := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.TrackingID] = o
	}
	require.True(t, byID["A"].OK())
	require.False(t, byID["GONE"].OK())
}

func TestFetchAll_batchErrorFailsChunkOnly(t *testing.T) {
	prov := &stubBatchProvider{
		stubProvider: stubProvider{id: "BATCH"},
		batchErr:     errors.New("upstream down"),
	}
	f := NewFetcher(providers.NewRegistry(prov)).WithSettings(3, 1, time.Second)

	outcomes, err := f.FetchAll(context.Background(), credentials.Credentials{}, "BATCH", []string{"A", "B"})
	require.NoError(t, err, "транспортный отказ чанка — per-item ошибки, не отказ прохода")
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.False(t, o.OK())
		require.EqualError(t, o.Err, "upstream down")
	}
}

func TestOutcomeLabel(t *testing.T) {
	require.Equal(t, "normalization_error", outcomeLabel(&providers.NormalizationError{Reason: "bad json"}))
	require.Equal(t, "transport_error", outcomeLabel(errors.New("timeout")))
}

func TestNormalizeOutcome_fillsTrackingID(t *testing.T) {
	prov := &stubProvider{id: "STUB"}
	raw, _ := json.Marshal(map[string]string{"status": "Booked"})
	o := normalizeOutcome(prov, "AWB9", raw)
	require.True(t, o.OK())
	require.Equal(t, "AWB9", o.Canonical.TrackingID)
}
