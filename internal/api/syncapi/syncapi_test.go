package syncapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/shipmates/tracksync/internal/broker/messages"
	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/services/consignments"
	"github.com/shipmates/tracksync/internal/services/syncer"
)

type fakeEngine struct {
	report syncer.RunReport
	err    error

	gotTenant   string
	gotProvider string
	gotIDs      []string
}

func (e *fakeEngine) Run(ctx context.Context, tenantID, providerID string, trackingIDs []string) (syncer.RunReport, error) {
	e.gotTenant, e.gotProvider, e.gotIDs = tenantID, providerID, trackingIDs
	return e.report, e.err
}

type fakeRepo struct {
	byTracking map[string]*models.Consignment
}

func (r *fakeRepo) GetConsignmentByTrackingID(ctx context.Context, trackingID string) (*models.Consignment, error) {
	return r.byTracking[trackingID], nil
}

func (r *fakeRepo) ListEvents(ctx context.Context, consignmentID string, limit, offset int) ([]*models.TrackingEvent, error) {
	return []*models.TrackingEvent{{ConsignmentID: consignmentID, Status: "In Transit"}}, nil
}

func (r *fakeRepo) LatestEvents(ctx context.Context, consignmentID string, n int) ([]*models.TrackingEvent, error) {
	return nil, nil
}

func (r *fakeRepo) ListTransitions(ctx context.Context, consignmentID string, limit int) ([]*models.StatusTransition, error) {
	return []*models.StatusTransition{}, nil
}

type fakePush struct {
	topic   string
	payload any
	err     error
}

func (p *fakePush) PublishJSON(ctx context.Context, topic string, key []byte, payload any) error {
	p.topic = topic
	p.payload = payload
	return p.err
}

func newTestServer(t *testing.T, engine Engine, push PushPublisher) *httptest.Server {
	t.Helper()
	repo := &fakeRepo{byTracking: map[string]*models.Consignment{
		"AWB1": {ID: "c1", TrackingID: "AWB1", CurrentStatus: "In Transit"},
	}}
	svc := consignments.New(repo, nil, 0, nil)

	api := New(svc, engine)
	if push != nil {
		api = api.WithPushProducer(push, "provider.push")
	}

	r := chi.NewRouter()
	api.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPI_handleRun(t *testing.T) {
	engine := &fakeEngine{report: syncer.RunReport{TenantID: "t1", ProviderID: "SHIPRA", Total: 2, Succeeded: 2}}
	srv := newTestServer(t, engine, nil)

	body := `{"tenantId":"t1","providerId":"SHIPRA","trackingIds":["A","B"]}`
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report syncer.RunReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, []string{"A", "B"}, engine.gotIDs)
}

func TestAPI_handleRun_missingCreds(t *testing.T) {
	engine := &fakeEngine{err: &credentials.MissingCredentialsError{TenantID: "t1", ProviderID: "SHIPRA"}}
	srv := newTestServer(t, engine, nil)

	body := `{"tenantId":"t1","providerId":"SHIPRA","trackingIds":["A"]}`
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAPI_handleRun_badRequest(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)

	for _, body := range []string{
		`not json`,
		`{"tenantId":"","providerId":"SHIPRA","trackingIds":["A"]}`,
		`{"tenantId":"t1","providerId":"SHIPRA","trackingIds":[]}`,
	} {
		resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %s", body)
	}
}

type fakePendingIDs struct {
	ids []string
}

func (p *fakePendingIDs) ListPendingTrackingIDs(ctx context.Context, tenantID, providerID string, limit int) ([]string, error) {
	return p.ids, nil
}

func TestAPI_handleRun_emptyIDsResolvesPending(t *testing.T) {
	engine := &fakeEngine{report: syncer.RunReport{TenantID: "t1", ProviderID: "SHIPRA", Total: 2, Succeeded: 2}}
	repo := &fakeRepo{byTracking: map[string]*models.Consignment{}}
	svc := consignments.New(repo, nil, 0, nil)
	api := New(svc, engine).WithPendingLister(&fakePendingIDs{ids: []string{"P1", "P2"}})

	r := chi.NewRouter()
	api.Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	body := `{"tenantId":"t1","providerId":"SHIPRA"}`
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"P1", "P2"}, engine.gotIDs)
}

func TestAPI_handlePush(t *testing.T) {
	push := &fakePush{}
	srv := newTestServer(t, &fakeEngine{}, push)

	url := srv.URL + "/v1/providers/SHIPRA/push?tenantId=t1&trackingId=AWB9"
	resp, err := http.Post(url, "application/json", strings.NewReader(`{"STATUS":"Delivered"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Equal(t, "provider.push", push.topic)
	msg, ok := push.payload.(messages.ProviderPush)
	require.True(t, ok)
	require.Equal(t, "t1", msg.TenantID)
	require.Equal(t, "SHIPRA", msg.ProviderID)
	require.Equal(t, "AWB9", msg.TrackingID)
	require.JSONEq(t, `{"STATUS":"Delivered"}`, string(msg.Payload))
}

func TestAPI_handlePush_notConfigured(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)

	url := srv.URL + "/v1/providers/SHIPRA/push?tenantId=t1&trackingId=AWB9"
	resp, err := http.Post(url, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_handleGetConsignment(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)

	resp, err := http.Get(srv.URL + "/v1/consignments/AWB1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var c models.Consignment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	require.Equal(t, "AWB1", c.TrackingID)

	missing, err := http.Get(srv.URL + "/v1/consignments/NOPE")
	require.NoError(t, err)
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPI_handleRisk(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)

	resp, err := http.Get(srv.URL + "/v1/consignments/AWB1/risk")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ra consignments.RiskAssessment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ra))
	require.Equal(t, models.BucketInTransit, ra.Bucket)
}

func TestAPI_healthz(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
