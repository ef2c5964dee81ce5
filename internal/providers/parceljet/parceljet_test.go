package parceljet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/providers"
)

func TestFetchMany_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/track/batch", r.URL.Path)
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var req batchReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"PJ1", "PJ2"}, req.References)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "success": true,
  "shipments": [
    {"reference":"PJ1","current":{"description":"In Transit","occurred_at":"2026-01-04T10:00:00Z"},
     "checkpoints":[{"description":"Picked Up","location":"Hub A","occurred_at":"2026-01-02T08:00:00Z"}]},
    {"reference":"PJ2","error":"reference not found"}
  ]
}`))
	}))
	defer srv.Close()

	p := New()
	creds := credentials.Credentials{APIKey: "key-1", BaseURL: srv.URL}

	got, err := p.FetchMany(context.Background(), creds, []string{"PJ1", "PJ2"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	res, err := p.Normalize(got["PJ1"])
	require.NoError(t, err)
	require.Equal(t, "PJ1", res.TrackingID)
	require.Equal(t, "In Transit", res.CurrentStatus)
	require.Len(t, res.Events, 1)
	require.Equal(t, "Hub A", res.Events[0].Location)
	require.Equal(t, time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC), res.Events[0].EventTime.UTC())

	// бизнес-отказ по одной отправке — NormalizationError, сосед не страдает
	_, err = p.Normalize(got["PJ2"])
	require.True(t, providers.IsNormalization(err))
}

func TestFetchMany_BatchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "errors": ["quota exceeded"]}`))
	}))
	defer srv.Close()

	p := New()
	_, err := p.FetchMany(context.Background(), credentials.Credentials{BaseURL: srv.URL}, []string{"PJ1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "quota exceeded")
}

func TestNormalize_BadJSON(t *testing.T) {
	p := New()
	_, err := p.Normalize([]byte(`not json`))
	require.True(t, providers.IsNormalization(err))
}
