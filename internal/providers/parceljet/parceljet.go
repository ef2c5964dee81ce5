package parceljet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/providers"
)

const ProviderID = "PARCELJET"

// ParcelJet поддерживает multi-id batch endpoint, поэтому реализует
// providers.BatchClient. Ответ — вложенные массивы сканов плюс явный
// флаг success и список ошибок на каждую отправку.
type Provider struct {
	httpc *http.Client
}

func New() *Provider {
	return &Provider{
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *Provider) ID() string { return ProviderID }

type batchReq struct {
	References []string `json:"references"`
}

type shipmentResp struct {
	Reference string `json:"reference"`
	Error     string `json:"error,omitempty"`
	Origin    *struct {
		City string `json:"city"`
	} `json:"origin,omitempty"`
	Destination *struct {
		City string `json:"city"`
	} `json:"destination,omitempty"`
	BookedAt *time.Time `json:"booked_at,omitempty"`
	Current  *struct {
		Description string     `json:"description"`
		OccurredAt  *time.Time `json:"occurred_at,omitempty"`
	} `json:"current,omitempty"`
	Checkpoints []struct {
		Description string     `json:"description"`
		Location    string     `json:"location"`
		Remarks     string     `json:"remarks,omitempty"`
		OccurredAt  *time.Time `json:"occurred_at,omitempty"`
	} `json:"checkpoints"`
}

type batchResp struct {
	Success   bool           `json:"success"`
	Errors    []string       `json:"errors,omitempty"`
	Shipments []shipmentResp `json:"shipments"`
}

func (p *Provider) FetchMany(ctx context.Context, creds credentials.Credentials, trackingIDs []string) (map[string][]byte, error) {
	base := creds.BaseURL
	if base == "" {
		base = "https://api.parceljet.example"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v2/track/batch"

	body, err := json.Marshal(batchReq{References: trackingIDs})
	if err != nil {
		return nil, errors.Wrap(err, "marshal batch request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("parceljet http %d", resp.StatusCode)
	}

	var br batchResp
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if !br.Success {
		return nil, fmt.Errorf("parceljet batch failed: %s", strings.Join(br.Errors, "; "))
	}

	// Каждую отправку отдаём отдельным raw-куском: Normalize работает
	// per-item, и кривой кусок не трогает соседей.
	out := make(map[string][]byte, len(br.Shipments))
	for _, sh := range br.Shipments {
		if sh.Reference == "" {
			continue
		}
		b, err := json.Marshal(sh)
		if err != nil {
			continue
		}
		out[sh.Reference] = b
	}
	return out, nil
}

func (p *Provider) FetchOne(ctx context.Context, creds credentials.Credentials, trackingID string) ([]byte, error) {
	got, err := p.FetchMany(ctx, creds, []string{trackingID})
	if err != nil {
		return nil, err
	}
	raw, ok := got[trackingID]
	if !ok {
		return nil, fmt.Errorf("parceljet: no payload for %s", trackingID)
	}
	return raw, nil
}

func (p *Provider) Normalize(raw []byte) (models.CanonicalResult, error) {
	var sh shipmentResp
	if err := json.Unmarshal(raw, &sh); err != nil {
		return models.CanonicalResult{}, &providers.NormalizationError{
			ProviderID: ProviderID, Reason: "unparseable payload", Err: err,
		}
	}

	if sh.Error != "" {
		return models.CanonicalResult{}, &providers.NormalizationError{
			ProviderID: ProviderID, TrackingID: sh.Reference,
			Reason: "provider error: " + sh.Error,
		}
	}
	if sh.Reference == "" || sh.Current == nil || sh.Current.Description == "" {
		return models.CanonicalResult{}, &providers.NormalizationError{
			ProviderID: ProviderID, TrackingID: sh.Reference,
			Reason: "no recognizable status block",
		}
	}

	res := models.CanonicalResult{
		TrackingID:      sh.Reference,
		BookedAt:        sh.BookedAt,
		CurrentStatus:   strings.TrimSpace(sh.Current.Description),
		CurrentStatusAt: sh.Current.OccurredAt,
	}
	if sh.Origin != nil {
		res.Origin = strPtr(sh.Origin.City)
	}
	if sh.Destination != nil {
		res.Destination = strPtr(sh.Destination.City)
	}

	for _, cp := range sh.Checkpoints {
		if cp.Description == "" {
			continue
		}
		res.Events = append(res.Events, models.CanonicalEvent{
			Status:    strings.TrimSpace(cp.Description),
			Location:  strings.TrimSpace(cp.Location),
			Remarks:   strings.TrimSpace(cp.Remarks),
			EventTime: cp.OccurredAt,
		})
	}

	return res, nil
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
