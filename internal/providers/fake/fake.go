package fake

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/providers"
)

const ProviderID = "FAKE"

// Fake — детерминированная заглушка провайдера для демо и локальных прогонов:
// статус выбирается хэшем от trackingID, часть треков "доставлена".
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) ID() string { return ProviderID }

type payload struct {
	TrackingID string    `json:"tracking_id"`
	Status     string    `json:"status"`
	Origin     string    `json:"origin"`
	Dest       string    `json:"dest"`
	BookedAt   time.Time `json:"booked_at"`
	Events     []struct {
		Status   string    `json:"status"`
		Location string    `json:"location"`
		At       time.Time `json:"at"`
	} `json:"events"`
}

func (p *Provider) FetchOne(_ context.Context, _ credentials.Credentials, trackingID string) ([]byte, error) {
	now := time.Now().UTC()

	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingID))
	v := h.Sum32()

	// 20% треков считаем доставленными
	status := "In Transit"
	if v%5 == 0 {
		status = "Delivered"
	}

	pl := payload{
		TrackingID: trackingID,
		Status:     status,
		Origin:     "Hub A",
		Dest:       "Hub B",
		BookedAt:   now.Add(-72 * time.Hour),
	}
	pl.Events = append(pl.Events, struct {
		Status   string    `json:"status"`
		Location string    `json:"location"`
		At       time.Time `json:"at"`
	}{Status: status, Location: "Hub B", At: now})

	return json.Marshal(pl)
}

func (p *Provider) Normalize(raw []byte) (models.CanonicalResult, error) {
	var pl payload
	if err := json.Unmarshal(raw, &pl); err != nil {
		return models.CanonicalResult{}, &providers.NormalizationError{
			ProviderID: ProviderID, Reason: "unparseable payload", Err: err,
		}
	}

	res := models.CanonicalResult{
		TrackingID:    pl.TrackingID,
		CurrentStatus: pl.Status,
	}
	if pl.Origin != "" {
		res.Origin = &pl.Origin
	}
	if pl.Dest != "" {
		res.Destination = &pl.Dest
	}
	if !pl.BookedAt.IsZero() {
		t := pl.BookedAt
		res.BookedAt = &t
	}
	for _, e := range pl.Events {
		at := e.At
		res.Events = append(res.Events, models.CanonicalEvent{
			Status:    e.Status,
			Location:  e.Location,
			EventTime: &at,
		})
		res.CurrentStatusAt = &at
	}
	return res, nil
}
