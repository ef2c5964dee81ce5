package providers

import (
	"context"
	"fmt"

	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/models"
)

// Client забирает сырой payload провайдера по одному идентификатору.
type Client interface {
	FetchOne(ctx context.Context, creds credentials.Credentials, trackingID string) ([]byte, error)
}

// BatchClient — опциональная способность: провайдер умеет multi-id запрос.
// Возвращает map trackingID -> сырой payload; отсутствующие в ответе
// идентификаторы в map не попадают.
type BatchClient interface {
	FetchMany(ctx context.Context, creds credentials.Credentials, trackingIDs []string) (map[string][]byte, error)
}

// Adapter — чистая трансформация сырого payload'а в каноническую модель.
// Без побочных эффектов; бизнес-отказ провайдера или кривой JSON дают
// *NormalizationError, не панику.
type Adapter interface {
	Normalize(raw []byte) (models.CanonicalResult, error)
}

type Provider interface {
	ID() string
	Client
	Adapter
}

type Registry struct {
	byID map[string]Provider
}

func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{byID: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.byID[p.ID()] = p
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.byID[p.ID()] = p
}

func (r *Registry) Get(providerID string) (Provider, error) {
	p, ok := r.byID[providerID]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerID)
	}
	return p, nil
}
