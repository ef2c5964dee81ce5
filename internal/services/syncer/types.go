package syncer

import (
	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/storage/pgstore"
)

// Outcome — результат fetch'а одного идентификатора. Ошибка транспорта,
// таймаут или кривой payload живут здесь per-item и не трогают соседей.
type Outcome struct {
	TrackingID string
	Canonical  *models.CanonicalResult
	Err        error
}

func (o Outcome) OK() bool { return o.Err == nil && o.Canonical != nil }

// WriteSet — всё, что один reconcile-проход собирается записать.
// Consignments идут upsert'ом по tracking_id, события — conflict-ignore
// вставкой, переходы — чистым append'ом.
type WriteSet struct {
	Consignments []pgstore.ConsignmentUpsert
	Events       []models.TrackingEvent
	Transitions  []models.StatusTransition
	Failures     []ItemFailure
}

// ItemFailure — сломавшийся на этапе reconcile элемент: фиксируется
// в результате прохода, остальные элементы не страдают.
type ItemFailure struct {
	TrackingID string
	Reason     string
}

// RunReport — агрегат одного прохода для вызывающей стороны.
type RunReport struct {
	TenantID   string `json:"tenantId"`
	ProviderID string `json:"providerId"`

	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	NewEvents      int `json:"newEvents"`
	NewTransitions int `json:"newTransitions"`

	Failures []ItemFailure `json:"failures,omitempty"`
}
