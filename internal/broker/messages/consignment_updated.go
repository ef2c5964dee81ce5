package messages

import (
	"encoding/json"
	"time"
)

// ConsignmentUpdated публикуется после каждого reconcile-прохода по каждому
// затронутому треку — для дашбордов и прочих потребителей ниже по течению.
type ConsignmentUpdated struct {
	TenantID   string `json:"tenant_id"`
	ProviderID string `json:"provider_id"`
	TrackingID string `json:"tracking_id"`

	CheckedAt time.Time `json:"checked_at"`

	OldStatus *string `json:"old_status,omitempty"`
	NewStatus string  `json:"new_status"`

	NewEvents      int `json:"new_events"`
	NewTransitions int `json:"new_transitions"`

	Error *string `json:"error,omitempty"`
}

// ProviderPush — webhook-событие от провайдера, транзитом через брокер.
// Внешний веб-слой кладёт сырой payload в топик, воркер скармливает его
// reconcile-движку как одиночный outcome.
type ProviderPush struct {
	TenantID   string          `json:"tenant_id"`
	ProviderID string          `json:"provider_id"`
	TrackingID string          `json:"tracking_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}
