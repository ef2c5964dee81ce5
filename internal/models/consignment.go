package models

import "time"

// Статусные "вёдра": провайдеры присылают свободный текст,
// раскладываем его по вёдрам только на этапе классификации.
const (
	BucketPending        = "PENDING"
	BucketInTransit      = "IN_TRANSIT"
	BucketOutForDelivery = "OUT_FOR_DELIVERY"
	BucketDelivered      = "DELIVERED"
	BucketReturnToOrigin = "RETURN_TO_ORIGIN"
	BucketCancelled      = "CANCELLED"
	BucketUnknown        = "UNKNOWN"
)

// StatusNoData — sentinel-статус для треков, по которым провайдер
// не вернул данных. Строка остаётся в consignments.current_status,
// чтобы идентификатор не пропал молча.
const StatusNoData = "NO DATA FOUND"

// Consignment — одна физическая отправка, отслеживаемая у одного провайдера.
// TrackingID уникален в пределах хранилища: повторный fetch обновляет ту же
// строку через upsert, дубликат создать нельзя.
type Consignment struct {
	ID              string
	TrackingID      string
	TenantID        string
	ProviderID      string
	Origin          *string
	Destination     *string
	BookedAt        *time.Time
	CurrentStatus   string
	CurrentStatusAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TrackingEvent — одна неизменяемая точка скана в истории отправки.
// Кортеж (consignment_id, status, event_time, location) — натуральный
// ключ дедупликации: повторная вставка по нему — no-op.
type TrackingEvent struct {
	ID            uint64
	ConsignmentID string
	Status        string
	Location      string
	Remarks       string
	EventTime     *time.Time
	CreatedAt     time.Time
}

// StatusTransition — аудит смены статуса. Пишется только когда новый
// статус отличается от последнего известного; первое наблюдение
// (old == nil) строку перехода не создаёт.
type StatusTransition struct {
	ID            uint64
	ConsignmentID string
	OldStatus     *string
	NewStatus     string
	ChangedAt     time.Time
}

// CanonicalResult — нормализованный ответ провайдера (выход адаптера).
type CanonicalResult struct {
	TrackingID      string
	Origin          *string
	Destination     *string
	BookedAt        *time.Time
	CurrentStatus   string
	CurrentStatusAt *time.Time
	Events          []CanonicalEvent
}

type CanonicalEvent struct {
	Status    string
	Location  string
	Remarks   string
	EventTime *time.Time
}
