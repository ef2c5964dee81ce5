package syncer

import (
	"time"

	"github.com/google/uuid"

	"github.com/shipmates/tracksync/internal/models"
	"github.com/shipmates/tracksync/internal/storage/pgstore"
)

// Reconcile — чистая функция: по outcomes одного прохода и прежнему
// состоянию собирает WriteSet. Повторный вызов с теми же outcomes и
// обновлённым prior даёт пустую дельту событий/переходов и no-op upsert'ы.
//
// Конвенция по первому наблюдению: переход пишем только когда прежняя
// строка существовала и её статус отличается; null -> X строку перехода
// не создаёт.
func Reconcile(
	tenantID, providerID string,
	outcomes []Outcome,
	prior map[string]pgstore.PriorState,
	knownEvents map[string]struct{},
	now time.Time,
) WriteSet {
	var ws WriteSet

	// События, которые этот же проход уже поставил в очередь: дубль
	// внутри одного батча тоже no-op.
	queued := make(map[string]struct{}, len(knownEvents))

	for _, o := range outcomes {
		if o.TrackingID == "" {
			ws.Failures = append(ws.Failures, ItemFailure{Reason: "empty tracking id"})
			continue
		}

		p, hadPrior := prior[o.TrackingID]

		if !o.OK() {
			ws.Consignments = append(ws.Consignments, sentinelUpsert(tenantID, providerID, o.TrackingID, p, hadPrior))
			reason := "no data"
			if o.Err != nil {
				reason = o.Err.Error()
			}
			ws.Failures = append(ws.Failures, ItemFailure{TrackingID: o.TrackingID, Reason: reason})
			continue
		}

		c := o.Canonical

		id := uuid.NewString()
		if hadPrior {
			id = p.ID
		}

		row := models.Consignment{
			ID:              id,
			TrackingID:      o.TrackingID,
			TenantID:        tenantID,
			ProviderID:      providerID,
			Origin:          c.Origin,
			Destination:     c.Destination,
			BookedAt:        c.BookedAt,
			CurrentStatus:   c.CurrentStatus,
			CurrentStatusAt: c.CurrentStatusAt,
		}
		ws.Consignments = append(ws.Consignments, pgstore.ConsignmentUpsert{Row: row})

		if hadPrior && p.CurrentStatus != c.CurrentStatus {
			old := p.CurrentStatus
			ws.Transitions = append(ws.Transitions, models.StatusTransition{
				ConsignmentID: id,
				OldStatus:     &old,
				NewStatus:     c.CurrentStatus,
				ChangedAt:     now,
			})
		}

		for _, ev := range c.Events {
			if ev.Status == "" {
				continue
			}
			key := models.EventKey(id, ev.Status, ev.EventTime, ev.Location)
			if _, ok := knownEvents[key]; ok {
				continue
			}
			if _, ok := queued[key]; ok {
				continue
			}
			queued[key] = struct{}{}

			ws.Events = append(ws.Events, models.TrackingEvent{
				ConsignmentID: id,
				Status:        ev.Status,
				Location:      ev.Location,
				Remarks:       ev.Remarks,
				EventTime:     ev.EventTime,
			})
		}
	}

	return ws
}

// sentinelUpsert: fetch не удался, но идентификатор не должен пропасть.
// Прежние origin/destination/booked_at переживают сбой: для существующей
// строки upsert трогает только current_status, для новой — вставляем
// placeholder с тем, что знали (обычно ничего).
func sentinelUpsert(tenantID, providerID, trackingID string, p pgstore.PriorState, hadPrior bool) pgstore.ConsignmentUpsert {
	row := models.Consignment{
		TrackingID:    trackingID,
		TenantID:      tenantID,
		ProviderID:    providerID,
		CurrentStatus: models.StatusNoData,
	}
	if hadPrior {
		row.ID = p.ID
		row.Origin = p.Origin
		row.Destination = p.Destination
		row.BookedAt = p.BookedAt
	} else {
		row.ID = uuid.NewString()
	}
	return pgstore.ConsignmentUpsert{Row: row, StatusOnly: true}
}
