package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/shipmates/tracksync/internal/models"
)

// EventInsertChunkSize ограничивает размер одного INSERT: провайдеры
// иногда отдают длинные истории сканов, а у стейтмента есть предел.
const EventInsertChunkSize = 200

// InsertEventsIgnoringDuplicates вставляет события чанками с
// conflict-ignore по дедуп-ключу (consignment_id, status, event_time,
// location). Повторная вставка того же события — no-op.
func (s *Storage) InsertEventsIgnoringDuplicates(ctx context.Context, events []models.TrackingEvent) error {
	now := time.Now().UTC()

	for start := 0; start < len(events); start += EventInsertChunkSize {
		end := start + EventInsertChunkSize
		if end > len(events) {
			end = len(events)
		}
		if err := s.insertEventChunk(ctx, events[start:end], now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) insertEventChunk(ctx context.Context, chunk []models.TrackingEvent, now time.Time) error {
	if len(chunk) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO tracking_events (consignment_id, status, location, remarks, event_time, created_at) VALUES `)

	args := make([]any, 0, len(chunk)*6)
	for i, e := range chunk {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, e.ConsignmentID, e.Status, e.Location, e.Remarks, e.EventTime, now)
	}

	sb.WriteString(` ON CONFLICT (consignment_id, status, COALESCE(event_time, 'epoch'::timestamptz), location) DO NOTHING`)

	if _, err := s.db.Exec(ctx, sb.String(), args...); err != nil {
		return errors.Wrap(err, "insert events chunk")
	}
	return nil
}

// ReadEventKeys отдаёт дедуп-ключи уже сохранённых событий указанных
// отправок. Reconcile сверяется с ними до записи, а уникальный индекс
// страхует от гонки двух конкурентных проходов.
func (s *Storage) ReadEventKeys(ctx context.Context, consignmentIDs []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(consignmentIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT consignment_id, status, event_time, location
FROM tracking_events
WHERE consignment_id = ANY($1)
`, consignmentIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select event keys")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			consignmentID, status, location string
			eventTime                       *time.Time
		)
		if err := rows.Scan(&consignmentID, &status, &eventTime, &location); err != nil {
			return nil, errors.Wrap(err, "scan event key")
		}
		out[models.EventKey(consignmentID, status, eventTime, location)] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListEvents(ctx context.Context, consignmentID string, limit, offset int) ([]*models.TrackingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, consignment_id, status, location, remarks, event_time, created_at
FROM tracking_events
WHERE consignment_id = $1
ORDER BY event_time DESC NULLS LAST, id DESC
LIMIT $2 OFFSET $3
`, consignmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		if err := rows.Scan(&e.ID, &e.ConsignmentID, &e.Status, &e.Location, &e.Remarks, &e.EventTime, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// LatestEvents — последние n событий, свежие первыми. Классификатору
// движения нужны два: последнее и предыдущее.
func (s *Storage) LatestEvents(ctx context.Context, consignmentID string, n int) ([]*models.TrackingEvent, error) {
	if n <= 0 {
		n = 2
	}
	return s.ListEvents(ctx, consignmentID, n, 0)
}
