package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/shipmates/tracksync/internal/models"
)

// ConsignmentUpsert — один апсерт по tracking_id. StatusOnly означает
// "fetch не удался": обновляем только current_status и updated_at,
// прежние origin/destination/booked_at строка сохраняет.
type ConsignmentUpsert struct {
	Row        models.Consignment
	StatusOnly bool
}

// PriorState — минимальный срез состояния перед reconcile-проходом.
type PriorState struct {
	ID            string
	CurrentStatus string
	Origin        *string
	Destination   *string
	BookedAt      *time.Time
}

func (s *Storage) UpsertConsignments(ctx context.Context, ups []ConsignmentUpsert) error {
	if len(ups) == 0 {
		return nil
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, up := range ups {
		r := up.Row
		if up.StatusOnly {
			// id и tracking_id конфликт-резолв не меняет никогда.
			_, err = tx.Exec(ctx, `
INSERT INTO consignments (
  id, tracking_id, tenant_id, provider_id,
  origin, destination, booked_at,
  current_status, current_status_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (tracking_id)
DO UPDATE SET
  current_status = EXCLUDED.current_status,
  updated_at = EXCLUDED.updated_at
`, r.ID, r.TrackingID, r.TenantID, r.ProviderID,
				r.Origin, r.Destination, r.BookedAt,
				r.CurrentStatus, r.CurrentStatusAt, now)
		} else {
			_, err = tx.Exec(ctx, `
INSERT INTO consignments (
  id, tracking_id, tenant_id, provider_id,
  origin, destination, booked_at,
  current_status, current_status_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (tracking_id)
DO UPDATE SET
  origin = EXCLUDED.origin,
  destination = EXCLUDED.destination,
  booked_at = EXCLUDED.booked_at,
  current_status = EXCLUDED.current_status,
  current_status_at = EXCLUDED.current_status_at,
  updated_at = EXCLUDED.updated_at
`, r.ID, r.TrackingID, r.TenantID, r.ProviderID,
				r.Origin, r.Destination, r.BookedAt,
				r.CurrentStatus, r.CurrentStatusAt, now)
		}
		if err != nil {
			return errors.Wrap(err, "upsert consignment")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) ReadPriorState(ctx context.Context, trackingIDs []string) (map[string]PriorState, error) {
	out := make(map[string]PriorState, len(trackingIDs))
	if len(trackingIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT id, tracking_id, current_status, origin, destination, booked_at
FROM consignments
WHERE tracking_id = ANY($1)
`, trackingIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select prior state")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ps         PriorState
			trackingID string
		)
		if err := rows.Scan(&ps.ID, &trackingID, &ps.CurrentStatus, &ps.Origin, &ps.Destination, &ps.BookedAt); err != nil {
			return nil, errors.Wrap(err, "scan prior state")
		}
		out[trackingID] = ps
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetConsignmentByTrackingID(ctx context.Context, trackingID string) (*models.Consignment, error) {
	var c models.Consignment
	err := s.db.QueryRow(ctx, `
SELECT
  id, tracking_id, tenant_id, provider_id,
  origin, destination, booked_at,
  current_status, current_status_at,
  created_at, updated_at
FROM consignments
WHERE tracking_id = $1
`, trackingID).Scan(
		&c.ID, &c.TrackingID, &c.TenantID, &c.ProviderID,
		&c.Origin, &c.Destination, &c.BookedAt,
		&c.CurrentStatus, &c.CurrentStatusAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select consignment")
	}
	return &c, nil
}

// ListPendingTrackingIDs отдаёт нетерминальные треки тенанта у провайдера.
// Вёдра считаем в Go: current_status — свободный текст провайдера, и SQL
// об этой классификации знать не должен.
func (s *Storage) ListPendingTrackingIDs(ctx context.Context, tenantID, providerID string, limit int) ([]string, error) {
	if limit <= 0 || limit > 10_000 {
		limit = 1_000
	}

	rows, err := s.db.Query(ctx, `
SELECT tracking_id, current_status
FROM consignments
WHERE tenant_id = $1 AND provider_id = $2
ORDER BY updated_at ASC
LIMIT $3
`, tenantID, providerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var trackingID, status string
		if err := rows.Scan(&trackingID, &status); err != nil {
			return nil, errors.Wrap(err, "scan pending")
		}
		if models.IsTerminalStatus(status) {
			continue
		}
		out = append(out, trackingID)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
