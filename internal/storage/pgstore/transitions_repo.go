package pgstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shipmates/tracksync/internal/models"
)

func (s *Storage) InsertTransitions(ctx context.Context, transitions []models.StatusTransition) error {
	if len(transitions) == 0 {
		return nil
	}

	batchArgs := make([][]any, 0, len(transitions))
	for _, tr := range transitions {
		batchArgs = append(batchArgs, []any{tr.ConsignmentID, tr.OldStatus, tr.NewStatus, tr.ChangedAt.UTC()})
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, args := range batchArgs {
		_, err := tx.Exec(ctx, `
INSERT INTO status_transitions (consignment_id, old_status, new_status, changed_at)
VALUES ($1,$2,$3,$4)
`, args...)
		if err != nil {
			return errors.Wrap(err, "insert transition")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) ListTransitions(ctx context.Context, consignmentID string, limit int) ([]*models.StatusTransition, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT id, consignment_id, old_status, new_status, changed_at
FROM status_transitions
WHERE consignment_id = $1
ORDER BY changed_at DESC, id DESC
LIMIT $2
`, consignmentID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select transitions")
	}
	defer rows.Close()

	var out []*models.StatusTransition
	for rows.Next() {
		var tr models.StatusTransition
		if err := rows.Scan(&tr.ID, &tr.ConsignmentID, &tr.OldStatus, &tr.NewStatus, &tr.ChangedAt); err != nil {
			return nil, errors.Wrap(err, "scan transition")
		}
		out = append(out, &tr)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
