package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS consignments (
  id UUID PRIMARY KEY,
  tracking_id TEXT NOT NULL,
  tenant_id TEXT NOT NULL,
  provider_id TEXT NOT NULL,
  origin TEXT NULL,
  destination TEXT NULL,
  booked_at TIMESTAMPTZ NULL,
  current_status TEXT NOT NULL,
  current_status_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (tracking_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_consignments_tenant_provider ON consignments(tenant_id, provider_id)`,
		`
CREATE TABLE IF NOT EXISTS tracking_events (
  id BIGSERIAL PRIMARY KEY,
  consignment_id UUID NOT NULL REFERENCES consignments(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  remarks TEXT NOT NULL DEFAULT '',
  event_time TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_consignment_event_time ON tracking_events(consignment_id, event_time DESC)`,
		// Дедуп-ключ события. NULL в event_time ломал бы уникальность
		// (NULL != NULL), поэтому в индексе COALESCE к epoch.
		`
CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_dedup
ON tracking_events(consignment_id, status, COALESCE(event_time, 'epoch'::timestamptz), location)
`,
		`
CREATE TABLE IF NOT EXISTS status_transitions (
  id BIGSERIAL PRIMARY KEY,
  consignment_id UUID NOT NULL REFERENCES consignments(id) ON DELETE CASCADE,
  old_status TEXT NULL,
  new_status TEXT NOT NULL,
  changed_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_status_transitions_consignment ON status_transitions(consignment_id, changed_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
