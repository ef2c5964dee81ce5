package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  consignment_updated_topic_name: "consignment.updated"
  provider_push_topic_name: "provider.push"
redis:
  host: "localhost"
  port: 6379
tracksync:
  http_addr: ":8080"
  worker_http_addr: ":8081"
  kafka_consumer_group: "sync-worker"
  current_status_ttl_seconds: 600
  sync_interval_seconds: 300
  sync_batch_size: 500
  fetch_chunk_size: 20
  fetch_concurrency: 8
  rate_limit_per_minute: 120
  sync_pairs:
    - tenant_id: "acme"
      provider_id: "SHIPRA"
  credentials:
    - tenant_id: "acme"
      provider_id: "SHIPRA"
      api_key: "k"
      account_code: "AC01"
  risk_slabs:
    - prefix: "EXP"
      allowance_days: 4
    - prefix: "SUR"
      allowance_days: 6
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "consignment.updated", cfg.Kafka.ConsignmentUpdatedTopicName)
	require.Equal(t, "provider.push", cfg.Kafka.ProviderPushTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.TrackSync.HTTPAddr)
	require.Equal(t, 20, cfg.TrackSync.FetchChunkSize)

	require.Len(t, cfg.TrackSync.SyncPairs, 1)
	require.Equal(t, "acme", cfg.TrackSync.SyncPairs[0].TenantID)

	require.Len(t, cfg.TrackSync.Credentials, 1)
	require.Equal(t, "AC01", cfg.TrackSync.Credentials[0].AccountCode)

	require.Len(t, cfg.TrackSync.RiskSlabs, 2)
	require.Equal(t, 4, cfg.TrackSync.RiskSlabs[0].AllowanceDays)
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
