package cache

import (
	"context"
	"time"
)

// BytesCache — best-effort кэш байтовых значений: промах и ошибка для
// читателя равнозначны, источником истины остаётся хранилище.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
