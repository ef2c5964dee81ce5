package models

import "strings"

// BucketFor раскладывает свободный текст статуса провайдера по каноническим
// вёдрам. Подстрочный матчинг нарочно грубый: провайдеры пишут
// "IN TRANSIT", "In-Transit", "SHIPMENT IN TRANSIT" и т.п.
func BucketFor(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return BucketUnknown
	}

	switch {
	case strings.Contains(s, "out for delivery"), strings.Contains(s, "ofd"):
		return BucketOutForDelivery
	case strings.Contains(s, "rto"), strings.Contains(s, "return"):
		return BucketReturnToOrigin
	case strings.Contains(s, "cancel"):
		return BucketCancelled
	// Неуспешная попытка доставки — не терминал: груз всё ещё у курьера.
	case strings.Contains(s, "undeliver"), strings.Contains(s, "not deliver"),
		strings.Contains(s, "fail"):
		return BucketInTransit
	case strings.Contains(s, "deliver"):
		return BucketDelivered
	case strings.Contains(s, "transit"), strings.Contains(s, "picked"),
		strings.Contains(s, "pickup"), strings.Contains(s, "dispatch"),
		strings.Contains(s, "shipped"), strings.Contains(s, "in scan"),
		strings.Contains(s, "reached"):
		return BucketInTransit
	case strings.Contains(s, "book"), strings.Contains(s, "pending"),
		strings.Contains(s, "manifest"):
		return BucketPending
	default:
		return BucketUnknown
	}
}

// IsTerminalBucket: терминальные вёдра останавливают эскалацию риска,
// но не запрещают последующие fetch'и (провайдер может прислать
// поздние корректирующие события).
func IsTerminalBucket(bucket string) bool {
	switch bucket {
	case BucketDelivered, BucketReturnToOrigin, BucketCancelled:
		return true
	default:
		return false
	}
}

// IsTerminalStatus — шорткат для свободного текста.
func IsTerminalStatus(status string) bool {
	return IsTerminalBucket(BucketFor(status))
}
