package providers

import (
	"errors"
	"fmt"
)

// NormalizationError — payload провайдера не удалось привести к канонической
// модели: нет узнаваемого статусного блока, провайдер явно вернул бизнес-отказ
// или JSON не парсится. Ловится per-item и не валит соседей по батчу.
type NormalizationError struct {
	ProviderID string
	TrackingID string
	Reason     string
	Err        error
}

func (e *NormalizationError) Error() string {
	msg := fmt.Sprintf("%s: normalize %s: %s", e.ProviderID, e.TrackingID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NormalizationError) Unwrap() error { return e.Err }

func IsNormalization(err error) bool {
	var n *NormalizationError
	return errors.As(err, &n)
}
