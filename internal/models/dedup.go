package models

import (
	"strings"
	"time"
)

// EventKey — натуральный ключ дедупликации события. Термин тот же, что
// у уникального индекса в хранилище: nil event_time схлопывается в epoch,
// иначе два "события без времени" считались бы разными.
func EventKey(consignmentID, status string, eventTime *time.Time, location string) string {
	ts := "epoch"
	if eventTime != nil {
		ts = eventTime.UTC().Format(time.RFC3339)
	}
	return strings.Join([]string{consignmentID, status, ts, location}, "|")
}

func (e TrackingEvent) DedupKey() string {
	return EventKey(e.ConsignmentID, e.Status, e.EventTime, e.Location)
}
