package v1

import (
	"fmt"
	"time"
)

// PlayRecord is one ad-playback event as written by the fleet's players.
// This system only ever reads these; the required fields are typed and
// everything else the producer stamps on the item lands in Extra.
type PlayRecord struct {
	// PlayID is the unique identifier assigned by the producer.
	PlayID string `json:"play_id" dynamodbav:"play_id"`

	// DeviceID identifies the player that reported the event.
	// This is the partition key of the telemetry table.
	DeviceID string `json:"device_id" dynamodbav:"device_id"`

	// AdFilename names the media asset that was played (e.g. "promo_a.mp4").
	AdFilename string `json:"ad_filename" dynamodbav:"ad_filename"`

	// Timestamp is the ISO-8601 play time as stored in the table (sort key).
	// Kept as the raw string so round-trips through the generic query
	// endpoint preserve exactly what the store holds; use Time() for logic.
	Timestamp string `json:"timestamp" dynamodbav:"timestamp"`

	// PlayDuration is seconds of playback. Producers write either ints or
	// floats; DynamoDB numbers unmarshal to float64 here. Zero when absent.
	PlayDuration float64 `json:"play_duration" dynamodbav:"play_duration"`

	// Status carries optional interruption/completion metadata.
	Status string `json:"status,omitempty" dynamodbav:"status,omitempty"`

	// Extra holds any other attributes the producer stamped on the item.
	// It is filled in during decode, not by the attributevalue unmarshaler.
	Extra map[string]interface{} `json:"extra,omitempty" dynamodbav:"-"`
}

// timestampLayouts are the formats seen in the wild, most common first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Time parses the record's timestamp. Timestamps without a zone are UTC.
func (r *PlayRecord) Time() (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, r.Timestamp); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", r.Timestamp)
}

// Validate ensures the record carries the attributes every read path relies on.
func (r *PlayRecord) Validate() error {
	if r.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if r.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
