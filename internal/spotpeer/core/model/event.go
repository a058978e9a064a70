package model

import (
	"encoding/json"
	"time"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
)

// Sensor is the detection metadata attached to a live update.
type Sensor struct {
	SensorID   string  `json:"sensorId"`
	Confidence float64 `json:"confidence,omitempty"`
	Method     string  `json:"detectionMethod,omitempty"`
}

// LiveEvent is the latest push-channel observation for one spot.
type LiveEvent struct {
	// SpotID is zero when the sender only knows the spot code.
	SpotID SpotID        `json:"id,omitempty"`
	Code   string        `json:"code,omitempty"`
	LotID  LotID         `json:"parkingLotId"`
	Status status.Status `json:"status"`

	// Previous is informational only and never used by the merge.
	Previous string `json:"oldStatus,omitempty"`

	Timestamp time.Time `json:"lastUpdate"`
	Sensor    *Sensor   `json:"sensorData,omitempty"`
}

// Key is the identity the live store deduplicates on: the spot id when known,
// otherwise the code.
func (e LiveEvent) Key() string {
	if e.SpotID != 0 {
		return IDKey(e.SpotID)
	}
	return CodeKey(e.Code)
}

// IDKey returns the store key for an id-addressed event.
func IDKey(id SpotID) string { return "id:" + id.String() }

// CodeKey returns the store key for a code-addressed event.
func CodeKey(code string) string { return "code:" + code }

// SensorReading is the latest sensor-update payload for one sensor.
type SensorReading struct {
	SensorID  string          `json:"sensorId"`
	SpotID    SpotID          `json:"spotId,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"lastUpdate"`
}

// LotStatsReport is the informational lot-stats-update payload. The view
// recomputes its own statistics and never reads these for correctness.
type LotStatsReport struct {
	LotID     LotID           `json:"parkingLotId"`
	Stats     json.RawMessage `json:"stats"`
	Timestamp time.Time       `json:"lastUpdate"`
}
