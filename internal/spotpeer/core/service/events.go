package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
)

// ErrMalformedEvent is returned for push payloads that cannot be decoded or
// lack required fields.
var ErrMalformedEvent = errors.New("malformed push event")

// spotUpdate is the spot-update envelope.
type spotUpdate struct {
	Data struct {
		SpotID     int64         `json:"spotId"`
		Code       string        `json:"code"`
		NewStatus  string        `json:"newStatus"`
		OldStatus  string        `json:"oldStatus"`
		LotID      int64         `json:"parkingLotId"`
		SensorData *model.Sensor `json:"sensorData"`
	} `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// lotStatsUpdate is the lot-stats-update envelope.
type lotStatsUpdate struct {
	LotID     int64           `json:"parkingLotId"`
	Stats     json.RawMessage `json:"stats"`
	Timestamp time.Time       `json:"timestamp"`
}

// sensorUpdate is the sensor-update envelope. Data is kept verbatim.
type sensorUpdate struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// decodeSpotUpdate returns the live event carried by payload. A status label
// outside the vocabulary yields an error wrapping status.ErrUnrecognized.
func decodeSpotUpdate(payload []byte, now time.Time) (model.LiveEvent, error) {
	var u spotUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return model.LiveEvent{}, malformed("decode spot update: %v", err)
	}
	if u.Data.LotID == 0 {
		return model.LiveEvent{}, malformed("spot update without parkingLotId")
	}
	if u.Data.SpotID == 0 && u.Data.Code == "" {
		return model.LiveEvent{}, malformed("spot update without spotId or code")
	}

	st, err := status.Normalize(u.Data.NewStatus)
	if err != nil {
		return model.LiveEvent{}, err
	}

	ts := u.Timestamp
	if ts.IsZero() {
		ts = now
	}

	return model.LiveEvent{
		SpotID:    model.SpotID(u.Data.SpotID),
		Code:      u.Data.Code,
		LotID:     model.LotID(u.Data.LotID),
		Status:    st,
		Previous:  u.Data.OldStatus,
		Timestamp: ts,
		Sensor:    u.Data.SensorData,
	}, nil
}

func decodeLotStats(payload []byte, now time.Time) (model.LotStatsReport, error) {
	var u lotStatsUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return model.LotStatsReport{}, malformed("decode lot stats: %v", err)
	}
	if u.LotID == 0 {
		return model.LotStatsReport{}, malformed("lot stats without parkingLotId")
	}
	ts := u.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return model.LotStatsReport{LotID: model.LotID(u.LotID), Stats: u.Stats, Timestamp: ts}, nil
}

func decodeSensorUpdate(payload []byte, now time.Time) (model.SensorReading, error) {
	var u sensorUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return model.SensorReading{}, malformed("decode sensor update: %v", err)
	}
	var ids struct {
		SensorID string `json:"sensorId"`
		SpotID   int64  `json:"spotId"`
	}
	if len(u.Data) == 0 || json.Unmarshal(u.Data, &ids) != nil || ids.SensorID == "" {
		return model.SensorReading{}, malformed("sensor update without data.sensorId")
	}
	ts := u.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return model.SensorReading{
		SensorID:  ids.SensorID,
		SpotID:    model.SpotID(ids.SpotID),
		Data:      u.Data,
		Timestamp: ts,
	}, nil
}
